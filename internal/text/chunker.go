package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxChunkChars matches the block size the Piper voices handle comfortably.
const DefaultMaxChunkChars = 1500

// Headings longer than this are treated as ordinary paragraphs.
const maxHeadingChars = 80

var defaultChapterPattern = regexp.MustCompile(
	`(?i:^(?:chapter|chapitre|part|partie|section|book|livre)\s+(?:\d+|[ivxlcdm]+)\b)|^[IVXLCDM]+\.?$`)

// Chunk is a contiguous, ordered slice of the input sized for one synthesis call.
type Chunk struct {
	Index          int    `json:"index"`
	Text           string `json:"text"`
	CharCount      int    `json:"char_count"`
	Start          int    `json:"start"`
	End            int    `json:"end"`
	ParagraphStart bool   `json:"paragraph_start"`
	ChapterStart   bool   `json:"chapter_start"`
}

// Options controls how text is partitioned.
type Options struct {
	// MaxChunkChars bounds Chunk.CharCount, measured in runes.
	MaxChunkChars int
	// MergeParagraphs packs consecutive paragraphs into one chunk while they
	// fit. Chapter headings always open a new chunk.
	MergeParagraphs bool
	// ChapterPattern recognises chapter headings. Nil uses the built-in pattern.
	ChapterPattern *regexp.Regexp
}

type span struct {
	start int
	end   int
}

// Split partitions input into ordered chunks. Every chunk's Text is exactly
// input[Start:End] and only whitespace lies between consecutive chunks, so
// joining the chunks reproduces the input up to whitespace.
func Split(input string, opts Options) ([]Chunk, error) {
	if opts.MaxChunkChars <= 0 {
		return nil, &ChunkingError{
			Kind:    KindInvalidLimit,
			Message: fmt.Sprintf("max chunk size must be positive, got %d", opts.MaxChunkChars),
		}
	}
	paras := paragraphs(input)
	if len(paras) == 0 {
		return nil, &ChunkingError{Kind: KindEmpty, Message: "no text to convert"}
	}
	pattern := opts.ChapterPattern
	if pattern == nil {
		pattern = defaultChapterPattern
	}

	b := &builder{input: input, limit: opts.MaxChunkChars}
	for _, p := range paras {
		chapter := isHeading(input[p.start:p.end], pattern)
		if chapter || !opts.MergeParagraphs {
			b.close()
		}
		if !b.open {
			b.nextParagraph = true
			b.nextChapter = chapter
		}
		for _, s := range sentences(input, p) {
			b.add(s)
		}
	}
	b.close()
	return b.chunks, nil
}

type builder struct {
	input  string
	limit  int
	chunks []Chunk

	open         bool
	cur          span
	curParagraph bool
	curChapter   bool

	// flags carried by the next chunk to open
	nextParagraph bool
	nextChapter   bool
}

func (b *builder) add(s span) {
	if utf8.RuneCountInString(b.input[s.start:s.end]) > b.limit {
		b.close()
		for _, piece := range hardSplit(b.input, s, b.limit) {
			b.emit(piece, b.nextParagraph, b.nextChapter)
			b.nextParagraph, b.nextChapter = false, false
		}
		return
	}
	if b.open && utf8.RuneCountInString(b.input[b.cur.start:s.end]) > b.limit {
		b.close()
	}
	if !b.open {
		b.open = true
		b.cur = s
		b.curParagraph, b.curChapter = b.nextParagraph, b.nextChapter
		b.nextParagraph, b.nextChapter = false, false
		return
	}
	b.cur.end = s.end
}

func (b *builder) close() {
	if !b.open {
		return
	}
	b.emit(b.cur, b.curParagraph, b.curChapter)
	b.open = false
}

func (b *builder) emit(s span, paragraph, chapter bool) {
	text := b.input[s.start:s.end]
	b.chunks = append(b.chunks, Chunk{
		Index:          len(b.chunks),
		Text:           text,
		CharCount:      utf8.RuneCountInString(text),
		Start:          s.start,
		End:            s.end,
		ParagraphStart: paragraph,
		ChapterStart:   chapter,
	})
}

// hardSplit cuts an oversized sentence into pieces of at most limit runes.
func hardSplit(input string, s span, limit int) []span {
	var out []span
	start := s.start
	for {
		rest := input[start:s.end]
		if utf8.RuneCountInString(rest) <= limit {
			return append(out, span{start: start, end: s.end})
		}
		cut := cutPoint(rest, limit)
		piece := span{start: start, end: start + len(strings.TrimRightFunc(rest[:cut], unicode.IsSpace))}
		out = append(out, piece)
		start = skipSpace(input, start+cut, s.end)
	}
}

// cutPoint returns the byte offset in rest at which to end the current piece.
// It prefers whitespace in the last tenth of the window, then any whitespace
// in the window, and only cuts at the limit itself for a single token longer
// than the window.
func cutPoint(rest string, limit int) int {
	windowEnd := runeOffset(rest, limit)
	if r, _ := utf8.DecodeRuneInString(rest[windowEnd:]); unicode.IsSpace(r) {
		return windowEnd
	}
	tail := limit / 10
	if tail < 1 {
		tail = 1
	}
	floor := runeOffset(rest, limit-tail)
	if i := strings.LastIndexFunc(rest[floor:windowEnd], unicode.IsSpace); i >= 0 && floor+i > 0 {
		return floor + i
	}
	if i := strings.LastIndexFunc(rest[:windowEnd], unicode.IsSpace); i > 0 {
		return i
	}
	return windowEnd
}

// runeOffset returns the byte offset just past the first n runes of s.
func runeOffset(s string, n int) int {
	off := 0
	for i := 0; i < n && off < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}

func skipSpace(s string, from, to int) int {
	for from < to {
		r, size := utf8.DecodeRuneInString(s[from:to])
		if !unicode.IsSpace(r) {
			break
		}
		from += size
	}
	return from
}

// paragraphs returns trimmed spans separated by blank lines.
func paragraphs(input string) []span {
	var out []span
	start, end := -1, 0
	lineStart := 0
	for lineStart <= len(input) {
		lineEnd, next := len(input), len(input)+1
		if nl := strings.IndexByte(input[lineStart:], '\n'); nl >= 0 {
			lineEnd = lineStart + nl
			next = lineEnd + 1
		}
		line := input[lineStart:lineEnd]
		if strings.TrimSpace(line) == "" {
			if start >= 0 {
				out = append(out, span{start: start, end: end})
				start = -1
			}
		} else {
			if start < 0 {
				start = lineStart + len(line) - len(strings.TrimLeftFunc(line, unicode.IsSpace))
			}
			end = lineStart + len(strings.TrimRightFunc(line, unicode.IsSpace))
		}
		lineStart = next
	}
	if start >= 0 {
		out = append(out, span{start: start, end: end})
	}
	return out
}

// sentences splits a paragraph span at terminal punctuation followed by
// whitespace. Closing quotes and brackets stay with their sentence.
func sentences(input string, p span) []span {
	var out []span
	start, i := p.start, p.start
	for i < p.end {
		r, size := utf8.DecodeRuneInString(input[i:p.end])
		i += size
		if !isTerminal(r) {
			continue
		}
		j := i
		for j < p.end {
			c, n := utf8.DecodeRuneInString(input[j:p.end])
			if !isCloser(c) {
				break
			}
			j += n
		}
		if j >= p.end {
			break
		}
		if c, _ := utf8.DecodeRuneInString(input[j:p.end]); !unicode.IsSpace(c) {
			continue
		}
		out = append(out, span{start: start, end: j})
		i = skipSpace(input, j, p.end)
		start = i
	}
	if start < p.end {
		out = append(out, span{start: start, end: p.end})
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}

func isHeading(paragraph string, pattern *regexp.Regexp) bool {
	paragraph = strings.TrimSpace(paragraph)
	if utf8.RuneCountInString(paragraph) > maxHeadingChars || strings.ContainsRune(paragraph, '\n') {
		return false
	}
	return pattern.MatchString(paragraph)
}
