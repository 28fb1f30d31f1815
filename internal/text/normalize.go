package text

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var typographic = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"“", `"`,
	"”", `"`,
	"„", `"`,
	"‘", "'",
	"’", "'",
	"—", "-",
	"–", "-",
	"…", "...",
)

var pageNumberLine = regexp.MustCompile(`(?i)^(?:page\s+)?\d{1,4}$`)

// Normalize prepares extracted document text for synthesis: NFC composition,
// ASCII punctuation, no zero-width or combining marks, single spaces inside
// paragraphs and a blank line between paragraphs. Lines holding only a page
// number are dropped.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = typographic.Replace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\u200b', r == '\u200c', r == '\u200d', r == '\ufeff':
			return -1
		case unicode.Is(unicode.Mn, r):
			return -1
		case unicode.IsSpace(r), unicode.IsControl(r):
			return ' '
		}
		return r
	}, s)

	var paras []string
	var lines []string
	flush := func() {
		if len(lines) > 0 {
			paras = append(paras, strings.Join(lines, " "))
			lines = lines[:0]
		}
	}
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			flush()
			continue
		}
		if pageNumberLine.MatchString(line) {
			continue
		}
		lines = append(lines, line)
	}
	flush()
	return strings.Join(paras, "\n\n")
}
