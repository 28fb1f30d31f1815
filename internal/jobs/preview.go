package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

const previewPrefix = "previews/"

var ErrInvalidPreviewID = errors.New("invalid preview id")

type PreviewConfig struct {
	MaxChars  int
	Timeout   time.Duration
	Chunking  text.Options
	Normalize bool
}

func PreviewConfigFrom(cfg config.PreviewConfig, chunking text.Options, normalize bool) PreviewConfig {
	return PreviewConfig{
		MaxChars:  cfg.MaxChars,
		Timeout:   time.Duration(cfg.TimeoutMS) * time.Millisecond,
		Chunking:  chunking,
		Normalize: normalize,
	}
}

// PreviewResult references an ephemeral asset. Callers delete it with
// Discard when they no longer need it.
type PreviewResult struct {
	ID               string  `json:"id"`
	Ref              string  `json:"ref"`
	SampleRate       int     `json:"sample_rate"`
	DurationSeconds  float64 `json:"duration_seconds"`
	DurationEstimate float64 `json:"duration_estimate"`
	Bytes            int64   `json:"bytes"`
}

// Previewer runs the pipeline synchronously for short text without creating
// a job.
type Previewer struct {
	cfg       PreviewConfig
	synth     tts.Synthesizer
	assembler audio.Assembler
	store     Store
	logger    *slog.Logger
	newID     func() string
}

func NewPreviewer(cfg PreviewConfig, synth tts.Synthesizer, assembler audio.Assembler, store Store, log *slog.Logger) *Previewer {
	return &Previewer{
		cfg:       cfg,
		synth:     synth,
		assembler: assembler,
		store:     store,
		logger:    log.With(slog.String("component", "preview")),
		newID:     uuid.NewString,
	}
}

func (p *Previewer) Preview(ctx context.Context, input string, voice tts.Voice) (PreviewResult, error) {
	if p.cfg.Normalize {
		input = text.Normalize(input)
	}
	if n := utf8.RuneCountInString(input); p.cfg.MaxChars > 0 && n > p.cfg.MaxChars {
		return PreviewResult{}, &text.ChunkingError{
			Kind:    text.KindTooLong,
			Message: fmt.Sprintf("preview text is %d characters, the limit is %d", n, p.cfg.MaxChars),
		}
	}
	if err := voice.Validate(); err != nil {
		return PreviewResult{}, err
	}
	chunks, err := text.Split(input, p.cfg.Chunking)
	if err != nil {
		return PreviewResult{}, err
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	segments := make([]audio.Segment, 0, len(chunks))
	chapters := make(map[int]bool)
	for _, chunk := range chunks {
		seg, err := p.synth.Synthesize(ctx, tts.Request{ChunkIndex: chunk.Index, Text: chunk.Text, Voice: voice})
		if err != nil {
			return PreviewResult{}, tts.Classify(err)
		}
		seg.ChunkIndex = chunk.Index
		segments = append(segments, seg)
		if chunk.ChapterStart && chunk.Index > 0 {
			chapters[chunk.Index] = true
		}
	}
	asset, err := p.assembler.Assemble(audio.Track{Segments: segments, Expected: len(chunks), Chapters: chapters})
	if err != nil {
		return PreviewResult{}, err
	}

	id := p.newID()
	obj, err := p.store.Save(ctx, previewPrefix+id, asset)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("store preview: %w", err)
	}
	p.logger.Info("preview generated",
		slog.String("preview_id", id),
		slog.Int("chunks", len(chunks)),
		slog.Float64("duration_seconds", asset.DurationSeconds))
	return PreviewResult{
		ID:               id,
		Ref:              obj.Ref,
		SampleRate:       asset.SampleRate,
		DurationSeconds:  asset.DurationSeconds,
		DurationEstimate: text.EstimateDuration(input, voice.LengthScale, voice.SentenceSilence),
		Bytes:            obj.Bytes,
	}, nil
}

// Discard deletes a preview artifact. Unknown ids are not an error.
func (p *Previewer) Discard(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidPreviewID, id)
	}
	ref, err := p.store.Path(previewPrefix + id)
	if err != nil {
		return err
	}
	return p.store.Delete(ctx, ref)
}
