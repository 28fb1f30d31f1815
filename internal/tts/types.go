package tts

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/config"
)

// Voice is the synthesis parameter set. It is a value type and stays fixed
// for the lifetime of a job.
type Voice struct {
	ModelID         string  `json:"model_id"`
	LengthScale     float64 `json:"length_scale"`
	NoiseScale      float64 `json:"noise_scale"`
	NoiseW          float64 `json:"noise_w"`
	SentenceSilence float64 `json:"sentence_silence"`
}

// Validate reports an INVALID_VOICE error for out-of-range parameters.
func (v Voice) Validate() error {
	switch {
	case v.ModelID == "":
		return invalidVoice("voice model is required")
	case v.LengthScale <= 0:
		return invalidVoice(fmt.Sprintf("length_scale must be positive, got %g", v.LengthScale))
	case v.NoiseScale < 0 || v.NoiseScale > 1:
		return invalidVoice(fmt.Sprintf("noise_scale must be within [0,1], got %g", v.NoiseScale))
	case v.NoiseW < 0 || v.NoiseW > 1:
		return invalidVoice(fmt.Sprintf("noise_w must be within [0,1], got %g", v.NoiseW))
	case v.SentenceSilence < 0:
		return invalidVoice(fmt.Sprintf("sentence_silence must be >= 0, got %g", v.SentenceSilence))
	}
	return nil
}

func invalidVoice(msg string) error {
	return &SynthesisError{Kind: KindInvalidVoice, Message: msg}
}

// DefaultVoice builds the configured default profile.
func DefaultVoice(cfg config.SynthesisConfig) Voice {
	return Voice{
		ModelID:         cfg.Model,
		LengthScale:     cfg.LengthScale,
		NoiseScale:      cfg.NoiseScale,
		NoiseW:          cfg.NoiseW,
		SentenceSilence: cfg.SentenceSilence,
	}
}

// VoiceOverrides carries the optional fields a caller may set on top of the
// default voice. A preset is applied first; nil fields keep the value it or
// the default provides.
type VoiceOverrides struct {
	Preset          string   `json:"preset,omitempty"`
	ModelID         string   `json:"model_id,omitempty"`
	LengthScale     *float64 `json:"length_scale,omitempty"`
	NoiseScale      *float64 `json:"noise_scale,omitempty"`
	NoiseW          *float64 `json:"noise_w,omitempty"`
	SentenceSilence *float64 `json:"sentence_silence,omitempty"`
}

// Apply resolves the overrides against base and validates the result.
func (o VoiceOverrides) Apply(base Voice) (Voice, error) {
	if o.Preset != "" {
		p, err := LookupPreset(o.Preset)
		if err != nil {
			return Voice{}, err
		}
		base = p.apply(base)
	}
	if o.ModelID != "" {
		base.ModelID = o.ModelID
	}
	if o.LengthScale != nil {
		base.LengthScale = *o.LengthScale
	}
	if o.NoiseScale != nil {
		base.NoiseScale = *o.NoiseScale
	}
	if o.NoiseW != nil {
		base.NoiseW = *o.NoiseW
	}
	if o.SentenceSilence != nil {
		base.SentenceSilence = *o.SentenceSilence
	}
	if err := base.Validate(); err != nil {
		return Voice{}, err
	}
	return base, nil
}

// Request is one blocking synthesis call.
type Request struct {
	ChunkIndex int
	Text       string
	Voice      Voice
}

// Synthesizer turns one chunk of text into one audio segment. Failures are
// reported as *SynthesisError.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (audio.Segment, error)
}
