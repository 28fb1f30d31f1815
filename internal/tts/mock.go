package tts

import (
	"context"
	"math"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/text"
)

const (
	mockToneHz      = 220.0
	mockAmplitude   = 3000.0
	mockMinDuration = 0.05
)

// mockSynth renders a quiet tone whose length follows the duration estimate,
// so length_scale and sentence_silence change the output measurably.
type mockSynth struct {
	sampleRate int
	channels   int
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (audio.Segment, error) {
	if err := ctx.Err(); err != nil {
		return audio.Segment{}, Classify(err)
	}
	if err := req.Voice.Validate(); err != nil {
		return audio.Segment{}, err
	}
	seconds := math.Max(text.EstimateDuration(req.Text, req.Voice.LengthScale, req.Voice.SentenceSilence), mockMinDuration)
	frames := audio.SilenceFrames(seconds, m.sampleRate)
	samples := make([]int, frames*m.channels)
	for i := 0; i < frames; i++ {
		v := int(mockAmplitude * math.Sin(2*math.Pi*mockToneHz*float64(i)/float64(m.sampleRate)))
		for c := 0; c < m.channels; c++ {
			samples[i*m.channels+c] = v
		}
	}
	return audio.NewSegment(req.ChunkIndex, m.sampleRate, m.channels, audio.PCM(samples))
}
