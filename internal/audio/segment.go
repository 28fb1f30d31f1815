// Package audio holds synthesized PCM segments and joins them into a single
// asset. All PCM is signed 16-bit little-endian, interleaved by channel.
package audio

import (
	"fmt"
	"math"
)

const bytesPerSample = 2

// Segment is the audio produced for exactly one chunk.
type Segment struct {
	ChunkIndex      int
	SampleRate      int
	Channels        int
	PCM             []byte
	DurationSeconds float64
}

// NewSegment validates the PCM layout and derives the duration from the frame count.
func NewSegment(chunkIndex, sampleRate, channels int, pcm []byte) (Segment, error) {
	if sampleRate <= 0 {
		return Segment{}, fmt.Errorf("segment %d: invalid sample rate %d", chunkIndex, sampleRate)
	}
	if channels <= 0 {
		return Segment{}, fmt.Errorf("segment %d: invalid channel count %d", chunkIndex, channels)
	}
	frameSize := bytesPerSample * channels
	if len(pcm)%frameSize != 0 {
		return Segment{}, fmt.Errorf("segment %d: pcm payload not aligned to %d-byte frames", chunkIndex, frameSize)
	}
	return Segment{
		ChunkIndex:      chunkIndex,
		SampleRate:      sampleRate,
		Channels:        channels,
		PCM:             pcm,
		DurationSeconds: float64(len(pcm)/frameSize) / float64(sampleRate),
	}, nil
}

// Frames reports the number of sample frames in the segment.
func (s Segment) Frames() int {
	if s.Channels <= 0 {
		return 0
	}
	return len(s.PCM) / (bytesPerSample * s.Channels)
}

// SilenceFrames returns round(seconds × sampleRate), never negative.
func SilenceFrames(seconds float64, sampleRate int) int {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round(seconds * float64(sampleRate)))
}
