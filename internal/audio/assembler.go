package audio

import (
	"fmt"
	"slices"
)

// Assembler concatenates segments with zero-amplitude gaps between them.
type Assembler struct {
	// InterChunkSilence is inserted between consecutive segments, in seconds.
	InterChunkSilence float64
	// ChapterSilence replaces the inter-chunk gap before a segment that opens
	// a chapter. Zero keeps the inter-chunk gap.
	ChapterSilence float64
}

// Track is the complete input for one assembly.
type Track struct {
	Segments []Segment
	// Expected is the number of chunks the segments were produced from.
	Expected int
	// Chapters marks chunk indexes that open a chapter.
	Chapters map[int]bool
}

// Asset is the immutable result of a successful assembly.
type Asset struct {
	PCM             []byte
	SampleRate      int
	Channels        int
	DurationSeconds float64
	SilenceSeconds  float64
	Segments        int
}

// Assemble joins the segments in chunk index order. It fails without
// producing output when a segment is missing or formats disagree.
func (a Assembler) Assemble(track Track) (Asset, error) {
	if track.Expected <= 0 || len(track.Segments) == 0 {
		return Asset{}, &AssemblyError{Kind: KindIncompleteSet, Message: "no segments to assemble"}
	}
	segs := slices.Clone(track.Segments)
	slices.SortStableFunc(segs, func(x, y Segment) int { return x.ChunkIndex - y.ChunkIndex })
	for i, seg := range segs {
		if seg.ChunkIndex != i {
			return Asset{}, &AssemblyError{
				Kind:    KindIncompleteSet,
				Message: fmt.Sprintf("expected segment %d, found segment %d", i, seg.ChunkIndex),
			}
		}
	}
	if len(segs) != track.Expected {
		return Asset{}, &AssemblyError{
			Kind:    KindIncompleteSet,
			Message: fmt.Sprintf("have %d of %d segments", len(segs), track.Expected),
		}
	}

	rate, channels := segs[0].SampleRate, segs[0].Channels
	if rate <= 0 || channels <= 0 {
		return Asset{}, &AssemblyError{Kind: KindInconsistentFormat, Message: "segment 0 has no audio format"}
	}
	frameSize := bytesPerSample * channels
	total := 0
	gaps := make([]int, len(segs))
	for i, seg := range segs {
		if seg.SampleRate != rate || seg.Channels != channels {
			return Asset{}, &AssemblyError{
				Kind: KindInconsistentFormat,
				Message: fmt.Sprintf("segment %d is %d Hz/%d ch, expected %d Hz/%d ch",
					seg.ChunkIndex, seg.SampleRate, seg.Channels, rate, channels),
			}
		}
		if len(seg.PCM)%frameSize != 0 {
			return Asset{}, &AssemblyError{
				Kind:    KindInconsistentFormat,
				Message: fmt.Sprintf("segment %d pcm payload not aligned", seg.ChunkIndex),
			}
		}
		if i > 0 {
			gaps[i] = SilenceFrames(a.gapBefore(i, track.Chapters), rate)
		}
		total += len(seg.PCM) + gaps[i]*frameSize
	}

	pcm := make([]byte, 0, total)
	silenceFrames := 0
	for i, seg := range segs {
		if gaps[i] > 0 {
			// zero samples are silence for signed PCM
			pcm = append(pcm, make([]byte, gaps[i]*frameSize)...)
			silenceFrames += gaps[i]
		}
		pcm = append(pcm, seg.PCM...)
	}
	return Asset{
		PCM:             pcm,
		SampleRate:      rate,
		Channels:        channels,
		DurationSeconds: float64(len(pcm)/frameSize) / float64(rate),
		SilenceSeconds:  float64(silenceFrames) / float64(rate),
		Segments:        len(segs),
	}, nil
}

func (a Assembler) gapBefore(index int, chapters map[int]bool) float64 {
	if chapters[index] && a.ChapterSilence > 0 {
		return a.ChapterSilence
	}
	return a.InterChunkSilence
}
