package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// EncodeWAV writes the asset as a 16-bit PCM WAV file.
func EncodeWAV(w io.WriteSeeker, asset Asset) error {
	if len(asset.PCM)%bytesPerSample != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: asset.Channels, SampleRate: asset.SampleRate},
		Data:           Samples(asset.PCM),
		SourceBitDepth: bitDepth,
	}
	enc := wav.NewEncoder(w, asset.SampleRate, bitDepth, asset.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// DecodeWAV reads a 16-bit PCM WAV payload into a segment.
func DecodeWAV(data []byte, chunkIndex int) (Segment, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Segment{}, fmt.Errorf("segment %d: not a valid wav payload", chunkIndex)
	}
	if dec.BitDepth != bitDepth {
		return Segment{}, fmt.Errorf("segment %d: unsupported bit depth %d", chunkIndex, dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Segment{}, fmt.Errorf("segment %d: decode wav: %w", chunkIndex, err)
	}
	return NewSegment(chunkIndex, int(dec.SampleRate), int(dec.NumChans), PCM(buf.Data))
}

// Samples unpacks s16le bytes into integer samples.
func Samples(pcm []byte) []int {
	out := make([]int, len(pcm)/bytesPerSample)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}
	return out
}

// PCM packs integer samples into s16le bytes, clipping to the 16-bit range.
func PCM(samples []int) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(s)))
	}
	return out
}
