package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWAVRoundTrip(t *testing.T) {
	asset := Asset{PCM: PCM([]int{0, 1200, -1200, 32767, -32768, 7}), SampleRate: 22050, Channels: 1}

	path := filepath.Join(t.TempDir(), "out.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := EncodeWAV(file, asset); err != nil {
		t.Fatalf("encode: %v", err)
	}
	file.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	seg, err := DecodeWAV(data, 4)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seg.ChunkIndex != 4 || seg.SampleRate != 22050 || seg.Channels != 1 {
		t.Fatalf("unexpected segment metadata: %+v", seg)
	}
	if string(seg.PCM) != string(asset.PCM) {
		t.Fatalf("pcm mismatch: %v vs %v", Samples(seg.PCM), Samples(asset.PCM))
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("not a wav file at all"), 0); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestPCMClips(t *testing.T) {
	got := Samples(PCM([]int{40000, -40000}))
	if got[0] != 32767 || got[1] != -32768 {
		t.Fatalf("expected clipping, got %v", got)
	}
}
