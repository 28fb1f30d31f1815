package jobs

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

func newPreviewer(t *testing.T, synth tts.Synthesizer, maxChars int) *Previewer {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	cfg := PreviewConfig{
		MaxChars: maxChars,
		Timeout:  5 * time.Second,
		Chunking: text.Options{MaxChunkChars: 25},
	}
	return NewPreviewer(cfg, synth, audio.Assembler{InterChunkSilence: 0.35}, store, newLogger())
}

func TestPreviewGeneratesEphemeralAsset(t *testing.T) {
	p := newPreviewer(t, newFakeSynth(), 500)
	res, err := p.Preview(context.Background(), threeSentences, testVoice)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if res.ID == "" || res.DurationSeconds <= 0 || res.DurationEstimate <= 0 {
		t.Fatalf("unexpected preview result %+v", res)
	}
	if res.SampleRate != 22050 {
		t.Fatalf("expected mock sample rate, got %d", res.SampleRate)
	}
	if _, err := os.Stat(res.Ref); err != nil {
		t.Fatalf("preview asset missing: %v", err)
	}

	if err := p.Discard(context.Background(), res.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, err := os.Stat(res.Ref); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected preview asset removed, got %v", err)
	}
	if err := p.Discard(context.Background(), res.ID); err != nil {
		t.Fatalf("second discard should be a no-op, got %v", err)
	}
}

func TestPreviewRejectsLongText(t *testing.T) {
	synth := newFakeSynth()
	p := newPreviewer(t, synth, 20)
	_, err := p.Preview(context.Background(), strings.Repeat("é", 21), testVoice)
	var cerr *text.ChunkingError
	if !errors.As(err, &cerr) || cerr.Kind != text.KindTooLong {
		t.Fatalf("expected TOO_LONG, got %v", err)
	}
	if calls := synth.callLog(); len(calls) != 0 {
		t.Fatalf("synthesis must not run for rejected previews, got %v", calls)
	}
}

func TestPreviewPropagatesSynthesisErrors(t *testing.T) {
	synth := newFakeSynth()
	synth.fail[0] = &tts.SynthesisError{Kind: tts.KindInvalidVoice, Message: "voice model not found"}
	p := newPreviewer(t, synth, 500)
	_, err := p.Preview(context.Background(), "Short text.", testVoice)
	var serr *tts.SynthesisError
	if !errors.As(err, &serr) || serr.Kind != tts.KindInvalidVoice {
		t.Fatalf("expected INVALID_VOICE, got %v", err)
	}
}

func TestPreviewDiscardRejectsBadID(t *testing.T) {
	p := newPreviewer(t, newFakeSynth(), 500)
	if err := p.Discard(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatal("expected invalid id to be rejected")
	}
}
