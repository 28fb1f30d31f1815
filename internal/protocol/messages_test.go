package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/jobs"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

func TestErrorFrom(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&text.ChunkingError{Kind: text.KindEmpty, Message: "no text"}, "EMPTY"},
		{fmt.Errorf("wrapped: %w", &tts.SynthesisError{Kind: tts.KindInvalidVoice, Message: "bad"}), "INVALID_VOICE"},
		{&audio.AssemblyError{Kind: audio.KindIncompleteSet, Message: "gap"}, string(audio.KindIncompleteSet)},
		{jobs.ErrNotFound, CodeNotFound},
		{jobs.ErrQueueFull, jobs.CodeQueueFull},
		{jobs.ErrClosed, jobs.CodeShutdown},
		{jobs.ErrTerminal, CodeFinished},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		got := ErrorFrom(tc.err)
		if got == nil || got.Code != tc.code {
			t.Fatalf("%v: expected %s, got %+v", tc.err, tc.code, got)
		}
	}
	if ErrorFrom(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestSynthesisDiagnosticsStayPrivate(t *testing.T) {
	err := &tts.SynthesisError{Kind: tts.KindInternal, Message: "speech synthesis failed", Err: errors.New("segfault in onnxruntime")}
	got := ErrorFrom(err)
	if got.Message != "speech synthesis failed" {
		t.Fatalf("expected public message only, got %q", got.Message)
	}
}

func TestStatusSubject(t *testing.T) {
	if got := StatusSubject("abc"); got != "narrator.job.status.abc" {
		t.Fatalf("unexpected subject %q", got)
	}
}
