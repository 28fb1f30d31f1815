package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/audio"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type scriptedSynth struct {
	errs  []error
	calls int
	block bool
}

func (s *scriptedSynth) Synthesize(ctx context.Context, req Request) (audio.Segment, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return audio.Segment{}, ctx.Err()
	}
	if len(s.errs) >= s.calls && s.errs[s.calls-1] != nil {
		return audio.Segment{}, s.errs[s.calls-1]
	}
	return audio.NewSegment(req.ChunkIndex, 16000, 1, make([]byte, 320))
}

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

var testVoice = Voice{ModelID: "test", LengthScale: 1, NoiseScale: 0.667, NoiseW: 0.8, SentenceSilence: 0.2}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	inner := &scriptedSynth{errs: []error{
		&SynthesisError{Kind: KindEngineUnavailable, Message: "down"},
		&SynthesisError{Kind: KindTimeout, Message: "slow"},
	}}
	synth := WithRetry(inner, fastPolicy(2), newLogger())

	seg, err := synth.Synthesize(context.Background(), Request{ChunkIndex: 3, Text: "hi", Voice: testVoice})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
	if seg.ChunkIndex != 3 {
		t.Fatalf("unexpected chunk index %d", seg.ChunkIndex)
	}
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	down := &SynthesisError{Kind: KindEngineUnavailable, Message: "down"}
	inner := &scriptedSynth{errs: []error{down, down, down, down}}
	synth := WithRetry(inner, fastPolicy(2), newLogger())

	_, err := synth.Synthesize(context.Background(), Request{Text: "hi", Voice: testVoice})
	var serr *SynthesisError
	if !errors.As(err, &serr) || serr.Kind != KindEngineUnavailable {
		t.Fatalf("expected ENGINE_UNAVAILABLE, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestRetryDoesNotRetryPermanentKinds(t *testing.T) {
	for _, kind := range []ErrorKind{KindInvalidVoice, KindInternal} {
		inner := &scriptedSynth{errs: []error{&SynthesisError{Kind: kind, Message: "no"}}}
		synth := WithRetry(inner, fastPolicy(5), newLogger())

		_, err := synth.Synthesize(context.Background(), Request{Text: "hi", Voice: testVoice})
		var serr *SynthesisError
		if !errors.As(err, &serr) || serr.Kind != kind {
			t.Fatalf("expected %s, got %v", kind, err)
		}
		if inner.calls != 1 {
			t.Fatalf("%s: expected a single attempt, got %d", kind, inner.calls)
		}
	}
}

func TestRetryAttemptTimeoutIsReportedAsTimeout(t *testing.T) {
	inner := &scriptedSynth{block: true}
	policy := fastPolicy(1)
	policy.AttemptTimeout = 10 * time.Millisecond
	synth := WithRetry(inner, policy, newLogger())

	_, err := synth.Synthesize(context.Background(), Request{Text: "hi", Voice: testVoice})
	var serr *SynthesisError
	if !errors.As(err, &serr) || serr.Kind != KindTimeout {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected timeout to be retried once, got %d calls", inner.calls)
	}
}

func TestRetryStopsWhenParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &scriptedSynth{block: true}
	synth := WithRetry(inner, fastPolicy(5), newLogger())

	_, err := synth.Synthesize(ctx, Request{Text: "hi", Voice: testVoice})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls > 1 {
		t.Fatalf("expected no retry after cancellation, got %d calls", inner.calls)
	}
}

func TestClassifyWrapsPlainErrors(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got.Kind != KindTimeout {
		t.Fatalf("expected TIMEOUT, got %s", got.Kind)
	}
	if got := Classify(errors.New("boom")); got.Kind != KindInternal || got.Retryable() {
		t.Fatalf("expected non-retryable INTERNAL, got %+v", got)
	}
}
