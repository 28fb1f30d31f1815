package tts

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/config"
)

// RetryPolicy bounds how transient failures are retried at the call site.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout bounds a single engine call. Zero leaves only the
	// caller's deadline.
	AttemptTimeout time.Duration
}

func PolicyFromConfig(cfg config.SynthesisConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		AttemptTimeout: time.Duration(cfg.AttemptTimeoutMS) * time.Millisecond,
	}
}

type retrying struct {
	next   Synthesizer
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry retries ENGINE_UNAVAILABLE and TIMEOUT failures with exponential
// backoff. Other kinds and a done parent context stop immediately.
func WithRetry(next Synthesizer, policy RetryPolicy, logger *slog.Logger) Synthesizer {
	return &retrying{
		next:   next,
		policy: policy,
		logger: logger.With(slog.String("component", "tts-retry")),
	}
}

func (r *retrying) Synthesize(ctx context.Context, req Request) (audio.Segment, error) {
	b := backoff.NewExponentialBackOff()
	if r.policy.InitialBackoff > 0 {
		b.InitialInterval = r.policy.InitialBackoff
	}
	if r.policy.MaxBackoff > 0 {
		b.MaxInterval = r.policy.MaxBackoff
	}

	attempt := 0
	operation := func() (audio.Segment, error) {
		attempt++
		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.policy.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.policy.AttemptTimeout)
		}
		defer cancel()

		seg, err := r.next.Synthesize(attemptCtx, req)
		if err == nil {
			return seg, nil
		}
		serr := Classify(err)
		if ctx.Err() != nil || !serr.Retryable() {
			return audio.Segment{}, backoff.Permanent(serr)
		}
		return audio.Segment{}, serr
	}

	seg, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.policy.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.logger.Warn("synthesis attempt failed, retrying",
				slog.Int("chunk", req.ChunkIndex),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slogError(err))
		}),
	)
	if err != nil {
		return audio.Segment{}, Classify(err)
	}
	return seg, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
