package tts

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindEngineUnavailable ErrorKind = "ENGINE_UNAVAILABLE"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindInvalidVoice      ErrorKind = "INVALID_VOICE"
	KindInternal          ErrorKind = "INTERNAL"
)

// SynthesisError is returned by every engine. Message is safe to show to
// users; Err holds engine diagnostics and is only logged.
type SynthesisError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("synthesis %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("synthesis %s: %s", e.Kind, e.Message)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *SynthesisError) Retryable() bool {
	return e.Kind == KindEngineUnavailable || e.Kind == KindTimeout
}

// Classify converts any error into a *SynthesisError.
func Classify(err error) *SynthesisError {
	if err == nil {
		return nil
	}
	var serr *SynthesisError
	if errors.As(err, &serr) {
		return serr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &SynthesisError{Kind: KindTimeout, Message: "speech synthesis timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &SynthesisError{Kind: KindTimeout, Message: "speech synthesis was interrupted", Err: err}
	}
	return &SynthesisError{Kind: KindInternal, Message: "speech synthesis failed", Err: err}
}
