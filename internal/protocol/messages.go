package protocol

import (
	"errors"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/jobs"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

// SubmitRequest asks for a conversion job. Unset voice fields fall back to
// the server's default voice.
type SubmitRequest struct {
	Text  string             `json:"text"`
	Voice tts.VoiceOverrides `json:"voice"`
}

type SubmitReply struct {
	JobID string `json:"job_id,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// JobRequest addresses an existing job for status or cancellation.
type JobRequest struct {
	JobID string `json:"job_id"`
}

type StatusReply struct {
	Job   *jobs.StatusView `json:"job,omitempty"`
	Error *Error           `json:"error,omitempty"`
}

type PreviewRequest struct {
	Text  string             `json:"text"`
	Voice tts.VoiceOverrides `json:"voice"`
}

type PreviewReply struct {
	Preview *jobs.PreviewResult `json:"preview,omitempty"`
	Error   *Error              `json:"error,omitempty"`
}

type JobList struct {
	Jobs []jobs.StatusView `json:"jobs"`
}

// PresetList names the voice presets a request may select.
type PresetList struct {
	Presets []tts.Preset `json:"presets"`
}

// Error is the wire form of every failure. Message never carries engine
// diagnostics.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeFinished       = "ALREADY_FINISHED"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL"
)

// ErrorFrom maps package errors onto wire codes.
func ErrorFrom(err error) *Error {
	if err == nil {
		return nil
	}
	var perr *Error
	var cerr *text.ChunkingError
	var serr *tts.SynthesisError
	var aerr *audio.AssemblyError
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.As(err, &cerr):
		return &Error{Code: string(cerr.Kind), Message: cerr.Message}
	case errors.As(err, &serr):
		return &Error{Code: string(serr.Kind), Message: serr.Message}
	case errors.As(err, &aerr):
		return &Error{Code: string(aerr.Kind), Message: "audio assembly failed"}
	case errors.Is(err, jobs.ErrInvalidPreviewID):
		return &Error{Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, jobs.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, jobs.ErrQueueFull):
		return &Error{Code: jobs.CodeQueueFull, Message: "the conversion queue is full, try again later"}
	case errors.Is(err, jobs.ErrClosed):
		return &Error{Code: jobs.CodeShutdown, Message: "the service is shutting down"}
	case errors.Is(err, jobs.ErrTerminal):
		return &Error{Code: CodeFinished, Message: err.Error()}
	case errors.Is(err, jobs.ErrConflict):
		return &Error{Code: CodeConflict, Message: err.Error()}
	}
	return &Error{Code: CodeInternal, Message: "internal error"}
}

const (
	SubjectJobSubmit = "narrator.job.submit"
	SubjectJobStatus = "narrator.job.status"
	SubjectJobCancel = "narrator.job.cancel"
	SubjectJobList   = "narrator.job.list"
	SubjectPreview   = "narrator.preview"
	SubjectPresets   = "narrator.voice.presets"

	// StreamJobStatus retains status snapshots so late subscribers can
	// replay a job's history.
	StreamJobStatus = "NARRATOR_JOB_STATUS"
)

// StatusSubject is where every committed snapshot of a job is published.
func StatusSubject(jobID string) string {
	return SubjectJobStatus + "." + jobID
}
