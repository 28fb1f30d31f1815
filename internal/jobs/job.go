package jobs

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Error codes recorded on FAILED jobs besides the synthesis and assembly kinds.
const (
	CodeTimeout   = "TIMEOUT"
	CodeCancelled = "CANCELLED"
	CodeShutdown  = "SHUTDOWN"
	CodeQueueFull = "QUEUE_FULL"
	CodeStorage   = "STORAGE"
	CodeInternal  = "INTERNAL"
)

// Output references the stored audio of a completed job.
type Output struct {
	Ref             string  `json:"ref"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	DurationSeconds float64 `json:"duration_seconds"`
	SilenceSeconds  float64 `json:"silence_seconds"`
	Bytes           int64   `json:"bytes"`
}

// Job is an immutable snapshot. Every change is committed as a new value
// with a higher Version; fields are never mutated in place.
type Job struct {
	ID                string       `json:"id"`
	Status            Status       `json:"status"`
	Voice             tts.Voice    `json:"voice"`
	Chunks            []text.Chunk `json:"chunks"`
	CompletedSegments int          `json:"completed_segments"`
	CreatedAt         time.Time    `json:"created_at"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	Error             string       `json:"error,omitempty"`
	ErrorCode         string       `json:"error_code,omitempty"`
	Output            *Output      `json:"output,omitempty"`
	Version           uint64       `json:"version"`
}

// Progress is floor(completed / total × 100).
func (j Job) Progress() int {
	if len(j.Chunks) == 0 {
		return 0
	}
	return j.CompletedSegments * 100 / len(j.Chunks)
}

func (j Job) claimed(now time.Time) Job {
	j.Status = StatusProcessing
	j.StartedAt = &now
	return j
}

func (j Job) withProgress(completed int) Job {
	j.CompletedSegments = completed
	return j
}

func (j Job) completed(now time.Time, out Output) Job {
	j.Status = StatusCompleted
	j.CompletedAt = &now
	j.Output = &out
	return j
}

func (j Job) failed(now time.Time, code, message string) Job {
	j.Status = StatusFailed
	j.CompletedAt = &now
	j.Error = message
	j.ErrorCode = code
	j.Output = nil
	return j
}

// checkTransition enforces the lifecycle on every commit.
func checkTransition(cur, next Job) error {
	if cur.Status.Terminal() {
		return ErrTerminal
	}
	switch {
	case cur.Status == StatusPending && next.Status == StatusProcessing:
		if next.StartedAt == nil {
			return fmt.Errorf("%w: processing job without start time", ErrInvalidTransition)
		}
	case cur.Status == StatusProcessing && next.Status == StatusProcessing:
		if next.CompletedSegments < cur.CompletedSegments || next.CompletedSegments > len(next.Chunks) {
			return fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, cur.CompletedSegments, next.CompletedSegments)
		}
	case cur.Status == StatusProcessing && next.Status == StatusCompleted:
		if next.Output == nil || next.CompletedAt == nil || next.CompletedSegments != len(next.Chunks) {
			return fmt.Errorf("%w: incomplete completion", ErrInvalidTransition)
		}
	case next.Status == StatusFailed:
		if next.Error == "" || next.CompletedAt == nil || next.Output != nil {
			return fmt.Errorf("%w: failure without error", ErrInvalidTransition)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, next.Status)
	}
	return nil
}

// StatusView is what pollers see.
type StatusView struct {
	ID                string     `json:"id"`
	Status            Status     `json:"status"`
	ProgressPercent   int        `json:"progress_percent"`
	CompletedSegments int        `json:"completed_segments"`
	TotalChunks       int        `json:"total_chunks"`
	Voice             tts.Voice  `json:"voice"`
	Error             string     `json:"error,omitempty"`
	ErrorCode         string     `json:"error_code,omitempty"`
	Output            *Output    `json:"output,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

func (j Job) View() StatusView {
	return StatusView{
		ID:                j.ID,
		Status:            j.Status,
		ProgressPercent:   j.Progress(),
		CompletedSegments: j.CompletedSegments,
		TotalChunks:       len(j.Chunks),
		Voice:             j.Voice,
		Error:             j.Error,
		ErrorCode:         j.ErrorCode,
		Output:            j.Output,
		CreatedAt:         j.CreatedAt,
		StartedAt:         j.StartedAt,
		CompletedAt:       j.CompletedAt,
	}
}

// OutputRef returns the stored asset reference, empty until COMPLETED.
func (v StatusView) OutputRef() string {
	if v.Output == nil {
		return ""
	}
	return v.Output.Ref
}
