package eventstore

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/jobs"
)

// Event types written by Recorder.
const (
	TypeSubmitted = "job.submitted"
	TypeStarted   = "job.started"
	TypeProgress  = "job.progress"
	TypeCompleted = "job.completed"
	TypeFailed    = "job.failed"
)

// Recorder appends every committed job change to the timeline.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger.With(slog.String("component", "job-recorder"))}
}

// JobChanged implements jobs.Observer. Failures are logged; the timeline
// never blocks a job.
func (r *Recorder) JobChanged(ctx context.Context, job jobs.Job) {
	if r.store.disabled() {
		return
	}
	err := r.store.UpsertJob(ctx, JobRecord{
		JobID:       job.ID,
		Status:      string(job.Status),
		ModelID:     job.Voice.ModelID,
		TotalChunks: len(job.Chunks),
		CreatedAt:   job.CreatedAt,
	})
	if err != nil {
		r.logger.Warn("record job failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	payload, err := json.Marshal(job.View())
	if err != nil {
		r.logger.Warn("encode job event failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
		return
	}
	if err := r.store.AppendEvent(ctx, Event{JobID: job.ID, Type: eventType(job), Payload: payload}); err != nil {
		r.logger.Warn("append job event failed", slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}

func eventType(job jobs.Job) string {
	switch job.Status {
	case jobs.StatusPending:
		return TypeSubmitted
	case jobs.StatusProcessing:
		if job.CompletedSegments == 0 {
			return TypeStarted
		}
		return TypeProgress
	case jobs.StatusCompleted:
		return TypeCompleted
	default:
		return TypeFailed
	}
}
