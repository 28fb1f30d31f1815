package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

// ServiceOptions controls how submitted text becomes chunks.
type ServiceOptions struct {
	Chunking     text.Options
	Normalize    bool
	DefaultVoice tts.Voice
}

// Service is the entry point for conversion jobs.
type Service struct {
	registry Registry
	runner   *Runner
	opts     ServiceOptions
	logger   *slog.Logger
	clock    func() time.Time
	newID    func() string
}

func NewService(registry Registry, runner *Runner, opts ServiceOptions, log *slog.Logger) *Service {
	return &Service{
		registry: registry,
		runner:   runner,
		opts:     opts,
		logger:   log.With(slog.String("component", "job-service")),
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

func (s *Service) DefaultVoice() tts.Voice { return s.opts.DefaultVoice }

// Submit chunks the text and queues a PENDING job. Chunking and voice errors
// reject the submission before any job exists. When the queue cannot take
// the job it is recorded as FAILED and its id is returned with the error.
func (s *Service) Submit(ctx context.Context, input string, voice tts.Voice) (string, error) {
	if s.opts.Normalize {
		input = text.Normalize(input)
	}
	if err := voice.Validate(); err != nil {
		return "", err
	}
	chunks, err := text.Split(input, s.opts.Chunking)
	if err != nil {
		return "", err
	}

	job, err := s.registry.Put(ctx, Job{
		ID:        s.newID(),
		Status:    StatusPending,
		Voice:     voice,
		Chunks:    chunks,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return "", fmt.Errorf("register job: %w", err)
	}
	s.runner.metrics.submitted.Add(ctx, 1)
	s.runner.notify(ctx, job)
	s.logger.Info("job submitted",
		slog.String("job_id", job.ID),
		slog.Int("chunks", len(chunks)),
		slog.String("model", voice.ModelID))

	if err := s.runner.Enqueue(job.ID); err != nil {
		code, msg := CodeQueueFull, "the conversion queue is full, try again later"
		if errors.Is(err, ErrClosed) {
			code, msg = CodeShutdown, "the service is shutting down"
		}
		s.runner.failQueued(context.WithoutCancel(ctx), job.ID, code, msg)
		return job.ID, err
	}
	return job.ID, nil
}

// Get returns the latest committed snapshot.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.registry.Get(ctx, id)
}

func (s *Service) GetStatus(ctx context.Context, id string) (StatusView, error) {
	job, err := s.registry.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	return job.View(), nil
}

// List returns every job, newest first.
func (s *Service) List(ctx context.Context) ([]StatusView, error) {
	all, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]StatusView, len(all))
	for i, job := range all {
		views[len(all)-1-i] = job.View()
	}
	return views, nil
}

// Cancel fails a PENDING job immediately. A PROCESSING job is flagged and
// fails with CANCELLED at its next chunk boundary; the returned view may
// still show it PROCESSING.
func (s *Service) Cancel(ctx context.Context, id string) (StatusView, error) {
	for attempt := 0; attempt < 3; attempt++ {
		job, err := s.registry.Get(ctx, id)
		if err != nil {
			return StatusView{}, err
		}
		switch job.Status {
		case StatusPending:
			stored, err := s.runner.commit(ctx, job, job.failed(s.clock(), CodeCancelled, "conversion cancelled"))
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrTerminal) {
				continue
			}
			if err != nil {
				return StatusView{}, err
			}
			s.logger.Info("pending job cancelled", slog.String("job_id", id))
			return stored.View(), nil
		case StatusProcessing:
			if s.runner.RequestCancel(id) {
				s.logger.Info("cancellation requested", slog.String("job_id", id))
				return job.View(), nil
			}
			continue
		default:
			return job.View(), ErrTerminal
		}
	}
	job, err := s.registry.Get(ctx, id)
	if err != nil {
		return StatusView{}, err
	}
	if job.Status.Terminal() {
		return job.View(), ErrTerminal
	}
	return job.View(), ErrConflict
}
