package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/storage"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const failureCommitTries = 5

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrClosed    = errors.New("job runner is closed")
)

// Store persists assembled audio.
type Store interface {
	Save(ctx context.Context, name string, asset audio.Asset) (storage.Object, error)
	Delete(ctx context.Context, ref string) error
	Path(name string) (string, error)
}

// Observer is notified after every committed job change, in commit order
// for a given job.
type Observer interface {
	JobChanged(ctx context.Context, job Job)
}

type ObserverFunc func(ctx context.Context, job Job)

func (f ObserverFunc) JobChanged(ctx context.Context, job Job) { f(ctx, job) }

type RunnerConfig struct {
	Workers   int
	QueueSize int
	// ChunkTimeout bounds one chunk including retries. Zero disables.
	ChunkTimeout time.Duration
	// JobTimeout bounds a job from the moment it is claimed. Zero disables.
	JobTimeout time.Duration
}

func RunnerConfigFrom(cfg config.JobsConfig) RunnerConfig {
	return RunnerConfig{
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		ChunkTimeout: time.Duration(cfg.ChunkTimeoutMS) * time.Millisecond,
		JobTimeout:   time.Duration(cfg.JobTimeoutMS) * time.Millisecond,
	}
}

// Runner drives queued jobs through their chunks on a bounded worker pool.
// Each job is owned by exactly one worker, which is its only writer.
type Runner struct {
	cfg       RunnerConfig
	registry  Registry
	synth     tts.Synthesizer
	assembler audio.Assembler
	store     Store
	logger    *slog.Logger
	metrics   *metrics
	tracer    trace.Tracer
	clock     func() time.Time

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	group   *errgroup.Group
	started atomic.Bool
	closed  atomic.Bool
	once   sync.Once

	mu        sync.Mutex
	active    map[string]*activeJob
	observers []Observer
}

type activeJob struct {
	cancelled atomic.Bool
}

func NewRunner(parent context.Context, cfg RunnerConfig, registry Registry, synth tts.Synthesizer, assembler audio.Assembler, store Store, log *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	ctx, cancel := context.WithCancel(parent)
	logger := log.With(slog.String("component", "job-runner"))
	return &Runner{
		cfg:       cfg,
		registry:  registry,
		synth:     synth,
		assembler: assembler,
		store:     store,
		logger:    logger,
		metrics:   newMetrics(logger),
		tracer:    otel.Tracer(instrumentationName),
		clock:     time.Now,
		queue:     make(chan string, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		active:    make(map[string]*activeJob),
	}
}

// Observe registers o for all subsequent commits.
func (r *Runner) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Runner) Start() {
	group, ctx := errgroup.WithContext(r.ctx)
	r.mu.Lock()
	r.group = group
	r.mu.Unlock()
	for i := 0; i < r.cfg.Workers; i++ {
		worker := i
		group.Go(func() error {
			r.work(ctx, worker)
			return nil
		})
	}
	r.started.Store(true)
	r.logger.Info("job runner started", slog.Int("workers", r.cfg.Workers), slog.Int("queue_size", r.cfg.QueueSize))
}

// Close stops the workers. Running jobs fail with SHUTDOWN at their next
// chunk boundary; jobs still queued fail the same way.
func (r *Runner) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed.Store(true)
		group := r.group
		r.mu.Unlock()
		r.cancel()
		if group != nil {
			_ = group.Wait()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for {
			select {
			case id := <-r.queue:
				r.metrics.queueDepth.Add(ctx, -1)
				r.failQueued(ctx, id, CodeShutdown, "conversion interrupted by shutdown")
			default:
				r.logger.Info("job runner stopped")
				return
			}
		}
	})
}

func (r *Runner) Healthy() bool { return r.started.Load() && !r.closed.Load() }

// Load reports how many jobs wait for a worker and how many more the queue
// accepts.
func (r *Runner) Load() (queued, free int) {
	queued = len(r.queue)
	return queued, cap(r.queue) - queued
}

func (r *Runner) Workers() int { return r.cfg.Workers }

// Enqueue hands a PENDING job to the pool without blocking.
func (r *Runner) Enqueue(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return ErrClosed
	}
	select {
	case r.queue <- id:
		r.metrics.queueDepth.Add(r.ctx, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// RequestCancel flags a running job. It reports false when the job is not
// currently owned by a worker.
func (r *Runner) RequestCancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.active[id]
	if !ok {
		return false
	}
	a.cancelled.Store(true)
	return true
}

func (r *Runner) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-r.queue:
			r.metrics.queueDepth.Add(ctx, -1)
			r.run(ctx, id, worker)
		}
	}
}

func (r *Runner) activate(id string) *activeJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &activeJob{}
	r.active[id] = a
	return a
}

func (r *Runner) deactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

func (r *Runner) run(ctx context.Context, id string, worker int) {
	logger := r.logger.With(slog.String("job_id", id), slog.Int("worker", worker))
	// commits must land even while shutting down
	commitCtx := context.WithoutCancel(ctx)

	job, err := r.registry.Get(commitCtx, id)
	if err != nil {
		logger.Warn("queued job not found", slogError(err))
		return
	}
	if job.Status != StatusPending {
		logger.Debug("skipping job that is no longer pending", slog.String("status", string(job.Status)))
		return
	}

	active := r.activate(id)
	defer r.deactivate(id)

	started := r.clock()
	job, err = r.commit(commitCtx, job, job.claimed(started))
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrTerminal) {
			logger.Info("job claim lost", slogError(err))
			return
		}
		logger.Error("job claim failed", slogError(err))
		if ferr := r.commitFailure(commitCtx, job, CodeInternal, "could not start the conversion"); ferr != nil {
			logger.Error("failure commit failed", slogError(ferr))
		}
		return
	}

	ctx, span := r.tracer.Start(ctx, "narrator.job",
		trace.WithAttributes(attribute.String("job.id", id), attribute.Int("job.chunks", len(job.Chunks))))
	defer span.End()
	logger.Info("job started", slog.Int("chunks", len(job.Chunks)))

	var deadline time.Time
	if r.cfg.JobTimeout > 0 {
		deadline = started.Add(r.cfg.JobTimeout)
	}

	segments := make([]audio.Segment, 0, len(job.Chunks))
	for _, chunk := range job.Chunks {
		if code, msg := r.interrupted(ctx, active, deadline); code != "" {
			r.fail(commitCtx, span, logger, job, code, msg, nil)
			return
		}
		seg, err := r.synthesize(ctx, job, chunk)
		if err != nil {
			if ctx.Err() != nil {
				r.fail(commitCtx, span, logger, job, CodeShutdown, "conversion interrupted by shutdown", err)
				return
			}
			serr := tts.Classify(err)
			r.fail(commitCtx, span, logger, job, string(serr.Kind),
				fmt.Sprintf("chunk %d: %s", chunk.Index+1, serr.Message), err)
			return
		}
		segments = append(segments, seg)
		job, err = r.commit(commitCtx, job, job.withProgress(len(segments)))
		if err != nil {
			r.fail(commitCtx, span, logger, job, CodeInternal, "could not record conversion progress", err)
			return
		}
	}
	if code, msg := r.interrupted(ctx, active, deadline); code != "" {
		r.fail(commitCtx, span, logger, job, code, msg, nil)
		return
	}

	asset, err := r.assembler.Assemble(audio.Track{
		Segments: segments,
		Expected: len(job.Chunks),
		Chapters: chapterStarts(job.Chunks),
	})
	if err != nil {
		code := CodeInternal
		var aerr *audio.AssemblyError
		if errors.As(err, &aerr) {
			code = string(aerr.Kind)
		}
		r.fail(commitCtx, span, logger, job, code, "audio assembly failed", err)
		return
	}

	obj, err := r.store.Save(commitCtx, id, asset)
	if err != nil {
		r.fail(commitCtx, span, logger, job, CodeStorage, "could not store the generated audio", err)
		return
	}
	out := Output{
		Ref:             obj.Ref,
		SampleRate:      asset.SampleRate,
		Channels:        asset.Channels,
		DurationSeconds: asset.DurationSeconds,
		SilenceSeconds:  asset.SilenceSeconds,
		Bytes:           obj.Bytes,
	}
	if _, err := r.commit(commitCtx, job, job.completed(r.clock(), out)); err != nil {
		if derr := r.store.Delete(commitCtx, obj.Ref); derr != nil {
			logger.Warn("failed to remove orphaned asset", slogError(derr))
		}
		r.fail(commitCtx, span, logger, job, CodeInternal, "could not record the finished conversion", err)
		return
	}
	span.SetStatus(codes.Ok, "")
	logger.Info("job completed",
		slog.Float64("duration_seconds", out.DurationSeconds),
		slog.Duration("elapsed", r.clock().Sub(started)))
}

func (r *Runner) synthesize(ctx context.Context, job Job, chunk text.Chunk) (audio.Segment, error) {
	ctx, span := r.tracer.Start(ctx, "narrator.chunk",
		trace.WithAttributes(attribute.Int("chunk.index", chunk.Index), attribute.Int("chunk.chars", chunk.CharCount)))
	defer span.End()

	if r.cfg.ChunkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ChunkTimeout)
		defer cancel()
	}
	start := time.Now()
	seg, err := r.synth.Synthesize(ctx, tts.Request{ChunkIndex: chunk.Index, Text: chunk.Text, Voice: job.Voice})
	r.metrics.chunkLatency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("ok", err == nil)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return audio.Segment{}, err
	}
	seg.ChunkIndex = chunk.Index
	return seg, nil
}

// interrupted is checked at chunk boundaries only; a synthesis call in
// flight is never abandoned for cancellation or the job deadline.
func (r *Runner) interrupted(ctx context.Context, active *activeJob, deadline time.Time) (string, string) {
	switch {
	case ctx.Err() != nil:
		return CodeShutdown, "conversion interrupted by shutdown"
	case active.cancelled.Load():
		return CodeCancelled, "conversion cancelled"
	case !deadline.IsZero() && !r.clock().Before(deadline):
		return CodeTimeout, "conversion exceeded its time limit"
	}
	return "", ""
}

func (r *Runner) fail(ctx context.Context, span trace.Span, logger *slog.Logger, job Job, code, message string, cause error) {
	attrs := []any{slog.String("code", code), slog.String("message", message), slog.Int("completed_segments", job.CompletedSegments)}
	if cause != nil {
		attrs = append(attrs, slogError(cause))
		span.RecordError(cause)
	}
	span.SetStatus(codes.Error, code)
	logger.Warn("job failed", attrs...)
	if err := r.commitFailure(ctx, job, code, message); err != nil {
		logger.Error("failure commit failed", slogError(err))
	}
}

// commitFailure records the FAILED snapshot. A rejected commit is retried
// against the stored snapshot so the job never stays in flight.
func (r *Runner) commitFailure(ctx context.Context, job Job, code, message string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	attempt := 0
	operation := func() (Job, error) {
		attempt++
		if attempt > 1 {
			current, err := r.registry.Get(ctx, job.ID)
			if errors.Is(err, ErrNotFound) {
				return Job{}, backoff.Permanent(err)
			}
			if err != nil {
				return Job{}, err
			}
			job = current
		}
		if job.Status.Terminal() {
			return job, nil
		}
		stored, err := r.commit(ctx, job, job.failed(r.clock(), code, message))
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrTerminal) {
			return stored, backoff.Permanent(err)
		}
		return stored, err
	}
	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(failureCommitTries),
		backoff.WithMaxElapsedTime(0))
	if errors.Is(err, ErrTerminal) {
		return nil
	}
	return err
}

func (r *Runner) failQueued(ctx context.Context, id, code, message string) {
	job, err := r.registry.Get(ctx, id)
	if err != nil || job.Status != StatusPending {
		return
	}
	if _, err := r.commit(ctx, job, job.failed(r.clock(), code, message)); err != nil {
		r.logger.Warn("failed to fail queued job", slog.String("job_id", id), slogError(err))
	}
}

// commit swaps cur for next and notifies observers of the stored snapshot.
func (r *Runner) commit(ctx context.Context, cur, next Job) (Job, error) {
	stored, err := r.registry.CompareAndSwap(ctx, cur.Version, next)
	if err != nil {
		return cur, err
	}
	if stored.Status.Terminal() {
		r.metrics.recordFinished(ctx, stored)
	}
	r.notify(ctx, stored)
	return stored, nil
}

func (r *Runner) notify(ctx context.Context, job Job) {
	r.mu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o.JobChanged(ctx, job)
	}
}

func chapterStarts(chunks []text.Chunk) map[int]bool {
	out := make(map[int]bool)
	for _, c := range chunks {
		if c.ChapterStart && c.Index > 0 {
			out[c.Index] = true
		}
	}
	return out
}
