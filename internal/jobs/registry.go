package jobs

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrExists            = errors.New("job already exists")
	ErrConflict          = errors.New("job was modified concurrently")
	ErrTerminal          = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Registry stores job snapshots. Writers commit with CompareAndSwap so a
// reader always sees a complete snapshot.
type Registry interface {
	Get(ctx context.Context, id string) (Job, error)
	// Put inserts a new job with Version 1.
	Put(ctx context.Context, job Job) (Job, error)
	// CompareAndSwap replaces the job when its current Version equals
	// expected and returns the stored snapshot with Version incremented.
	CompareAndSwap(ctx context.Context, expected uint64, next Job) (Job, error)
	// List returns all jobs ordered by creation time.
	List(ctx context.Context) ([]Job, error)
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[string]Job
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{jobs: make(map[string]Job)}
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return job, nil
}

func (r *MemoryRegistry) Put(_ context.Context, job Job) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return Job{}, ErrExists
	}
	job.Version = 1
	r.jobs[job.ID] = job
	return job, nil
}

func (r *MemoryRegistry) CompareAndSwap(_ context.Context, expected uint64, next Job) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[next.ID]
	if !ok {
		return Job{}, ErrNotFound
	}
	if cur.Status.Terminal() {
		return cur, ErrTerminal
	}
	if cur.Version != expected {
		return cur, ErrConflict
	}
	if err := checkTransition(cur, next); err != nil {
		return cur, err
	}
	next.Version = cur.Version + 1
	r.jobs[next.ID] = next
	return next, nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]Job, error) {
	r.mu.RLock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}
