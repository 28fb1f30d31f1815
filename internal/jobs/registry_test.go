package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/text"
)

func pendingJob(id string, created time.Time) Job {
	return Job{
		ID:        id,
		Status:    StatusPending,
		Voice:     testVoice,
		Chunks:    []text.Chunk{{Index: 0, Text: "One."}, {Index: 1, Text: "Two."}},
		CreatedAt: created,
	}
}

func TestRegistryPutAssignsVersion(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	job, err := reg.Put(ctx, pendingJob("a", time.Now()))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if job.Version != 1 {
		t.Fatalf("expected version 1, got %d", job.Version)
	}
	if _, err := reg.Put(ctx, pendingJob("a", time.Now())); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if _, err := reg.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryCompareAndSwap(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()
	job, _ := reg.Put(ctx, pendingJob("a", now))

	claimed, err := reg.CompareAndSwap(ctx, job.Version, job.claimed(now))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Version != 2 || claimed.Status != StatusProcessing {
		t.Fatalf("unexpected claim result %+v", claimed)
	}

	current, err := reg.CompareAndSwap(ctx, job.Version, job.claimed(now))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}
	if current.Version != 2 {
		t.Fatalf("expected current snapshot with conflict, got version %d", current.Version)
	}

	if _, err := reg.CompareAndSwap(ctx, claimed.Version, claimed.withProgress(1)); err != nil {
		t.Fatalf("progress: %v", err)
	}
	latest, _ := reg.Get(ctx, "a")
	if _, err := reg.CompareAndSwap(ctx, latest.Version, latest.withProgress(0)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected progress regression to be rejected, got %v", err)
	}
}

func TestRegistryTransitions(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		name string
		next func(Job) Job
		want error
	}{
		{"pending to completed", func(j Job) Job {
			return j.withProgress(2).completed(now, Output{Ref: "x"})
		}, ErrInvalidTransition},
		{"claim without start", func(j Job) Job {
			j.Status = StatusProcessing
			return j
		}, ErrInvalidTransition},
		{"failure without message", func(j Job) Job {
			return j.failed(now, CodeCancelled, "")
		}, ErrInvalidTransition},
		{"pending to failed", func(j Job) Job {
			return j.failed(now, CodeCancelled, "conversion cancelled")
		}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg := NewMemoryRegistry()
			job, _ := reg.Put(ctx, pendingJob("a", now))
			_, err := reg.CompareAndSwap(ctx, job.Version, tc.next(job))
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestRegistryCompletionRequiresAllSegments(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	now := time.Now()
	job, _ := reg.Put(ctx, pendingJob("a", now))
	job, _ = reg.CompareAndSwap(ctx, job.Version, job.claimed(now))
	job, _ = reg.CompareAndSwap(ctx, job.Version, job.withProgress(1))

	if _, err := reg.CompareAndSwap(ctx, job.Version, job.completed(now, Output{Ref: "x"})); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected incomplete completion to be rejected, got %v", err)
	}
	job, _ = reg.CompareAndSwap(ctx, job.Version, job.withProgress(2))
	done, err := reg.CompareAndSwap(ctx, job.Version, job.completed(now, Output{Ref: "x"}))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := reg.CompareAndSwap(ctx, done.Version, done.failed(now, CodeStorage, "late failure")); !errors.Is(err, ErrTerminal) {
		t.Fatalf("expected terminal job to be immutable, got %v", err)
	}
	stored, _ := reg.Get(ctx, "a")
	if stored.Status != StatusCompleted || stored.Output == nil {
		t.Fatalf("terminal job changed: %+v", stored)
	}
}

func TestRegistryListOrder(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.Put(ctx, pendingJob("c", base.Add(time.Second)))
	reg.Put(ctx, pendingJob("b", base))
	reg.Put(ctx, pendingJob("a", base))

	all, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, j := range all {
		ids = append(ids, j.ID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Fatalf("unexpected order %v", ids)
	}
}
