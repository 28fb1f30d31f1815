package eventstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/jobs"
	"github.com/loqalabs/loqa-narrator/internal/text"
	"github.com/loqalabs/loqa-narrator/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := es.UpsertJob(context.Background(), JobRecord{JobID: "x", Status: "PENDING"}); err != nil {
		t.Fatalf("ephemeral upsert should be a no-op: %v", err)
	}
	events, err := es.ListJobEvents(context.Background(), "x", 10)
	if err != nil || events != nil {
		t.Fatalf("expected no events, got %v %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "job"})
	ctx := context.Background()

	if err := es.UpsertJob(ctx, JobRecord{JobID: "job-123", Status: "PENDING", ModelID: "fr"}); err != nil {
		t.Fatalf("upsert job: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{JobID: "job-123", Type: TypeSubmitted, Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{JobID: "job-123", Type: TypeStarted}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListJobEvents(ctx, "job-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if string(events[0].Payload) != "hello" || events[1].Type != TypeStarted {
		t.Fatalf("unexpected events: %+v", events)
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be parsed")
	}
}

func TestAppendEventRequiresJob(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "job"})
	if err := es.AppendEvent(context.Background(), Event{JobID: "missing", Type: TypeSubmitted}); err == nil {
		t.Fatal("expected foreign key violation for unknown job")
	}
}

func TestPruneByDaysAndJobs(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "job", RetentionDays: 1, MaxJobs: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.UpsertJob(ctx, JobRecord{JobID: "old-job", Status: "COMPLETED"}); err != nil {
		t.Fatalf("upsert job: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{JobID: "old-job", Type: TypeCompleted}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, id := range []string{"mid-job", "new-job"} {
		if err := es.UpsertJob(ctx, JobRecord{JobID: id, Status: "PENDING"}); err != nil {
			t.Fatalf("upsert job: %v", err)
		}
		if err := es.AppendEvent(ctx, Event{JobID: id, Type: TypeSubmitted}); err != nil {
			t.Fatalf("append event: %v", err)
		}
		es.clock = func() time.Time { return time.Date(2025, 1, 3, 1, 0, 0, 0, time.UTC) }
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	for id, want := range map[string]int{"old-job": 0, "mid-job": 0, "new-job": 1} {
		events, err := es.ListJobEvents(ctx, id, 10)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) != want {
			t.Fatalf("%s: expected %d events after prune, got %d", id, want, len(events))
		}
	}
}

func TestRecorderWritesTimeline(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	rec := NewRecorder(es, newLogger())
	ctx := context.Background()

	now := time.Now()
	job := jobs.Job{
		ID:        "job-1",
		Status:    jobs.StatusPending,
		Voice:     tts.Voice{ModelID: "fr_FR-siwis-medium"},
		Chunks:    []text.Chunk{{Index: 0}, {Index: 1}},
		CreatedAt: now,
		Version:   1,
	}
	rec.JobChanged(ctx, job)
	job.Status, job.StartedAt = jobs.StatusProcessing, &now
	rec.JobChanged(ctx, job)
	job.CompletedSegments = 1
	rec.JobChanged(ctx, job)
	job.Status, job.CompletedAt, job.Error, job.ErrorCode = jobs.StatusFailed, &now, "conversion cancelled", jobs.CodeCancelled
	rec.JobChanged(ctx, job)

	events, err := es.ListJobEvents(ctx, "job-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	want := []string{TypeSubmitted, TypeStarted, TypeProgress, TypeFailed}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if e.Type != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], e.Type)
		}
	}
	var view jobs.StatusView
	if err := json.Unmarshal(events[3].Payload, &view); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if view.ErrorCode != jobs.CodeCancelled || view.ProgressPercent != 50 {
		t.Fatalf("unexpected payload %+v", view)
	}
}
