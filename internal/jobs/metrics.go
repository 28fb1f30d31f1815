package jobs

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/loqalabs/loqa-narrator/internal/jobs"

type metrics struct {
	submitted    metric.Int64Counter
	finished     metric.Int64Counter
	chunkLatency metric.Float64Histogram
	queueDepth   metric.Int64UpDownCounter
}

func newMetrics(logger *slog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)
	m := &metrics{}
	var err error
	if m.submitted, err = meter.Int64Counter("narrator.jobs.submitted",
		metric.WithDescription("Conversion jobs accepted")); err != nil {
		logger.Warn("create metric", slogError(err))
		m.submitted, _ = fallback.Int64Counter("narrator.jobs.submitted")
	}
	if m.finished, err = meter.Int64Counter("narrator.jobs.finished",
		metric.WithDescription("Conversion jobs reaching a terminal state")); err != nil {
		logger.Warn("create metric", slogError(err))
		m.finished, _ = fallback.Int64Counter("narrator.jobs.finished")
	}
	if m.chunkLatency, err = meter.Float64Histogram("narrator.chunk.synthesis.duration",
		metric.WithDescription("Per-chunk synthesis latency including retries"),
		metric.WithUnit("s")); err != nil {
		logger.Warn("create metric", slogError(err))
		m.chunkLatency, _ = fallback.Float64Histogram("narrator.chunk.synthesis.duration")
	}
	if m.queueDepth, err = meter.Int64UpDownCounter("narrator.jobs.queued",
		metric.WithDescription("Jobs waiting for a worker")); err != nil {
		logger.Warn("create metric", slogError(err))
		m.queueDepth, _ = fallback.Int64UpDownCounter("narrator.jobs.queued")
	}
	return m
}

func (m *metrics) recordFinished(ctx context.Context, job Job) {
	m.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(job.Status)),
		attribute.String("code", job.ErrorCode),
	))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
