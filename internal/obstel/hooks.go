package obstel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/aisched/internal/scheduler"
)

// Hooks builds a scheduler.WorkerHooks that records spans around RUN and
// emits the standard RED-ish instrument set: run duration, run errors,
// retry yields, batch sizes, and unblocks. Built once per process and
// shared by every device's workers.
type Hooks struct {
	tracer trace.Tracer

	runDuration   metric.Float64Histogram
	runErrors     metric.Int64Counter
	retryYields   metric.Int64Counter
	batchSize     metric.Int64Histogram
	unblocks      metric.Int64Counter
}

// NewHooks wires the instruments and returns a ready-to-use Hooks. An error
// here only ever comes from the instrument constructors themselves
// returning an error alongside a valid (no-op) instrument, per the otel API
// contract, so it is safe to ignore in practice — callers that want to be
// strict can still check it.
func NewHooks(meter metric.Meter, tracer trace.Tracer) (*Hooks, error) {
	runDuration, err := meter.Float64Histogram("aisched_worker_run_duration_ms")
	if err != nil {
		return nil, fmt.Errorf("obstel: run duration histogram: %w", err)
	}
	runErrors, err := meter.Int64Counter("aisched_worker_run_errors_total")
	if err != nil {
		return nil, fmt.Errorf("obstel: run errors counter: %w", err)
	}
	retryYields, err := meter.Int64Counter("aisched_worker_retry_yields_total")
	if err != nil {
		return nil, fmt.Errorf("obstel: retry yields counter: %w", err)
	}
	batchSize, err := meter.Int64Histogram("aisched_worker_batch_size")
	if err != nil {
		return nil, fmt.Errorf("obstel: batch size histogram: %w", err)
	}
	unblocks, err := meter.Int64Counter("aisched_worker_unblocks_total")
	if err != nil {
		return nil, fmt.Errorf("obstel: unblocks counter: %w", err)
	}

	return &Hooks{
		tracer:      tracer,
		runDuration: runDuration,
		runErrors:   runErrors,
		retryYields: retryYields,
		batchSize:   batchSize,
		unblocks:    unblocks,
	}, nil
}

// WorkerHooks returns the scheduler.WorkerHooks value to pass into
// scheduler.New.
func (h *Hooks) WorkerHooks() scheduler.WorkerHooks {
	return scheduler.WorkerHooks{
		BeforeRun:      h.beforeRun,
		OnRetryYield:   h.onRetryYield,
		OnUnblocked:    h.onUnblocked,
		OnBatchFormed:  h.onBatchFormed,
	}
}

func (h *Hooks) beforeRun(ctx context.Context, device string, rinfos []*scheduler.RunInfo) (context.Context, func(error)) {
	ctx, span := h.tracer.Start(ctx, "scheduler.run",
		trace.WithAttributes(attribute.String("device", device), attribute.Int("batch_size", len(rinfos))))
	start := time.Now()
	return ctx, func(err error) {
		h.runDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("device", device)))
		if err != nil {
			span.RecordError(err)
			h.runErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("device", device)))
		}
		span.End()
	}
}

func (h *Hooks) onRetryYield(device string, queueWasEmpty bool) {
	h.retryYields.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("device", device), attribute.Bool("queue_was_empty", queueWasEmpty)))
}

func (h *Hooks) onUnblocked(device string, rinfo *scheduler.RunInfo, errored bool) {
	h.unblocks.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("device", device), attribute.Bool("errored", errored)))
}

func (h *Hooks) onBatchFormed(device string, size int) {
	h.batchSize.Record(context.Background(), int64(size), metric.WithAttributes(attribute.String("device", device)))
}
