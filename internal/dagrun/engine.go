package dagrun

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/aisched/internal/resilience"
	"github.com/swarmguard/aisched/internal/scheduler"
)

// kernelRetryAttempts/kernelRetryDelay bound how many times a single op (or
// batch) is attempted against the kernel (the first call plus one retry)
// before its failure is treated as sticky. A device hiccup (a transient allocation failure, a momentarily
// busy accelerator) should not fail a whole DAG on its first occurrence.
const (
	kernelRetryAttempts = 2
	kernelRetryDelay    = 2 * time.Millisecond
)

// KernelRunner is the actual compute backend — tensor math, model
// invocation, whatever a device's kernels are — kept external to this
// package exactly the way dag_engine.go keeps task execution behind a
// TaskExecutor interface it is handed at construction time.
type KernelRunner interface {
	RunOp(ctx context.Context, op OpSpec) error
	RunBatch(ctx context.Context, ops []OpSpec) error
}

// Engine is the default scheduler.DagInspector + scheduler.Executor pairing:
// DAG bookkeeping (Dag) plus a KernelRunner, instrumented with the same
// histogram/counter shape the teacher's DAGEngine records for task
// execution.
type Engine struct {
	runner KernelRunner
	tracer trace.Tracer

	opDuration metric.Float64Histogram
	opFailures metric.Int64Counter
	batchSize  metric.Int64Histogram
}

// NewEngine builds an Engine. meter and tracer may be the global no-op
// implementations if the caller has not wired OpenTelemetry.
func NewEngine(runner KernelRunner, meter metric.Meter, tracer trace.Tracer) (*Engine, error) {
	opDuration, err := meter.Float64Histogram("aisched_op_duration_ms")
	if err != nil {
		return nil, fmt.Errorf("dagrun: op duration histogram: %w", err)
	}
	opFailures, err := meter.Int64Counter("aisched_op_failures_total")
	if err != nil {
		return nil, fmt.Errorf("dagrun: op failures counter: %w", err)
	}
	batchSize, err := meter.Int64Histogram("aisched_op_batch_size")
	if err != nil {
		return nil, fmt.Errorf("dagrun: batch size histogram: %w", err)
	}
	return &Engine{runner: runner, tracer: tracer, opDuration: opDuration, opFailures: opFailures, batchSize: batchSize}, nil
}

// CurrentOpAndInfo implements scheduler.DagInspector.
func (e *Engine) CurrentOpAndInfo(rinfo *scheduler.RunInfo, device string) (scheduler.Op, bool, bool, bool, bool) {
	d := rinfo.DAG.(*Dag)
	op, ready, batchable, deviceComplete, dagComplete := d.currentOpAndInfo(device)
	return op, ready, batchable, deviceComplete, dagComplete
}

// OpBatchInfo implements scheduler.DagInspector.
func (e *Engine) OpBatchInfo(rinfo *scheduler.RunInfo, op scheduler.Op) (int, int, int) {
	n := op.(opHandle).n
	return n.spec.BatchSize, n.spec.MinBatchSize, n.spec.InBatchSize
}

// OpBatchingMatch implements scheduler.DagInspector: two ops batch together
// only if they invoke the same model.
func (e *Engine) OpBatchingMatch(rinfoA *scheduler.RunInfo, a scheduler.Op, rinfoB *scheduler.RunInfo, b scheduler.Op) (bool, int) {
	na, nb := a.(opHandle).n, b.(opHandle).n
	if na.spec.Model == "" || na.spec.Model != nb.spec.Model {
		return false, 0
	}
	return true, nb.spec.InBatchSize
}

// DagRunSessionStep implements scheduler.Executor for a single DAG.
func (e *Engine) DagRunSessionStep(ctx context.Context, rinfo *scheduler.RunInfo, device string) error {
	d := rinfo.DAG.(*Dag)
	op, _, _, _, _ := d.currentOpAndInfo(device)
	spec := op.(opHandle).n.spec

	ctx, span := e.tracer.Start(ctx, "dagrun.op",
		trace.WithAttributes(attribute.String("dag", d.id), attribute.String("op", spec.ID), attribute.String("device", device)))
	defer span.End()

	start := time.Now()
	_, err := resilience.Retry(ctx, kernelRetryAttempts, kernelRetryDelay, func() (struct{}, error) {
		return struct{}{}, e.runner.RunOp(ctx, spec)
	})
	d.advance(device)
	e.opDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("device", device), attribute.String("model", spec.Model)))

	if err != nil {
		rinfo.SetError()
		e.opFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("device", device), attribute.String("op", spec.ID)))
	}
	return err
}

// BatchedDagRunSessionStep implements scheduler.Executor for a fused call
// across multiple DAGs' current ops. A runner error is treated as common to
// every participant, since the batched kernel call has no finer-grained
// failure reporting than "the call failed".
func (e *Engine) BatchedDagRunSessionStep(ctx context.Context, rinfos []*scheduler.RunInfo, device string) error {
	specs := make([]OpSpec, 0, len(rinfos))
	for _, rinfo := range rinfos {
		op, _, _, _, _ := rinfo.DAG.(*Dag).currentOpAndInfo(device)
		specs = append(specs, op.(opHandle).n.spec)
	}

	ctx, span := e.tracer.Start(ctx, "dagrun.batch",
		trace.WithAttributes(attribute.String("device", device), attribute.Int("size", len(specs))))
	defer span.End()

	start := time.Now()
	_, err := resilience.Retry(ctx, kernelRetryAttempts, kernelRetryDelay, func() (struct{}, error) {
		return struct{}{}, e.runner.RunBatch(ctx, specs)
	})
	for _, rinfo := range rinfos {
		rinfo.DAG.(*Dag).advance(device)
	}
	e.opDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("device", device), attribute.String("model", specs[0].Model), attribute.Bool("batched", true)))
	e.batchSize.Record(ctx, int64(len(specs)), metric.WithAttributes(attribute.String("device", device)))

	if err != nil {
		for _, rinfo := range rinfos {
			rinfo.SetError()
		}
		e.opFailures.Add(ctx, int64(len(specs)), metric.WithAttributes(attribute.String("device", device), attribute.Bool("batched", true)))
	}
	return err
}
