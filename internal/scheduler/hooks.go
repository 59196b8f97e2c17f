package scheduler

import "context"

// WorkerHooks are optional observability/resilience seams around the worker
// loop's RUN and retry-yield transitions. Every field may be left nil; a
// zero WorkerHooks changes no scheduling behavior. internal/obstel wires
// tracing/metrics here. History persistence, lifecycle events, and the
// per-device circuit breaker are not hooks: cmd/aischedd wraps the
// ClientUnblocker and Executor for those. None of them are known to this
// package, keeping components A–F free of ambient-stack concerns.
type WorkerHooks struct {
	// BeforeRun is invoked just before a RUN (single or batched), with the
	// RunInfos about to execute. It returns a (possibly derived) context to
	// use for the run and a function to call with the run's error (nil on
	// success) once RUN completes.
	BeforeRun func(ctx context.Context, device string, rinfos []*RunInfo) (context.Context, func(err error))

	// OnRetryYield fires each time a worker takes the do_retry transition,
	// including the ~1ms empty-queue sleep branch.
	OnRetryYield func(device string, queueWasEmpty bool)

	// OnUnblocked fires immediately after ClientUnblocker.UnblockClient is
	// actually invoked for a DAG (refCount reached zero).
	OnUnblocked func(device string, rinfo *RunInfo, errored bool)

	// OnBatchFormed fires once per committed batch, including batches of
	// size 1, with the committed aggregate size.
	OnBatchFormed func(device string, size int)
}

func (h WorkerHooks) beforeRun(ctx context.Context, device string, rinfos []*RunInfo) (context.Context, func(error)) {
	if h.BeforeRun == nil {
		return ctx, func(error) {}
	}
	return h.BeforeRun(ctx, device, rinfos)
}

func (h WorkerHooks) retryYield(device string, queueWasEmpty bool) {
	if h.OnRetryYield != nil {
		h.OnRetryYield(device, queueWasEmpty)
	}
}

func (h WorkerHooks) unblocked(device string, rinfo *RunInfo, errored bool) {
	if h.OnUnblocked != nil {
		h.OnUnblocked(device, rinfo, errored)
	}
}

func (h WorkerHooks) batchFormed(device string, size int) {
	if h.OnBatchFormed != nil {
		h.OnBatchFormed(device, size)
	}
}
