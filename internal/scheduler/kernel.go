package scheduler

import "context"

// Op is an opaque handle to a single DAG operation, as returned by
// DagInspector.CurrentOpAndInfo. The scheduler never inspects it; it only
// passes it back into OpBatchInfo/OpBatchingMatch.
type Op any

// DagInspector is the DAG inspection interface consumed by the scheduler
// (spec.md §6). Implementations are external collaborators: DAG parsing,
// validation, and readiness tracking are out of scope for this package.
type DagInspector interface {
	// CurrentOpAndInfo returns the first unexecuted op of rinfo on device,
	// plus the four flags the SCAN state needs: whether that op is ready
	// (all inputs present), whether it is batchable (a model invocation
	// with a positive batch dimension), whether every op assigned to
	// device has produced a result (deviceComplete), and whether every op
	// in the whole DAG has (dagComplete).
	CurrentOpAndInfo(rinfo *RunInfo, device string) (op Op, ready, batchable, deviceComplete, dagComplete bool)

	// OpBatchInfo returns the model's target batch size, minimum batch
	// size, and this call's own size along the batch (0th) dimension.
	OpBatchInfo(rinfo *RunInfo, op Op) (batchSize, minBatchSize, inBatchSize int)

	// OpBatchingMatch reports whether op b may be fused into the same
	// kernel call as op a (same underlying model, matching non-batch
	// dimensions), and if so b's contribution to the running batch size.
	OpBatchingMatch(rinfoA *RunInfo, a Op, rinfoB *RunInfo, b Op) (compatible bool, nextBatchSize int)
}

// Executor is the execution interface invoked during RUN (spec.md §6). Both
// methods must be safe to call concurrently from different workers as long
// as the RunInfo sets involved are disjoint, and must serialize any mutation
// of a given RunInfo's DAG progress state under that RunInfo's own lock —
// the scheduler holds no lock while calling these.
type Executor interface {
	// DagRunSessionStep executes the current op of one DAG on one device.
	// It updates the DAG's internal progress state and may set rinfo's
	// sticky error flag via rinfo.SetError().
	DagRunSessionStep(ctx context.Context, rinfo *RunInfo, device string) error

	// BatchedDagRunSessionStep executes one fused op across multiple DAGs
	// that were determined batch-compatible by OpBatchingMatch. On error it
	// should mark whichever of the batch's RunInfos actually failed. For
	// REFLECT, the worker loop treats a member as failed if its Error() is
	// true afterward; a non-nil error returned by the call itself marks
	// every member as failed.
	BatchedDagRunSessionStep(ctx context.Context, rinfos []*RunInfo, device string) error
}

// ClientUnblocker resumes the client that originally submitted a DAG run.
// Called at most once per DAG (spec.md §6, Testable Property 1). client may
// be nil, in which case implementations must simply do nothing.
type ClientUnblocker interface {
	UnblockClient(ctx context.Context, client Client, rinfo *RunInfo)
}
