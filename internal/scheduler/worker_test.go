package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestWorker(executor *fakeExecutor, unblocker *fakeUnblocker, hooks WorkerHooks) (*worker, *RunQueueInfo) {
	rq := newRunQueueInfo("GPU0")
	w := &worker{
		rq:        rq,
		inspector: fakeInspector{},
		executor:  executor,
		unblocker: unblocker,
		hooks:     hooks,
	}
	return w, rq
}

func TestWorkerMinBatchStarvationYieldsNone(t *testing.T) {
	// spec.md Scenario S5: two single-item DAGs under a B_min of 4 form no
	// committable batch and must not be evicted.
	w, rq := newTestWorker(&fakeExecutor{}, &fakeUnblocker{}, WorkerHooks{})
	op := func() fakeOp { return fakeOp{model: "resnet", ready: true, batchSize: 4, minBatchSize: 4, inBatchSize: 1} }
	rq.queue.pushBack(NewRunInfo("a", newFakeDag(map[string][]fakeOp{"GPU0": {op()}}), nil, 1))
	rq.queue.pushBack(NewRunInfo("b", newFakeDag(map[string][]fakeOp{"GPU0": {op()}}), nil, 1))

	result := w.scan()
	require.Equal(t, kindNone, result.kind)
	require.Equal(t, 2, rq.queue.len(), "scan must not evict anything when no batch commits")
}

func TestWorkerCommitsBatchAtMinSizeAndRunsOnce(t *testing.T) {
	executor := &fakeExecutor{}
	var formedSizes []int
	hooks := WorkerHooks{OnBatchFormed: func(device string, size int) { formedSizes = append(formedSizes, size) }}
	w, rq := newTestWorker(executor, &fakeUnblocker{}, hooks)

	op := func() fakeOp { return fakeOp{model: "resnet", ready: true, batchSize: 4, minBatchSize: 4, inBatchSize: 1} }
	for _, id := range []string{"a", "b", "c", "d"} {
		rq.queue.pushBack(NewRunInfo(id, newFakeDag(map[string][]fakeOp{"GPU0": {op()}}), nil, 1))
	}

	result := w.scan()
	require.Equal(t, kindRun, result.kind)
	require.Len(t, result.rinfos, 4)
	require.True(t, result.batched)

	rq.mu.Lock()
	for _, it := range result.items {
		rq.queue.evict(it)
	}
	w.reflect(result)
	rq.mu.Unlock()

	require.Equal(t, 1, executor.batchedRuns)
	require.Equal(t, []int{4}, executor.batchSizes)
	require.Equal(t, []int{4}, formedSizes)
	require.Equal(t, 4, rq.queue.len(), "successful batch members are requeued to the front")
}

func TestWorkerSingleDeviceDagUnblocksExactlyOnceOnCompletion(t *testing.T) {
	executor := &fakeExecutor{}
	unblocker := &fakeUnblocker{}
	w, rq := newTestWorker(executor, unblocker, WorkerHooks{})

	dag := newFakeDag(map[string][]fakeOp{"GPU0": {{model: "resnet", ready: true}}})
	rinfo := NewRunInfo("solo", dag, "client", 1)
	rq.queue.pushBack(rinfo)

	rq.mu.Lock()
	result := w.scan()
	require.Equal(t, kindRun, result.kind)
	for _, it := range result.items {
		rq.queue.evict(it)
	}
	w.reflect(result) // runs the op, requeues (device not yet observed complete)
	require.Equal(t, 1, rq.queue.len())

	result = w.scan() // this time the device queue is empty -> deviceComplete && dagComplete
	require.Equal(t, kindUnblock, result.kind)
	for _, it := range result.items {
		rq.queue.evict(it)
	}
	w.reflect(result)
	rq.mu.Unlock()

	require.Equal(t, 1, unblocker.total())
	require.Equal(t, 1, unblocker.countFor("solo"))
	require.Equal(t, 0, rq.queue.len())
}

func TestWorkerErrorSetsStickyFlagAndUnblocksWithErrored(t *testing.T) {
	executor := &fakeExecutor{failDevice: map[string]bool{"GPU0": true}}
	unblocker := &fakeUnblocker{}
	var lastErrored bool
	hooks := WorkerHooks{OnUnblocked: func(device string, rinfo *RunInfo, errored bool) { lastErrored = errored }}
	w, rq := newTestWorker(executor, unblocker, hooks)

	dag := newFakeDag(map[string][]fakeOp{"GPU0": {{model: "resnet", ready: true}}})
	rinfo := NewRunInfo("failing", dag, "client", 1)
	rq.queue.pushBack(rinfo)

	rq.mu.Lock()
	result := w.scan()
	require.Equal(t, kindRun, result.kind)
	for _, it := range result.items {
		rq.queue.evict(it)
	}
	w.reflect(result)
	rq.mu.Unlock()

	require.True(t, rinfo.Error())
	require.Equal(t, 1, unblocker.total())
	require.True(t, lastErrored)
	require.Equal(t, 0, rq.queue.len(), "an errored run must not be requeued")
}

func TestWorkerNotReadyTakesRetryAndPreservesItem(t *testing.T) {
	var yields []bool
	hooks := WorkerHooks{OnRetryYield: func(device string, queueWasEmpty bool) { yields = append(yields, queueWasEmpty) }}
	w, rq := newTestWorker(&fakeExecutor{}, &fakeUnblocker{}, hooks)

	dag := newFakeDag(map[string][]fakeOp{"GPU0": {{model: "resnet", ready: false}}})
	rinfo := NewRunInfo("blocked", dag, nil, 1)
	rq.queue.pushBack(rinfo)

	rq.mu.Lock()
	result := w.scan()
	require.Equal(t, kindRetry, result.kind)
	for _, it := range result.items {
		rq.queue.evict(it)
	}
	w.reflect(result)
	rq.mu.Unlock()

	require.Equal(t, []bool{true}, yields)
	require.Equal(t, 1, rq.queue.len(), "a not-ready DAG must remain queued, never dropped")
	require.Equal(t, 1, rinfo.RefCount(), "do_retry must not touch refcount")
}

func TestWorkerRetryDemotesBehindNextItemWhenQueueNonEmpty(t *testing.T) {
	w, rq := newTestWorker(&fakeExecutor{}, &fakeUnblocker{}, WorkerHooks{})

	blockedDag := newFakeDag(map[string][]fakeOp{"GPU0": {{model: "resnet", ready: false}}})
	blocked := NewRunInfo("blocked", blockedDag, nil, 1)
	readyDag := newFakeDag(map[string][]fakeOp{"GPU0": {{model: "resnet", ready: true, batchSize: 0}}})
	ready := NewRunInfo("ready", readyDag, nil, 1)

	rq.queue.pushBack(blocked)
	rq.queue.pushBack(ready)

	rq.mu.Lock()
	result := w.scan()
	require.Equal(t, kindRetry, result.kind)
	require.Equal(t, "blocked", result.rinfos[0].ID)
	for _, it := range result.items {
		rq.queue.evict(it)
	}
	w.reflect(result)
	rq.mu.Unlock()

	require.Equal(t, 2, rq.queue.len())
	require.Equal(t, "ready", rq.queue.front().rinfo.ID, "the demoted DAG's successor becomes the new head")
	require.Equal(t, "blocked", rq.queue.next(rq.queue.front()).rinfo.ID)
}

func TestWorkerRefCountReachesZeroExactlyOnceAcrossDevices(t *testing.T) {
	// A DAG spanning two devices must only unblock after BOTH devices retire
	// it, and exactly once (spec.md Testable Property 1 and Property 3).
	unblocker := &fakeUnblocker{}
	dag := newFakeDag(map[string][]fakeOp{
		"GPU0": {{model: "resnet", ready: true}},
		"GPU1": {{model: "resnet", ready: true}},
	})
	rinfo := NewRunInfo("multi", dag, "client", 2)

	w0, rq0 := newTestWorker(&fakeExecutor{}, unblocker, WorkerHooks{})
	rq0.queue.pushBack(rinfo)
	rq0.mu.Lock()
	result := w0.scan()
	require.Equal(t, kindRun, result.kind)
	for _, it := range result.items {
		rq0.queue.evict(it)
	}
	w0.reflect(result)
	require.Equal(t, 1, rq0.queue.len())
	result = w0.scan()
	require.Equal(t, kindDeviceComplete, result.kind, "dag spans a second device, so GPU0 alone is not dag-complete")
	for _, it := range result.items {
		rq0.queue.evict(it)
	}
	w0.reflect(result)
	rq0.mu.Unlock()

	require.Equal(t, 1, rinfo.RefCount())
	require.Equal(t, 0, unblocker.total())

	w1, rq1 := newTestWorker(&fakeExecutor{}, unblocker, WorkerHooks{})
	rq1.device = "GPU1"
	rq1.queue.pushBack(rinfo)
	rq1.mu.Lock()
	result = w1.scan()
	require.Equal(t, kindRun, result.kind)
	for _, it := range result.items {
		rq1.queue.evict(it)
	}
	w1.reflect(result)
	result = w1.scan()
	require.Equal(t, kindUnblock, result.kind)
	for _, it := range result.items {
		rq1.queue.evict(it)
	}
	w1.reflect(result)
	rq1.mu.Unlock()

	require.Equal(t, 0, rinfo.RefCount())
	require.Equal(t, 1, unblocker.total())
}
