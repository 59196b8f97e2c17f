package scheduler

import (
	"context"
	"errors"
	"sync"
)

// fakeOp is the Op payload used by every test in this package: a named
// model invocation with batch dimensions and an optional not-ready latch.
type fakeOp struct {
	model        string
	ready        bool
	batchSize    int
	minBatchSize int
	inBatchSize  int
}

// fakeDag is a minimal DagInspector-compatible DAG: one FIFO of ops per
// device. Inspecting a device whose FIFO is empty reports it
// device-complete and records it as done; dag-complete is reported once
// every device named at construction has been recorded that way.
type fakeDag struct {
	mu      sync.Mutex
	queues  map[string][]fakeOp
	doneDev map[string]bool
}

func newFakeDag(queues map[string][]fakeOp) *fakeDag {
	return &fakeDag{queues: queues, doneDev: make(map[string]bool)}
}

func (fd *fakeDag) pop(device string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	q := fd.queues[device]
	if len(q) > 0 {
		fd.queues[device] = q[1:]
	}
}

func (fd *fakeDag) inspect(device string) (Op, bool, bool, bool, bool) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	q := fd.queues[device]
	if len(q) == 0 {
		fd.doneDev[device] = true
		return nil, false, false, true, len(fd.doneDev) == len(fd.queues)
	}
	op := q[0]
	return op, op.ready, op.batchSize > 0, false, false
}

type fakeInspector struct{}

func (fakeInspector) CurrentOpAndInfo(rinfo *RunInfo, device string) (Op, bool, bool, bool, bool) {
	return rinfo.DAG.(*fakeDag).inspect(device)
}

func (fakeInspector) OpBatchInfo(rinfo *RunInfo, op Op) (int, int, int) {
	o := op.(fakeOp)
	return o.batchSize, o.minBatchSize, o.inBatchSize
}

func (fakeInspector) OpBatchingMatch(rinfoA *RunInfo, a Op, rinfoB *RunInfo, b Op) (bool, int) {
	oa, ob := a.(fakeOp), b.(fakeOp)
	if oa.model != ob.model {
		return false, 0
	}
	return true, ob.inBatchSize
}

// fakeExecutor pops one op per rinfo per call and optionally fails for a
// configured set of devices, setting the sticky error flag the way a real
// Executor would.
type fakeExecutor struct {
	mu          sync.Mutex
	runs        int
	batchedRuns int
	batchSizes  []int
	failDevice  map[string]bool
}

func (f *fakeExecutor) DagRunSessionStep(ctx context.Context, rinfo *RunInfo, device string) error {
	rinfo.DAG.(*fakeDag).pop(device)
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.failDevice[device] {
		rinfo.SetError()
		return errors.New("forced failure")
	}
	return nil
}

func (f *fakeExecutor) BatchedDagRunSessionStep(ctx context.Context, rinfos []*RunInfo, device string) error {
	for _, r := range rinfos {
		r.DAG.(*fakeDag).pop(device)
		if f.failDevice[device] {
			r.SetError()
		}
	}
	f.mu.Lock()
	f.batchedRuns++
	f.batchSizes = append(f.batchSizes, len(rinfos))
	f.mu.Unlock()
	if f.failDevice[device] {
		return errors.New("forced batch failure")
	}
	return nil
}

type fakeUnblocker struct {
	mu        sync.Mutex
	unblocked []*RunInfo
	callCount map[string]int
}

func (f *fakeUnblocker) UnblockClient(ctx context.Context, client Client, rinfo *RunInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unblocked = append(f.unblocked, rinfo)
	if f.callCount == nil {
		f.callCount = make(map[string]int)
	}
	f.callCount[rinfo.ID]++
}

func (f *fakeUnblocker) countFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[id]
}

func (f *fakeUnblocker) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unblocked)
}
