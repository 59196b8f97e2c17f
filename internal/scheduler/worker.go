package scheduler

import (
	"context"
	"time"
)

// retryYieldDelay is the ~1ms yield spec.md §4.D mandates when a worker
// finds nothing else runnable on an otherwise-empty queue, to avoid
// busy-spinning while giving other devices' workers a chance to produce the
// inputs this DAG is waiting on (spec.md Testable Property 2).
const retryYieldDelay = time.Millisecond

type scanKind int

const (
	kindNone scanKind = iota
	kindUnblock
	kindDeviceComplete
	kindRetry
	kindRun
)

// scanResult is the tentative selection produced by SCAN, not yet evicted
// from the queue.
type scanResult struct {
	kind      scanKind
	items     []*item
	rinfos    []*RunInfo
	batchSum  int
	batched   bool
}

// worker is one goroutine's entire run loop over a single device queue: the
// Go rendering of spec.md §4.D's WAIT/SCAN/EVICT/RUN/REFLECT state machine.
type worker struct {
	rq              *RunQueueInfo
	inspector       DagInspector
	executor        Executor
	unblocker       ClientUnblocker
	disableBatching bool
	hooks           WorkerHooks
}

// loop is the worker's entire lifetime. It acquires rq.mu once and holds it
// for every state except WAIT (cond.Wait releases it), the RUN window, and
// the ~1ms retry-yield sleep taken when a not-ready DAG was alone on the
// queue.
func (w *worker) loop() {
	rq := w.rq
	rq.mu.Lock()
	defer rq.mu.Unlock()

	for {
		// WAIT
		for rq.queue.len() == 0 {
			if rq.stopped {
				return
			}
			rq.cond.Wait()
		}
		if rq.stopped {
			return
		}

		// SCAN
		result := w.scan()
		if result.kind == kindNone {
			// Nothing runnable under this observation of the queue (e.g.
			// min-batch not yet reached by anything present, or batch
			// candidates exhausted). Re-enter WAIT rather than busy-spin;
			// a later enqueue or requeue will signal us.
			if rq.stopped {
				return
			}
			rq.cond.Wait()
			continue
		}

		// EVICT
		for _, it := range result.items {
			rq.queue.evict(it)
		}

		// RUN + REFLECT
		w.reflect(result)
		// loop directly back into SCAN without releasing the mutex, per
		// spec.md §4.D, unless the queue is now empty (handled by the WAIT
		// check at the top of the next iteration).
	}
}

// scan selects a head candidate and, if it is ready+batchable, a batch
// extension, mirroring background_workers.c's outer `while (item)` loop:
// it walks forward through queue candidates (without evicting any) until it
// finds a terminal disposition or a committable batch, advancing to the
// next candidate only when the current one is batchable but the tentative
// batch didn't reach B_min. Caller must hold rq.mu.
func (w *worker) scan() scanResult {
	rq := w.rq
	device := rq.device

	for cand := rq.queue.front(); cand != nil; cand = rq.queue.next(cand) {
		op, ready, batchable, deviceComplete, dagComplete := w.inspector.CurrentOpAndInfo(cand.rinfo, device)

		if dagComplete {
			return scanResult{kind: kindUnblock, items: []*item{cand}, rinfos: []*RunInfo{cand.rinfo}}
		}
		if deviceComplete {
			return scanResult{kind: kindDeviceComplete, items: []*item{cand}, rinfos: []*RunInfo{cand.rinfo}}
		}
		if !ready {
			return scanResult{kind: kindRetry, items: []*item{cand}, rinfos: []*RunInfo{cand.rinfo}}
		}
		if !batchable || w.disableBatching {
			return scanResult{kind: kindRun, items: []*item{cand}, rinfos: []*RunInfo{cand.rinfo}}
		}

		plan := extendBatch(rq, w.inspector, device, cand, cand.rinfo, op)
		if plan.committed {
			return scanResult{kind: kindRun, items: plan.items, rinfos: plan.rinfos, batchSum: plan.sum, batched: len(plan.items) > 1}
		}
		// Batchable but under B_min even with every compatible follower
		// included: try the next queue position as a fresh scan root
		// instead, giving the batch time to grow via WAIT if nothing works.
	}

	return scanResult{kind: kindNone}
}

// reflect performs the RUN (if any) and the REFLECT disposition for one
// scan result. Caller holds rq.mu on entry; reflect re-acquires it before
// returning (it only releases it around the RUN window).
func (w *worker) reflect(result scanResult) {
	rq := w.rq
	device := rq.device

	switch result.kind {
	case kindUnblock, kindDeviceComplete:
		rinfo := result.rinfos[0]
		refCount, errored := rinfo.retire()
		if refCount == 0 {
			w.unblock(device, rinfo, errored)
		}

	case kindRetry:
		rinfo := result.rinfos[0]
		queueWasEmpty := rq.queue.len() == 0
		if !queueWasEmpty {
			// Demote the DAG by exactly one slot: pop the new front, push
			// the DAG in front of it, then push the popped item in front
			// of that — so the popped item becomes the new head and the
			// DAG becomes second.
			demoted := rq.queue.popFront()
			rq.queue.pushFront(rinfo)
			rq.queue.pushFront(demoted.rinfo)
			rq.cond.Signal()
		} else {
			rq.queue.pushFront(rinfo)
		}
		w.hooks.retryYield(device, queueWasEmpty)
		if queueWasEmpty {
			rq.mu.Unlock()
			time.Sleep(retryYieldDelay)
			rq.mu.Lock()
		}

	case kindRun:
		w.run(result)
	}
}

// run executes the committed batch (or single item), releasing the queue
// mutex for the external call, then reflects each participant
// independently: DAGs that ran without error are pushed back to the front
// (reverse iteration order, so the first-evicted ends up on top); DAGs that
// errored are retired like device-complete and unblocked with error
// semantics if their refcount reaches zero.
func (w *worker) run(result scanResult) {
	rq := w.rq
	device := rq.device

	size := result.batchSum
	if size == 0 {
		size = 1
	}
	w.hooks.batchFormed(device, size)

	ctx, end := w.hooks.beforeRun(context.Background(), device, result.rinfos)

	rq.mu.Unlock()
	var runErr error
	if result.batched {
		runErr = w.executor.BatchedDagRunSessionStep(ctx, result.rinfos, device)
	} else {
		runErr = w.executor.DagRunSessionStep(ctx, result.rinfos[0], device)
	}
	end(runErr)
	rq.mu.Lock()

	succeeded := make([]*RunInfo, 0, len(result.rinfos))
	for _, rinfo := range result.rinfos {
		if rinfo.Error() || runErr != nil {
			refCount, _ := rinfo.retire()
			if refCount == 0 {
				w.unblock(device, rinfo, true)
			}
			continue
		}
		succeeded = append(succeeded, rinfo)
	}

	for i := len(succeeded) - 1; i >= 0; i-- {
		rq.queue.pushFront(succeeded[i])
	}
	if len(succeeded) > 0 {
		rq.cond.Signal()
	}
}

func (w *worker) unblock(device string, rinfo *RunInfo, errored bool) {
	if rinfo.Client != nil && w.unblocker != nil {
		w.unblocker.UnblockClient(context.Background(), rinfo.Client, rinfo)
	}
	w.hooks.unblocked(device, rinfo, errored)
}
