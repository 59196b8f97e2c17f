package scheduler

// batchPlan is the result of extending a batch from a ready, batchable head
// item (spec.md §4.E).
type batchPlan struct {
	items     []*item
	rinfos    []*RunInfo
	batchSize int // B_target
	minSize   int // B_min
	sum       int // running sum S over the committed set
	committed bool
}

// extendBatch scans forward from headItem, growing a tentative batch of
// ready+batchable model ops compatible with the head op, then decides
// whether to commit per the B_min rule. The caller must hold rq.mu; this
// function only reads the queue, it does not mutate it — eviction happens
// later, atomically, once the caller has decided to commit (spec.md's
// two-phase "tentative selection then atomic evict" discipline, §9).
func extendBatch(rq *RunQueueInfo, inspector DagInspector, device string, headItem *item, headRinfo *RunInfo, headOp Op) batchPlan {
	batchSize, minSize, inBatchSize := inspector.OpBatchInfo(headRinfo, headOp)

	plan := batchPlan{
		items:     []*item{headItem},
		rinfos:    []*RunInfo{headRinfo},
		batchSize: batchSize,
		minSize:   minSize,
		sum:       inBatchSize,
	}

	if plan.sum == 0 || plan.sum >= batchSize {
		plan.committed = plan.minSize == 0 || plan.sum >= plan.minSize
		return plan
	}

	for next := rq.queue.next(headItem); next != nil; next = rq.queue.next(next) {
		nextOp, nextReady, nextBatchable, _, _ := inspector.CurrentOpAndInfo(next.rinfo, device)
		if !nextReady || !nextBatchable {
			continue
		}

		compatible, nextBatchSize := inspector.OpBatchingMatch(headRinfo, headOp, next.rinfo, nextOp)
		if !compatible {
			continue
		}

		// Stop (accept no further) if the sum would exceed B_target.
		if plan.sum+nextBatchSize > plan.batchSize {
			break
		}

		plan.items = append(plan.items, next)
		plan.rinfos = append(plan.rinfos, next.rinfo)
		plan.sum += nextBatchSize
	}

	plan.committed = plan.minSize == 0 || plan.sum >= plan.minSize
	return plan
}
