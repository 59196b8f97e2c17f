package dagrun

import "sync"

// Dag is the runtime execution state of one DagSpec: per-device cursors
// into the fixed op order, plus a completed-count used to detect
// dag-complete. It satisfies the scheduler package's DagInspector together
// with Engine, via the opHandle it hands back.
type Dag struct {
	mu sync.Mutex

	id          string
	nodes       map[string]*node
	deviceOrder map[string][]string
	cursor      map[string]int
	completed   int
	total       int
}

// opHandle is the concrete type behind scheduler.Op for this package.
type opHandle struct {
	n *node
}

// currentOpAndInfo implements the CurrentOpAndInfo half of DagInspector for
// one device: it returns the next op pinned to device in declaration order,
// whether every dependency it names has completed, whether it is a
// batchable (model) op, whether device has no more ops left, and whether
// the whole DAG is done.
func (d *Dag) currentOpAndInfo(device string) (op any, ready, batchable, deviceComplete, dagComplete bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	order := d.deviceOrder[device]
	idx := d.cursor[device]
	if idx >= len(order) {
		return nil, false, false, true, d.completed == d.total
	}

	n := d.nodes[order[idx]]
	ready = d.depsCompleteLocked(n)
	return opHandle{n}, ready, n.spec.BatchSize > 0, false, false
}

func (d *Dag) depsCompleteLocked(n *node) bool {
	for _, dep := range n.spec.DependsOn {
		if !d.nodes[dep].done {
			return false
		}
	}
	return true
}

// advance marks device's current op executed, returning the op that was
// advanced past. It is the Engine's job to call this exactly once per
// DagRunSessionStep/BatchedDagRunSessionStep member, after the kernel call
// for that op has returned.
func (d *Dag) advance(device string) OpSpec {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.deviceOrder[device][d.cursor[device]]
	n := d.nodes[id]
	n.done = true
	d.cursor[device]++
	d.completed++
	return n.spec
}
