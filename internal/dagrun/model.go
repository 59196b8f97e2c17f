// Package dagrun is the default DagInspector/Executor/ClientUnblocker
// implementation the scheduler package is built against: a static
// per-device op assignment (mirroring RedisAI's DAG-with-device-pinned-ops
// model) instead of the free-floating topological scheduling the
// orchestrator service uses for its own workflows.
package dagrun

import (
	"fmt"
	"strings"
)

// OpSpec declares one DAG operation: which device it runs on, which other
// ops (by ID, anywhere in the DAG) it depends on, and its batch dimensions.
// BatchSize == 0 marks a non-batchable (control-flow / data-movement) op.
type OpSpec struct {
	ID           string
	Device       string
	Model        string
	DependsOn    []string
	BatchSize    int
	MinBatchSize int
	InBatchSize  int
}

// DagSpec is the static, validated shape of one DAG run: ops plus their
// cross-op, possibly cross-device dependency edges.
type DagSpec struct {
	ID  string
	Ops []OpSpec
}

// node is the runtime counterpart of an OpSpec inside a *Dag.
type node struct {
	spec OpSpec
	done bool
}

// Build validates spec (every dependency must name an existing op, no
// self-loops, no op ID repeated) and groups ops by device in declaration
// order — the fixed per-device execution sequence RedisAI pins at DAG
// registration time.
func Build(spec DagSpec) (*Dag, error) {
	if len(spec.Ops) == 0 {
		return nil, fmt.Errorf("dagrun: dag %q has no ops", spec.ID)
	}

	nodes := make(map[string]*node, len(spec.Ops))
	deviceOrder := make(map[string][]string)

	for _, op := range spec.Ops {
		if op.ID == "" {
			return nil, fmt.Errorf("dagrun: dag %q has an op with an empty ID", spec.ID)
		}
		if _, dup := nodes[op.ID]; dup {
			return nil, fmt.Errorf("dagrun: dag %q declares op %q twice", spec.ID, op.ID)
		}
		if op.Device == "" {
			return nil, fmt.Errorf("dagrun: dag %q op %q has no device", spec.ID, op.ID)
		}
		op.Device = strings.ToUpper(op.Device)
		nodes[op.ID] = &node{spec: op}
		deviceOrder[op.Device] = append(deviceOrder[op.Device], op.ID)
	}

	for _, op := range spec.Ops {
		for _, dep := range op.DependsOn {
			if dep == op.ID {
				return nil, fmt.Errorf("dagrun: dag %q op %q depends on itself", spec.ID, op.ID)
			}
			if _, ok := nodes[dep]; !ok {
				return nil, fmt.Errorf("dagrun: dag %q op %q depends on unknown op %q", spec.ID, op.ID, dep)
			}
		}
	}

	return &Dag{
		id:          spec.ID,
		nodes:       nodes,
		deviceOrder: deviceOrder,
		cursor:      make(map[string]int, len(deviceOrder)),
		total:       len(spec.Ops),
	}, nil
}

// DeviceCount reports how many distinct devices this DAG touches — the
// reference count scheduler.NewRunInfo needs (spec.md §4.B: one reference
// per device the DAG has work pinned to).
func (d *Dag) DeviceCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deviceOrder)
}

// Devices returns the normalized device names this DAG has ops pinned to.
func (d *Dag) Devices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.deviceOrder))
	for dev := range d.deviceOrder {
		out = append(out, dev)
	}
	return out
}
