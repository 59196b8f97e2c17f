package dagrun

import (
	"github.com/google/uuid"

	"github.com/swarmguard/aisched/internal/scheduler"
)

// Result is what a ChannelUnblocker delivers to a DAG's submitter once its
// refcount reaches zero.
type Result struct {
	ID      string
	Errored bool
}

// NewRun builds a *Dag from spec and wraps it in a scheduler.RunInfo ready
// for Registry.Enqueue, generating a fresh run ID and setting the reference
// count to the DAG's device fan-out (spec.md §4.B). client is typically a
// chan Result consumed by ChannelUnblocker, but any scheduler.Client the
// caller's own ClientUnblocker understands is accepted.
func NewRun(spec DagSpec, client scheduler.Client) (*scheduler.RunInfo, *Dag, error) {
	dag, err := Build(spec)
	if err != nil {
		return nil, nil, err
	}
	id := uuid.NewString()
	rinfo := scheduler.NewRunInfo(id, dag, client, dag.DeviceCount())
	return rinfo, dag, nil
}
