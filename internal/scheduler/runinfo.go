package scheduler

import "sync"

// Client is the handle the scheduler hands back to the host command layer
// when a DAG run finishes. It is opaque to the scheduler; ClientUnblocker is
// the only thing that interprets it. A nil Client is valid and means the
// caller disconnected — every unblock path tolerates it (spec.md §5,
// Cancellation).
type Client any

// RunInfo is the shared, reference-counted record for one in-flight DAG run.
// It is created by the host command layer with RefCount already set to the
// number of device queues it touches, handed to the scheduler once per such
// queue (Enqueue does not change RefCount), and destroyed
// by the host layer only after the client has been unblocked. The scheduler
// never owns a RunInfo's memory, only a non-owning reference plus the
// obligation to retire its share of RefCount (spec.md §3).
type RunInfo struct {
	// ID identifies this DAG run for logging, history, and events. Not used
	// by the core algorithm itself.
	ID string

	// DAG is opaque to the scheduler; it is queried exclusively through the
	// DagInspector interface (spec.md §6).
	DAG any

	// Client is resumed at most once, by whichever worker observes RefCount
	// reach zero together with either DAG-complete or a sticky error.
	Client Client

	mu       sync.Mutex
	err      bool
	refCount int
}

// NewRunInfo creates a RunInfo bound to dag and client, with refCount
// devices worth of outstanding references (the number of device queues it
// will be enqueued onto).
func NewRunInfo(id string, dag any, client Client, refCount int) *RunInfo {
	return &RunInfo{ID: id, DAG: dag, Client: client, refCount: refCount}
}

// Error reports whether this DAG's sticky error flag has been set.
func (r *RunInfo) Error() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// SetError sets the sticky error flag. Once set it is never cleared; no
// further kernel executions may be scheduled for this DAG on any device
// (spec.md §3, §7).
func (r *RunInfo) SetError() {
	r.mu.Lock()
	r.err = true
	r.mu.Unlock()
}

// RefCount returns the current outstanding-device-reference count.
func (r *RunInfo) RefCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refCount
}

// retire decrements RefCount by one — a worker retiring this DAG from one
// device queue on exactly one of the three terminal transitions
// (device-complete, DAG-complete, error-termination) — and returns the
// post-decrement count together with the sticky error flag, observed
// atomically under dagMutex as spec.md §4.B/§4.F require: the refcount
// decrement, the zero check, and the unblock decision must be serialized per
// DAG so that exactly one worker ever observes refCount==0.
func (r *RunInfo) retire() (refCount int, errored bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refCount--
	return r.refCount, r.err
}
