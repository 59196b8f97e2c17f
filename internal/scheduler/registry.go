package scheduler

import (
	"fmt"
	"strings"
	"sync"
)

// RunQueueInfo is the per-device record described in spec.md §3: a FIFO of
// pending DAG entries guarded by mutex+cond, plus the fixed pool of worker
// goroutines draining it. Once inserted into a Registry it lives until
// process shutdown; workers hold a reference to it for their entire
// lifetime.
type RunQueueInfo struct {
	device string // normalized (upper-cased) device name

	mu      sync.Mutex
	cond    *sync.Cond
	queue   deviceQueue
	stopped bool

	wg sync.WaitGroup
}

func newRunQueueInfo(device string) *RunQueueInfo {
	rq := &RunQueueInfo{device: device}
	rq.cond = sync.NewCond(&rq.mu)
	return rq
}

// Device returns the normalized device name this queue serves.
func (rq *RunQueueInfo) Device() string { return rq.device }

// Len reports the current queue depth. Intended for diagnostics only —
// callers must not use it to make scheduling decisions, since it is stale
// the instant the lock is released.
func (rq *RunQueueInfo) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return rq.queue.len()
}

// Registry maps normalized device names to their RunQueueInfo, with
// lazy, idempotent creation (spec.md §4.C). Registry entries are never
// removed except at process teardown via Shutdown.
type Registry struct {
	threadsPerQueue int
	inspector       DagInspector
	executor        Executor
	unblocker       ClientUnblocker
	disableBatching bool
	hooks           WorkerHooks

	mu      sync.Mutex
	devices map[string]*RunQueueInfo
}

// NewRegistry creates a Registry. threadsPerQueue is the one positive
// integer configuration surface spec.md §6 names; it is read once, here, by
// the caller — the Registry itself never consults the environment.
func NewRegistry(threadsPerQueue int, inspector DagInspector, executor Executor, unblocker ClientUnblocker, opts ...Option) *Registry {
	if threadsPerQueue <= 0 {
		threadsPerQueue = 1
	}
	r := &Registry{
		threadsPerQueue: threadsPerQueue,
		inspector:       inspector,
		executor:        executor,
		unblocker:       unblocker,
		devices:         make(map[string]*RunQueueInfo),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Option configures optional Registry behavior.
type Option func(*Registry)

// WithBatchingDisabled is equivalent to forcing batchSize == 0 for every
// model (spec.md §6, Configuration surface): the batching policy never
// attempts to extend a batch past the head item.
func WithBatchingDisabled(disabled bool) Option {
	return func(r *Registry) { r.disableBatching = disabled }
}

// WithHooks installs observability hooks (metrics, tracing) invoked around
// the worker loop's RUN, retry-yield, batch-formation, and unblock
// transitions. A zero WorkerHooks is a no-op.
func WithHooks(h WorkerHooks) Option {
	return func(r *Registry) { r.hooks = h }
}

func normalizeDevice(device string) string {
	return strings.ToUpper(device)
}

// EnsureRunQueue returns the RunQueueInfo for device, creating it (and
// spawning threadsPerQueue workers) on first touch. It is idempotent and
// thread-safe, and two device strings differing only in case resolve to the
// same record (spec.md §4.C, Testable Property 5).
func (r *Registry) EnsureRunQueue(device string) (*RunQueueInfo, error) {
	norm := normalizeDevice(device)

	r.mu.Lock()
	if rq, ok := r.devices[norm]; ok {
		r.mu.Unlock()
		return rq, nil
	}

	rq := newRunQueueInfo(norm)
	r.devices[norm] = rq
	r.mu.Unlock()

	w := &worker{
		rq:              rq,
		inspector:       r.inspector,
		executor:        r.executor,
		unblocker:       r.unblocker,
		disableBatching: r.disableBatching,
		hooks:           r.hooks,
	}

	for i := 0; i < r.threadsPerQueue; i++ {
		rq.wg.Add(1)
		go func() {
			defer rq.wg.Done()
			w.loop()
		}()
	}
	return rq, nil
}

// Lookup returns the queue for device if it has already been created,
// without creating it.
func (r *Registry) Lookup(device string) (*RunQueueInfo, bool) {
	norm := normalizeDevice(device)
	r.mu.Lock()
	defer r.mu.Unlock()
	rq, ok := r.devices[norm]
	return rq, ok
}

// Enqueue pushes rinfo onto device's queue (creating the queue if
// necessary) and wakes one waiting worker. This is the Enqueue half of
// spec.md §6's enqueue interface; EnsureRunQueue is the other half.
func (r *Registry) Enqueue(device string, rinfo *RunInfo) error {
	rq, err := r.EnsureRunQueue(device)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	rq.mu.Lock()
	rq.queue.pushBack(rinfo)
	rq.mu.Unlock()
	rq.cond.Signal()
	return nil
}

// Devices returns the normalized names of every device queue created so
// far, for diagnostics (internal/diag's periodic stats reporter).
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.devices))
	for d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Queue returns the RunQueueInfo for a device already created, for
// diagnostics.
func (r *Registry) Queue(device string) (*RunQueueInfo, bool) {
	return r.Lookup(device)
}

// Shutdown stops every worker across every device queue and waits for them
// to exit, joining each pool in turn (spec.md §5, Resource lifecycle).
func (r *Registry) Shutdown() {
	r.mu.Lock()
	queues := make([]*RunQueueInfo, 0, len(r.devices))
	for _, rq := range r.devices {
		queues = append(queues, rq)
	}
	r.mu.Unlock()

	for _, rq := range queues {
		rq.mu.Lock()
		rq.stopped = true
		rq.cond.Broadcast()
		rq.mu.Unlock()
	}
	for _, rq := range queues {
		rq.wg.Wait()
	}
}
