// Package scheduler implements the per-device background execution
// scheduler: a FIFO run queue per device, a fixed worker pool draining each
// queue, and an opportunistic micro-batching policy bounded by a model's
// target and minimum batch size. It has no knowledge of DAG structure,
// tensors, or transport — those are supplied by the DagInspector, Executor,
// and ClientUnblocker collaborators a caller wires in.
package scheduler

// Scheduler is the top-level facade: a Registry plus the configuration
// surface spec.md §6 names. Callers that only need the Registry's lower-level
// Enqueue/EnsureRunQueue/Shutdown can use it directly; Scheduler exists so
// cmd/aischedd has one object to construct and hold.
type Scheduler struct {
	registry *Registry
}

// Config is the scheduler's entire configuration surface. It is read once,
// by the caller, before New is invoked — the scheduler package itself never
// touches environment variables, files, or flags.
type Config struct {
	// ThreadsPerQueue is the fixed worker-goroutine count spawned per device
	// queue on first use. Must be positive; values <= 0 are treated as 1.
	ThreadsPerQueue int

	// DisableBatching forces every model's effective batch size to 1,
	// degrading the scheduler to the plain per-DAG RUN-one-at-a-time mode
	// described as an explicit fallback in spec.md §4.E.
	DisableBatching bool
}

// New builds a Scheduler over the given collaborators. hooks, if non-zero,
// is wired into every worker for observability and resilience around RUN.
func New(cfg Config, inspector DagInspector, executor Executor, unblocker ClientUnblocker, hooks WorkerHooks) *Scheduler {
	reg := NewRegistry(cfg.ThreadsPerQueue, inspector, executor, unblocker,
		WithBatchingDisabled(cfg.DisableBatching),
		WithHooks(hooks),
	)
	return &Scheduler{registry: reg}
}

// Enqueue submits a DAG run for execution on device, creating the device's
// queue and worker pool on first use.
func (s *Scheduler) Enqueue(device string, rinfo *RunInfo) error {
	return s.registry.Enqueue(device, rinfo)
}

// Devices reports every device queue created so far.
func (s *Scheduler) Devices() []string { return s.registry.Devices() }

// Queue returns diagnostics for one device's queue, if it has been created.
func (s *Scheduler) Queue(device string) (*RunQueueInfo, bool) { return s.registry.Queue(device) }

// Shutdown stops every worker goroutine across every device and waits for
// them to exit. It does not drain or persist in-flight queue state; any DAG
// still queued when Shutdown is called is abandoned in place (spec.md §8,
// Non-goals: no cross-restart persistence).
func (s *Scheduler) Shutdown() { s.registry.Shutdown() }
