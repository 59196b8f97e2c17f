package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrDeviceOpen is returned by Guarded when a device's circuit breaker is
// open and the call was not attempted.
var ErrDeviceOpen = errors.New("resilience: device circuit open")

// ErrDeviceRateLimited is returned by Allow when a device's rate limiter
// turns a new Enqueue away: its wait queue is full, or the caller's context
// ends (or the limiter is stopped) while the request is queued.
var ErrDeviceRateLimited = errors.New("resilience: device rate limited")

// DeviceGuards lazily creates one CircuitBreaker + HybridRateLimiter pair
// per device, mirroring the scheduler package's own per-device lazy
// registry idiom so the two stay easy to reason about side by side.
type DeviceGuards struct {
	mu     sync.Mutex
	guards map[string]*deviceGuard
}

type deviceGuard struct {
	breaker *CircuitBreaker
	limiter *HybridRateLimiter
}

// NewDeviceGuards builds an empty registry; guards are created on first use
// of a device name via Guarded or Allow.
func NewDeviceGuards() *DeviceGuards {
	return &DeviceGuards{guards: make(map[string]*deviceGuard)}
}

func (g *DeviceGuards) get(device string) *deviceGuard {
	g.mu.Lock()
	defer g.mu.Unlock()
	if dg, ok := g.guards[device]; ok {
		return dg
	}
	dg := &deviceGuard{
		breaker: NewCircuitBreakerAdaptive(30*time.Second, 6, 8, 0.5, 5*time.Second, 3),
		limiter: NewHybridRateLimiter(64, 32, 256, 10*time.Millisecond),
	}
	g.guards[device] = dg
	return dg
}

// Allow gates a new Enqueue for device against that device's hybrid rate
// limiter: bursts up to its token bucket pass immediately, and a caller that
// arrives after the bucket is drained is queued fairly (via AllowOrWait)
// rather than rejected outright, the backpressure valve bursty DAG
// submitters need without dropping work the queue could still absorb.
func (g *DeviceGuards) Allow(ctx context.Context, device string) error {
	if err := g.get(device).limiter.AllowOrWait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceRateLimited, err)
	}
	return nil
}

// Close stops every device's background rate-limiter goroutines. Call once,
// at process shutdown.
func (g *DeviceGuards) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, dg := range g.guards {
		dg.limiter.Stop()
	}
}

// Guarded runs fn through device's circuit breaker: it refuses to call fn
// at all while the breaker is open, and records the outcome otherwise.
// Intended to wrap an Executor call, one device's breaker at a time — never
// held across the scheduler's own locks.
func Guarded(guards *DeviceGuards, ctx context.Context, device string, fn func(context.Context) error) error {
	dg := guards.get(device)
	if !dg.breaker.Allow() {
		return ErrDeviceOpen
	}
	err := fn(ctx)
	dg.breaker.RecordResult(err == nil)
	return err
}
