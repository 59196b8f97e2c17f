package dagrun

import (
	"context"

	"github.com/swarmguard/aisched/internal/scheduler"
)

// ChannelUnblocker is the default scheduler.ClientUnblocker: it expects
// scheduler.Client to be a chan Result (buffered by at least one, so the
// worker never blocks delivering it) and performs a non-blocking send,
// mirroring the "coordinatorDone chan error" hand-off dag_engine.go uses to
// resume its own caller.
type ChannelUnblocker struct{}

// UnblockClient implements scheduler.ClientUnblocker.
func (ChannelUnblocker) UnblockClient(ctx context.Context, client scheduler.Client, rinfo *scheduler.RunInfo) {
	ch, ok := client.(chan Result)
	if !ok {
		return
	}
	select {
	case ch <- Result{ID: rinfo.ID, Errored: rinfo.Error()}:
	default:
	}
}
