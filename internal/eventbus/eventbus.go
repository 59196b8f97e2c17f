// Package eventbus publishes best-effort DAG lifecycle notifications over
// NATS — "dag.unblocked" and "dag.errored" — for any external watcher
// (dashboards, alerting) that wants them. Publishing never blocks or fails
// a run: a broker unreachable at startup is logged once and publishing is
// disabled; a later publish failure is logged and otherwise ignored.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/swarmguard/aisched/internal/natsctx"
)

// Event is the payload published for every terminal DAG transition.
type Event struct {
	RunID   string `json:"run_id"`
	Device  string `json:"device"`
	Errored bool   `json:"errored"`
}

// Publisher wraps a NATS connection. A Publisher without a connection
// (returned by Connect when url is empty or the dial fails) is valid, and
// PublishUnblocked and Close on it are no-ops, so callers don't need to
// special-case a broker that isn't running.
type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Connect dials url and returns a Publisher. On failure it logs a warning
// and returns a non-nil Publisher whose Publish calls are no-ops, so
// eventbus never gates scheduler startup on NATS being reachable.
func Connect(url string, logger *slog.Logger) *Publisher {
	if url == "" {
		return &Publisher{logger: logger}
	}
	conn, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		logger.Warn("eventbus: connect failed, publishing disabled", "url", url, "error", err)
		return &Publisher{logger: logger}
	}
	return &Publisher{conn: conn, logger: logger}
}

// Close closes the underlying connection, if any, without draining it.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// PublishUnblocked publishes a "dag.unblocked" or "dag.errored" event for
// runID on device's subject, carrying ctx's trace context in the message
// headers the same way natsctx.Publish does for every other inter-service
// event in the fleet. Best-effort: marshal or publish failures are logged,
// never returned.
func (p *Publisher) PublishUnblocked(ctx context.Context, device, runID string, errored bool) {
	if p.conn == nil {
		return
	}
	subject := fmt.Sprintf("aisched.%s.events", device)
	evtType := "dag.unblocked"
	if errored {
		evtType = "dag.errored"
	}
	data, err := json.Marshal(Event{RunID: runID, Device: device, Errored: errored})
	if err != nil {
		p.logger.Warn("eventbus: marshal failed", "error", err)
		return
	}
	if err := natsctx.Publish(ctx, p.conn, subject+"."+evtType, data); err != nil {
		p.logger.Warn("eventbus: publish failed", "subject", subject, "error", err)
	}
}
