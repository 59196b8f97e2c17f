// Package diag periodically reports per-device queue depth, the way a
// fleet operator expects a long-running daemon to surface its own health
// without scraping metrics out of band.
package diag

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/aisched/internal/scheduler"
)

// QueueDepths is the minimal view diag needs of the scheduler: every device
// created so far and that device's current backlog.
type QueueDepths interface {
	Devices() []string
	Queue(device string) (*scheduler.RunQueueInfo, bool)
}

// StatsReporter logs one line per device, on a cron schedule, with its
// current queue depth.
type StatsReporter struct {
	cron   *cron.Cron
	source QueueDepths
	logger *slog.Logger
}

// NewStatsReporter builds a reporter that has not started yet; call Start.
// schedule is a standard 5-field cron expression or a "@every" directive
// ("@every 30s" is the default spec.md's diagnostics expect).
func NewStatsReporter(source QueueDepths, logger *slog.Logger, schedule string) (*StatsReporter, error) {
	if schedule == "" {
		schedule = "@every 30s"
	}
	r := &StatsReporter{cron: cron.New(), source: source, logger: logger}
	_, err := r.cron.AddFunc(schedule, r.report)
	if err != nil {
		return nil, fmt.Errorf("diag: invalid schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start begins the cron schedule in the background.
func (r *StatsReporter) Start() { r.cron.Start() }

// Stop waits for any in-progress report to finish, then stops the schedule.
func (r *StatsReporter) Stop() { <-r.cron.Stop().Done() }

func (r *StatsReporter) report() {
	for _, device := range r.source.Devices() {
		rq, ok := r.source.Queue(device)
		if !ok {
			continue
		}
		r.logger.Info("device queue depth", "device", device, "depth", rq.Len())
	}
}
