package access

import (
	"context"
	"time"

	"afripay.org/internal/obs"
)

// DefaultSweepInterval is how often overdue requests are expired.
const DefaultSweepInterval = time.Hour

// Sweeper runs the expiry sweep on a fixed interval. Because the
// transition is conditional on current state, several instances may
// share the same schedule without coordination.
type Sweeper struct {
	workflow *Workflow
	interval time.Duration
}

// NewSweeper constructs a Sweeper; interval <= 0 falls back to the
// hourly default.
func NewSweeper(workflow *Workflow, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{workflow: workflow, interval: interval}
}

// Run sweeps immediately, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.workflow.ExpireSweep(ctx)
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"type":    "job",
		"job":     "access_request_expiry",
		"expired": expired,
	}
	if err != nil {
		entry["level"] = "error"
		entry["err"] = err.Error()
	}
	obs.LogRequest(entry)
}
