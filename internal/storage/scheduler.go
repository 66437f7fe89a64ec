// Background checkpoint scheduler.
//
// Commits already make their own batches durable; the scheduler exists for
// configurations that disable per-flush fsyncs, where it periodically syncs
// the database file and truncates a stale WAL on a CRON cadence.
package storage

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CheckpointFunc runs one checkpoint attempt. It must be safe to call while
// no transaction is active and should return quickly.
type CheckpointFunc func() error

// CheckpointScheduler fires a checkpoint function on a CRON schedule.
type CheckpointScheduler struct {
	cron *cron.Cron
	fn   CheckpointFunc
}

// NewCheckpointScheduler parses spec (standard five-field CRON, UTC) and
// returns a scheduler ready to Start.
func NewCheckpointScheduler(spec string, fn CheckpointFunc) (*CheckpointScheduler, error) {
	loc, _ := time.LoadLocation("UTC")
	c := cron.New(cron.WithLocation(loc))
	s := &CheckpointScheduler{cron: c, fn: fn}
	if _, err := c.AddFunc(spec, s.run); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CheckpointScheduler) run() {
	if err := s.fn(); err != nil {
		slog.Warn("scheduled checkpoint failed", "err", err)
		return
	}
	slog.Debug("scheduled checkpoint complete")
}

// Start launches the CRON loop in its own goroutine.
func (s *CheckpointScheduler) Start() { s.cron.Start() }

// Stop halts the CRON loop and waits for an in-flight run to finish.
func (s *CheckpointScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
