package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Runner is what the scheduler drives; satisfied by *Syncer.
type Runner interface {
	SyncOnce(ctx context.Context) error
}

// Scheduler invokes the sync pipeline on a fixed interval. Runs never
// overlap: the loop is single-threaded and ticks that fire while a run is
// still executing are coalesced by the ticker and effectively dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	enabled  bool
	logger   *zap.Logger
}

// NewScheduler builds a Scheduler. With enabled=false Run returns
// immediately, which is how tests and one-shot invocations switch the
// periodic sync off.
func NewScheduler(runner Runner, interval time.Duration, enabled bool, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		enabled:  enabled,
		logger:   logger.Named("scheduler"),
	}
}

// Run executes the sync loop until the context is cancelled. It blocks;
// callers run it on its own goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.enabled {
		s.logger.Info("sync scheduler disabled")
		return nil
	}

	s.logger.Info("sync scheduler starting", zap.Duration("interval", s.interval))

	// Run once immediately so a fresh deployment has data before the first
	// tick.
	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce shields the loop from both errors and panics; the scheduler must
// survive anything the pipeline throws and resume at the next tick.
func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync panicked", zap.Any("panic", r))
		}
	}()

	if err := s.runner.SyncOnce(ctx); err != nil {
		s.logger.Error("sync failed", zap.Error(err))
	}
}
