package retry

import (
	"context"
	"log/slog"
	"time"
)

// Trigger is invoked on every scheduler tick
type Trigger func()

// Scheduler periodically triggers the restart of sessions whose retry pause has elapsed
type Scheduler struct {
	interval time.Duration
	trigger  Trigger
	logger   *slog.Logger
}

// NewScheduler creates a retry scheduler that calls trigger every interval
func NewScheduler(interval time.Duration, trigger Trigger, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		trigger:  trigger,
		logger:   logger,
	}
}

// Start begins the retry scheduler loop
// It will run until ctx is canceled
func (rs *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	rs.logger.Info("Retry scheduler started", "check_interval", rs.interval)

	for {
		select {
		case <-ticker.C:
			rs.trigger()
		case <-ctx.Done():
			rs.logger.Info("Retry scheduler stopped")
			return
		}
	}
}
