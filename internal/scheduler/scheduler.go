package scheduler

import (
	"context"
	"log/slog"
	"time"

	"reddit_agent/internal/domain"
)

// Runner executes one reconciliation pass.
type Runner interface {
	Run(ctx context.Context, mode domain.RunMode) (*domain.RunStats, error)
}

// Scheduler triggers a run immediately on start and then once per interval.
// Each run gets its own timeout so a hung pass cannot block the next one
// forever.
type Scheduler struct {
	runner     Runner
	mode       domain.RunMode
	interval   time.Duration
	runTimeout time.Duration
	logger     *slog.Logger
}

func NewScheduler(runner Runner, mode domain.RunMode, interval, runTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:     runner,
		mode:       mode,
		interval:   interval,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"mode", s.mode,
		"interval", s.interval,
		"run_timeout", s.runTimeout,
	)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	stats, err := s.runner.Run(runCtx, s.mode)
	if err != nil {
		s.logger.Error("run failed", "error", err)
		return
	}
	if stats.Failed() {
		s.logger.Warn("run completed with thread failures",
			"run_id", stats.RunID,
			"failures", len(stats.Failures),
		)
	}
}
