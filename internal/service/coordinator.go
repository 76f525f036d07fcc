package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"reddit_agent/internal/config"
	"reddit_agent/internal/domain"
	"reddit_agent/internal/engine"
)

// Coordinator orchestrates one full batch run: discovery of new threads,
// reconciliation of tracked ones, and retention purge, aggregated into a
// RunStats summary. Per-thread failures are recovered and counted; fatal
// errors (bad credentials, malformed datastore target) abort the run.
type Coordinator struct {
	source     Source
	threads    ThreadStore
	reconciler *Reconciler
	logger     *slog.Logger
	cfg        config.SyncConfig
	now        func() time.Time
}

func NewCoordinator(
	source Source,
	threads ThreadStore,
	reconciler *Reconciler,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *Coordinator {
	return &Coordinator{
		source:     source,
		threads:    threads,
		reconciler: reconciler,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run executes one batch pass in the given mode. The returned stats are
// valid even when err is non-nil: a failing run still reports what it
// attempted and what succeeded.
func (c *Coordinator) Run(ctx context.Context, mode domain.RunMode) (*domain.RunStats, error) {
	stats := &domain.RunStats{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: c.now(),
	}
	c.reconciler.Reset(stats.RunID)

	logger := c.logger.With("run_id", stats.RunID, "mode", mode)
	logger.Info("run starting",
		"skip_first_n_days", c.cfg.SkipFirstNDays,
		"freeze_after_days", c.cfg.FreezeAfterDays,
		"workers", c.cfg.Workers,
	)

	// A fatal per-thread error cancels phaseCtx so remaining dispatch stops
	// and the run aborts instead of degrading thread by thread.
	phaseCtx, cancelPhase := context.WithCancel(ctx)
	defer cancelPhase()

	var mu sync.Mutex
	var fatalErr error
	record := func(out Outcome, stage string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if errors.Is(err, domain.ErrFatal) {
				if fatalErr == nil {
					fatalErr = fmt.Errorf("%s %s: %w", stage, out.ThreadID, err)
				}
				cancelPhase()
				return
			}
			if !errors.Is(err, context.Canceled) {
				logger.Error("thread reconciliation failed",
					"thread_id", out.ThreadID,
					"stage", stage,
					"error", err,
				)
				stats.Failures = append(stats.Failures, domain.ThreadFailure{
					ThreadID: out.ThreadID,
					Stage:    stage,
					Error:    err.Error(),
				})
			}
			return
		}
		switch out.Action {
		case engine.ActionIngest:
			stats.Ingested++
		case engine.ActionSkip:
			stats.Skipped++
		case engine.ActionRefreshMetadata:
			stats.MetadataRefreshed++
		case engine.ActionRefreshFull:
			stats.FullyRefreshed++
		case engine.ActionDelete:
			stats.Deleted++
		}
		if out.Frozen {
			stats.Frozen++
		}
		if out.Degraded {
			stats.DegradedIDs++
		}
	}

	if mode != domain.ModeUpdate {
		snapshots, err := c.source.DiscoverWindow(phaseCtx)
		if err != nil {
			return c.finish(stats, logger), fmt.Errorf("discover window: %w", err)
		}
		stats.Discovered = len(snapshots)
		logger.Info("discovery complete", "snapshots", len(snapshots))

		c.forEach(phaseCtx, len(snapshots), func(i int) {
			out, err := c.reconciler.ReconcileSnapshot(phaseCtx, snapshots[i])
			record(out, "discovery", err)
		})
		if fatalErr != nil {
			return c.finish(stats, logger), fatalErr
		}
		if err := ctx.Err(); err != nil {
			return c.finish(stats, logger), err
		}
	}

	if mode != domain.ModeScrape {
		due, err := c.threads.DueForReconciliation(phaseCtx, c.now())
		if err != nil {
			return c.finish(stats, logger), fmt.Errorf("load due threads: %w", err)
		}
		logger.Info("reconciliation phase", "due", len(due))

		c.forEach(phaseCtx, len(due), func(i int) {
			out, err := c.reconciler.ReconcileTracked(phaseCtx, due[i])
			record(out, "reconcile", err)
		})
		if fatalErr != nil {
			return c.finish(stats, logger), fatalErr
		}
		if err := ctx.Err(); err != nil {
			return c.finish(stats, logger), err
		}
	}

	purged, err := c.threads.PurgeExpired(ctx, c.now())
	if err != nil {
		logger.Warn("retention purge failed", "error", err)
	} else if purged > 0 {
		stats.Purged = purged
		logger.Info("retention purge complete", "purged", purged)
	}

	return c.finish(stats, logger), nil
}

// forEach dispatches fn over a bounded worker pool. Dispatch stops once the
// context is cancelled, leaving unreached items for the next run; in-flight
// work already committed to persistence stands.
func (c *Coordinator) forEach(ctx context.Context, n int, fn func(i int)) {
	workers := c.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}

func (c *Coordinator) finish(stats *domain.RunStats, logger *slog.Logger) *domain.RunStats {
	stats.CompletedAt = c.now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)

	logger.Info("run complete",
		"discovered", stats.Discovered,
		"ingested", stats.Ingested,
		"skipped", stats.Skipped,
		"metadata_refreshed", stats.MetadataRefreshed,
		"fully_refreshed", stats.FullyRefreshed,
		"frozen", stats.Frozen,
		"deleted", stats.Deleted,
		"degraded_ids", stats.DegradedIDs,
		"purged", stats.Purged,
		"failures", len(stats.Failures),
		"duration", stats.Duration,
	)
	return stats
}
