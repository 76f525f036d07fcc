package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"reddit_agent/internal/config"
	"reddit_agent/internal/domain"
	"reddit_agent/internal/engine"
)

// Outcome reports what one reconciliation pass did for a thread.
type Outcome struct {
	ThreadID string
	Action   engine.Action
	Frozen   bool
	Degraded bool
}

// Reconciler executes lifecycle decisions against the datastore and the
// persistence layer, one thread at a time. Failures acting on one thread
// never abort the batch; the per-run claim set guarantees at most one
// in-flight mutation per thread id even when the same thread appears twice
// in the input.
type Reconciler struct {
	source    Source
	store     Datastore
	threads   ThreadStore
	snapshots SnapshotStore
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	cfg       config.SyncConfig

	allowSyntheticID bool
	now              func() time.Time

	mu    sync.Mutex
	runID string
	seen  map[string]struct{}
}

func NewReconciler(
	source Source,
	store Datastore,
	threads ThreadStore,
	snapshots SnapshotStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
	allowSyntheticID bool,
) *Reconciler {
	return &Reconciler{
		source:           source,
		store:            store,
		threads:          threads,
		snapshots:        snapshots,
		txManager:        txManager,
		publisher:        publisher,
		logger:           logger,
		cfg:              cfg,
		allowSyntheticID: allowSyntheticID,
		now:              time.Now,
		seen:             make(map[string]struct{}),
	}
}

// Reset clears the per-run claim set. The coordinator calls it once at the
// start of every run.
func (r *Reconciler) Reset(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.seen = make(map[string]struct{})
}

// claim marks a thread as handled for the current run. It never releases:
// a thread gets at most one mutation per run, no matter how often it shows
// up in the candidate set.
func (r *Reconciler) claim(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[threadID]; ok {
		return false
	}
	r.seen[threadID] = struct{}{}
	return true
}

func (r *Reconciler) thresholds() engine.Thresholds {
	return engine.Thresholds{
		SkipFirstNDays:  r.cfg.SkipFirstNDays,
		FreezeAfterDays: r.cfg.FreezeAfterDays,
		AlwaysReingest:  r.cfg.AlwaysReingest,
	}
}

// ReconcileSnapshot handles a freshly discovered snapshot. Threads that are
// already tracked are left to the update phase; everything else goes through
// the decision table, which ingests it.
func (r *Reconciler) ReconcileSnapshot(ctx context.Context, snap domain.ThreadSnapshot) (Outcome, error) {
	out := Outcome{ThreadID: snap.ID, Action: engine.ActionNone}

	existing, err := r.threads.Get(ctx, snap.ID)
	if err != nil {
		return out, fmt.Errorf("load record: %w", err)
	}
	if existing != nil {
		return out, nil
	}
	if !r.claim(snap.ID) {
		return out, nil
	}

	dec := engine.Decide(nil, &snap, r.thresholds())
	if dec.Action != engine.ActionIngest {
		return out, nil
	}
	return r.applyIngest(ctx, &snap)
}

// ReconcileTracked runs one reconciliation pass for an existing record:
// fetch a snapshot if the decision needs one, evaluate the table, apply the
// action.
func (r *Reconciler) ReconcileTracked(ctx context.Context, rec domain.TrackedThread) (Outcome, error) {
	out := Outcome{ThreadID: rec.ThreadID, Action: engine.ActionNone}
	if !r.claim(rec.ThreadID) {
		return out, nil
	}

	th := r.thresholds()

	var snap *domain.ThreadSnapshot
	if engine.NeedsSnapshot(&rec, th) {
		s, err := r.source.FetchThread(ctx, rec.ThreadID)
		if err != nil {
			return out, fmt.Errorf("fetch thread: %w", err)
		}
		snap = s
	}

	dec := engine.Decide(&rec, snap, th)

	switch dec.Action {
	case engine.ActionSkip:
		return r.applySkip(ctx, &rec, dec)
	case engine.ActionRefreshMetadata:
		return r.applyMetadataRefresh(ctx, &rec, snap, dec)
	case engine.ActionRefreshFull:
		return r.applyFullRefresh(ctx, &rec, snap, dec)
	case engine.ActionDelete:
		return r.applyDelete(ctx, &rec)
	default:
		return out, nil
	}
}

func (r *Reconciler) applyIngest(ctx context.Context, snap *domain.ThreadSnapshot) (Outcome, error) {
	out := Outcome{ThreadID: snap.ID, Action: engine.ActionNone}

	apiID, err := r.store.Ingest(ctx, snap)
	if err != nil {
		return out, fmt.Errorf("ingest: %w", err)
	}

	res, err := engine.ResolveDocumentID(apiID, snap.ID, r.allowSyntheticID)
	if err != nil {
		// No identity could be established: the ingestion is failed, no
		// record is created, and discovery picks the thread up again on
		// the next pass.
		return out, fmt.Errorf("resolve document id: %w", err)
	}
	out.Degraded = res.Degraded

	r.setMetadata(ctx, res.DocumentID, snap)

	now := r.now()
	rec := &domain.TrackedThread{
		ThreadID:           snap.ID,
		Subreddit:          snap.Subreddit,
		ContentFingerprint: engine.Fingerprint(snap),
		DocumentID:         &res.DocumentID,
		UpdateCount:        -1,
		Status:             domain.StatusTracked,
		FirstSeenAt:        now,
		LastCheckedAt:      now,
		RetentionExpiresAt: now.AddDate(0, 0, r.cfg.RetentionDays),
	}

	err = r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := r.snapshots.Save(txCtx, snap); err != nil {
			return fmt.Errorf("cache snapshot: %w", err)
		}
		return r.threads.Upsert(txCtx, rec)
	})
	if err != nil {
		return out, fmt.Errorf("persist ingest: %w", err)
	}

	out.Action = engine.ActionIngest
	r.logger.Info("thread ingested",
		"thread_id", snap.ID,
		"subreddit", snap.Subreddit,
		"document_id", res.DocumentID,
		"degraded_id", res.Degraded,
	)
	r.publish(ctx, out, rec)
	return out, nil
}

func (r *Reconciler) applySkip(ctx context.Context, rec *domain.TrackedThread, dec engine.Decision) (Outcome, error) {
	out := Outcome{ThreadID: rec.ThreadID, Action: engine.ActionNone}

	rec.UpdateCount++
	rec.LastCheckedAt = r.now()
	if dec.Freeze {
		rec.Status = domain.StatusFrozen
	}

	if err := r.threads.Upsert(ctx, rec); err != nil {
		return out, fmt.Errorf("persist skip: %w", err)
	}

	out.Action = engine.ActionSkip
	out.Frozen = dec.Freeze
	r.logger.Debug("thread skipped",
		"thread_id", rec.ThreadID,
		"update_count", rec.UpdateCount,
	)
	if out.Frozen {
		r.publish(ctx, out, rec)
	}
	return out, nil
}

func (r *Reconciler) applyMetadataRefresh(ctx context.Context, rec *domain.TrackedThread, snap *domain.ThreadSnapshot, dec engine.Decision) (Outcome, error) {
	if rec.DocumentID == nil {
		// A record without a document id means the original ingestion
		// never completed; re-ingest instead of patching nothing.
		return r.applyFullRefresh(ctx, rec, snap, dec)
	}

	out := Outcome{ThreadID: rec.ThreadID, Action: engine.ActionNone}

	if err := r.store.UpdateMetadata(ctx, *rec.DocumentID, snap); err != nil {
		return out, fmt.Errorf("update metadata: %w", err)
	}

	rec.UpdateCount++
	rec.LastCheckedAt = r.now()
	if dec.Freeze {
		rec.Status = domain.StatusFrozen
	}

	if err := r.threads.Upsert(ctx, rec); err != nil {
		return out, fmt.Errorf("persist metadata refresh: %w", err)
	}

	out.Action = engine.ActionRefreshMetadata
	out.Frozen = dec.Freeze
	r.logger.Info("metadata refreshed",
		"thread_id", rec.ThreadID,
		"update_count", rec.UpdateCount,
		"frozen", dec.Freeze,
	)
	r.publish(ctx, out, rec)
	return out, nil
}

func (r *Reconciler) applyFullRefresh(ctx context.Context, rec *domain.TrackedThread, snap *domain.ThreadSnapshot, dec engine.Decision) (Outcome, error) {
	out := Outcome{ThreadID: rec.ThreadID, Action: engine.ActionNone}

	if rec.DocumentID != nil {
		err := r.store.Delete(ctx, *rec.DocumentID)
		if err != nil && !errors.Is(err, domain.ErrDocumentAbsent) {
			// The stale document lingers until the re-ingest below
			// replaces the stored identity.
			r.logger.Warn("delete before re-ingest failed",
				"thread_id", rec.ThreadID,
				"document_id", *rec.DocumentID,
				"error", err,
			)
		}
	}

	apiID, err := r.store.Ingest(ctx, snap)
	if err != nil {
		return out, fmt.Errorf("re-ingest: %w", err)
	}

	res, err := engine.ResolveDocumentID(apiID, rec.ThreadID, r.allowSyntheticID)
	if err != nil {
		return out, fmt.Errorf("resolve document id: %w", err)
	}
	out.Degraded = res.Degraded

	r.setMetadata(ctx, res.DocumentID, snap)

	rec.DocumentID = &res.DocumentID
	rec.ContentFingerprint = engine.Fingerprint(snap)
	rec.UpdateCount++
	rec.LastCheckedAt = r.now()
	if dec.Freeze {
		rec.Status = domain.StatusFrozen
	}

	err = r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := r.snapshots.Save(txCtx, snap); err != nil {
			return fmt.Errorf("cache snapshot: %w", err)
		}
		return r.threads.Upsert(txCtx, rec)
	})
	if err != nil {
		return out, fmt.Errorf("persist full refresh: %w", err)
	}

	out.Action = engine.ActionRefreshFull
	out.Frozen = dec.Freeze
	r.logger.Info("thread re-ingested",
		"thread_id", rec.ThreadID,
		"document_id", res.DocumentID,
		"update_count", rec.UpdateCount,
		"frozen", dec.Freeze,
	)
	r.publish(ctx, out, rec)
	return out, nil
}

func (r *Reconciler) applyDelete(ctx context.Context, rec *domain.TrackedThread) (Outcome, error) {
	out := Outcome{ThreadID: rec.ThreadID, Action: engine.ActionNone}

	if rec.DocumentID != nil {
		err := r.store.Delete(ctx, *rec.DocumentID)
		if err != nil && !errors.Is(err, domain.ErrDocumentAbsent) {
			// Keep the record in its prior status so deletion is
			// retried on the next run.
			return out, fmt.Errorf("datastore delete: %w", err)
		}
	}

	rec.Status = domain.StatusDeleted
	rec.LastCheckedAt = r.now()

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := r.snapshots.Delete(txCtx, rec.ThreadID); err != nil {
			return fmt.Errorf("drop cached snapshot: %w", err)
		}
		return r.threads.Upsert(txCtx, rec)
	})
	if err != nil {
		return out, fmt.Errorf("persist delete: %w", err)
	}

	out.Action = engine.ActionDelete
	r.logger.Info("thread deleted",
		"thread_id", rec.ThreadID,
	)
	r.publish(ctx, out, rec)
	return out, nil
}

// setMetadata pushes engagement metadata after a successful ingestion. The
// document content is already indexed at that point, so a failure here only
// logs: metadata catches up on the next refresh pass.
func (r *Reconciler) setMetadata(ctx context.Context, documentID string, snap *domain.ThreadSnapshot) {
	if err := r.store.UpdateMetadata(ctx, documentID, snap); err != nil {
		r.logger.Warn("metadata set failed after ingest",
			"thread_id", snap.ID,
			"document_id", documentID,
			"error", err,
		)
	}
}

func (r *Reconciler) publish(ctx context.Context, out Outcome, rec *domain.TrackedThread) {
	if r.publisher == nil {
		return
	}

	event := domain.LifecycleEvent{
		RunID:     r.runID,
		Action:    string(out.Action),
		ThreadID:  rec.ThreadID,
		Subreddit: rec.Subreddit,
		Frozen:    out.Frozen,
		Timestamp: r.now().UTC(),
	}
	if rec.DocumentID != nil {
		event.DocumentID = *rec.DocumentID
	}

	if err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("publish lifecycle event failed",
			"thread_id", rec.ThreadID,
			"action", event.Action,
			"error", err,
		)
	}
}
