package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"reddit_agent/internal/domain"
)

type ThreadStore struct {
	db *sqlx.DB
}

func NewThreadStore(db *sqlx.DB) *ThreadStore {
	return &ThreadStore{db: db}
}

// Get returns the tracking record for a thread, or (nil, nil) when the
// thread was never tracked.
func (s *ThreadStore) Get(ctx context.Context, threadID string) (*domain.TrackedThread, error) {
	query := `
		SELECT thread_id, subreddit, content_fingerprint, document_id,
		       update_count, status, first_seen_at, last_checked_at, retention_expires_at
		FROM tracked_threads
		WHERE thread_id = $1`

	var rec domain.TrackedThread
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &rec, query, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *ThreadStore) Upsert(ctx context.Context, thread *domain.TrackedThread) error {
	query := `
		INSERT INTO tracked_threads (
			thread_id, subreddit, content_fingerprint, document_id,
			update_count, status, first_seen_at, last_checked_at, retention_expires_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (thread_id) DO UPDATE SET
			content_fingerprint = EXCLUDED.content_fingerprint,
			document_id = EXCLUDED.document_id,
			update_count = EXCLUDED.update_count,
			status = EXCLUDED.status,
			last_checked_at = EXCLUDED.last_checked_at,
			retention_expires_at = EXCLUDED.retention_expires_at`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		thread.ThreadID,
		thread.Subreddit,
		thread.ContentFingerprint,
		thread.DocumentID,
		thread.UpdateCount,
		thread.Status,
		thread.FirstSeenAt,
		thread.LastCheckedAt,
		thread.RetentionExpiresAt,
	)
	return err
}

// DueForReconciliation returns every record that still participates in the
// lifecycle: not deleted and within its retention window. Threads that have
// seen the fewest passes come first so new content is refreshed before old.
func (s *ThreadStore) DueForReconciliation(ctx context.Context, now time.Time) ([]domain.TrackedThread, error) {
	query := `
		SELECT thread_id, subreddit, content_fingerprint, document_id,
		       update_count, status, first_seen_at, last_checked_at, retention_expires_at
		FROM tracked_threads
		WHERE status != $1 AND retention_expires_at > $2
		ORDER BY update_count ASC, first_seen_at ASC`

	var threads []domain.TrackedThread
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &threads, query, domain.StatusDeleted, now)
	if err != nil {
		return nil, err
	}
	return threads, nil
}

// PurgeExpired physically removes records whose retention window has
// passed and reports how many went.
func (s *ThreadStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM tracked_threads WHERE retention_expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
