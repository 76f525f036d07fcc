package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"reddit_agent/internal/domain"
)

// SnapshotStore caches the content of the last successful ingestion per
// thread. The cache is written in the same transaction as the tracking
// record so the two never disagree.
type SnapshotStore struct {
	db *sqlx.DB
}

func NewSnapshotStore(db *sqlx.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Save(ctx context.Context, snap *domain.ThreadSnapshot) error {
	content, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
		INSERT INTO thread_snapshots (thread_id, content, captured_at)
		VALUES ($1, $2, now())
		ON CONFLICT (thread_id) DO UPDATE SET
			content = EXCLUDED.content,
			captured_at = now()`

	_, err = GetExecutor(ctx, s.db).ExecContext(ctx, query, snap.ID, content)
	return err
}

func (s *SnapshotStore) Delete(ctx context.Context, threadID string) error {
	_, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM thread_snapshots WHERE thread_id = $1`, threadID)
	return err
}

// Get returns the cached snapshot, or (nil, nil) when none was stored.
func (s *SnapshotStore) Get(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error) {
	var content []byte
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &content,
		`SELECT content FROM thread_snapshots WHERE thread_id = $1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap domain.ThreadSnapshot
	if err := json.Unmarshal(content, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
