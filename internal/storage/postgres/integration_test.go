//go:build integration

package postgres

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"reddit_agent/internal/domain"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_tracked_threads.up.sql"),
			filepath.Join(migrationsPath, "002_create_thread_snapshots.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM thread_snapshots")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM tracked_threads")
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func (s *PostgresIntegrationSuite) newThread(id string, count int, status domain.ThreadStatus, expires time.Time) *domain.TrackedThread {
	now := time.Now().Truncate(time.Microsecond)
	docID := "doc-" + id
	return &domain.TrackedThread{
		ThreadID:           id,
		Subreddit:          "RAG",
		ContentFingerprint: "fp-" + id,
		DocumentID:         &docID,
		UpdateCount:        count,
		Status:             status,
		FirstSeenAt:        now,
		LastCheckedAt:      now,
		RetentionExpiresAt: expires,
	}
}

func (s *PostgresIntegrationSuite) TestThreadStore_GetUntracked() {
	store := NewThreadStore(s.db)

	rec, err := store.Get(s.ctx, "never-seen")
	s.NoError(err)
	s.Nil(rec)
}

func (s *PostgresIntegrationSuite) TestThreadStore_UpsertAndGet() {
	store := NewThreadStore(s.db)
	expires := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Microsecond)

	rec := s.newThread("t1", -1, domain.StatusTracked, expires)
	s.NoError(store.Upsert(s.ctx, rec))

	got, err := store.Get(s.ctx, "t1")
	s.NoError(err)
	s.Require().NotNil(got)
	s.Equal("RAG", got.Subreddit)
	s.Equal(-1, got.UpdateCount)
	s.Equal(domain.StatusTracked, got.Status)
	s.Require().NotNil(got.DocumentID)
	s.Equal("doc-t1", *got.DocumentID)
}

func (s *PostgresIntegrationSuite) TestThreadStore_UpsertUpdatesExisting() {
	store := NewThreadStore(s.db)
	expires := time.Now().Add(30 * 24 * time.Hour)

	rec := s.newThread("t1", -1, domain.StatusTracked, expires)
	s.NoError(store.Upsert(s.ctx, rec))

	rec.UpdateCount = 0
	rec.ContentFingerprint = "fp-changed"
	rec.Status = domain.StatusFrozen
	s.NoError(store.Upsert(s.ctx, rec))

	got, err := store.Get(s.ctx, "t1")
	s.NoError(err)
	s.Equal(0, got.UpdateCount)
	s.Equal("fp-changed", got.ContentFingerprint)
	s.Equal(domain.StatusFrozen, got.Status)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM tracked_threads"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestThreadStore_DueForReconciliation() {
	store := NewThreadStore(s.db)
	now := time.Now()
	future := now.Add(30 * 24 * time.Hour)

	s.NoError(store.Upsert(s.ctx, s.newThread("fresh", -1, domain.StatusTracked, future)))
	s.NoError(store.Upsert(s.ctx, s.newThread("older", 1, domain.StatusFrozen, future)))
	s.NoError(store.Upsert(s.ctx, s.newThread("gone", 2, domain.StatusDeleted, future)))
	s.NoError(store.Upsert(s.ctx, s.newThread("expired", 0, domain.StatusTracked, now.Add(-time.Hour))))

	due, err := store.DueForReconciliation(s.ctx, now)
	s.NoError(err)

	s.Require().Len(due, 2)
	// Fewest passes first.
	s.Equal("fresh", due[0].ThreadID)
	s.Equal("older", due[1].ThreadID)
}

func (s *PostgresIntegrationSuite) TestThreadStore_PurgeExpired() {
	store := NewThreadStore(s.db)
	now := time.Now()

	s.NoError(store.Upsert(s.ctx, s.newThread("keep", 0, domain.StatusTracked, now.Add(time.Hour))))
	s.NoError(store.Upsert(s.ctx, s.newThread("drop1", 2, domain.StatusDeleted, now.Add(-time.Hour))))
	s.NoError(store.Upsert(s.ctx, s.newThread("drop2", 2, domain.StatusFrozen, now.Add(-time.Minute))))

	purged, err := store.PurgeExpired(s.ctx, now)
	s.NoError(err)
	s.Equal(int64(2), purged)

	rec, err := store.Get(s.ctx, "keep")
	s.NoError(err)
	s.NotNil(rec)
}

func (s *PostgresIntegrationSuite) TestSnapshotStore_SaveAndGet() {
	store := NewSnapshotStore(s.db)

	snap := &domain.ThreadSnapshot{
		ID:        "t1",
		Subreddit: "RAG",
		Title:     "Chunking strategies",
		Comments: []domain.Comment{
			{ID: "c1", Author: "alice", Body: "Semantic splits.", Score: 4},
		},
	}
	s.NoError(store.Save(s.ctx, snap))

	got, err := store.Get(s.ctx, "t1")
	s.NoError(err)
	s.Require().NotNil(got)
	s.Equal("Chunking strategies", got.Title)
	s.Require().Len(got.Comments, 1)
	s.Equal("c1", got.Comments[0].ID)
}

func (s *PostgresIntegrationSuite) TestSnapshotStore_SaveReplaces() {
	store := NewSnapshotStore(s.db)

	s.NoError(store.Save(s.ctx, &domain.ThreadSnapshot{ID: "t1", Title: "v1"}))
	s.NoError(store.Save(s.ctx, &domain.ThreadSnapshot{ID: "t1", Title: "v2"}))

	got, err := store.Get(s.ctx, "t1")
	s.NoError(err)
	s.Equal("v2", got.Title)

	var count int
	s.NoError(s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM thread_snapshots"))
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestSnapshotStore_Delete() {
	store := NewSnapshotStore(s.db)

	s.NoError(store.Save(s.ctx, &domain.ThreadSnapshot{ID: "t1", Title: "v1"}))
	s.NoError(store.Delete(s.ctx, "t1"))

	got, err := store.Get(s.ctx, "t1")
	s.NoError(err)
	s.Nil(got)
}

func (s *PostgresIntegrationSuite) TestTransaction_CommitsBothWrites() {
	tm := NewTransactionManager(s.db)
	threads := NewThreadStore(s.db)
	snapshots := NewSnapshotStore(s.db)
	expires := time.Now().Add(30 * 24 * time.Hour)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := snapshots.Save(ctx, &domain.ThreadSnapshot{ID: "t1", Title: "v1"}); err != nil {
			return err
		}
		return threads.Upsert(ctx, s.newThread("t1", -1, domain.StatusTracked, expires))
	})
	s.NoError(err)

	rec, err := threads.Get(s.ctx, "t1")
	s.NoError(err)
	s.NotNil(rec)

	snap, err := snapshots.Get(s.ctx, "t1")
	s.NoError(err)
	s.NotNil(snap)
}

func (s *PostgresIntegrationSuite) TestTransaction_RollsBackBothWrites() {
	tm := NewTransactionManager(s.db)
	threads := NewThreadStore(s.db)
	snapshots := NewSnapshotStore(s.db)
	expires := time.Now().Add(30 * 24 * time.Hour)

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := snapshots.Save(ctx, &domain.ThreadSnapshot{ID: "t1", Title: "v1"}); err != nil {
			return err
		}
		if err := threads.Upsert(ctx, s.newThread("t1", -1, domain.StatusTracked, expires)); err != nil {
			return err
		}
		return context.Canceled
	})
	s.Error(err)

	rec, err := threads.Get(s.ctx, "t1")
	s.NoError(err)
	s.Nil(rec)

	snap, err := snapshots.Get(s.ctx, "t1")
	s.NoError(err)
	s.Nil(snap)
}
