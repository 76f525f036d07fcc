package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"reddit_agent/internal/domain"
)

// Source fetches thread snapshots from the discussion platform. Both calls
// are rate limited and retried internally; snapshots arrive bot-filtered with
// the Removed flag set for deleted or unavailable threads.
type Source interface {
	DiscoverWindow(ctx context.Context) ([]domain.ThreadSnapshot, error)
	FetchThread(ctx context.Context, threadID string) (*domain.ThreadSnapshot, error)
}

// Datastore is the document-store collaborator. Ingest returns the document
// id as reported by the store, which may be empty (identity resolution
// handles that case). Delete returns domain.ErrDocumentAbsent when the
// document is already gone.
type Datastore interface {
	Ingest(ctx context.Context, snap *domain.ThreadSnapshot) (string, error)
	UpdateMetadata(ctx context.Context, documentID string, snap *domain.ThreadSnapshot) error
	Delete(ctx context.Context, documentID string) error
}

// ThreadStore persists tracking records. Get returns (nil, nil) for threads
// that were never tracked.
type ThreadStore interface {
	Get(ctx context.Context, threadID string) (*domain.TrackedThread, error)
	Upsert(ctx context.Context, thread *domain.TrackedThread) error
	DueForReconciliation(ctx context.Context, now time.Time) ([]domain.TrackedThread, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// SnapshotStore caches the content of the last successful full ingestion.
type SnapshotStore interface {
	Save(ctx context.Context, snap *domain.ThreadSnapshot) error
	Delete(ctx context.Context, threadID string) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher emits lifecycle events for applied actions. May be nil.
type Publisher interface {
	Publish(ctx context.Context, event domain.LifecycleEvent) error
	Close() error
}
