package domain

import "time"

// ThreadStatus is the lifecycle state of a tracked thread.
//
// Transitions are monotonic: tracked -> frozen and tracked|frozen -> deleted.
// A deleted thread never re-enters tracking.
type ThreadStatus string

const (
	StatusTracked ThreadStatus = "tracked"
	StatusFrozen  ThreadStatus = "frozen"
	StatusDeleted ThreadStatus = "deleted"
)

// TrackedThread is the persisted tracking record for one discussion thread.
//
// UpdateCount starts at -1 on first ingestion and increments by one on each
// reconciliation pass that examines the thread. DocumentID is set only after
// a successful ingestion into the datastore.
type TrackedThread struct {
	ThreadID           string       `db:"thread_id"`
	Subreddit          string       `db:"subreddit"`
	ContentFingerprint string       `db:"content_fingerprint"`
	DocumentID         *string      `db:"document_id"`
	UpdateCount        int          `db:"update_count"`
	Status             ThreadStatus `db:"status"`
	FirstSeenAt        time.Time    `db:"first_seen_at"`
	LastCheckedAt      time.Time    `db:"last_checked_at"`
	RetentionExpiresAt time.Time    `db:"retention_expires_at"`
}

// Comment is a single comment within a thread snapshot.
type Comment struct {
	ID          string
	Author      string
	Body        string
	Score       int
	Depth       int
	ParentID    string
	IsSubmitter bool
	Edited      bool
	CreatedUTC  time.Time
}

// ThreadSnapshot is the state of a thread as fetched from the source on one
// run. The snapshot of the last successful ingestion is cached alongside the
// tracking record; everything else is derived (fingerprint, rendered
// document) and discarded.
type ThreadSnapshot struct {
	ID          string
	Subreddit   string
	Author      string
	Title       string
	SelfText    string
	URL         string
	Permalink   string
	Score       int
	UpvoteRatio float64
	NumComments int
	Edited      bool
	IsSelf      bool
	Flair       string
	CreatedUTC  time.Time

	// Removed is set when the source reports the thread as deleted,
	// removed by moderators, or otherwise unavailable.
	Removed bool

	Comments []Comment
}

// FullURL returns the canonical reddit URL for the thread.
func (s *ThreadSnapshot) FullURL() string {
	return "https://reddit.com" + s.Permalink
}
