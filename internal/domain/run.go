package domain

import "time"

// RunMode restricts which phases a batch run executes.
type RunMode string

const (
	ModeFull   RunMode = "full"   // discovery + reconciliation
	ModeScrape RunMode = "scrape" // discovery only
	ModeUpdate RunMode = "update" // reconciliation only
)

// ThreadFailure records a per-thread error that did not abort the run.
type ThreadFailure struct {
	ThreadID string `json:"thread_id"`
	Stage    string `json:"stage"`
	Error    string `json:"error"`
}

// RunStats aggregates the outcome of one batch run. Partial success is
// expected: a run with failures still reports everything that succeeded.
type RunStats struct {
	RunID             string          `json:"run_id"`
	Mode              RunMode         `json:"mode"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       time.Time       `json:"completed_at"`
	Duration          time.Duration   `json:"duration"`
	Discovered        int             `json:"discovered"`
	Ingested          int             `json:"ingested"`
	Skipped           int             `json:"skipped"`
	MetadataRefreshed int             `json:"metadata_refreshed"`
	FullyRefreshed    int             `json:"fully_refreshed"`
	Frozen            int             `json:"frozen"`
	Deleted           int             `json:"deleted"`
	DegradedIDs       int             `json:"degraded_ids"`
	Purged            int64           `json:"purged"`
	Failures          []ThreadFailure `json:"failures,omitempty"`
}

// Failed reports whether any per-thread processing failed irrecoverably.
func (s *RunStats) Failed() bool {
	return len(s.Failures) > 0
}

// LifecycleEvent is published after each applied lifecycle action.
type LifecycleEvent struct {
	RunID      string    `json:"run_id"`
	Action     string    `json:"action"`
	ThreadID   string    `json:"thread_id"`
	Subreddit  string    `json:"subreddit"`
	DocumentID string    `json:"document_id,omitempty"`
	Frozen     bool      `json:"frozen"`
	Timestamp  time.Time `json:"timestamp"`
}
