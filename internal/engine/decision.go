package engine

import "reddit_agent/internal/domain"

// Action is the single lifecycle action chosen for a thread on one pass.
type Action string

const (
	ActionNone            Action = "none"
	ActionIngest          Action = "ingest"
	ActionSkip            Action = "skip"
	ActionRefreshMetadata Action = "refresh_metadata"
	ActionRefreshFull     Action = "refresh_full"
	ActionDelete          Action = "delete"
)

// Thresholds are the configured day-count boundaries of the update cycle.
//
// The count progression with the defaults (SkipFirstNDays=0, FreezeAfterDays=2)
// is: -1 (day 1, ingest) -> 0 (day 2, skip) -> 1 (day 3, refresh) -> 2 (day 4,
// refresh then freeze).
type Thresholds struct {
	SkipFirstNDays  int
	FreezeAfterDays int

	// AlwaysReingest forces a full refresh on every refresh-eligible pass,
	// even when the fingerprint is unchanged.
	AlwaysReingest bool
}

// Decision is the output of one decision-table evaluation. Freeze applies
// after the action: when both a content refresh and the freeze threshold land
// on the same pass, the refresh runs first so the thread never freezes stale.
type Decision struct {
	Action Action
	Freeze bool
}

// NeedsSnapshot reports whether evaluating the decision table for an existing
// record requires a fresh snapshot. Skip passes increment the counter without
// touching the source; deleted records are never fetched again. Frozen
// records still need a snapshot because freezing stops content updates, not
// deletion detection.
func NeedsSnapshot(existing *domain.TrackedThread, t Thresholds) bool {
	if existing == nil {
		return true
	}
	switch existing.Status {
	case domain.StatusDeleted:
		return false
	case domain.StatusFrozen:
		return true
	}
	return existing.UpdateCount >= t.SkipFirstNDays
}

// Decide maps (stored record, fresh snapshot, thresholds) to exactly one
// lifecycle action. It is a pure function: all day-offset decisions derive
// from the stored update counter, never from wall-clock comparisons.
//
// snap may be nil only on paths where NeedsSnapshot returns false.
func Decide(existing *domain.TrackedThread, snap *domain.ThreadSnapshot, t Thresholds) Decision {
	if existing == nil {
		if snap != nil && snap.Removed {
			// Discovered and removed before we ever ingested it.
			return Decision{Action: ActionNone}
		}
		return Decision{Action: ActionIngest}
	}

	if existing.Status == domain.StatusDeleted {
		return Decision{Action: ActionNone}
	}

	if snap != nil && snap.Removed {
		return Decision{Action: ActionDelete}
	}

	if existing.Status == domain.StatusFrozen {
		return Decision{Action: ActionNone}
	}

	next := existing.UpdateCount + 1

	if existing.UpdateCount < t.SkipFirstNDays {
		return Decision{Action: ActionSkip, Freeze: next >= t.FreezeAfterDays}
	}

	changed := t.AlwaysReingest || Fingerprint(snap) != existing.ContentFingerprint
	if changed {
		return Decision{Action: ActionRefreshFull, Freeze: next >= t.FreezeAfterDays}
	}
	return Decision{Action: ActionRefreshMetadata, Freeze: next >= t.FreezeAfterDays}
}
