package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reddit_agent/internal/domain"
)

func tracked(count int, status domain.ThreadStatus, fingerprint string) *domain.TrackedThread {
	docID := "doc-1"
	return &domain.TrackedThread{
		ThreadID:           "abc123",
		Subreddit:          "RAG",
		ContentFingerprint: fingerprint,
		DocumentID:         &docID,
		UpdateCount:        count,
		Status:             status,
	}
}

func TestDecideNewDiscovery(t *testing.T) {
	snap := sampleSnapshot()

	dec := Decide(nil, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})

	assert.Equal(t, ActionIngest, dec.Action)
	assert.False(t, dec.Freeze)
}

func TestDecideSkipDuringFirstDays(t *testing.T) {
	// Day after ingestion: count is still -1, threshold 1 keeps it in the
	// skip window so comments accumulate before the first refresh.
	rec := tracked(-1, domain.StatusTracked, "old")

	dec := Decide(rec, nil, Thresholds{SkipFirstNDays: 1, FreezeAfterDays: 2})

	assert.Equal(t, ActionSkip, dec.Action)
	assert.False(t, dec.Freeze)
}

func TestDecideRefreshMetadataWhenUnchanged(t *testing.T) {
	snap := sampleSnapshot()
	rec := tracked(0, domain.StatusTracked, Fingerprint(snap))

	dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})

	assert.Equal(t, ActionRefreshMetadata, dec.Action)
	assert.False(t, dec.Freeze)
}

func TestDecideRefreshFullWhenChanged(t *testing.T) {
	snap := sampleSnapshot()
	rec := tracked(0, domain.StatusTracked, "stale-fingerprint")

	dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})

	assert.Equal(t, ActionRefreshFull, dec.Action)
}

func TestDecideRefreshThenFreezeSamePass(t *testing.T) {
	// Content changed on the pass that reaches the freeze threshold: the
	// refresh applies first, then the freeze, so the frozen document is
	// never stale.
	snap := sampleSnapshot()
	rec := tracked(1, domain.StatusTracked, "stale-fingerprint")

	dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})

	assert.Equal(t, ActionRefreshFull, dec.Action)
	assert.True(t, dec.Freeze)
}

func TestDecideMetadataRefreshCanFreeze(t *testing.T) {
	snap := sampleSnapshot()
	rec := tracked(1, domain.StatusTracked, Fingerprint(snap))

	dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})

	assert.Equal(t, ActionRefreshMetadata, dec.Action)
	assert.True(t, dec.Freeze)
}

func TestDecideRemovedBeatsEverything(t *testing.T) {
	snap := sampleSnapshot()
	snap.Removed = true

	for _, status := range []domain.ThreadStatus{domain.StatusTracked, domain.StatusFrozen} {
		rec := tracked(5, status, "whatever")
		dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})
		assert.Equal(t, ActionDelete, dec.Action, "status %s", status)
	}
}

func TestDecideFrozenOnlyChecksRemoval(t *testing.T) {
	snap := sampleSnapshot()
	rec := tracked(2, domain.StatusFrozen, "stale-fingerprint")

	dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})

	assert.Equal(t, ActionNone, dec.Action)
}

func TestDecideDeletedIsTerminal(t *testing.T) {
	snap := sampleSnapshot()
	snap.Removed = true
	rec := tracked(2, domain.StatusDeleted, "x")

	dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2})

	assert.Equal(t, ActionNone, dec.Action)
}

func TestDecideAlwaysReingest(t *testing.T) {
	snap := sampleSnapshot()
	rec := tracked(0, domain.StatusTracked, Fingerprint(snap))

	dec := Decide(rec, snap, Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2, AlwaysReingest: true})

	assert.Equal(t, ActionRefreshFull, dec.Action)
}

func TestNeedsSnapshot(t *testing.T) {
	th := Thresholds{SkipFirstNDays: 1, FreezeAfterDays: 2}

	assert.True(t, NeedsSnapshot(nil, th), "new discoveries arrive as snapshots")
	assert.False(t, NeedsSnapshot(tracked(-1, domain.StatusTracked, ""), th), "skip passes never hit the source")
	assert.True(t, NeedsSnapshot(tracked(1, domain.StatusTracked, ""), th))
	assert.True(t, NeedsSnapshot(tracked(2, domain.StatusFrozen, ""), th), "frozen threads still get removal checks")
	assert.False(t, NeedsSnapshot(tracked(2, domain.StatusDeleted, ""), th))
}

// Walks a thread through the default four-day cycle and checks the count
// progression -1 -> 0 -> 1 -> 2 with freeze on the final pass.
func TestDecideFullCycleProgression(t *testing.T) {
	th := Thresholds{SkipFirstNDays: 0, FreezeAfterDays: 2}
	snap := sampleSnapshot()

	rec := tracked(-1, domain.StatusTracked, Fingerprint(snap))

	// Day 2: -1 < 0, skip.
	dec := Decide(rec, nil, th)
	assert.Equal(t, ActionSkip, dec.Action)
	assert.False(t, dec.Freeze)
	rec.UpdateCount++

	// Day 3: refresh eligible, unchanged content.
	dec = Decide(rec, snap, th)
	assert.Equal(t, ActionRefreshMetadata, dec.Action)
	assert.False(t, dec.Freeze)
	rec.UpdateCount++

	// Day 4: refresh then freeze.
	dec = Decide(rec, snap, th)
	assert.Equal(t, ActionRefreshMetadata, dec.Action)
	assert.True(t, dec.Freeze)
}
