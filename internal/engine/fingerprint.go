// Package engine holds the pure lifecycle reconciliation core: content
// fingerprinting, the lifecycle decision table, and document identity
// resolution. Nothing in this package performs I/O.
package engine

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"reddit_agent/internal/domain"
)

const (
	maxBodyBytes     = 500
	maxSelfTextBytes = 2000
	fingerprintLen   = 16
)

type commentDigest struct {
	ID       string `json:"id"`
	Author   string `json:"author"`
	Score    int    `json:"score"`
	Depth    int    `json:"depth"`
	BodyHash string `json:"body_hash"`
}

type fingerprintPayload struct {
	Title    string          `json:"title"`
	SelfText string          `json:"selftext"`
	Edited   bool            `json:"edited"`
	Comments []commentDigest `json:"comments"`
}

// Fingerprint derives a stable content signature from a snapshot's mutable
// fields. Comments are canonicalized by id so fetch-order differences never
// change the digest; any change to the post body, edited flag, comment set,
// or an individual comment's author/body/score/depth yields a new digest.
//
// Engagement fields (score, comment count, upvote ratio) on the post itself
// are deliberately excluded: they churn daily and are synced as metadata,
// not content.
func Fingerprint(snap *domain.ThreadSnapshot) string {
	digests := make([]commentDigest, len(snap.Comments))
	for i, c := range snap.Comments {
		digests[i] = commentDigest{
			ID:       c.ID,
			Author:   c.Author,
			Score:    c.Score,
			Depth:    c.Depth,
			BodyHash: hashBody(c.Body),
		}
	}
	sort.Slice(digests, func(i, j int) bool { return digests[i].ID < digests[j].ID })

	payload := fingerprintPayload{
		Title:    snap.Title,
		SelfText: truncate(snap.SelfText, maxSelfTextBytes),
		Edited:   snap.Edited,
		Comments: digests,
	}

	// Marshal of a struct with only strings, ints and bools cannot fail.
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

func hashBody(body string) string {
	sum := md5.Sum([]byte(truncate(body, maxBodyBytes)))
	return hex.EncodeToString(sum[:])[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
