package engine

import "errors"

// syntheticIDPrefix namespaces fallback document ids derived from thread ids.
const syntheticIDPrefix = "reddit_post_"

// ErrMissingDocumentID is returned when the datastore response carries no
// usable document id and the synthetic fallback is disabled. The ingestion is
// then treated as failed and retried on a later pass.
var ErrMissingDocumentID = errors.New("datastore response missing document id")

// Resolution is the document identity established for a thread. Degraded is
// set when the id came from the synthetic fallback rather than the store's
// response; run summaries report degraded resolutions separately.
type Resolution struct {
	DocumentID string
	Degraded   bool
}

// SyntheticDocumentID derives the deterministic fallback id for a thread.
func SyntheticDocumentID(threadID string) string {
	return syntheticIDPrefix + threadID
}

// ResolveDocumentID extracts the document id from an ingest response. The
// store is known to occasionally omit the id; when allowed, the synthetic
// fallback keeps the thread addressable for later metadata updates and
// deletion. Whatever id is resolved here must be persisted and reused for the
// document's full lifetime, never recomputed independently.
func ResolveDocumentID(apiID, threadID string, allowSynthetic bool) (Resolution, error) {
	if apiID != "" {
		return Resolution{DocumentID: apiID}, nil
	}
	if !allowSynthetic {
		return Resolution{}, ErrMissingDocumentID
	}
	return Resolution{DocumentID: SyntheticDocumentID(threadID), Degraded: true}, nil
}
