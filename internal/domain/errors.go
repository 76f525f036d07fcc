package domain

import "errors"

// ErrDocumentAbsent is returned by datastore deletion when the document is
// already gone. Callers treat it as a successful, idempotent delete.
var ErrDocumentAbsent = errors.New("document already absent")

// ErrFatal marks failures that must abort the whole run (bad credentials,
// malformed datastore target) instead of being recovered per thread.
var ErrFatal = errors.New("fatal run error")
