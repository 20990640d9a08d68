package repository

import "github.com/tphakala/fieldpin/internal/errors"

// Sentinel errors for document repository operations.
var (
	// ErrDocumentNotFound is returned when no document matches the collection and id.
	ErrDocumentNotFound = errors.NewStd("document not found")
	// ErrStaleRevision is returned when an incoming revision is older than the stored one.
	ErrStaleRevision = errors.NewStd("stale document revision")
)
