// Package docstore is the backing document store: keyed JSON documents grouped in
// collections, with one-shot queries and live listeners that receive classified
// change batches.
package docstore

import (
	"context"

	"github.com/tphakala/fieldpin/internal/errors"
)

// ChangeType classifies a document change relative to what a listener has seen.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is one entry of a change batch. Data is nil for Removed.
type Change struct {
	Type ChangeType
	ID   string
	Data []byte
}

// Document is a stored document. Partition holds the container name the
// document belongs to.
type Document struct {
	ID        string
	Partition string
	Data      []byte
}

// Query selects the documents of a collection, optionally restricted to one partition.
type Query struct {
	Collection string
	Partition  string
}

func (q Query) matches(collection, partition string) bool {
	return q.Collection == collection && (q.Partition == "" || q.Partition == partition)
}

// Handler receives change batches. Batches for one listener are delivered
// sequentially from a single goroutine; the first batch is the current
// snapshot with every document as Added.
type Handler func([]Change)

// Registration controls a live listener.
type Registration interface {
	// Remove stops delivery of further batches. It is idempotent and does not
	// wait for a batch already being delivered.
	Remove()
}

// Store is the document store contract shared by every backend.
type Store interface {
	// Get returns a document or an error matching ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes the whole document, replacing any previous content.
	Set(ctx context.Context, collection string, doc Document) error
	// Delete removes a document. Deleting a missing document succeeds.
	Delete(ctx context.Context, collection, id string) error
	// Query returns the matching documents in insertion order.
	Query(ctx context.Context, q Query) ([]Document, error)
	// Listen registers handler for changes matching q. The listener is removed
	// when ctx is done or Remove is called.
	Listen(ctx context.Context, q Query, handler Handler) (Registration, error)
}

// ErrNotFound is returned by Get for a missing document.
var ErrNotFound = errors.NewStd("document not found")

func notFound(collection, id string) error {
	return errors.New(ErrNotFound).
		Component("docstore").
		Category(errors.CategoryNotFound).
		Context("collection", collection).
		Context("id", id).
		Build()
}

func writeFailed(op, collection, id string, err error) error {
	return errors.New(err).
		Component("docstore").
		Category(errors.CategorySyncWrite).
		Context("operation", op).
		Context("collection", collection).
		Context("id", id).
		Build()
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.NewStd("document store closed")

func errStoreClosed() error {
	return errors.New(ErrClosed).
		Component("docstore").
		Category(errors.CategoryState).
		Build()
}
