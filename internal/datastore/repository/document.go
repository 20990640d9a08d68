// Package repository provides data access for the document collections.
package repository

import (
	"context"

	"github.com/tphakala/fieldpin/internal/datastore/entities"
)

// DocumentRepository stores JSON documents keyed by collection and id.
type DocumentRepository interface {
	// Get returns a document or ErrDocumentNotFound.
	Get(ctx context.Context, collection, docID string) (*entities.Document, error)

	// Put inserts or replaces a document written on this device. Version is
	// incremented on replace. On return doc holds the stored revision.
	Put(ctx context.Context, doc *entities.Document) error

	// Apply stores a revision received from another device unless the stored
	// revision is newer, in which case ErrStaleRevision is returned.
	Apply(ctx context.Context, doc *entities.Document) error

	// Delete removes a document. Returns ErrDocumentNotFound if it did not exist.
	Delete(ctx context.Context, collection, docID string) error

	// List returns the documents of a collection in one partition in insertion
	// order. An empty partition lists the whole collection.
	List(ctx context.Context, collection, partition string) ([]entities.Document, error)
}
