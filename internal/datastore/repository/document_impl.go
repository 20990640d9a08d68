package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/fieldpin/internal/datastore/entities"
	"github.com/tphakala/fieldpin/internal/errors"
)

// documentRepository implements DocumentRepository on GORM.
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

var documentKey = []clause.Column{{Name: "collection"}, {Name: "doc_id"}}

// Get returns a document or ErrDocumentNotFound.
func (r *documentRepository) Get(ctx context.Context, collection, docID string) (*entities.Document, error) {
	var doc entities.Document
	err := r.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, docID).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, dbError("get", collection, docID, err)
	}
	return &doc, nil
}

// Put inserts or replaces a locally written document.
func (r *documentRepository) Put(ctx context.Context, doc *entities.Document) error {
	doc.UpdatedAt = time.Now().UTC()
	if doc.Version == 0 {
		doc.Version = 1
	}
	doc.ID = 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: documentKey,
			DoUpdates: clause.Assignments(map[string]any{
				"data":          doc.Data,
				"partition_key": doc.PartitionKey,
				"origin":        doc.Origin,
				"updated_at":    doc.UpdatedAt,
				"version":       gorm.Expr("version + 1"),
			}),
		}).Create(doc).Error
		if err != nil {
			return err
		}
		// Reload so the caller sees the stored version and primary key
		return tx.Where("collection = ? AND doc_id = ?", doc.Collection, doc.DocID).First(doc).Error
	})
	if err != nil {
		return dbError("put", doc.Collection, doc.DocID, err)
	}
	return nil
}

// Apply stores a remote revision with last-write-wins on UpdatedAt.
func (r *documentRepository) Apply(ctx context.Context, doc *entities.Document) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing entities.Document
		err := tx.Where("collection = ? AND doc_id = ?", doc.Collection, doc.DocID).First(&existing).Error
		switch {
		case err == nil:
			if existing.UpdatedAt.After(doc.UpdatedAt) {
				return ErrStaleRevision
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		doc.ID = 0
		return tx.Clauses(clause.OnConflict{
			Columns:   documentKey,
			DoUpdates: clause.AssignmentColumns([]string{"data", "partition_key", "origin", "updated_at", "version"}),
		}).Create(doc).Error
	})
	if err != nil {
		if errors.Is(err, ErrStaleRevision) {
			return err
		}
		return dbError("apply", doc.Collection, doc.DocID, err)
	}
	return nil
}

// Delete removes a document.
func (r *documentRepository) Delete(ctx context.Context, collection, docID string) error {
	result := r.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, docID).
		Delete(&entities.Document{})
	if result.Error != nil {
		return dbError("delete", collection, docID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// List returns documents in insertion order.
func (r *documentRepository) List(ctx context.Context, collection, partition string) ([]entities.Document, error) {
	query := r.db.WithContext(ctx).Where("collection = ?", collection)
	if partition != "" {
		query = query.Where("partition_key = ?", partition)
	}

	var docs []entities.Document
	if err := query.Order("id ASC").Find(&docs).Error; err != nil {
		return nil, dbError("list", collection, partition, err)
	}
	return docs, nil
}

func dbError(op, collection, key string, err error) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Context("collection", collection).
		Context("key", key).
		Build()
}
