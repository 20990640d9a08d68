// Package entities defines the GORM models persisted by the datastore.
package entities

import "time"

// Document is one JSON document of a collection. Collection and DocID together
// identify it; PartitionKey holds the container name used by live queries.
type Document struct {
	ID           uint      `gorm:"primaryKey"`
	Collection   string    `gorm:"uniqueIndex:idx_documents_collection_doc;size:64;not null"`
	DocID        string    `gorm:"uniqueIndex:idx_documents_collection_doc;size:64;not null"`
	PartitionKey string    `gorm:"index;size:255;not null;default:''"`
	Data         string    `gorm:"not null"`
	Version      int64     `gorm:"not null;default:1"`
	Origin       string    `gorm:"size:64"` // device that wrote the current revision
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Document) TableName() string {
	return "documents"
}
