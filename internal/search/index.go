// Package search mirrors events into a ranked full-text index and answers text queries,
// falling back to an unranked store scan when the index cannot be trusted.
package search

import (
	"context"

	"example.com/backstage/services/calendar/internal/models"
)

// Document is the indexed projection of an event. Key is also the document id.
type Document struct {
	Key         string `json:"key"`
	ClusterDate string `json:"cluster_date"`
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// DocumentOf builds the index document for ev
func DocumentOf(ev *models.Event) Document {
	return Document{
		Key:         ev.Key().String(),
		ClusterDate: models.FormatDate(ev.ClusterDate),
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
	}
}

// Index is a ranked text index over event documents. Implementations report every
// backend failure as errs.ErrIndexUnavailable.
type Index interface {
	// EnsureIndex creates the index when it does not exist
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, doc Document) error
	// Delete removes a document. A missing document is not an error; a missing index is.
	Delete(ctx context.Context, key models.EventKey) error
	BulkUpsert(ctx context.Context, docs []Document) error
	// Search returns up to limit keys, best match first
	Search(ctx context.Context, query string, limit int) ([]models.EventKey, error)
	Count(ctx context.Context) (int64, error)
	// Reset drops and recreates the index empty
	Reset(ctx context.Context) error
}

// Store is the part of the event store that search reads from
type Store interface {
	Count(ctx context.Context) (int64, error)
	EachBatch(ctx context.Context, size int, fn func([]*models.Event) error) error
	SearchText(ctx context.Context, query string, limit int) ([]*models.Event, error)
	GetByKeys(ctx context.Context, keys []models.EventKey) ([]*models.Event, error)
}
