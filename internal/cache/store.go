// Package cache holds the materialised day and range results. Entries are whole
// occurrence lists keyed by literal ISO strings; any event write clears everything.
package cache

import (
	"context"
	"time"

	"example.com/backstage/services/calendar/internal/models"
)

// Store is one bounded, TTL-limited cache of occurrence lists
type Store interface {
	// Get returns the entry and true on a hit. Expired entries are misses.
	Get(ctx context.Context, key string) ([]models.OccurrenceDTO, bool, error)
	// Set stores value, evicting the least recently used entry when full
	Set(ctx context.Context, key string, value []models.OccurrenceDTO) error
	// Clear drops every entry
	Clear(ctx context.Context) error
	// Len is the number of live entries
	Len(ctx context.Context) (int, error)
	// Keys lists up to limit keys, most recently used first
	Keys(ctx context.Context, limit int) ([]string, error)
	Capacity() int
	TTL() time.Duration
}
