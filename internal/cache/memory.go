package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"example.com/backstage/services/calendar/internal/models"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

type memoryEntry struct {
	value    []models.OccurrenceDTO
	storedAt time.Time
}

// MemoryStore is a process-local LRU with lazy TTL expiry
type MemoryStore struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, memoryEntry]
	capacity int
	ttl      time.Duration
	clock    clockwork.Clock
	onEvict  func()
}

// NewMemoryStore creates a store holding at most capacity entries for ttl each.
// A zero ttl keeps entries until they are evicted or cleared.
func NewMemoryStore(capacity int, ttl time.Duration, clock clockwork.Clock) (*MemoryStore, error) {
	if capacity < 1 {
		return nil, errors.Errorf("cache capacity must be positive, got %d", capacity)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	lru, err := simplelru.NewLRU[string, memoryEntry](capacity, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create lru")
	}
	return &MemoryStore{lru: lru, capacity: capacity, ttl: ttl, clock: clock}, nil
}

// OnEvict registers a callback for capacity evictions
func (s *MemoryStore) OnEvict(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Get returns a copy of the cached value for key. Expired entries count as misses.
func (s *MemoryStore) Get(_ context.Context, key string) ([]models.OccurrenceDTO, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if s.expired(e) {
		s.lru.Remove(key)
		return nil, false, nil
	}
	return slices.Clone(e.value), true, nil
}

// Set stores a copy of value, evicting the least recently used entry when full
func (s *MemoryStore) Set(_ context.Context, key string, value []models.OccurrenceDTO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lru.Add(key, memoryEntry{value: slices.Clone(value), storedAt: s.clock.Now()}) && s.onEvict != nil {
		s.onEvict()
	}
	return nil
}

// Clear removes every entry
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
	return nil
}

// Len returns the number of stored entries, expired ones included until touched
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len(), nil
}

// Keys returns up to limit keys, most recently used first. A limit of 0 returns all.
func (s *MemoryStore) Keys(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	keys := s.lru.Keys()
	s.mu.Unlock()

	// simplelru lists oldest first
	slices.Reverse(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	return keys, nil
}

// Capacity returns the maximum number of entries
func (s *MemoryStore) Capacity() int { return s.capacity }

// TTL returns the lifetime of an entry
func (s *MemoryStore) TTL() time.Duration { return s.ttl }

func (s *MemoryStore) expired(e memoryEntry) bool {
	return s.ttl > 0 && s.clock.Since(e.storedAt) >= s.ttl
}
