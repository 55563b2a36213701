package cache

import (
	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

// Backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// NewStores builds the day and range stores for the configured backend. The redis
// backend needs a connected client.
func NewStores(cfg config.CacheConfig, client *redis.Client, prefix string, m *metrics.Metrics) (Store, Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		if client == nil {
			return nil, nil, errors.New("redis cache backend selected but no redis client is available")
		}
		day, err := NewRedisStore(client, prefix+":day", cfg.Day.Capacity, cfg.Day.TTL, nil)
		if err != nil {
			return nil, nil, err
		}
		rng, err := NewRedisStore(client, prefix+":range", cfg.Range.Capacity, cfg.Range.TTL, nil)
		if err != nil {
			return nil, nil, err
		}
		return day, rng, nil
	case BackendMemory, "":
		return NewMemoryStores(cfg, clockwork.NewRealClock(), m)
	}
	return nil, nil, errors.Errorf("unknown cache backend %q", cfg.Backend)
}

// NewMemoryStores builds process-local stores on the given clock
func NewMemoryStores(cfg config.CacheConfig, clock clockwork.Clock, m *metrics.Metrics) (Store, Store, error) {
	day, err := NewMemoryStore(cfg.Day.Capacity, cfg.Day.TTL, clock)
	if err != nil {
		return nil, nil, errors.Wrap(err, "day cache")
	}
	rng, err := NewMemoryStore(cfg.Range.Capacity, cfg.Range.TTL, clock)
	if err != nil {
		return nil, nil, errors.Wrap(err, "range cache")
	}
	if m != nil {
		day.OnEvict(func() { m.IncrementCounter(metrics.CacheEviction + "_day") })
		rng.OnEvict(func() { m.IncrementCounter(metrics.CacheEviction + "_range") })
	}
	return day, rng, nil
}
