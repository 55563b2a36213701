package cache

import (
	"context"

	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// statsKeyLimit caps the keys listed by Stats
const statsKeyLimit = 20

// Which selects one or both caches
type Which string

// Cache selectors
const (
	Day   Which = "day"
	Range Which = "range"
	All   Which = "all"
)

// ParseWhich validates a cache selector; empty means All
func ParseWhich(s string) (Which, error) {
	switch w := Which(s); w {
	case Day, Range, All:
		return w, nil
	case "":
		return All, nil
	}
	return "", errs.Validationf("unknown cache %q, expected day, range or all", s)
}

// TierStats describes one cache for operational tooling
type TierStats struct {
	Size       int      `json:"size"`
	Capacity   int      `json:"capacity"`
	TTLSeconds int64    `json:"ttl_seconds"`
	Keys       []string `json:"keys"`
}

// Stats covers both caches
type Stats struct {
	Day   TierStats `json:"day"`
	Range TierStats `json:"range"`
}

// Layer fronts the day and range caches. Store failures degrade to misses so a broken
// cache backend never fails a query.
type Layer struct {
	day     Store
	rng     Store
	metrics *metrics.Metrics
}

// NewLayer creates a cache layer over two independent stores
func NewLayer(day, rng Store, m *metrics.Metrics) *Layer {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Layer{day: day, rng: rng, metrics: m}
}

// DayKey is the ISO date
func DayKey(date string) string {
	return date
}

// RangeKey joins the two bounds exactly as given. Equal ranges spelled differently
// are different keys.
func RangeKey(start, end string) string {
	return start + "_" + end
}

// DayGet looks up the occurrences cached for date
func (l *Layer) DayGet(ctx context.Context, date string) ([]models.OccurrenceDTO, bool) {
	return l.get(ctx, l.day, Day, DayKey(date))
}

// DayPut caches the occurrences for date
func (l *Layer) DayPut(ctx context.Context, date string, occ []models.OccurrenceDTO) {
	l.put(ctx, l.day, Day, DayKey(date), occ)
}

// RangeGet looks up the occurrences cached for [start, end)
func (l *Layer) RangeGet(ctx context.Context, start, end string) ([]models.OccurrenceDTO, bool) {
	return l.get(ctx, l.rng, Range, RangeKey(start, end))
}

// RangePut caches the occurrences for [start, end)
func (l *Layer) RangePut(ctx context.Context, start, end string, occ []models.OccurrenceDTO) {
	l.put(ctx, l.rng, Range, RangeKey(start, end), occ)
}

func (l *Layer) get(ctx context.Context, s Store, which Which, key string) ([]models.OccurrenceDTO, bool) {
	value, ok, err := s.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("cache", string(which)).Str("key", key).Msg("Cache read failed, treating as miss")
		l.metrics.RecordError("cache_" + string(which))
		ok = false
	}
	if ok {
		l.metrics.IncrementCounter(metrics.CacheHit + "_" + string(which))
		return value, true
	}
	l.metrics.IncrementCounter(metrics.CacheMiss + "_" + string(which))
	return nil, false
}

func (l *Layer) put(ctx context.Context, s Store, which Which, key string, occ []models.OccurrenceDTO) {
	if err := s.Set(ctx, key, occ); err != nil {
		log.Warn().Err(err).Str("cache", string(which)).Str("key", key).Msg("Cache write failed")
		l.metrics.RecordError("cache_" + string(which))
	}
}

// InvalidateAll clears both caches. Called after every event write.
func (l *Layer) InvalidateAll(ctx context.Context) error {
	l.metrics.IncrementCounter(metrics.CacheInvalidation)
	return l.Clear(ctx, All)
}

// Clear empties the selected caches. Both are attempted even if the first fails.
func (l *Layer) Clear(ctx context.Context, which Which) error {
	var firstErr error
	if which == Day || which == All {
		if err := l.day.Clear(ctx); err != nil {
			firstErr = errors.Wrap(err, "clear day cache")
		}
	}
	if which == Range || which == All {
		if err := l.rng.Clear(ctx); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "clear range cache")
		}
	}
	return firstErr
}

// Stats reports size, capacity, TTL and the most recent keys of both caches
func (l *Layer) Stats(ctx context.Context) (Stats, error) {
	day, err := tierStats(ctx, l.day)
	if err != nil {
		return Stats{}, errors.Wrap(err, "day cache stats")
	}
	rng, err := tierStats(ctx, l.rng)
	if err != nil {
		return Stats{}, errors.Wrap(err, "range cache stats")
	}
	return Stats{Day: day, Range: rng}, nil
}

func tierStats(ctx context.Context, s Store) (TierStats, error) {
	size, err := s.Len(ctx)
	if err != nil {
		return TierStats{}, err
	}
	keys, err := s.Keys(ctx, statsKeyLimit)
	if err != nil {
		return TierStats{}, err
	}
	return TierStats{
		Size:       size,
		Capacity:   s.Capacity(),
		TTLSeconds: int64(s.TTL().Seconds()),
		Keys:       keys,
	}, nil
}
