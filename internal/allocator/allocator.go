// Package allocator hands out date-scoped event ids. Ids restart at 1 on every
// cluster date, so rows for one day sit together in the primary key.
package allocator

import (
	"context"
	"sort"
	"time"

	"example.com/backstage/services/calendar/internal/database"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// lockNamespace is the first key of the two-key postgres advisory lock
const lockNamespace int32 = 0x43414c

// Allocator assigns ids and inserts events under the same transaction
type Allocator struct {
	db         *gorm.DB
	maxRetries int
	timeout    time.Duration
	metrics    *metrics.Metrics
}

// NewAllocator creates an allocator. maxRetries bounds how often a conflicting insert
// is retried; timeout bounds each attempt including waiting for a pooled connection.
func NewAllocator(db *gorm.DB, maxRetries int, timeout time.Duration, m *metrics.Metrics) *Allocator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Allocator{db: db, maxRetries: maxRetries, timeout: timeout, metrics: m}
}

// NextID locks clusterDate for the rest of tx and returns max(id)+1, or 1 when the
// date is empty. Must be called inside a transaction that then inserts the row.
func (a *Allocator) NextID(tx *gorm.DB, clusterDate time.Time) (int64, error) {
	if err := lockDate(tx, clusterDate); err != nil {
		return 0, err
	}
	max, err := maxID(tx, clusterDate)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// NextIDs assigns ids in place. Events are grouped by cluster date and each group gets
// a consecutive run in input order, with one lock and one max query per date.
func (a *Allocator) NextIDs(tx *gorm.DB, events []*models.Event) error {
	order, groups := groupByDate(events)
	for _, d := range order {
		next, err := a.NextID(tx, d)
		if err != nil {
			return err
		}
		for _, ev := range groups[d] {
			ev.ID = next
			next++
		}
	}
	return nil
}

// groupByDate returns the distinct cluster dates in ascending order. Date locks are
// always taken in that order so two batches over the same dates cannot deadlock.
func groupByDate(events []*models.Event) ([]time.Time, map[time.Time][]*models.Event) {
	order := make([]time.Time, 0)
	groups := make(map[time.Time][]*models.Event)
	for _, ev := range events {
		d := ev.ClusterDate.UTC()
		if _, ok := groups[d]; !ok {
			order = append(order, d)
		}
		groups[d] = append(groups[d], ev)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	return order, groups
}

// Create allocates an id for ev and inserts it. before, when set, runs first in the
// same transaction; moving an event to another date uses it to drop the old row.
// Conflicts are retried with a fresh id.
func (a *Allocator) Create(ctx context.Context, ev *models.Event, before func(tx *gorm.DB) error) error {
	return a.withRetry(ctx, "create event", func(tx *gorm.DB) error {
		if before != nil {
			if err := before(tx); err != nil {
				return err
			}
		}
		id, err := a.NextID(tx, ev.ClusterDate)
		if err != nil {
			return err
		}
		ev.ID = id
		return tx.Create(ev).Error
	})
}

// CreateBatch allocates ids for all events and inserts them in one transaction
func (a *Allocator) CreateBatch(ctx context.Context, events []*models.Event) error {
	if len(events) == 0 {
		return nil
	}
	return a.withRetry(ctx, "create events", func(tx *gorm.DB) error {
		if err := a.NextIDs(tx, events); err != nil {
			return err
		}
		return tx.CreateInBatches(events, 100).Error
	})
}

func (a *Allocator) withRetry(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		err := a.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !errs.IsConflict(err) {
			return errors.Wrap(err, op)
		}
		lastErr = err
		if a.metrics != nil {
			a.metrics.IncrementCounter(metrics.AllocationRetry)
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Str("op", op).Msg("Id collision, retrying allocation")
	}
	return errors.Wrapf(lastErr, "%s: gave up after %d attempts", op, a.maxRetries+1)
}

func (a *Allocator) attempt(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return database.TranslateError(a.db.WithContext(ctx).Transaction(fn))
}

func lockDate(tx *gorm.DB, clusterDate time.Time) error {
	if !database.IsPostgres(tx) {
		// sqlite runs on a single connection, so transactions are already serial
		return nil
	}
	day := int32(clusterDate.UTC().Unix() / 86400)
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", lockNamespace, day).Error; err != nil {
		return errors.Wrapf(err, "lock cluster date %s", models.FormatDate(clusterDate))
	}
	return nil
}

func maxID(tx *gorm.DB, clusterDate time.Time) (int64, error) {
	var max int64
	err := tx.Model(&models.Event{}).
		Where("cluster_date = ?", clusterDate).
		Select("COALESCE(MAX(id), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, errors.Wrapf(err, "read max id for %s", models.FormatDate(clusterDate))
	}
	return max, nil
}
