package repositories

import (
	"context"
	"strings"
	"time"

	"example.com/backstage/services/calendar/internal/database"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EventRepository provides access to event data
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
	timeout    time.Duration
}

// NewEventRepository creates a new event repository. timeout bounds every call,
// including the wait for a pooled connection.
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB, timeout time.Duration) *EventRepository {
	if readOnlyDB == nil {
		readOnlyDB = db
	}
	return &EventRepository{db: db, readOnlyDB: readOnlyDB, timeout: timeout}
}

func (r *EventRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func wrap(err error, msg string) error {
	return errors.Wrap(database.TranslateError(err), msg)
}

func byKey(db *gorm.DB, key models.EventKey) *gorm.DB {
	return db.Where("cluster_date = ? AND id = ?", key.ClusterDate, key.ID)
}

// Get loads one event from the primary so callers see their own writes
func (r *EventRepository) Get(ctx context.Context, key models.EventKey) (*models.Event, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ev models.Event
	if err := byKey(r.db.WithContext(ctx), key).Preload("Venue").First(&ev).Error; err != nil {
		return nil, wrap(err, "failed to get event "+key.String())
	}
	return &ev, nil
}

// Update overwrites every column of an existing event. The key never changes here;
// moving an event to another date is a delete plus an allocated insert.
func (r *EventRepository) Update(ctx context.Context, ev *models.Event) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res := r.db.WithContext(ctx).
		Model(ev).
		Select("*").
		Omit("ClusterDate", "ID", "CreatedAt", "Venue").
		Updates(ev)
	if res.Error != nil {
		return wrap(res.Error, "failed to update event "+ev.Key().String())
	}
	if res.RowsAffected == 0 {
		return errs.NotFoundf("event %s", ev.Key())
	}
	return nil
}

// Delete removes one event
func (r *EventRepository) Delete(ctx context.Context, key models.EventKey) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return DeleteTx(r.db.WithContext(ctx), key)
}

// DeleteTx removes one event inside an open transaction
func DeleteTx(tx *gorm.DB, key models.EventKey) error {
	res := byKey(tx, key).Delete(&models.Event{})
	if res.Error != nil {
		return wrap(res.Error, "failed to delete event "+key.String())
	}
	if res.RowsAffected == 0 {
		return errs.NotFoundf("event %s", key)
	}
	return nil
}

// NonRecurringOn returns the singular events whose cluster date is one of dates.
// The day and range caches are filled from these reads, so they go to the primary
// rather than a replica that may not yet have the write that just invalidated them.
func (r *EventRepository) NonRecurringOn(ctx context.Context, dates ...time.Time) ([]*models.Event, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var events []*models.Event
	err := r.db.WithContext(ctx).
		Preload("Venue").
		Where("is_recurring = ? AND cluster_date IN ?", false, dates).
		Order("start, cluster_date, id").
		Find(&events).Error
	if err != nil {
		return nil, wrap(err, "failed to get events by date")
	}
	return events, nil
}

// NonRecurringBetween returns the singular events with from <= cluster date <= to
func (r *EventRepository) NonRecurringBetween(ctx context.Context, from, to time.Time) ([]*models.Event, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var events []*models.Event
	err := r.db.WithContext(ctx).
		Preload("Venue").
		Where("is_recurring = ? AND cluster_date >= ? AND cluster_date <= ?", false, from, to).
		Order("start, cluster_date, id").
		Find(&events).Error
	if err != nil {
		return nil, wrap(err, "failed to get events in range")
	}
	return events, nil
}

// RecurringCandidates returns series that began on or before startedBy and have not
// ended before activeOn
func (r *EventRepository) RecurringCandidates(ctx context.Context, startedBy, activeOn time.Time) ([]*models.Event, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var events []*models.Event
	err := r.db.WithContext(ctx).
		Preload("Venue").
		Where("is_recurring = ? AND cluster_date <= ?", true, startedBy).
		Where("recurrence_until IS NULL OR recurrence_until >= ?", activeOn).
		Order("cluster_date, id").
		Find(&events).Error
	if err != nil {
		return nil, wrap(err, "failed to get recurring events")
	}
	return events, nil
}

// Count returns the number of stored events
func (r *EventRepository) Count(ctx context.Context) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int64
	if err := r.readOnlyDB.WithContext(ctx).Model(&models.Event{}).Count(&n).Error; err != nil {
		return 0, wrap(err, "failed to count events")
	}
	return n, nil
}

// EachBatch walks every event in key order, size rows at a time. Paging is keyset on
// (cluster_date, id) because ids repeat across dates.
func (r *EventRepository) EachBatch(ctx context.Context, size int, fn func([]*models.Event) error) error {
	if size < 1 {
		size = 1000
	}

	var last *models.EventKey
	for {
		batch, err := r.page(ctx, last, size)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < size {
			return nil
		}
		k := batch[len(batch)-1].Key()
		last = &k
	}
}

func (r *EventRepository) page(ctx context.Context, after *models.EventKey, size int) ([]*models.Event, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	q := r.readOnlyDB.WithContext(ctx).Order("cluster_date, id").Limit(size)
	if after != nil {
		q = q.Where("cluster_date > ? OR (cluster_date = ? AND id > ?)", after.ClusterDate, after.ClusterDate, after.ID)
	}

	var batch []*models.Event
	if err := q.Find(&batch).Error; err != nil {
		return nil, wrap(err, "failed to page events")
	}
	return batch, nil
}

// SearchText is the unranked fallback: a case-insensitive substring match on title
// and description.
func (r *EventRepository) SearchText(ctx context.Context, query string, limit int) ([]*models.Event, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	var events []*models.Event
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Venue").
		Where(`LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("cluster_date, id").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, wrap(err, "failed to search events")
	}
	return events, nil
}

// GetByKeys loads the events for keys. Missing keys are skipped; order is not kept.
func (r *EventRepository) GetByKeys(ctx context.Context, keys []models.EventKey) ([]*models.Event, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var dates []time.Time
	ids := make(map[time.Time][]int64)
	for _, k := range keys {
		d := k.ClusterDate.UTC()
		if _, ok := ids[d]; !ok {
			dates = append(dates, d)
		}
		ids[d] = append(ids[d], k.ID)
	}

	clauses := make([]string, 0, len(dates))
	args := make([]interface{}, 0, 2*len(dates))
	for _, d := range dates {
		clauses = append(clauses, "(cluster_date = ? AND id IN ?)")
		args = append(args, d, ids[d])
	}

	var events []*models.Event
	err := r.readOnlyDB.WithContext(ctx).
		Preload("Venue").
		Where(strings.Join(clauses, " OR "), args...).
		Find(&events).Error
	if err != nil {
		return nil, wrap(err, "failed to get events by key")
	}
	return events, nil
}
