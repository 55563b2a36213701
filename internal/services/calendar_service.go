package services

import (
	"context"
	"time"

	"example.com/backstage/services/calendar/internal/cache"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/models"
	"example.com/backstage/services/calendar/internal/recurrence"
	"example.com/backstage/services/calendar/internal/repositories"
	"example.com/backstage/services/calendar/internal/search"
	"example.com/backstage/services/calendar/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// EventStore is the persistence the calendar reads and writes through
type EventStore interface {
	search.Store
	Get(ctx context.Context, key models.EventKey) (*models.Event, error)
	Update(ctx context.Context, ev *models.Event) error
	Delete(ctx context.Context, key models.EventKey) error
	NonRecurringOn(ctx context.Context, dates ...time.Time) ([]*models.Event, error)
	NonRecurringBetween(ctx context.Context, from, to time.Time) ([]*models.Event, error)
	RecurringCandidates(ctx context.Context, startedBy, activeOn time.Time) ([]*models.Event, error)
}

// IDAllocator inserts new events under freshly allocated date-scoped ids
type IDAllocator interface {
	Create(ctx context.Context, ev *models.Event, before func(tx *gorm.DB) error) error
	CreateBatch(ctx context.Context, events []*models.Event) error
}

// Notifier tells other replicas about committed writes
type Notifier interface {
	Publish(ctx context.Context, m models.Mutation) error
}

type noopNotifier struct{}

func (noopNotifier) Publish(context.Context, models.Mutation) error { return nil }

// SearchResult is the answer to a text search
type SearchResult struct {
	Results  []models.OccurrenceDTO `json:"results"`
	Degraded bool                   `json:"degraded"`
}

// CalendarService answers day, range and search queries and runs the post-commit work
// for every event write.
type CalendarService struct {
	store    EventStore
	alloc    IDAllocator
	expander *recurrence.Expander
	cache    *cache.Layer
	index    *search.Sync
	notifier Notifier
	tracer   tracing.Tracer
	metrics  *metrics.Metrics
	loc      *time.Location
	horizon  time.Duration
	origin   string
	now      func() time.Time
}

// Option configures a CalendarService
type Option func(*CalendarService)

// WithNotifier publishes committed writes through n
func WithNotifier(n Notifier) Option {
	return func(s *CalendarService) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithRecurrenceHorizon bounds new open-ended series. Zero keeps them indefinite.
func WithRecurrenceHorizon(d time.Duration) Option {
	return func(s *CalendarService) { s.horizon = d }
}

// WithOrigin sets the replica identity stamped on published mutations
func WithOrigin(origin string) Option {
	return func(s *CalendarService) { s.origin = origin }
}

// NewCalendarService creates the service. The calendar timezone is the expander's.
func NewCalendarService(
	store EventStore,
	alloc IDAllocator,
	expander *recurrence.Expander,
	layer *cache.Layer,
	index *search.Sync,
	tracer tracing.Tracer,
	m *metrics.Metrics,
	opts ...Option,
) *CalendarService {
	if tracer == nil {
		tracer = tracing.Disabled()
	}
	if m == nil {
		m = metrics.NewMetrics()
	}
	s := &CalendarService{
		store:    store,
		alloc:    alloc,
		expander: expander,
		cache:    layer,
		index:    index,
		notifier: noopNotifier{},
		tracer:   tracer,
		metrics:  m,
		loc:      expander.Location(),
		origin:   uuid.NewString(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Origin identifies this replica on the mutation bus
func (s *CalendarService) Origin() string {
	return s.origin
}

// Location is the calendar timezone
func (s *CalendarService) Location() *time.Location {
	return s.loc
}

// GetDay returns the occurrences on date (YYYY-MM-DD), including those carried over
// from the previous day that are still running at local midnight.
func (s *CalendarService) GetDay(ctx context.Context, date string) ([]models.OccurrenceDTO, error) {
	day, err := models.ParseDate(date)
	if err != nil {
		return nil, err
	}
	key := models.FormatDate(day)
	if cached, ok := s.cache.DayGet(ctx, key); ok {
		return cached, nil
	}

	defer s.tracer.StartSpan(ctx, "calendar.get_day").End()
	start := time.Now()
	occ, err := s.computeDay(ctx, day)
	s.metrics.RecordOutcome(metrics.QueryDay, err)
	if err != nil {
		s.tracer.RecordError(ctx, err)
		return nil, err
	}
	s.metrics.ObserveSince(metrics.QueryDay, start)

	dtos := models.ToDTOs(occ, false)
	s.cache.DayPut(ctx, key, dtos)
	return dtos, nil
}

func (s *CalendarService) computeDay(ctx context.Context, day time.Time) ([]models.Occurrence, error) {
	prev := day.AddDate(0, 0, -1)
	prevStart := models.DayStart(prev, s.loc)
	dayStart, dayEnd := models.DayBounds(day, s.loc)
	dayKey := models.FormatDate(day)

	singles, err := s.store.NonRecurringOn(ctx, prev, day)
	if err != nil {
		return nil, errors.Wrap(err, "load events for day")
	}
	series, err := s.store.RecurringCandidates(ctx, day, prev)
	if err != nil {
		return nil, errors.Wrap(err, "load recurring events for day")
	}

	var out []models.Occurrence
	for _, ev := range singles {
		if models.FormatDate(ev.ClusterDate) == dayKey || ev.End.After(dayStart) {
			out = append(out, models.Occurrence{Seed: ev, Start: ev.Start, End: ev.End})
		}
	}

	for _, ev := range series {
		instances, err := s.expander.Expand(ev, prevStart, dayEnd)
		if err != nil {
			return nil, errors.Wrapf(err, "expand %s", ev.Key())
		}
		for _, o := range instances {
			if !o.Start.Before(dayStart) || o.End.After(dayStart) {
				out = append(out, o)
			}
		}
	}

	models.SortOccurrences(out)
	return out, nil
}

// GetRange returns the occurrences in [start, end). Bounds are ISO dates or timestamps
// and the cache key is their literal text. Singular events are selected by cluster date
// with both ends inclusive; there is no carry-over.
func (s *CalendarService) GetRange(ctx context.Context, start, end string) ([]models.OccurrenceDTO, error) {
	windowStart, err := models.ParseInstant(start, s.loc)
	if err != nil {
		return nil, err
	}
	windowEnd, err := models.ParseInstant(end, s.loc)
	if err != nil {
		return nil, err
	}
	if !windowEnd.After(windowStart) {
		return nil, errs.Validationf("range end %q must be after start %q", end, start)
	}

	if cached, ok := s.cache.RangeGet(ctx, start, end); ok {
		return cached, nil
	}

	defer s.tracer.StartSpan(ctx, "calendar.get_range").End()
	began := time.Now()
	occ, err := s.computeRange(ctx, windowStart, windowEnd)
	s.metrics.RecordOutcome(metrics.QueryRange, err)
	if err != nil {
		s.tracer.RecordError(ctx, err)
		return nil, err
	}
	s.metrics.ObserveSince(metrics.QueryRange, began)

	dtos := models.ToDTOs(occ, true)
	s.cache.RangePut(ctx, start, end, dtos)
	return dtos, nil
}

func (s *CalendarService) computeRange(ctx context.Context, windowStart, windowEnd time.Time) ([]models.Occurrence, error) {
	from := models.DateOf(windowStart, s.loc)
	to := models.DateOf(windowEnd, s.loc)

	singles, err := s.store.NonRecurringBetween(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "load events for range")
	}
	series, err := s.store.RecurringCandidates(ctx, to, from)
	if err != nil {
		return nil, errors.Wrap(err, "load recurring events for range")
	}

	out := make([]models.Occurrence, 0, len(singles))
	for _, ev := range singles {
		out = append(out, models.Occurrence{Seed: ev, Start: ev.Start, End: ev.End})
	}
	expanded, err := s.expander.ExpandAll(series, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	out = append(out, expanded...)

	models.SortOccurrences(out)
	return out, nil
}

// Search runs a ranked text search, or the flagged substring fallback when the index is
// not usable
func (s *CalendarService) Search(ctx context.Context, query string) (SearchResult, error) {
	defer s.tracer.StartSpan(ctx, "calendar.search").End()

	res, err := s.index.Search(ctx, query)
	if err != nil {
		return SearchResult{}, err
	}
	out := SearchResult{Results: make([]models.OccurrenceDTO, 0, len(res.Events)), Degraded: res.Degraded}
	for _, ev := range res.Events {
		out.Results = append(out.Results, models.EventDTO(ev))
	}
	if res.Degraded {
		s.tracer.AddAttribute(ctx, "search.degraded", true)
	}
	return out, nil
}

// GetEvent loads one stored event
func (s *CalendarService) GetEvent(ctx context.Context, key models.EventKey) (*models.Event, error) {
	return s.store.Get(ctx, key)
}

// CreateEvent validates and stores a new event under the next id of its date
func (s *CalendarService) CreateEvent(ctx context.Context, in models.EventInput) (*models.Event, error) {
	ev, err := s.buildEvent(in)
	if err != nil {
		return nil, err
	}
	if err := s.alloc.Create(ctx, ev, nil); err != nil {
		return nil, errors.Wrap(err, "failed to create event")
	}

	log.Info().Str("event", ev.Key().String()).Bool("recurring", ev.IsRecurring).Msg("Event created")
	s.afterCommit(ctx, models.OpCreate, ev.Key(), ev)
	return ev, nil
}

// CreateEvents stores a batch in one transaction. Ids run consecutively per date in
// input order.
func (s *CalendarService) CreateEvents(ctx context.Context, inputs []models.EventInput) ([]*models.Event, error) {
	if len(inputs) == 0 {
		return nil, errs.Validationf("batch must contain at least one event")
	}
	events := make([]*models.Event, 0, len(inputs))
	for i, in := range inputs {
		ev, err := s.buildEvent(in)
		if err != nil {
			return nil, errors.Wrapf(err, "event %d", i)
		}
		events = append(events, ev)
	}
	if err := s.alloc.CreateBatch(ctx, events); err != nil {
		return nil, errors.Wrap(err, "failed to create events")
	}

	log.Info().Int("count", len(events)).Msg("Event batch created")
	s.invalidate(ctx)
	for _, ev := range events {
		s.syncIndex(ctx, models.OpCreate, ev.Key(), ev)
		s.publish(ctx, models.OpCreate, ev.Key())
	}
	return events, nil
}

// UpdateEvent replaces the event at key. When the new start falls on another date the
// event moves there and gets a new id; the returned event carries the new key.
func (s *CalendarService) UpdateEvent(ctx context.Context, key models.EventKey, in models.EventInput) (*models.Event, error) {
	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	ev, err := s.buildEvent(in)
	if err != nil {
		return nil, err
	}
	ev.CreatedAt = existing.CreatedAt

	if ev.ClusterDate.Equal(models.DateOf(existing.ClusterDate, time.UTC)) {
		ev.ID = existing.ID
		ev.ClusterDate = existing.ClusterDate
		if err := s.store.Update(ctx, ev); err != nil {
			return nil, errors.Wrap(err, "failed to update event")
		}
	} else {
		err := s.alloc.Create(ctx, ev, func(tx *gorm.DB) error {
			return repositories.DeleteTx(tx, key)
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to move event")
		}
		log.Info().Str("from", key.String()).Str("to", ev.Key().String()).Msg("Event moved to another date")
	}

	s.afterCommit(ctx, models.OpUpdate, key, ev)
	return ev, nil
}

// DeleteEvent removes the event at key
func (s *CalendarService) DeleteEvent(ctx context.Context, key models.EventKey) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	log.Info().Str("event", key.String()).Msg("Event deleted")
	s.afterCommit(ctx, models.OpDelete, key, nil)
	return nil
}

// NotifyMutated runs the post-commit work for a write another writer committed to the
// store: caches are cleared and the index is brought in line with the stored row.
func (s *CalendarService) NotifyMutated(ctx context.Context, key models.EventKey, op models.MutationOp) error {
	var ev *models.Event
	if op != models.OpDelete {
		var err error
		if ev, err = s.store.Get(ctx, key); err != nil {
			return err
		}
	}
	s.afterCommit(ctx, op, key, ev)
	return nil
}

// ApplyRemoteMutation drops the local caches for a write made on another replica. The
// writing replica already synced the index. Messages from this replica are ignored.
func (s *CalendarService) ApplyRemoteMutation(ctx context.Context, m models.Mutation) error {
	if m.Origin == s.origin {
		return nil
	}
	s.metrics.IncrementCounter(metrics.RemoteInvalidations)
	if err := s.cache.InvalidateAll(ctx); err != nil {
		return errors.Wrapf(err, "invalidate caches for remote %s of %s", m.Op, m.Key)
	}
	log.Debug().Str("event", m.Key.String()).Str("op", string(m.Op)).Str("origin", m.Origin).Msg("Caches cleared for remote write")
	return nil
}

// afterCommit clears both caches, mirrors the write into the index and tells the other
// replicas, in that order. Nothing here fails the write that already committed.
func (s *CalendarService) afterCommit(ctx context.Context, op models.MutationOp, previous models.EventKey, ev *models.Event) {
	s.invalidate(ctx)
	s.syncIndex(ctx, op, previous, ev)

	key := previous
	if ev != nil {
		key = ev.Key()
	}
	s.publish(ctx, op, key)
}

func (s *CalendarService) invalidate(ctx context.Context) {
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.metrics.RecordError(metrics.CacheInvalidation)
		log.Error().Err(err).Msg("Cache invalidation failed, cached views may be stale until their TTL")
	}
}

func (s *CalendarService) syncIndex(ctx context.Context, op models.MutationOp, previous models.EventKey, ev *models.Event) {
	var err error
	switch op {
	case models.OpCreate:
		err = s.index.OnCreate(ctx, ev)
	case models.OpUpdate:
		err = s.index.OnUpdate(ctx, previous, ev)
	case models.OpDelete:
		err = s.index.OnDelete(ctx, previous)
	}
	if err != nil {
		s.tracer.RecordError(ctx, err)
		log.Warn().Err(err).Str("event", previous.String()).Str("op", string(op)).Msg("Search index sync failed")
	}
}

func (s *CalendarService) publish(ctx context.Context, op models.MutationOp, key models.EventKey) {
	m := models.Mutation{Key: key, Op: op, Origin: s.origin, At: s.now().UTC()}
	if err := s.notifier.Publish(ctx, m); err != nil {
		log.Warn().Err(err).Str("event", key.String()).Msg("Failed to publish mutation, other replicas keep their caches until TTL")
	}
}

// CacheStats reports both caches
func (s *CalendarService) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.cache.Stats(ctx)
}

// ClearCache empties the selected caches
func (s *CalendarService) ClearCache(ctx context.Context, which cache.Which) error {
	return s.cache.Clear(ctx, which)
}

// ReconcileIndex checks index parity and rebuilds on drift
func (s *CalendarService) ReconcileIndex(ctx context.Context) (search.ReconcileReport, error) {
	defer s.tracer.StartSpan(ctx, "calendar.reconcile").End()
	return s.index.Reconcile(ctx)
}

// SearchHealthy reports whether searches are served from the index
func (s *CalendarService) SearchHealthy() bool {
	return s.index.Healthy()
}
