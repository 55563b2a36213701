package search

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HealthComponent is the metrics health check name of the search index
const HealthComponent = "search_index"

// Result is a search answer. Degraded is set when the events came from the unranked
// substring fallback instead of the index.
type Result struct {
	Events   []*models.Event
	Degraded bool
}

// ReconcileReport describes one reconcile run
type ReconcileReport struct {
	StoreCount int64 `json:"store_count"`
	IndexCount int64 `json:"index_count"`
	Rebuilt    bool  `json:"rebuilt"`
	Degraded   bool  `json:"degraded"`
}

// Options tune Sync. Zero values fall back to the defaults of the search config.
type Options struct {
	ResultCap      int
	BatchSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// OptionsFrom converts the search config section
func OptionsFrom(cfg config.SearchConfig) Options {
	return Options{
		ResultCap:      cfg.ResultCap,
		BatchSize:      cfg.BatchSize,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.ResultCap <= 0 {
		o.ResultCap = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff < o.InitialBackoff {
		o.MaxBackoff = o.InitialBackoff
	}
	return o
}

// Sync keeps the index in step with the store. Write hooks run after commit and only
// log on failure; a failed hook marks the index unhealthy and searches stay on the
// substring fallback until a reconcile rebuilds it.
type Sync struct {
	index   Index
	store   Store
	opts    Options
	metrics *metrics.Metrics
	healthy atomic.Bool
}

// NewSync creates a sync over index and store. index may be nil, in which case every
// search is degraded and reconcile reports the index as unavailable.
func NewSync(index Index, store Store, opts Options, m *metrics.Metrics) *Sync {
	if m == nil {
		m = metrics.NewMetrics()
	}
	s := &Sync{index: index, store: store, opts: opts.withDefaults(), metrics: m}
	s.setHealthy(index != nil)
	return s
}

// Healthy reports whether searches currently use the index
func (s *Sync) Healthy() bool {
	return s.healthy.Load()
}

func (s *Sync) setHealthy(ok bool) {
	s.healthy.Store(ok)
	s.metrics.SetHealth(HealthComponent, ok)
}

func (s *Sync) markUnhealthy(err error, msg string) {
	if s.healthy.Swap(false) {
		log.Warn().Err(err).Msg(msg + ", continuing with substring search until the index is rebuilt")
	}
	s.metrics.SetHealth(HealthComponent, false)
}

// OnCreate mirrors a committed insert
func (s *Sync) OnCreate(ctx context.Context, ev *models.Event) error {
	return s.upsert(ctx, ev)
}

// OnUpdate mirrors a committed update. previous is the key before the write; when the
// event moved to another date the old document is removed first.
func (s *Sync) OnUpdate(ctx context.Context, previous models.EventKey, ev *models.Event) error {
	if previous != ev.Key() {
		if err := s.OnDelete(ctx, previous); err != nil {
			return err
		}
	}
	return s.upsert(ctx, ev)
}

// OnDelete mirrors a committed delete
func (s *Sync) OnDelete(ctx context.Context, key models.EventKey) error {
	if s.index == nil {
		return nil
	}
	err := s.index.Delete(ctx, key)
	s.metrics.RecordOutcome(metrics.IndexSync, err)
	if err != nil {
		s.markUnhealthy(err, "Search index delete failed")
		return errors.Wrapf(err, "index delete %s", key)
	}
	return nil
}

func (s *Sync) upsert(ctx context.Context, ev *models.Event) error {
	if s.index == nil {
		return nil
	}
	err := s.index.Upsert(ctx, DocumentOf(ev))
	s.metrics.RecordOutcome(metrics.IndexSync, err)
	if err != nil {
		s.markUnhealthy(err, "Search index write failed")
		return errors.Wrapf(err, "index upsert %s", ev.Key())
	}
	return nil
}

// Search returns up to the result cap of events matching query, best first. When the
// index is unhealthy or the query fails, it answers from the store by case-insensitive
// substring and flags the result as degraded.
func (s *Sync) Search(ctx context.Context, query string) (Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return Result{}, errs.Validationf("search query must not be empty")
	}

	if s.index != nil && s.Healthy() {
		start := time.Now()
		keys, err := s.index.Search(ctx, q, s.opts.ResultCap)
		if err == nil {
			events, err := s.ranked(ctx, keys)
			if err != nil {
				return Result{}, err
			}
			s.metrics.IncrementCounter(metrics.SearchRanked)
			s.metrics.ObserveSince(metrics.SearchRanked, start)
			return Result{Events: events}, nil
		}
		s.markUnhealthy(err, "Search index query failed")
	}

	events, err := s.store.SearchText(ctx, q, s.opts.ResultCap)
	if err != nil {
		return Result{}, errors.Wrap(err, "substring search")
	}
	s.metrics.IncrementCounter(metrics.SearchDegraded)
	return Result{Events: events, Degraded: true}, nil
}

// ranked loads the events for keys and keeps the index order. Keys the store no longer
// has are dropped.
func (s *Sync) ranked(ctx context.Context, keys []models.EventKey) ([]*models.Event, error) {
	found, err := s.store.GetByKeys(ctx, keys)
	if err != nil {
		return nil, errors.Wrap(err, "load ranked events")
	}
	byKey := make(map[models.EventKey]*models.Event, len(found))
	for _, ev := range found {
		byKey[normalize(ev.Key())] = ev
	}

	out := make([]*models.Event, 0, len(keys))
	for _, k := range keys {
		if ev, ok := byKey[normalize(k)]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// normalize makes keys from the store and from the index comparable with ==
func normalize(k models.EventKey) models.EventKey {
	return models.EventKey{ClusterDate: models.DateOf(k.ClusterDate, time.UTC), ID: k.ID}
}

// Reconcile compares index and store counts and rebuilds the index when they differ or
// the index has been marked unhealthy. Rebuild failures are retried with exponential
// backoff; when retries run out the index stays unhealthy and the error is returned.
func (s *Sync) Reconcile(ctx context.Context) (ReconcileReport, error) {
	start := time.Now()
	defer s.metrics.ObserveSince(metrics.IndexReconcile, start)

	storeCount, err := s.store.Count(ctx)
	if err != nil {
		s.metrics.RecordError(metrics.IndexReconcile)
		return ReconcileReport{}, errors.Wrap(err, "count store events")
	}
	report := ReconcileReport{StoreCount: storeCount}

	if s.index == nil {
		report.Degraded = true
		s.metrics.RecordError(metrics.IndexReconcile)
		return report, errs.IndexUnavailable(nil, "search index is not configured")
	}

	indexCount, err := s.index.Count(ctx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Search index count failed, rebuilding")
	case indexCount != storeCount:
		log.Warn().Int64("store", storeCount).Int64("index", indexCount).Msg("Search index drifted from store, rebuilding")
	case !s.Healthy():
		log.Info().Msg("Search index was marked unhealthy, rebuilding")
	default:
		report.IndexCount = indexCount
		s.metrics.RecordSuccess(metrics.IndexReconcile)
		return report, nil
	}

	report.Rebuilt = true
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.MaxRetries)), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		counts, err := s.rebuild(ctx)
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt).Msg("Search index rebuild failed")
			return err
		}
		report.StoreCount, report.IndexCount = counts[0], counts[1]
		return nil
	}, policy)

	s.metrics.IncrementCounter(metrics.IndexRebuild)
	if err != nil {
		s.markUnhealthy(err, "Search index rebuild gave up")
		s.metrics.RecordError(metrics.IndexReconcile)
		report.Degraded = true
		return report, errs.IndexUnavailable(err, "rebuild search index")
	}

	s.setHealthy(true)
	s.metrics.RecordSuccess(metrics.IndexReconcile)
	log.Info().
		Int64("documents", report.IndexCount).
		Int("attempts", attempt).
		Dur("elapsed", time.Since(start)).
		Msg("Search index rebuilt")
	return report, nil
}

// rebuild drops the index and repopulates it from the store in batches. It returns the
// store and index counts after the load, and fails when they differ.
func (s *Sync) rebuild(ctx context.Context) ([2]int64, error) {
	if err := s.index.Reset(ctx); err != nil {
		return [2]int64{}, err
	}

	err := s.store.EachBatch(ctx, s.opts.BatchSize, func(events []*models.Event) error {
		docs := make([]Document, 0, len(events))
		for _, ev := range events {
			docs = append(docs, DocumentOf(ev))
		}
		return s.index.BulkUpsert(ctx, docs)
	})
	if err != nil {
		return [2]int64{}, errors.Wrap(err, "repopulate index")
	}

	storeCount, err := s.store.Count(ctx)
	if err != nil {
		return [2]int64{}, backoff.Permanent(errors.Wrap(err, "count store events"))
	}
	indexCount, err := s.index.Count(ctx)
	if err != nil {
		return [2]int64{}, err
	}
	if storeCount != indexCount {
		return [2]int64{}, errors.Errorf("index holds %d documents, store %d", indexCount, storeCount)
	}
	return [2]int64{storeCount, indexCount}, nil
}
