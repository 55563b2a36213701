package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/allocator"
	"example.com/backstage/services/calendar/internal/cache"
	"example.com/backstage/services/calendar/internal/database"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/metrics"
	"example.com/backstage/services/calendar/internal/models"
	"example.com/backstage/services/calendar/internal/recurrence"
	"example.com/backstage/services/calendar/internal/repositories"
	"example.com/backstage/services/calendar/internal/search"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memIndex struct {
	mu         sync.Mutex
	docs       map[string]search.Document
	missing    bool
	failWrites bool
}

func (x *memIndex) EnsureIndex(context.Context) error { return nil }

func (x *memIndex) Upsert(_ context.Context, doc search.Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.failWrites {
		return errs.IndexUnavailable(nil, "upsert")
	}
	x.docs[doc.Key] = doc
	return nil
}

func (x *memIndex) Delete(_ context.Context, key models.EventKey) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.failWrites {
		return errs.IndexUnavailable(nil, "delete")
	}
	delete(x.docs, key.String())
	return nil
}

func (x *memIndex) BulkUpsert(_ context.Context, docs []search.Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, d := range docs {
		x.docs[d.Key] = d
	}
	return nil
}

func (x *memIndex) Search(_ context.Context, query string, limit int) ([]models.EventKey, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.missing {
		return nil, errs.IndexUnavailable(nil, "no such index")
	}
	var ids []string
	for k, d := range x.docs {
		if strings.Contains(strings.ToLower(d.Title), strings.ToLower(query)) {
			ids = append(ids, k)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	var keys []models.EventKey
	for _, id := range ids {
		if len(keys) == limit {
			break
		}
		k, _ := models.ParseEventKey(id)
		keys = append(keys, k)
	}
	return keys, nil
}

func (x *memIndex) Count(context.Context) (int64, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return int64(len(x.docs)), nil
}

func (x *memIndex) Reset(context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.missing = false
	x.docs = make(map[string]search.Document)
	return nil
}

func (x *memIndex) has(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	_, ok := x.docs[key]
	return ok
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Mutation
}

func (n *recordingNotifier) Publish(_ context.Context, m models.Mutation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

func (n *recordingNotifier) ops() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, string(m.Op)+" "+m.Key.String())
	}
	return out
}

type fixture struct {
	svc      *CalendarService
	db       *gorm.DB
	index    *memIndex
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	m := metrics.NewMetrics()
	db, err := database.Connect(config.DatabaseConfig{Driver: database.DriverSQLite, DSN: dsn, AcquireTimeout: 5 * time.Second}, m)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	repo := repositories.NewEventRepository(db, nil, 5*time.Second)
	day, rng, err := cache.NewMemoryStores(config.CacheConfig{
		Day:   config.CacheTier{Capacity: 100, TTL: time.Hour},
		Range: config.CacheTier{Capacity: 100, TTL: time.Hour},
	}, clockwork.NewFakeClock(), m)
	require.NoError(t, err)

	idx := &memIndex{docs: make(map[string]search.Document)}
	notifier := &recordingNotifier{}
	indexSync := search.NewSync(idx, repo, search.Options{MaxRetries: 1, InitialBackoff: time.Millisecond}, m)

	opts = append([]Option{WithNotifier(notifier), WithOrigin("replica-a"), WithRecurrenceHorizon(2 * 365 * 24 * time.Hour)}, opts...)
	svc := NewCalendarService(
		repo,
		allocator.NewAllocator(db, 3, 5*time.Second, m),
		recurrence.NewExpander(time.UTC, 0),
		cache.NewLayer(day, rng, m),
		indexSync,
		nil,
		m,
		opts...,
	)
	return &fixture{svc: svc, db: db, index: idx, notifier: notifier, metrics: m}
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func input(title, start, end string) models.EventInput {
	return models.EventInput{Title: title, Start: at(start), End: at(end)}
}

func recurring(title, start, end, rule string) models.EventInput {
	in := input(title, start, end)
	in.RecurrenceRule = rule
	return in
}

func titles(dtos []models.OccurrenceDTO) []string {
	out := make([]string, 0, len(dtos))
	for _, d := range dtos {
		out = append(out, d.Title)
	}
	return out
}

func key(s string) models.EventKey {
	k, err := models.ParseEventKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

func TestGetDayIncludesOvernightCarryOver(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvent(ctx, input("Late show", "2025-03-10T22:00:00Z", "2025-03-11T02:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.CreateEvent(ctx, input("Evening talk", "2025-03-10T18:00:00Z", "2025-03-10T20:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.CreateEvent(ctx, input("Breakfast", "2025-03-11T08:00:00Z", "2025-03-11T09:00:00Z"))
	require.NoError(t, err)

	day, err := f.svc.GetDay(ctx, "2025-03-11")
	require.NoError(t, err)
	assert.Equal(t, []string{"Late show", "Breakfast"}, titles(day))
	assert.Equal(t, "2025-03-10", day[0].ClusterDate)
	assert.Empty(t, day[0].Color)

	day, err = f.svc.GetDay(ctx, "2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"Evening talk", "Late show"}, titles(day))

	day, err = f.svc.GetDay(ctx, "2025-03-12")
	require.NoError(t, err)
	assert.Empty(t, day)
}

func TestGetDayCarriesOverRecurringInstances(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvent(ctx, recurring("Night shift", "2025-03-01T23:00:00Z", "2025-03-02T01:00:00Z", "FREQ=DAILY"))
	require.NoError(t, err)
	_, err = f.svc.CreateEvent(ctx, recurring("Standup", "2025-03-03T09:00:00Z", "2025-03-03T09:15:00Z", "FREQ=WEEKLY;BYDAY=MO,WE"))
	require.NoError(t, err)

	day, err := f.svc.GetDay(ctx, "2025-03-05")
	require.NoError(t, err)
	require.Len(t, day, 3)
	assert.Equal(t, at("2025-03-04T23:00:00Z"), day[0].Start.UTC())
	assert.Equal(t, "Standup", day[1].Title)
	assert.Equal(t, at("2025-03-05T23:00:00Z"), day[2].Start.UTC())
	for _, d := range day {
		assert.True(t, d.IsRecurring)
	}

	// nothing carries over from before the series starts
	day, err = f.svc.GetDay(ctx, "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"Night shift"}, titles(day))
}

func TestGetDayHonoursRecurrenceUntil(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	in := recurring("Night shift", "2025-03-01T23:00:00Z", "2025-03-02T01:00:00Z", "FREQ=DAILY")
	in.RecurrenceUntil = "2025-03-04"
	_, err := f.svc.CreateEvent(ctx, in)
	require.NoError(t, err)

	day, err := f.svc.GetDay(ctx, "2025-03-05")
	require.NoError(t, err)
	require.Len(t, day, 1)
	assert.Equal(t, at("2025-03-04T23:00:00Z"), day[0].Start.UTC())

	day, err = f.svc.GetDay(ctx, "2025-03-06")
	require.NoError(t, err)
	assert.Empty(t, day)
}

func TestGetRangeExpandsWeeklySeries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	in := recurring("Planning", "2025-01-06T10:00:00Z", "2025-01-06T11:00:00Z", "FREQ=WEEKLY")
	in.Color = "#ff0000"
	_, err := f.svc.CreateEvent(ctx, in)
	require.NoError(t, err)

	got, err := f.svc.GetRange(ctx, "2025-01-01", "2025-01-31")
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i, day := range []int{6, 13, 20, 27} {
		assert.Equal(t, time.Date(2025, 1, day, 10, 0, 0, 0, time.UTC), got[i].Start.UTC())
		assert.Equal(t, time.Hour, got[i].End.Sub(got[i].Start))
		assert.Equal(t, "#ff0000", got[i].Color)
	}
}

func TestGetRangeHasNoCarryOver(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvent(ctx, input("Late show", "2025-03-10T22:00:00Z", "2025-03-11T02:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.CreateEvent(ctx, input("Closing day", "2025-03-12T15:00:00Z", "2025-03-12T16:00:00Z"))
	require.NoError(t, err)

	got, err := f.svc.GetRange(ctx, "2025-03-11", "2025-03-12")
	require.NoError(t, err)
	// singular events match on cluster date with an inclusive end date
	assert.Equal(t, []string{"Closing day"}, titles(got))

	day, err := f.svc.GetDay(ctx, "2025-03-11")
	require.NoError(t, err)
	assert.Equal(t, []string{"Late show"}, titles(day))
}

func TestRangeRecomputesAfterUpdate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ev, err := f.svc.CreateEvent(ctx, input("Old title", "2025-01-03T12:00:00Z", "2025-01-03T13:00:00Z"))
	require.NoError(t, err)

	first, err := f.svc.GetRange(ctx, "2025-01-01", "2025-01-07")
	require.NoError(t, err)
	assert.Equal(t, []string{"Old title"}, titles(first))

	_, err = f.svc.UpdateEvent(ctx, ev.Key(), input("New title", "2025-01-03T12:00:00Z", "2025-01-03T13:00:00Z"))
	require.NoError(t, err)

	stats, err := f.svc.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Range.Size)

	second, err := f.svc.GetRange(ctx, "2025-01-01", "2025-01-07")
	require.NoError(t, err)
	assert.Equal(t, []string{"New title"}, titles(second))
}

func TestQueriesAreCachedUntilNotified(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvent(ctx, input("Known", "2025-05-01T10:00:00Z", "2025-05-01T11:00:00Z"))
	require.NoError(t, err)

	_, err = f.svc.GetDay(ctx, "2025-05-01")
	require.NoError(t, err)
	_, err = f.svc.GetRange(ctx, "2025-05-01", "2025-05-02")
	require.NoError(t, err)

	// a write that bypassed the service
	start := at("2025-05-01T12:00:00Z")
	external := &models.Event{ClusterDate: models.DateOf(start, time.UTC), ID: 2, Title: "External", Start: start, End: start.Add(time.Hour)}
	require.NoError(t, f.db.Create(external).Error)

	day, err := f.svc.GetDay(ctx, "2025-05-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"Known"}, titles(day))
	assert.Equal(t, int64(1), f.metrics.GetCounters()[metrics.CacheHit+"_day"])

	require.NoError(t, f.svc.NotifyMutated(ctx, external.Key(), models.OpCreate))
	assert.True(t, f.index.has("2025-05-01:2"))

	day, err = f.svc.GetDay(ctx, "2025-05-01")
	require.NoError(t, err)
	assert.Equal(t, []string{"Known", "External"}, titles(day))

	rng, err := f.svc.GetRange(ctx, "2025-05-01", "2025-05-02")
	require.NoError(t, err)
	assert.Len(t, rng, 2)

	err = f.svc.NotifyMutated(ctx, key("2025-05-01:9"), models.OpUpdate)
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdateMovesEventToNewDate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	moving, err := f.svc.CreateEvent(ctx, input("Moving", "2025-01-03T09:00:00Z", "2025-01-03T10:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.CreateEvent(ctx, input("Resident", "2025-01-05T09:00:00Z", "2025-01-05T10:00:00Z"))
	require.NoError(t, err)

	moved, err := f.svc.UpdateEvent(ctx, moving.Key(), input("Moving", "2025-01-05T14:00:00Z", "2025-01-05T15:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, "2025-01-05:2", moved.Key().String())

	_, err = f.svc.GetEvent(ctx, key("2025-01-03:1"))
	assert.True(t, errs.IsNotFound(err))
	stored, err := f.svc.GetEvent(ctx, moved.Key())
	require.NoError(t, err)
	assert.Equal(t, "Moving", stored.Title)

	assert.False(t, f.index.has("2025-01-03:1"))
	assert.True(t, f.index.has("2025-01-05:2"))
	assert.Equal(t, []string{
		"create 2025-01-03:1",
		"create 2025-01-05:1",
		"update 2025-01-05:2",
	}, f.notifier.ops())
}

func TestDeleteEvent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ev, err := f.svc.CreateEvent(ctx, input("Doomed", "2025-02-01T09:00:00Z", "2025-02-01T10:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.GetDay(ctx, "2025-02-01")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteEvent(ctx, ev.Key()))
	assert.False(t, f.index.has(ev.Key().String()))

	day, err := f.svc.GetDay(ctx, "2025-02-01")
	require.NoError(t, err)
	assert.Empty(t, day)

	assert.True(t, errs.IsNotFound(f.svc.DeleteEvent(ctx, ev.Key())))
}

func TestCreateEventsAssignsConsecutiveIdsPerDate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvent(ctx, input("Existing", "2025-02-01T08:00:00Z", "2025-02-01T09:00:00Z"))
	require.NoError(t, err)

	events, err := f.svc.CreateEvents(ctx, []models.EventInput{
		input("a", "2025-02-01T10:00:00Z", "2025-02-01T11:00:00Z"),
		input("b", "2025-02-02T10:00:00Z", "2025-02-02T11:00:00Z"),
		input("c", "2025-02-01T12:00:00Z", "2025-02-01T13:00:00Z"),
	})
	require.NoError(t, err)

	var got []string
	for _, ev := range events {
		got = append(got, ev.Key().String())
	}
	assert.Equal(t, []string{"2025-02-01:2", "2025-02-02:1", "2025-02-01:3"}, got)
	assert.True(t, f.index.has("2025-02-01:3"))

	_, err = f.svc.CreateEvents(ctx, []models.EventInput{
		input("ok", "2025-02-01T10:00:00Z", "2025-02-01T11:00:00Z"),
		input("bad", "2025-02-01T10:00:00Z", "2025-02-01T09:00:00Z"),
	})
	assert.True(t, errs.IsValidation(err))
}

func TestCreateEventValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   models.EventInput
	}{
		{"end before start", input("x", "2025-02-01T10:00:00Z", "2025-02-01T09:00:00Z")},
		{"missing title", input("", "2025-02-01T10:00:00Z", "2025-02-01T11:00:00Z")},
		{"malformed rule", recurring("x", "2025-02-01T10:00:00Z", "2025-02-01T11:00:00Z", "FREQ=HOURLY")},
		{"until without rule", func() models.EventInput {
			in := input("x", "2025-02-01T10:00:00Z", "2025-02-01T11:00:00Z")
			in.RecurrenceUntil = "2025-03-01"
			return in
		}()},
		{"until before start", func() models.EventInput {
			in := recurring("x", "2025-02-01T10:00:00Z", "2025-02-01T11:00:00Z", "FREQ=DAILY")
			in.RecurrenceUntil = "2025-01-01"
			return in
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateEvent(ctx, tt.in)
			assert.True(t, errs.IsValidation(err), "got %v", err)
		})
	}
}

func TestRecurrenceUntilDefaults(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	open, err := f.svc.CreateEvent(ctx, recurring("open", "2025-01-06T10:00:00Z", "2025-01-06T11:00:00Z", "FREQ=WEEKLY"))
	require.NoError(t, err)
	require.NotNil(t, open.RecurrenceUntil)
	assert.Equal(t, "2027-01-06", models.FormatDate(*open.RecurrenceUntil))

	counted, err := f.svc.CreateEvent(ctx, recurring("counted", "2025-01-06T10:00:00Z", "2025-01-06T11:00:00Z", "FREQ=DAILY;COUNT=3"))
	require.NoError(t, err)
	assert.Nil(t, counted.RecurrenceUntil)

	bounded, err := f.svc.CreateEvent(ctx, recurring("bounded", "2025-01-06T10:00:00Z", "2025-01-06T11:00:00Z", "FREQ=DAILY;UNTIL=20250110"))
	require.NoError(t, err)
	require.NotNil(t, bounded.RecurrenceUntil)
	assert.Equal(t, "2025-01-10", models.FormatDate(*bounded.RecurrenceUntil))
}

func TestIndefiniteSeriesWithoutHorizon(t *testing.T) {
	f := setup(t, WithRecurrenceHorizon(0))
	ctx := context.Background()

	ev, err := f.svc.CreateEvent(ctx, recurring("forever", "2025-01-06T10:00:00Z", "2025-01-06T11:00:00Z", "FREQ=WEEKLY"))
	require.NoError(t, err)
	assert.Nil(t, ev.RecurrenceUntil)

	got, err := f.svc.GetRange(ctx, "2040-01-01", "2040-01-15")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestQueryValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.GetDay(ctx, "2025-13-01")
	assert.True(t, errs.IsValidation(err))

	_, err = f.svc.GetRange(ctx, "2025-01-07", "2025-01-01")
	assert.True(t, errs.IsValidation(err))

	_, err = f.svc.GetRange(ctx, "2025-01-07", "2025-01-07")
	assert.True(t, errs.IsValidation(err))

	_, err = f.svc.GetRange(ctx, "yesterday", "2025-01-07")
	assert.True(t, errs.IsValidation(err))
}

func TestSearchFallsBackWhenIndexIsGone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateEvent(ctx, input("Team meeting", "2025-01-06T10:00:00Z", "2025-01-06T11:00:00Z"))
	require.NoError(t, err)
	_, err = f.svc.CreateEvent(ctx, input("Board Meeting", "2025-01-07T10:00:00Z", "2025-01-07T11:00:00Z"))
	require.NoError(t, err)

	res, err := f.svc.Search(ctx, "meeting")
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Equal(t, []string{"Board Meeting", "Team meeting"}, titles(res.Results))

	f.index.mu.Lock()
	f.index.missing = true
	f.index.mu.Unlock()

	res, err = f.svc.Search(ctx, "meeting")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, []string{"Team meeting", "Board Meeting"}, titles(res.Results))
	assert.False(t, f.svc.SearchHealthy())

	report, err := f.svc.ReconcileIndex(ctx)
	require.NoError(t, err)
	assert.True(t, report.Rebuilt)
	assert.Equal(t, int64(2), report.IndexCount)
	assert.True(t, f.svc.SearchHealthy())
}

func TestIndexFailureDoesNotFailWrites(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.index.failWrites = true

	ev, err := f.svc.CreateEvent(ctx, input("Resilient", "2025-01-06T10:00:00Z", "2025-01-06T11:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.ID)
	assert.False(t, f.svc.SearchHealthy())

	res, err := f.svc.Search(ctx, "resilient")
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Len(t, res.Results, 1)
}

func TestApplyRemoteMutation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.GetDay(ctx, "2025-01-06")
	require.NoError(t, err)

	own := models.Mutation{Key: key("2025-01-06:1"), Op: models.OpUpdate, Origin: f.svc.Origin()}
	require.NoError(t, f.svc.ApplyRemoteMutation(ctx, own))
	stats, err := f.svc.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Day.Size)

	remote := own
	remote.Origin = "replica-b"
	require.NoError(t, f.svc.ApplyRemoteMutation(ctx, remote))
	stats, err = f.svc.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Day.Size)
	assert.Equal(t, int64(1), f.metrics.GetCounters()[metrics.RemoteInvalidations])
}

func TestClearCacheSelectively(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.GetDay(ctx, "2025-01-06")
	require.NoError(t, err)
	_, err = f.svc.GetRange(ctx, "2025-01-01", "2025-01-31")
	require.NoError(t, err)

	require.NoError(t, f.svc.ClearCache(ctx, cache.Day))
	stats, err := f.svc.CacheStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Day.Size)
	assert.Equal(t, 1, stats.Range.Size)
	assert.Equal(t, []string{"2025-01-01_2025-01-31"}, stats.Range.Keys)
}

func TestConcurrentQueriesAndWrites(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := fmt.Sprintf("2025-02-01T%02d:00:00Z", i+1)
			end := fmt.Sprintf("2025-02-01T%02d:30:00Z", i+1)
			_, err := f.svc.CreateEvent(ctx, input(fmt.Sprintf("e%d", i), start, end))
			assert.NoError(t, err)
			_, err = f.svc.GetDay(ctx, "2025-02-01")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	day, err := f.svc.GetDay(ctx, "2025-02-01")
	require.NoError(t, err)
	require.Len(t, day, 8)
	ids := make(map[int64]bool)
	for _, d := range day {
		ids[d.ID] = true
	}
	assert.Len(t, ids, 8)
}
