package repositories

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"example.com/backstage/services/calendar/config"
	"example.com/backstage/services/calendar/internal/database"
	"example.com/backstage/services/calendar/internal/errs"
	"example.com/backstage/services/calendar/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openStore(t *testing.T) *gorm.DB {
	t.Helper()
	return openNamed(t, t.Name())
}

func openNamed(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(name, "/", "_"))
	db, err := database.Connect(config.DatabaseConfig{Driver: database.DriverSQLite, DSN: dsn, AcquireTimeout: 5 * time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	return db
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func insert(t *testing.T, db *gorm.DB, id int64, title string, start time.Time, rule string, until *time.Time) *models.Event {
	t.Helper()
	ev := &models.Event{
		ClusterDate:     models.DateOf(start, time.UTC),
		ID:              id,
		Title:           title,
		Description:     "about " + title,
		Start:           start,
		End:             start.Add(time.Hour),
		RecurrenceUntil: until,
	}
	if rule != "" {
		ev.RecurrenceRule = &rule
	}
	require.NoError(t, db.Create(ev).Error)
	return ev
}

func TestGetUpdateDelete(t *testing.T) {
	db := openStore(t)
	repo := NewEventRepository(db, nil, 5*time.Second)
	ctx := context.Background()

	venue := &models.Venue{Name: "Main Hall"}
	require.NoError(t, db.Create(venue).Error)
	ev := insert(t, db, 1, "Concert", time.Date(2025, 1, 3, 19, 0, 0, 0, time.UTC), "", nil)
	require.NoError(t, db.Model(ev).Update("venue_id", venue.ID).Error)

	got, err := repo.Get(ctx, ev.Key())
	require.NoError(t, err)
	assert.Equal(t, "Concert", got.Title)
	require.NotNil(t, got.Venue)
	assert.Equal(t, "Main Hall", got.Venue.Name)

	got.Title = "Concert (moved indoors)"
	got.IsVirtual = false
	require.NoError(t, repo.Update(ctx, got))
	again, err := repo.Get(ctx, ev.Key())
	require.NoError(t, err)
	assert.Equal(t, "Concert (moved indoors)", again.Title)

	missing := models.EventKey{ClusterDate: date(2025, 1, 3), ID: 99}
	_, err = repo.Get(ctx, missing)
	assert.True(t, errs.IsNotFound(err))

	ghost := *again
	ghost.ID = 99
	assert.True(t, errs.IsNotFound(repo.Update(ctx, &ghost)))

	require.NoError(t, repo.Delete(ctx, ev.Key()))
	assert.True(t, errs.IsNotFound(repo.Delete(ctx, ev.Key())))
}

func TestUpdateKeepsRecurringFlagDerived(t *testing.T) {
	db := openStore(t)
	repo := NewEventRepository(db, nil, 5*time.Second)
	ctx := context.Background()

	ev := insert(t, db, 1, "Standup", time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), "FREQ=WEEKLY", nil)
	require.True(t, ev.IsRecurring)

	ev.RecurrenceRule = nil
	require.NoError(t, repo.Update(ctx, ev))

	got, err := repo.Get(ctx, ev.Key())
	require.NoError(t, err)
	assert.False(t, got.IsRecurring)
	assert.Nil(t, got.RecurrenceRule)
}

func TestQueryPredicates(t *testing.T) {
	db := openStore(t)
	repo := NewEventRepository(db, db, 5*time.Second)
	ctx := context.Background()

	until := date(2025, 1, 10)
	insert(t, db, 1, "Jan 2 single", time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC), "", nil)
	insert(t, db, 1, "Jan 3 single", time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC), "", nil)
	insert(t, db, 2, "Jan 3 late", time.Date(2025, 1, 3, 22, 0, 0, 0, time.UTC), "", nil)
	insert(t, db, 1, "Jan 9 single", time.Date(2025, 1, 9, 10, 0, 0, 0, time.UTC), "", nil)
	insert(t, db, 2, "Weekly open", time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC), "FREQ=WEEKLY", nil)
	insert(t, db, 3, "Daily until 10th", time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC), "FREQ=DAILY", &until)
	insert(t, db, 1, "Starts later", time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC), "FREQ=DAILY", nil)

	onDay, err := repo.NonRecurringOn(ctx, date(2025, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"Jan 3 single", "Jan 3 late"}, titles(onDay))

	twoDays, err := repo.NonRecurringOn(ctx, date(2025, 1, 2), date(2025, 1, 3))
	require.NoError(t, err)
	assert.Len(t, twoDays, 3)

	between, err := repo.NonRecurringBetween(ctx, date(2025, 1, 3), date(2025, 1, 9))
	require.NoError(t, err)
	assert.Equal(t, []string{"Jan 3 single", "Jan 3 late", "Jan 9 single"}, titles(between))

	candidates, err := repo.RecurringCandidates(ctx, date(2025, 1, 12), date(2025, 1, 12))
	require.NoError(t, err)
	assert.Equal(t, []string{"Weekly open"}, titles(candidates))

	candidates, err = repo.RecurringCandidates(ctx, date(2025, 1, 5), date(2025, 1, 5))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Weekly open", "Daily until 10th"}, titles(candidates))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestExpansionQueriesReadThePrimary(t *testing.T) {
	db := openStore(t)
	lagging := openNamed(t, t.Name()+"_replica")
	repo := NewEventRepository(db, lagging, 5*time.Second)
	ctx := context.Background()

	insert(t, db, 1, "Fresh single", time.Date(2025, 1, 3, 10, 0, 0, 0, time.UTC), "", nil)
	insert(t, db, 2, "Fresh weekly", time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC), "FREQ=WEEKLY", nil)

	onDay, err := repo.NonRecurringOn(ctx, date(2025, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fresh single"}, titles(onDay))

	between, err := repo.NonRecurringBetween(ctx, date(2025, 1, 1), date(2025, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fresh single"}, titles(between))

	candidates, err := repo.RecurringCandidates(ctx, date(2025, 1, 10), date(2025, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, []string{"Fresh weekly"}, titles(candidates))

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEachBatchWalksEveryRowOnce(t *testing.T) {
	db := openStore(t)
	repo := NewEventRepository(db, nil, 5*time.Second)

	for d := 1; d <= 3; d++ {
		for id := int64(1); id <= 4; id++ {
			insert(t, db, id, fmt.Sprintf("d%d-%d", d, id), time.Date(2025, 1, d, int(id), 0, 0, 0, time.UTC), "", nil)
		}
	}

	var seen []string
	batches := 0
	err := repo.EachBatch(context.Background(), 5, func(batch []*models.Event) error {
		batches++
		for _, ev := range batch {
			seen = append(seen, ev.Key().String())
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 3, batches)
	assert.Len(t, seen, 12)
	assert.Equal(t, "2025-01-01:1", seen[0])
	assert.Equal(t, "2025-01-03:4", seen[11])
}

func TestSearchTextAndGetByKeys(t *testing.T) {
	db := openStore(t)
	repo := NewEventRepository(db, nil, 5*time.Second)
	ctx := context.Background()

	a := insert(t, db, 1, "Team Meeting", time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC), "", nil)
	b := insert(t, db, 1, "Lunch", time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC), "", nil)
	require.NoError(t, db.Model(b).Update("description", "after the MEETING").Error)
	insert(t, db, 2, "100% fun", time.Date(2025, 1, 7, 18, 0, 0, 0, time.UTC), "", nil)

	found, err := repo.SearchText(ctx, "meeting", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"Team Meeting", "Lunch"}, titles(found))

	found, err = repo.SearchText(ctx, "0%", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"100% fun"}, titles(found))

	found, err = repo.SearchText(ctx, "e", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	byKey, err := repo.GetByKeys(ctx, []models.EventKey{a.Key(), b.Key(), {ClusterDate: date(2025, 1, 7), ID: 42}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Team Meeting", "Lunch"}, titles(byKey))
}

func titles(events []*models.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Title)
	}
	return out
}
