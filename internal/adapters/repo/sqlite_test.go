package repo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-check-bot/internal/domain"
	"train-check-bot/internal/infra/db"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	conn, err := db.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewSQLite(conn)
}

func mustTime(t *testing.T, raw string) domain.TimeOfDay {
	t.Helper()
	tod, err := domain.ParseTimeOfDay(raw)
	require.NoError(t, err)
	return tod
}

func TestGetOrCreateTravelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dep := mustTime(t, "12:23")

	first, err := store.GetOrCreateTravel(ctx, "kgx", "cbg", dep)
	require.NoError(t, err)
	second, err := store.GetOrCreateTravel(ctx, "KGX", " CBG ", dep)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "KGX", second.Origin)
	assert.Equal(t, "CBG", second.Destination)

	travels, err := store.ListTravels(ctx, domain.TravelFilter{})
	require.NoError(t, err)
	require.Len(t, travels, 1)
	assert.Equal(t, dep, travels[0].DepartureTime)
}

func TestGetOrCreateTravelConcurrently(t *testing.T) {
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	store := NewSQLite(conn)
	ctx := context.Background()
	dep := mustTime(t, "12:23")

	const workers = 16
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			travel, err := store.GetOrCreateTravel(ctx, "kgx", "cbg", dep)
			ids[i], errs[i] = travel.ID, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	var rows int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM travel`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestAddSubscriptionIsUnique(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	travel, err := store.GetOrCreateTravel(ctx, "KGX", "CBG", mustTime(t, "12:23"))
	require.NoError(t, err)
	require.NoError(t, store.AddSubscription(ctx, 42, travel))
	require.NoError(t, store.AddSubscription(ctx, 42, travel))

	subs, err := store.ListSubscriptions(ctx, domain.SubscriptionFilter{ChatID: 42})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, travel.ID, subs[0].TravelID)
}

func TestOnlyActiveTravels(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	dep := mustTime(t, "12:23")
	key := domain.ExactTravel("kgx", "cbg", dep)
	key.OnlyActive = true

	travel, err := store.GetOrCreateTravel(ctx, "KGX", "CBG", dep)
	require.NoError(t, err)

	active, err := store.ListTravels(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, active, "поездка без подписчиков не активна")

	require.NoError(t, store.AddSubscription(ctx, 1, travel))
	require.NoError(t, store.AddSubscription(ctx, 2, travel))

	active, err = store.ListTravels(ctx, key)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	n, err := store.RemoveSubscriptions(ctx, 1, domain.ExactTravel("KGX", "CBG", dep))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err = store.ListTravels(ctx, key)
	require.NoError(t, err)
	assert.Len(t, active, 1, "второй подписчик остался")

	n, err = store.RemoveSubscriptions(ctx, 2, domain.ExactTravel("KGX", "CBG", dep))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	active, err = store.ListTravels(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.ListTravels(ctx, domain.TravelFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "поездка сохраняется без подписчиков")
}

func TestRemoveSubscriptionsFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	morning, err := store.GetOrCreateTravel(ctx, "KGX", "CBG", mustTime(t, "08:05"))
	require.NoError(t, err)
	evening, err := store.GetOrCreateTravel(ctx, "CBG", "KGX", mustTime(t, "18:40"))
	require.NoError(t, err)

	for _, travel := range []domain.Travel{morning, evening} {
		require.NoError(t, store.AddSubscription(ctx, 42, travel))
		require.NoError(t, store.AddSubscription(ctx, 7, travel))
	}

	n, err := store.RemoveSubscriptions(ctx, 42, domain.ExactTravel("PAD", "RDG", mustTime(t, "08:05")))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = store.RemoveSubscriptions(ctx, 42, domain.TravelFilter{ID: evening.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.RemoveSubscriptions(ctx, 42, domain.TravelFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	mine, err := store.ListSubscriptions(ctx, domain.SubscriptionFilter{ChatID: 42})
	require.NoError(t, err)
	assert.Empty(t, mine)

	others, err := store.ListSubscriptions(ctx, domain.SubscriptionFilter{ChatID: 7})
	require.NoError(t, err)
	assert.Len(t, others, 2, "подписки другого чата не затронуты")

	byTravel, err := store.ListSubscriptions(ctx, domain.SubscriptionFilter{TravelID: morning.ID})
	require.NoError(t, err)
	require.Len(t, byTravel, 1)
	assert.Equal(t, int64(7), byTravel[0].ChatID)
}

func TestListTravelsByStation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.GetOrCreateTravel(ctx, "KGX", "CBG", mustTime(t, "08:05"))
	require.NoError(t, err)
	_, err = store.GetOrCreateTravel(ctx, "KGX", "CBG", mustTime(t, "07:30"))
	require.NoError(t, err)
	_, err = store.GetOrCreateTravel(ctx, "PAD", "RDG", mustTime(t, "09:00"))
	require.NoError(t, err)

	travels, err := store.ListTravels(ctx, domain.TravelFilter{Origin: "kgx"})
	require.NoError(t, err)
	require.Len(t, travels, 2)
	assert.Equal(t, "07:30", travels[0].DepartureTime.String())
	assert.Equal(t, "08:05", travels[1].DepartureTime.String())
}
