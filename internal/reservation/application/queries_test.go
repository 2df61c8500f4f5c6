package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/infrastructure/memory"
)

func newTestQueries(t *testing.T) (*Queries, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.SeedVariant("t1", "v1", 20)
	return NewQueries(testLogger(), store, time.Hour, 24*time.Hour, 500), store
}

func seedActive(t *testing.T, store *memory.Store, age time.Duration, qty int) domain.Reservation {
	t.Helper()
	r := domain.NewReservation("t1", "v1", qty, 48*time.Hour)
	r.CreatedAt = time.Now().UTC().Add(-age)
	require.NoError(t, store.CreateActive(context.Background(), r))
	return r
}

func TestQueriesAvailableStock(t *testing.T) {
	q, store := newTestQueries(t)
	seedActive(t, store, 0, 8)

	available, err := q.AvailableStock(context.Background(), "t1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 12, available)
}

func TestQueriesActiveReservations_PageClamping(t *testing.T) {
	q, store := newTestQueries(t)
	for i := 0; i < 3; i++ {
		seedActive(t, store, time.Duration(i)*time.Second, 1)
	}

	p, err := q.ActiveReservations(context.Background(), "t1", 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, defaultPageSize, p.Size)
	assert.Equal(t, 3, p.Total)
	assert.Len(t, p.Items, 3)

	p, err = q.ActiveReservations(context.Background(), "t1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Total)
	assert.Len(t, p.Items, 1)

	p, err = q.ActiveReservations(context.Background(), "t1", 1, 10_000)
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, p.Size)
}

func TestQueriesStaleReservations(t *testing.T) {
	q, store := newTestQueries(t)
	fresh := seedActive(t, store, time.Minute, 1)
	stale := seedActive(t, store, 61*time.Minute, 1)

	got, err := q.StaleReservations(context.Background(), 60*time.Minute)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
	assert.NotEqual(t, fresh.ID, got[0].ID)
}

func TestQueriesStats(t *testing.T) {
	q, store := newTestQueries(t)
	seedActive(t, store, time.Minute, 1)
	seedActive(t, store, 2*time.Hour, 1)
	seedActive(t, store, 25*time.Hour, 1)

	stats, err := q.Stats(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ActiveCount)
	assert.Equal(t, 2, stats.StaleCount)
	assert.Equal(t, 1, stats.VeryStaleCount)
}

func TestQueriesAreReadOnly(t *testing.T) {
	q, store := newTestQueries(t)
	r := seedActive(t, store, 2*time.Hour, 5)
	ctx := context.Background()

	_, err := q.AvailableStock(ctx, "t1", "v1")
	require.NoError(t, err)
	_, err = q.ActiveReservations(ctx, "t1", 1, 10)
	require.NoError(t, err)
	_, err = q.StaleReservations(ctx, time.Hour)
	require.NoError(t, err)
	_, err = q.Stats(ctx, "t1")
	require.NoError(t, err)

	got, err := store.Get(ctx, "t1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	available, err := store.AvailableStock(ctx, "t1", "v1")
	require.NoError(t, err)
	assert.Equal(t, 15, available)
}

func TestQueriesReservation_TenantScoped(t *testing.T) {
	q, store := newTestQueries(t)
	r := seedActive(t, store, 0, 1)

	got, err := q.Reservation(context.Background(), "t1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = q.Reservation(context.Background(), "t2", r.ID)
	assert.ErrorIs(t, err, domain.ErrTenantMismatch)
}
