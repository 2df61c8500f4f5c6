package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Minute), mr
}

func TestRememberAndLookup(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	key := s.ReserveKey("t1", "checkout-42")

	_, found, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	won, err := s.Remember(ctx, key, "res-1")
	require.NoError(t, err)
	assert.True(t, won)

	// A second writer loses and the original binding survives.
	won, err = s.Remember(ctx, key, "res-2")
	require.NoError(t, err)
	assert.False(t, won)

	v, found, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "res-1", v)
}

func TestRememberExpires(t *testing.T) {
	s, mr := setupStore(t)
	ctx := context.Background()
	key := s.ReserveKey("t1", "checkout-42")

	_, err := s.Remember(ctx, key, "res-1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, found, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSeen(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	key := s.MessageKey("payment.events", 0, 42)

	seen, err := s.Seen(ctx, key)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.Seen(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}
