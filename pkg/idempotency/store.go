package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store deduplicates work across retries. Reserve calls map a caller-supplied
// idempotency key to the reservation it produced; message consumers mark
// topic/partition/offset triples as seen.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) ReserveKey(tenantID, key string) string {
	return fmt.Sprintf("reserve:%s:%s", tenantID, key)
}

func (s *Store) MessageKey(topic string, partition int, offset int64) string {
	return fmt.Sprintf("idem:%s:%d:%d", topic, partition, offset)
}

// Remember binds key to value unless the key is already taken. Returns
// whether this call won the binding.
func (s *Store) Remember(ctx context.Context, key, value string) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, s.ttl).Result()
}

// Lookup returns the value previously bound to key, if any.
func (s *Store) Lookup(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Seen marks key and reports whether it had been marked before.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, "1", s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}
