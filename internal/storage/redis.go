package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore handles short-lived bookkeeping that does not belong in
// postgres: the recently-acquired window the scheduler consults before
// re-crawling a watch-list keyword.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying connection for collaborators that keep
// their own keys (the token manager).
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// MarkAcquired sets a TTL key so the scheduler skips the keyword until the
// window expires.
func (s *RedisStore) MarkAcquired(ctx context.Context, keyword string, ttl time.Duration) error {
	key := fmt.Sprintf("medprice:acquired:%s", keyword)
	return s.client.Set(ctx, key, "1", ttl).Err()
}

// RecentlyAcquired checks whether the keyword was acquired within the TTL.
func (s *RedisStore) RecentlyAcquired(ctx context.Context, keyword string) (bool, error) {
	key := fmt.Sprintf("medprice:acquired:%s", keyword)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
