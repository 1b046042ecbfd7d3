package persist

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the snapshot in a Redis key, surviving process restarts and
// shareable by warm standbys. Optionally, a TTL can be applied so an
// abandoned snapshot ages out instead of seeding a long-dead namespace view.
type Redis struct {
	rdb redis.UniversalClient
	ns  string        // logical namespace; one snapshot per facade
	ttl time.Duration // optional TTL; 0 disables expiry
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed snapshot store without TTL.
func NewRedis(client redis.UniversalClient, namespace string) *Redis {
	return &Redis{rdb: client, ns: namespace}
}

// NewRedisWithTTL creates a Redis-backed snapshot store with TTL.
// If ttl <= 0, the key does not expire.
func NewRedisWithTTL(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ns: namespace, ttl: ttl}
}

func (s *Redis) key() string { return "snapshot:" + s.ns }

func (s *Redis) Load(ctx context.Context) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key()).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Redis) Save(ctx context.Context, data []byte) error {
	var ttl time.Duration
	if s.ttl > 0 {
		ttl = s.ttl
	}
	return s.rdb.Set(ctx, s.key(), data, ttl).Err()
}

// Close is a no-op; the caller owns the client's lifecycle.
func (s *Redis) Close(context.Context) error { return nil }
