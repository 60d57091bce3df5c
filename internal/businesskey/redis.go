package businesskey

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSequencer allocates sequences through redis INCR, making counters
// durable across process restarts and shared between replicas.
type RedisSequencer struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisSequencer creates a sequencer on the given client. keyPrefix
// namespaces the counter keys (e.g. "prosa:seq:").
func NewRedisSequencer(client *redis.Client, keyPrefix string) *RedisSequencer {
	if keyPrefix == "" {
		keyPrefix = "prosa:seq:"
	}
	return &RedisSequencer{client: client, keyPrefix: keyPrefix}
}

// Next returns the next sequence value for the key, starting at 1.
func (s *RedisSequencer) Next(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Incr(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %q: %w", key, err)
	}
	return val, nil
}

// HealthCheck verifies the redis connection. Used by the readiness endpoint.
func (s *RedisSequencer) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
