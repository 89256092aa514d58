package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards a Redis client with a circuit breaker. Only the
// operations the steering inbox needs are wrapped.
type RedisWrapper struct {
	client  *redis.Client
	breaker *Breaker
}

// NewRedisWrapper wraps the given client.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client:  client,
		breaker: New("redis", DefaultConfig(), logger),
	}
}

// Client exposes the raw client for health checks.
func (w *RedisWrapper) Client() *redis.Client {
	return w.client
}

// State reports the breaker state.
func (w *RedisWrapper) State() State {
	return w.breaker.State()
}

func (w *RedisWrapper) Ping(ctx context.Context) error {
	return w.breaker.Do(ctx, func() error {
		return w.client.Ping(ctx).Err()
	})
}

func (w *RedisWrapper) RPush(ctx context.Context, key string, values ...interface{}) error {
	return w.breaker.Do(ctx, func() error {
		return w.client.RPush(ctx, key, values...).Err()
	})
}

func (w *RedisWrapper) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := w.breaker.Do(ctx, func() error {
		var err error
		out, err = w.client.LRange(ctx, key, start, stop).Result()
		return err
	})
	return out, err
}

func (w *RedisWrapper) Del(ctx context.Context, keys ...string) error {
	return w.breaker.Do(ctx, func() error {
		return w.client.Del(ctx, keys...).Err()
	})
}

func (w *RedisWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return w.breaker.Do(ctx, func() error {
		return w.client.Set(ctx, key, value, ttl).Err()
	})
}

func (w *RedisWrapper) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := w.breaker.Do(ctx, func() error {
		var err error
		out, err = w.client.Get(ctx, key).Result()
		if err == redis.Nil {
			// A miss is not a dependency failure.
			out = ""
			return nil
		}
		return err
	})
	return out, err
}

func (w *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return w.breaker.Do(ctx, func() error {
		return w.client.Expire(ctx, key, ttl).Err()
	})
}
