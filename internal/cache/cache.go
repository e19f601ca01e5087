package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/config"
	apperrors "github.com/alG-N/alterGoldenBot-sub006/pkg/errors"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/logging"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/resilience"
)

// ServiceName is the identity the cache reports to the coordinator.
// It is registered non-critical: a dead cache degrades the system but
// never takes it offline on its own.
const ServiceName = "cache"

// Cache is a Redis-backed JSON cache guarded by the redis circuit
// breaker. Every call goes through the breaker so a dead Redis fails
// fast instead of stalling command handlers.
type Cache struct {
	client   *redis.Client
	breakers *resilience.Registry
	coord    *resilience.Coordinator
	logger   *logging.Logger
}

// New connects to Redis and registers the cache with the coordinator
func New(cfg config.RedisConfig, breakers *resilience.Registry, coord *resilience.Coordinator) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	c := &Cache{
		client:   client,
		breakers: breakers,
		coord:    coord,
		logger:   logging.GetLogger(),
	}

	if coord != nil {
		coord.RegisterService(ServiceName, false)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Startup proceeds without the cache; the breaker and
		// coordinator take over from here.
		c.logger.Warn("Redis unreachable at startup", "addr", client.Options().Addr, "error", err.Error())
		if coord != nil {
			coord.MarkDegraded(ServiceName, err.Error())
		}
		return c, nil
	}

	if coord != nil {
		coord.MarkHealthy(ServiceName, "connected")
	}
	return c, nil
}

// NewWithClient wraps an existing Redis client, used by tests
func NewWithClient(client *redis.Client, breakers *resilience.Registry, coord *resilience.Coordinator) *Cache {
	c := &Cache{
		client:   client,
		breakers: breakers,
		coord:    coord,
		logger:   logging.GetLogger(),
	}
	if coord != nil {
		coord.RegisterService(ServiceName, false)
	}
	return c
}

func (c *Cache) execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if c.breakers == nil {
		return op(ctx)
	}
	return c.breakers.Execute(ctx, config.BreakerRedis, op)
}

// Get retrieves and unmarshals the value stored under key into dest.
// A missing key returns a not-found error.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			// A miss is not a Redis failure; surface it without
			// counting against the breaker.
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		c.markDegraded(err)
		return apperrors.NewExternalError("redis", err.Error()).WithCause(err)
	}

	raw, _ := data.([]byte)
	if raw == nil {
		return apperrors.NewNotFoundError("cache key " + key)
	}

	c.markHealthy()
	if err := json.Unmarshal(raw, dest); err != nil {
		return apperrors.NewInternalError("failed to unmarshal cached value").WithCause(err)
	}
	return nil
}

// Set marshals value as JSON and stores it under key with a TTL.
// A zero TTL stores the key without expiry.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal cache value").WithCause(err)
	}

	_, err = c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.client.Set(ctx, key, data, ttl).Err()
	})
	if err != nil {
		c.markDegraded(err)
		return apperrors.NewExternalError("redis", err.Error()).WithCause(err)
	}

	c.markHealthy()
	return nil
}

// Delete removes keys; missing keys are not an error
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		c.markDegraded(err)
		return apperrors.NewExternalError("redis", err.Error()).WithCause(err)
	}

	c.markHealthy()
	return nil
}

// Exists reports whether key is present
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return c.client.Exists(ctx, key).Result()
	})
	if err != nil {
		c.markDegraded(err)
		return false, apperrors.NewExternalError("redis", err.Error()).WithCause(err)
	}

	c.markHealthy()
	count, _ := n.(int64)
	return count > 0, nil
}

// Ping checks Redis connectivity through the breaker
func (c *Cache) Ping(ctx context.Context) error {
	_, err := c.execute(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, c.client.Ping(ctx).Err()
	})
	return err
}

// Close closes the underlying Redis client
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) markDegraded(err error) {
	if c.coord == nil {
		return
	}
	if resilience.IsCircuitBreakerError(err) {
		c.coord.MarkUnavailable(ServiceName, "circuit breaker open")
		return
	}
	c.coord.MarkDegraded(ServiceName, err.Error())
}

func (c *Cache) markHealthy() {
	if c.coord == nil {
		return
	}
	if state, ok := c.coord.ServiceState(ServiceName); ok && state != resilience.ServiceHealthy {
		c.coord.MarkHealthy(ServiceName, "operation succeeded")
	}
}
