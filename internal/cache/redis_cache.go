package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/redis/go-redis/v9"
)

// RedisCache provides a shared cache backed by Redis, for deployments where
// several engine instances should reuse each other's parsed plans. Values
// are stored as JSON, so non-serializable values are rejected and structs
// come back as generic maps.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger Logger
}

// RedisConfig holds connection settings for the Redis cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(cfg RedisConfig, defaultTTL time.Duration, logger Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errbuilder.GenericErr("failed to connect to redis", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tollgate:"
	}
	return &RedisCache{
		client: client,
		ttl:    defaultTTL,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Get retrieves an item from Redis. Backend failures surface as misses and
// are logged, keeping cache trouble from failing the caller's request.
func (c *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Error("Redis cache get failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, false
	}

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		if c.logger != nil {
			c.logger.Error("Redis cache holds undecodable value", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, false
	}
	return value, true
}

// Set stores an item in Redis with the default TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("Redis cache value is not serializable", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return
	}

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.Error("Redis cache set failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return errbuilder.GenericErr("failed to close redis client", err)
	}
	return nil
}
