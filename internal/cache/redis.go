package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("cache miss")
	ErrCacheDown = errors.New("cache unavailable")
)

const defaultOpTimeout = 3 * time.Second

type RedisCache struct {
	client  *redis.Client
	breaker *CircuitBreaker
}

type CacheConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Breaker      *CircuitBreakerConfig
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func NewRedisCache(config *CacheConfig) *RedisCache {
	if config == nil {
		config = DefaultCacheConfig()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	return NewRedisCacheFromClient(rdb, config.Breaker)
}

// NewRedisCacheFromClient shares an existing client, e.g. with the job queue.
func NewRedisCacheFromClient(client *redis.Client, breaker *CircuitBreakerConfig) *RedisCache {
	return &RedisCache{
		client:  client,
		breaker: NewCircuitBreaker(breaker),
	}
}

func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// do bounds fn with the operation timeout and routes it through the breaker.
func (r *RedisCache) do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	err := r.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(ctx)
	})
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return fmt.Errorf("%w: %w", ErrCacheDown, err)
	}
	return err
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return r.do(ctx, defaultOpTimeout, func(ctx context.Context) error {
		if err := r.client.Set(ctx, key, data, expiration).Err(); err != nil {
			return fmt.Errorf("failed to set cache: %w", err)
		}
		return nil
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	err := r.do(ctx, defaultOpTimeout, func(ctx context.Context) error {
		var err error
		data, err = r.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("failed to get from cache: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cached data: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.do(ctx, defaultOpTimeout, func(ctx context.Context) error {
		return r.client.Del(ctx, key).Err()
	})
}

// DeletePattern walks the keyspace with SCAN rather than KEYS so a large
// keyspace does not block the server.
func (r *RedisCache) DeletePattern(ctx context.Context, pattern string) error {
	return r.do(ctx, 10*time.Second, func(ctx context.Context) error {
		iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan keys for pattern %s: %w", pattern, err)
		}
		if len(keys) == 0 {
			return nil
		}
		return r.client.Del(ctx, keys...).Err()
	})
}

func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := r.do(ctx, defaultOpTimeout, func(ctx context.Context) error {
		var err error
		n, err = r.client.Exists(ctx, key).Result()
		return err
	})
	return n > 0, err
}

func (r *RedisCache) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Stats() map[string]interface{} {
	poolStats := r.client.PoolStats()

	return map[string]interface{}{
		"pool_hits":     poolStats.Hits,
		"pool_misses":   poolStats.Misses,
		"pool_timeouts": poolStats.Timeouts,
		"pool_total":    poolStats.TotalConns,
		"pool_idle":     poolStats.IdleConns,
		"pool_stale":    poolStats.StaleConns,
		"breaker":       r.breaker.GetStats(),
	}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
