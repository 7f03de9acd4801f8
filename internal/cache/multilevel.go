package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"
)

type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Exists(ctx context.Context, key string) (bool, error)
	Stats() map[string]interface{}
	Health(ctx context.Context) error
	Close() error
}

// l1PromoteTTL bounds how long a value read from L2 lives in process memory.
const l1PromoteTTL = time.Minute

// MultiLevelCache fronts an optional shared L2 with a process-local L1.
// L2 failures are counted and degrade to L1-only behavior; they are never
// returned from Get.
type MultiLevelCache struct {
	l1      *MemoryCache
	l2      Cache
	metrics *CacheMetrics
}

func NewMultiLevelCache(l1 *MemoryCache, l2 Cache) *MultiLevelCache {
	if l1 == nil {
		l1 = NewMemoryCache(l1PromoteTTL)
	}
	return &MultiLevelCache{
		l1:      l1,
		l2:      l2,
		metrics: NewCacheMetrics(),
	}
}

func (c *MultiLevelCache) Metrics() *CacheMetrics {
	return c.metrics
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.metrics.RecordSet()
	c.l1.Set(ctx, key, value, ttl)

	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			c.metrics.RecordError()
			return err
		}
	}
	return nil
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := c.l1.Get(ctx, key, dest); err == nil {
		c.metrics.RecordHit()
		return nil
	}

	if c.l2 != nil {
		err := c.l2.Get(ctx, key, dest)
		switch {
		case err == nil:
			c.metrics.RecordHit()
			c.l1.Set(ctx, key, reflect.ValueOf(dest).Elem().Interface(), l1PromoteTTL)
			return nil
		case !errors.Is(err, ErrCacheMiss):
			c.metrics.RecordError()
		}
	}

	c.metrics.RecordMiss()
	return ErrCacheMiss
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.metrics.RecordDelete()
	c.l1.Delete(ctx, key)

	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.metrics.RecordError()
			return err
		}
	}
	return nil
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	c.metrics.RecordDelete()
	if err := c.l1.DeletePattern(ctx, pattern); err != nil {
		return err
	}

	if c.l2 != nil {
		if err := c.l2.DeletePattern(ctx, pattern); err != nil {
			c.metrics.RecordError()
			return err
		}
	}
	return nil
}

func (c *MultiLevelCache) Exists(ctx context.Context, key string) (bool, error) {
	if ok, _ := c.l1.Exists(ctx, key); ok {
		return true, nil
	}

	if c.l2 != nil {
		return c.l2.Exists(ctx, key)
	}
	return false, nil
}

func (c *MultiLevelCache) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"l1":       c.l1.Stats(),
		"metrics":  c.metrics.GetStats(),
		"hit_rate": c.metrics.HitRate(),
	}

	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}
	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 != nil {
		return c.l2.Health(ctx)
	}
	return nil
}

func (c *MultiLevelCache) Close() error {
	c.l1.Close()
	if c.l2 != nil {
		return c.l2.Close()
	}
	return nil
}

// copyValue round-trips src through JSON into dest so callers never share
// memory with a cached value.
func copyValue(src, dest interface{}) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr {
		return fmt.Errorf("destination must be a pointer, got %T", dest)
	}
	if destValue.IsNil() {
		return fmt.Errorf("destination pointer is nil")
	}

	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source value: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal to destination: %w", err)
	}
	return nil
}
