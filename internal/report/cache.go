package report

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores course summaries.
type Cache interface {
	Get(ctx context.Context, courseID string) (CourseSummary, bool, error)
	Set(ctx context.Context, summary CourseSummary, ttl time.Duration) error
	Delete(ctx context.Context, courseID string) error
}

const cachePrefix = "rollcall:report:course:"

// RedisCache keeps summaries as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a redis summary cache.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, courseID string) (CourseSummary, bool, error) {
	raw, err := c.client.Get(ctx, cachePrefix+courseID).Bytes()
	if errors.Is(err, redis.Nil) {
		return CourseSummary{}, false, nil
	}
	if err != nil {
		return CourseSummary{}, false, err
	}
	var s CourseSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return CourseSummary{}, false, err
	}
	return s, true, nil
}

func (c *RedisCache) Set(ctx context.Context, summary CourseSummary, ttl time.Duration) error {
	raw, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cachePrefix+summary.Course.ID, raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, courseID string) error {
	return c.client.Del(ctx, cachePrefix+courseID).Err()
}

// MemoryCache is a process-local cache for single-node setups and tests.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	summary CourseSummary
	expires time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, courseID string) (CourseSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[courseID]
	if !ok || !e.expires.After(c.now()) {
		delete(c.entries, courseID)
		return CourseSummary{}, false, nil
	}
	return e.summary, true, nil
}

func (c *MemoryCache) Set(_ context.Context, summary CourseSummary, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[summary.Course.ID] = memoryEntry{summary: summary, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, courseID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, courseID)
	return nil
}
