package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"analytics-engine/pkg/models"
	"analytics-engine/pkg/telemetry"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "analytics:report:"

// ReportCache stocke les rapports calculés par clé (voir ReportKey).
type ReportCache interface {
	Get(ctx context.Context, key string) (*models.Report, bool, error)
	Set(ctx context.Context, key string, r *models.Report) error
	Flush(ctx context.Context) error
}

type memoryEntry struct {
	report  *models.Report
	expires time.Time
}

// MemoryReportCache : cache local au processus, utilisé sans Redis.
type MemoryReportCache struct {
	ttl     time.Duration
	metrics *telemetry.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryReportCache(ttl time.Duration, m *telemetry.Metrics) *MemoryReportCache {
	return &MemoryReportCache{ttl: ttl, metrics: m, now: time.Now, entries: map[string]memoryEntry{}}
}

func (c *MemoryReportCache) Get(_ context.Context, key string) (*models.Report, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.ttl > 0 && !c.now().Before(e.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		ok = false
	}
	countReport(c.metrics, ok)
	if !ok {
		return nil, false, nil
	}
	return e.report, true, nil
}

func (c *MemoryReportCache) Set(_ context.Context, key string, r *models.Report) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{report: r, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryReportCache) Flush(context.Context) error {
	c.mu.Lock()
	c.entries = map[string]memoryEntry{}
	c.mu.Unlock()
	return nil
}

// RedisReportCache partage les rapports entre instances ; valeurs JSON avec TTL.
type RedisReportCache struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *telemetry.Metrics
}

func NewRedisReportCache(client *redis.Client, ttl time.Duration, m *telemetry.Metrics) *RedisReportCache {
	return &RedisReportCache{client: client, ttl: ttl, metrics: m}
}

func (c *RedisReportCache) Get(ctx context.Context, key string) (*models.Report, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		countReport(c.metrics, false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		countReport(c.metrics, false)
		return nil, false, err
	}
	countReport(c.metrics, true)
	return &r, true, nil
}

func (c *RedisReportCache) Set(ctx context.Context, key string, r *models.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err()
}

// Flush supprime toutes les clés de rapport (SCAN, jamais KEYS).
func (c *RedisReportCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func countReport(m *telemetry.Metrics, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues("report").Inc()
	} else {
		m.CacheMisses.WithLabelValues("report").Inc()
	}
}
