package cache

import (
	"context"
	"sync"
	"time"

	"analytics-engine/pkg/models"
	"analytics-engine/pkg/telemetry"

	"go.uber.org/zap"
)

// LoadFunc charge un instantané complet (CSV, S3 ou MySQL).
type LoadFunc func(ctx context.Context) (*models.Dataset, error)

// DatasetCache garde le dernier Dataset chargé. Le Dataset est partagé en lecture seule :
// aucun appelant ne doit le modifier.
type DatasetCache struct {
	load    LoadFunc
	ttl     time.Duration // 0 = jusqu'à Invalidate
	log     *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu       sync.Mutex
	ds       *models.Dataset
	fp       uint64
	loadedAt time.Time
}

func NewDatasetCache(load LoadFunc, ttl time.Duration, log *zap.Logger, m *telemetry.Metrics) *DatasetCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &DatasetCache{load: load, ttl: ttl, log: log, metrics: m, now: time.Now}
}

// Get renvoie le Dataset courant et son empreinte, en le (re)chargeant si besoin.
// Les appels concurrents attendent un seul chargement.
func (c *DatasetCache) Get(ctx context.Context) (*models.Dataset, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ds != nil && (c.ttl <= 0 || c.now().Sub(c.loadedAt) < c.ttl) {
		c.count(true)
		return c.ds, c.fp, nil
	}
	c.count(false)

	t0 := c.now()
	ds, err := c.load(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.DatasetLoads.WithLabelValues("error").Inc()
		}
		c.log.Error("dataset load failed", zap.Error(err))
		return nil, 0, err
	}
	c.ds, c.fp, c.loadedAt = ds, Fingerprint(ds), c.now()

	if c.metrics != nil {
		c.metrics.DatasetLoads.WithLabelValues("ok").Inc()
		for table, st := range ds.Stats {
			c.metrics.DatasetRows.WithLabelValues(table).Set(float64(st.Rows))
		}
	}
	c.log.Info("dataset loaded",
		zap.String("fingerprint", FormatFingerprint(c.fp)),
		zap.Int("sales", len(ds.Sales)),
		zap.Int("subscriptions", len(ds.Subscriptions)),
		zap.Duration("took", c.now().Sub(t0)))
	return c.ds, c.fp, nil
}

// Invalidate force un rechargement au prochain Get.
func (c *DatasetCache) Invalidate() {
	c.mu.Lock()
	c.ds = nil
	c.fp = 0
	c.mu.Unlock()
}

// Fingerprint renvoie l'empreinte du Dataset en cache (0 si aucun).
func (c *DatasetCache) Fingerprint() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fp
}

func (c *DatasetCache) count(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHits.WithLabelValues("dataset").Inc()
	} else {
		c.metrics.CacheMisses.WithLabelValues("dataset").Inc()
	}
}
