// Package cache keeps rendered dashboard bundles in Redis, keyed by the
// requested date range.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecomdash/internal/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 5 * time.Minute

type ReportCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// New wraps rdb. Keys are namespaced by prefix and by the dataset version
// passed to Get and Set, so a reload never serves stale bundles.
func New(rdb *redis.Client, prefix string, ttl time.Duration) *ReportCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ReportCache{rdb: rdb, ttl: ttl, prefix: prefix}
}

func (c *ReportCache) key(version string, r models.DateRange) string {
	return fmt.Sprintf("%s:%s:dashboard:%s:%s", c.prefix, version,
		r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
}

// Get returns the cached bundle for r. A miss is (nil, false, nil).
func (c *ReportCache) Get(ctx context.Context, version string, r models.DateRange) (*models.DashboardData, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(version, r)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	var data models.DashboardData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &data, true, nil
}

func (c *ReportCache) Set(ctx context.Context, version string, r models.DateRange, data *models.DashboardData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(version, r), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
