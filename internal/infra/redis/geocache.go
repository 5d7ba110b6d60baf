package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curasys/gatekeeper/pkg/logger"
)

const geoPrefix = "geo:country:"

// GeoCache is the shared IP -> country cache written by the geo resolver.
// Entries are read-through: absence simply triggers a fresh resolution, so
// cache failures are reported but never fatal.
type GeoCache struct {
	client *Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewGeoCache creates a geo cache with the given entry TTL.
func NewGeoCache(client *Client, ttl time.Duration) *GeoCache {
	return &GeoCache{
		client: client,
		ttl:    ttl,
		log:    client.Logger().With("component", "geo_cache"),
	}
}

func geoRedisKey(ip string) string {
	return geoPrefix + ip
}

// Get returns the cached country for an IP. ErrKeyNotFound means a miss.
func (c *GeoCache) Get(ctx context.Context, ip string) (string, error) {
	start := time.Now()

	country, err := c.client.client.Get(ctx, geoRedisKey(ip)).Result()
	if errors.Is(err, redis.Nil) {
		DefaultMetrics.RecordCacheMiss("geo")
		DefaultMetrics.ObserveOperation("geo_get", time.Since(start), nil)
		return "", ErrKeyNotFound
	}
	if err != nil {
		DefaultMetrics.ObserveOperation("geo_get", time.Since(start), err)
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	DefaultMetrics.RecordCacheHit("geo")
	DefaultMetrics.ObserveOperation("geo_get", time.Since(start), nil)
	return country, nil
}

// Put stores a resolved country. Two workers resolving the same IP
// concurrently both write the same value, which is harmless.
func (c *GeoCache) Put(ctx context.Context, ip, country string) error {
	start := time.Now()

	err := c.client.client.Set(ctx, geoRedisKey(ip), country, c.ttl).Err()
	DefaultMetrics.ObserveOperation("geo_put", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Purge removes a cached entry, used by gatectl when an entry is stale.
func (c *GeoCache) Purge(ctx context.Context, ip string) error {
	err := c.client.client.Del(ctx, geoRedisKey(ip)).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
