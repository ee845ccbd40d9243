package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/resulthub/internal/models"
)

const cacheKeyPrefix = "resulthub:image:"

// Cache holds resolved image records in Redis. Image headers never change
// once written by the pipeline, so entries only expire by TTL.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache returns a cache, or nil when client is nil. A nil *Cache is a
// valid disabled cache.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{redis: client, ttl: ttl}
}

// Get returns the cached record. A miss returns (nil, nil).
func (c *Cache) Get(ctx context.Context, id string) (models.Record, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.redis.Get(ctx, cacheKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached image: %w", err)
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached image: %w", err)
	}
	return rec, nil
}

// Set stores rec under id with the cache TTL.
func (c *Cache) Set(ctx context.Context, id string, rec models.Record) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal image: %w", err)
	}
	if err := c.redis.Set(ctx, cacheKeyPrefix+id, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache image: %w", err)
	}
	return nil
}
