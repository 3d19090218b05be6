package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the
// key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// CachedSource fronts a Source with the Redis cache. Misses fall through to
// the backing source and populate the cache; cache failures degrade to a
// direct read.
type CachedSource struct {
	Source Source
	Cache  *Cache
}

func (s CachedSource) PurchasableByID(ctx context.Context, id int64) (*Purchasable, error) {
	key := fmt.Sprintf("market:purchasable:%d", id)
	var cached Purchasable
	if ok, err := s.Cache.GetJSON(ctx, key, &cached); err == nil && ok {
		return &cached, nil
	}
	p, err := s.Source.PurchasableByID(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.Cache.SetJSON(ctx, key, p)
	return p, nil
}
