package quote

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-mealkit/internal/obs"
)

const (
	cacheKeyPrefix   = "pricing:"
	rulesCacheKey    = cacheKeyPrefix + "rules:active"
	planCachePrefix  = cacheKeyPrefix + "plan:"
	priceCachePrefix = cacheKeyPrefix + "prices:"
)

// Cache stores pricing reference data as JSON in Redis.
// A nil Cache, or one without a client, is a no-op.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A non-positive ttl disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		return &Cache{}
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if !c.enabled() || key == "" {
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
	if !c.enabled() || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// InvalidateRules drops the cached active discount rules.
func (c *Cache) InvalidateRules(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	return c.client.Del(ctx, rulesCacheKey).Err()
}

// InvalidatePricing drops every cached plan, price list and rule set.
func (c *Cache) InvalidatePricing(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	keys := make([]string, 0, 16)
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

func planKey(name string) string {
	return planCachePrefix + strings.ToLower(strings.TrimSpace(name))
}

func pricesKey(planID uuid.UUID, mealTypes []string) string {
	keys := make([]string, 0, len(mealTypes))
	for _, m := range mealTypes {
		keys = append(keys, strings.ToLower(strings.TrimSpace(m)))
	}
	sort.Strings(keys)
	return priceCachePrefix + planID.String() + ":" + strings.Join(keys, ",")
}

func recordCache(kind string, hit bool) {
	if obs.PricingCacheTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	obs.PricingCacheTotal.WithLabelValues(kind, result).Inc()
}
