package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/averylane/soltraderd/internal/domain"
)

// PriceCache implements domain.PriceCache. Each mint's observation is a JSON
// value at "price:{mint}" expiring with the caller's TTL, so a stale quote
// can never be served past its freshness window.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(mint string) string {
	return "price:" + mint
}

// SetPrice stores the observation with the given TTL.
func (pc *PriceCache) SetPrice(ctx context.Context, mint string, p domain.TokenPrice, ttl time.Duration) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redis: marshal price %s: %w", mint, err)
	}
	if err := pc.rdb.Set(ctx, priceKey(mint), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", mint, err)
	}
	return nil
}

// GetPrice returns the cached observation, or ErrNotFound when expired or
// absent.
func (pc *PriceCache) GetPrice(ctx context.Context, mint string) (domain.TokenPrice, error) {
	data, err := pc.rdb.Get(ctx, priceKey(mint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.TokenPrice{}, domain.ErrNotFound
		}
		return domain.TokenPrice{}, fmt.Errorf("redis: get price %s: %w", mint, err)
	}
	var p domain.TokenPrice
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.TokenPrice{}, fmt.Errorf("redis: unmarshal price %s: %w", mint, err)
	}
	return p, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
