package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/averylane/soltraderd/internal/domain"
)

// DecimalsCache implements domain.DecimalsCache. Decimals never change once a
// mint exists, so the TTL only bounds memory, not correctness.
type DecimalsCache struct {
	rdb *redis.Client
}

// NewDecimalsCache creates a DecimalsCache backed by the given Client.
func NewDecimalsCache(c *Client) *DecimalsCache {
	return &DecimalsCache{rdb: c.Underlying()}
}

func decimalsKey(mint string) string {
	return "decimals:" + mint
}

// SetDecimals stores the mint's decimals with the given TTL.
func (dc *DecimalsCache) SetDecimals(ctx context.Context, mint string, decimals int, ttl time.Duration) error {
	if err := dc.rdb.Set(ctx, decimalsKey(mint), decimals, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set decimals %s: %w", mint, err)
	}
	return nil
}

// GetDecimals returns the cached decimals, or ErrNotFound.
func (dc *DecimalsCache) GetDecimals(ctx context.Context, mint string) (int, error) {
	val, err := dc.rdb.Get(ctx, decimalsKey(mint)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: get decimals %s: %w", mint, err)
	}
	decimals, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("redis: parse decimals %s: %w", mint, err)
	}
	return decimals, nil
}

var _ domain.DecimalsCache = (*DecimalsCache)(nil)
