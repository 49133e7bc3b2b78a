package domain

import (
	"context"
	"time"
)

// PriceCache caches oracle spot prices per mint with a short TTL.
type PriceCache interface {
	SetPrice(ctx context.Context, mint string, p TokenPrice, ttl time.Duration) error
	GetPrice(ctx context.Context, mint string) (TokenPrice, error)
}

// DecimalsCache caches mint decimals, which never change once set.
type DecimalsCache interface {
	SetDecimals(ctx context.Context, mint string, decimals int, ttl time.Duration) error
	GetDecimals(ctx context.Context, mint string) (int, error)
}

// LockManager provides best-effort distributed locks so only one monitor
// replica fires a given rule across processes.
type LockManager interface {
	// Acquire returns a release func, or ErrLockHeld.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
