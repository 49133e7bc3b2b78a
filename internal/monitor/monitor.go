// Package monitor hosts the always-on watchers: limit orders, DCA ladders,
// TP/SL rules, and the scheduler watchdog. Each runs on its own cadence,
// claims a trigger with a compare-and-set before firing, and never halts on
// individual failures.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// Default cadences.
const (
	LimitInterval     = 15 * time.Second
	DcaInterval       = 60 * time.Second
	TpSlInterval      = 60 * time.Second
	SchedulerInterval = 10 * time.Second
)

// lockTTL bounds how long a firing may hold its cross-process lock.
const lockTTL = 30 * time.Second

// TradeExecutor is the buy-side surface monitors fire into.
type TradeExecutor interface {
	ExecTrade(ctx context.Context, req executor.ExecRequest) (string, error)
}

// SellExecutor is the sell-side surface.
type SellExecutor interface {
	ExecSell(ctx context.Context, req executor.SellRequest) (string, error)
}

// runEvery drives fn on the interval until ctx is cancelled. Scan errors are
// logged and the loop continues; monitors must outlive any upstream outage.
func runEvery(ctx context.Context, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("scan failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// acquire takes the cross-process lock for a trigger when a lock manager is
// configured. Returns a no-op release and ok=false when the lock is held
// elsewhere.
func acquire(ctx context.Context, locks domain.LockManager, key string) (func(), bool) {
	if locks == nil {
		return func() {}, true
	}
	release, err := locks.Acquire(ctx, key, lockTTL)
	if err != nil {
		if !errors.Is(err, domain.ErrLockHeld) {
			// Lock backend down: fire anyway, the store's compare-and-set is
			// still the per-process guard.
			return func() {}, true
		}
		return nil, false
	}
	return release, true
}

// inputMintFor maps an order's unit onto the mint it spends.
func inputMintFor(unit domain.Unit) string {
	if unit == domain.UnitUSDC {
		return domain.MintUSDC
	}
	return domain.MintSOL
}
