package monitor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

// NetWorthInterval is how often portfolio snapshots are appended.
const NetWorthInterval = 15 * time.Minute

// NetWorthMonitor periodically values every user's open lots at spot and
// appends a snapshot row, feeding the portfolio history charts.
type NetWorthMonitor struct {
	trades    domain.TradeStore
	snapshots domain.NetWorthStore
	oracle    domain.PriceOracle
	logger    *slog.Logger
}

// NewNetWorthMonitor creates a NetWorthMonitor.
func NewNetWorthMonitor(trades domain.TradeStore, snapshots domain.NetWorthStore, oracle domain.PriceOracle, logger *slog.Logger) *NetWorthMonitor {
	return &NetWorthMonitor{
		trades:    trades,
		snapshots: snapshots,
		oracle:    oracle,
		logger:    logger.With(slog.String("component", "networth_monitor")),
	}
}

// Run snapshots every active user on the interval until ctx is cancelled.
func (m *NetWorthMonitor) Run(ctx context.Context) error {
	return runEvery(ctx, NetWorthInterval, m.logger, m.Scan)
}

// Scan records one snapshot per user holding open lots.
func (m *NetWorthMonitor) Scan(ctx context.Context) error {
	users, err := m.trades.ListActiveUsers(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, userID := range users {
		if err := m.snapshotUser(ctx, userID, now); err != nil {
			m.logger.Warn("snapshot failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (m *NetWorthMonitor) snapshotUser(ctx context.Context, userID string, now time.Time) error {
	lots, err := m.trades.ListOpenByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(lots) == 0 {
		return nil
	}

	mintSet := make(map[string]struct{}, len(lots))
	for _, lot := range lots {
		mintSet[lot.Mint] = struct{}{}
	}
	mints := make([]string, 0, len(mintSet))
	for mint := range mintSet {
		mints = append(mints, mint)
	}
	prices, err := m.oracle.GetPrices(ctx, mints)
	if err != nil {
		return err
	}

	var total float64
	for _, lot := range lots {
		price, ok := prices[lot.Mint]
		if !ok {
			// Unpriceable mint: fall back to entry valuation so the snapshot
			// stays monotone with the book rather than dropping the lot.
			total += lot.USDValue
			continue
		}
		ui := float64(lot.OutAmount) / math.Pow10(lot.Decimals)
		total += ui * price.PriceUSD
	}

	return m.snapshots.Record(ctx, domain.NetWorthSnapshot{
		UserID:     userID,
		TotalUSD:   total,
		OpenLots:   len(lots),
		RecordedAt: now,
	})
}
