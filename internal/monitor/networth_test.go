package monitor

import (
	"context"
	"testing"

	"github.com/averylane/soltraderd/internal/domain"
)

type stubSnapshots struct {
	recorded []domain.NetWorthSnapshot
}

func (s *stubSnapshots) Record(_ context.Context, snap domain.NetWorthSnapshot) error {
	s.recorded = append(s.recorded, snap)
	return nil
}

func TestNetWorthScan(t *testing.T) {
	trades := &stubTrades{
		users: []string{"u1", "u2"},
		byUser: map[string][]domain.Trade{
			"u1": {
				// 2 tokens of MintA at $3 and 5 of MintB at $1.
				{Mint: "MintA", OutAmount: 2_000_000, Decimals: 6, USDValue: 4},
				{Mint: "MintB", OutAmount: 5_000_000_000, Decimals: 9, USDValue: 5},
			},
			"u2": {
				// MintC has no oracle price: valued at entry.
				{Mint: "MintC", OutAmount: 1_000_000, Decimals: 6, USDValue: 42},
			},
		},
	}
	oracle := &stubOracle{prices: map[string]domain.TokenPrice{
		"MintA": {PriceUSD: 3},
		"MintB": {PriceUSD: 1},
	}}
	snaps := &stubSnapshots{}
	m := NewNetWorthMonitor(trades, snaps, oracle, discard())

	if err := m.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snaps.recorded) != 2 {
		t.Fatalf("snapshots = %d", len(snaps.recorded))
	}

	byUser := map[string]domain.NetWorthSnapshot{}
	for _, s := range snaps.recorded {
		byUser[s.UserID] = s
	}
	if s := byUser["u1"]; s.TotalUSD != 11 || s.OpenLots != 2 {
		t.Fatalf("u1 snapshot: %+v", s)
	}
	if s := byUser["u2"]; s.TotalUSD != 42 || s.OpenLots != 1 {
		t.Fatalf("u2 snapshot: %+v", s)
	}
}

func TestNetWorthSkipsFlatUsers(t *testing.T) {
	trades := &stubTrades{users: []string{"u1"}, byUser: map[string][]domain.Trade{}}
	oracle := &stubOracle{prices: map[string]domain.TokenPrice{}}
	snaps := &stubSnapshots{}
	m := NewNetWorthMonitor(trades, snaps, oracle, discard())

	if err := m.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(snaps.recorded) != 0 {
		t.Fatal("flat user got a snapshot")
	}
}
