package position

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/averylane/soltraderd/internal/domain"
)

// fakeTx is an in-memory PositionTx; mutations apply immediately.
type fakeTx struct {
	lots  []domain.Trade
	rules []domain.TpSlRule

	closed       []domain.ClosedTrade
	deleted      []string
	rulesDeleted bool
	sellPcts     map[string]float64
}

func (f *fakeTx) LockOpenLots(_ context.Context, key domain.PositionKey) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, lot := range f.lots {
		if lot.Key() == key && lot.Open() {
			out = append(out, lot)
		}
	}
	return out, nil
}

func (f *fakeTx) UpdateLot(_ context.Context, lot domain.Trade) error {
	for i := range f.lots {
		if f.lots[i].ID == lot.ID {
			f.lots[i] = lot
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeTx) DeleteLot(_ context.Context, id string) error {
	for i := range f.lots {
		if f.lots[i].ID == id {
			f.lots = append(f.lots[:i], f.lots[i+1:]...)
			f.deleted = append(f.deleted, id)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeTx) InsertClosedTrade(_ context.Context, ct domain.ClosedTrade) error {
	f.closed = append(f.closed, ct)
	return nil
}

func (f *fakeTx) ListRules(context.Context, domain.PositionKey) ([]domain.TpSlRule, error) {
	return f.rules, nil
}

func (f *fakeTx) UpdateRuleSellPct(_ context.Context, id string, sellPct float64) error {
	if f.sellPcts == nil {
		f.sellPcts = map[string]float64{}
	}
	f.sellPcts[id] = sellPct
	return nil
}

func (f *fakeTx) DeleteRules(context.Context, domain.PositionKey) error {
	f.rulesDeleted = true
	f.rules = nil
	return nil
}

type fakeStore struct {
	tx *fakeTx
}

func (f *fakeStore) WithinTx(_ context.Context, fn func(tx domain.PositionTx) error) error {
	return fn(f.tx)
}

var testKey = domain.PositionKey{UserID: "u1", WalletID: "w1", Mint: "MintA", Strategy: "sniper"}

func lot(id string, inAmount, outAmount uint64) domain.Trade {
	return domain.Trade{
		ID:            id,
		UserID:        testKey.UserID,
		WalletID:      testKey.WalletID,
		Mint:          testKey.Mint,
		Strategy:      testKey.Strategy,
		InAmount:      inAmount,
		OutAmount:     outAmount,
		EntryPrice:    0.1,
		EntryPriceUSD: 20,
		Unit:          domain.UnitSOL,
		Decimals:      6,
	}
}

func newReducer(tx *fakeTx) *Reducer {
	return New(&fakeStore{tx: tx}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReducePercentFIFO(t *testing.T) {
	tx := &fakeTx{
		lots: []domain.Trade{
			lot("l1", 1_000_000, 10_000_000),
			lot("l2", 2_000_000, 20_000_000),
			lot("l3", 3_000_000, 30_000_000),
		},
		rules: []domain.TpSlRule{{ID: "r1", SellPct: 1}, {ID: "r2", SellPct: 0.5}},
	}
	r := newReducer(tx)

	res, err := r.Reduce(context.Background(), domain.ReduceRequest{
		Key:         testKey,
		Percent:     0.25,
		ExitPrice:   0.2,
		TxHash:      "tx1",
		TriggerType: domain.TriggerManual,
		Decimals:    6,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}

	// 25% of 60 tokens: the oldest lot drains fully, the second loses 5.
	if res.SoldAmount != 15_000_000 {
		t.Fatalf("sold = %d", res.SoldAmount)
	}
	if res.LotsDeleted != 1 || len(tx.deleted) != 1 || tx.deleted[0] != "l1" {
		t.Fatalf("oldest lot not deleted: %+v", tx.deleted)
	}
	if res.PositionFlat {
		t.Fatal("partial exit reported flat")
	}

	if len(tx.lots) != 2 {
		t.Fatalf("lots remaining = %d", len(tx.lots))
	}
	if tx.lots[0].ID != "l2" || tx.lots[0].OutAmount != 15_000_000 {
		t.Fatalf("second lot: %+v", tx.lots[0])
	}
	// Cost basis trims pro rata: 5/20 of the 2.0 input.
	if tx.lots[0].InAmount != 1_500_000 {
		t.Fatalf("second lot cost basis = %d", tx.lots[0].InAmount)
	}
	if tx.lots[1].OutAmount != 30_000_000 {
		t.Fatal("untouched lot changed")
	}

	if len(res.ClosedTrades) != 2 {
		t.Fatalf("closed trades = %d", len(res.ClosedTrades))
	}
	first := res.ClosedTrades[0]
	if first.OutAmount != 10_000_000 || first.InAmount != 1_000_000 {
		t.Fatalf("first slice: %+v", first)
	}
	if first.ExitPrice != 0.2 || first.TriggerType != domain.TriggerManual {
		t.Fatalf("first slice exit fields: %+v", first)
	}
	if first.TxHash == "tx1" {
		t.Fatal("closed trade tx hash missing uniqueness suffix")
	}

	// Remaining rules rescale to the surviving 75%.
	if tx.sellPcts["r1"] != 0.75 || tx.sellPcts["r2"] != 0.375 {
		t.Fatalf("rule sellPcts: %v", tx.sellPcts)
	}
	if tx.rulesDeleted {
		t.Fatal("partial exit deleted the rules")
	}
}

func TestReduceFullExit(t *testing.T) {
	tx := &fakeTx{
		lots:  []domain.Trade{lot("l1", 1_000_000, 10_000_000), lot("l2", 2_000_000, 20_000_000)},
		rules: []domain.TpSlRule{{ID: "r1", SellPct: 1}},
	}
	r := newReducer(tx)

	res, err := r.Reduce(context.Background(), domain.ReduceRequest{
		Key:      testKey,
		Amount:   30_000_000,
		TxHash:   "tx2",
		Decimals: 6,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if !res.PositionFlat {
		t.Fatal("full exit not reported flat")
	}
	if len(tx.lots) != 0 || res.LotsDeleted != 2 {
		t.Fatalf("lots left: %d deleted: %d", len(tx.lots), res.LotsDeleted)
	}
	if !tx.rulesDeleted {
		t.Fatal("flat position kept its rules")
	}
}

func TestReduceRemovedAmountCapped(t *testing.T) {
	// On-chain removals can overshoot the books by rounding; the reduction
	// caps at the open total instead of underflowing a lot.
	tx := &fakeTx{lots: []domain.Trade{lot("l1", 1_000_000, 10_000_000)}}
	r := newReducer(tx)

	res, err := r.Reduce(context.Background(), domain.ReduceRequest{
		Key:           testKey,
		RemovedAmount: 10_000_123,
		TxHash:        "tx3",
		Decimals:      6,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if res.SoldAmount != 10_000_000 || !res.PositionFlat {
		t.Fatalf("result: %+v", res)
	}
}

func TestReduceDustDeletion(t *testing.T) {
	// Selling down to below 0.01 whole tokens deletes the lot.
	tx := &fakeTx{lots: []domain.Trade{lot("l1", 1_000_000, 10_000_000)}}
	r := newReducer(tx)

	res, err := r.Reduce(context.Background(), domain.ReduceRequest{
		Key:      testKey,
		Amount:   9_995_000,
		TxHash:   "tx4",
		Decimals: 6,
	})
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	if res.LotsDeleted != 1 || len(tx.lots) != 0 {
		t.Fatalf("dust lot survived: %+v", tx.lots)
	}
}

func TestReduceNoOpenLots(t *testing.T) {
	r := newReducer(&fakeTx{})
	_, err := r.Reduce(context.Background(), domain.ReduceRequest{
		Key:    testKey,
		Amount: 1,
		TxHash: "tx5",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestReduceValidation(t *testing.T) {
	r := newReducer(&fakeTx{lots: []domain.Trade{lot("l1", 1, 1)}})

	tests := []struct {
		name string
		req  domain.ReduceRequest
	}{
		{"no size", domain.ReduceRequest{Key: testKey, TxHash: "tx"}},
		{"two sizes", domain.ReduceRequest{Key: testKey, Percent: 0.5, Amount: 1, TxHash: "tx"}},
		{"percent out of range", domain.ReduceRequest{Key: testKey, Percent: 1.5, TxHash: "tx"}},
		{"missing tx hash", domain.ReduceRequest{Key: testKey, Amount: 1}},
		{"negative exit price", domain.ReduceRequest{Key: testKey, Amount: 1, ExitPrice: -1, TxHash: "tx"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := r.Reduce(context.Background(), tt.req); !errors.Is(err, domain.ErrBadInput) {
				t.Fatalf("got %v, want ErrBadInput", err)
			}
		})
	}
}
