package domain

import (
	"context"
	"time"
)

// WalletStore persists wallets and their key material.
type WalletStore interface {
	GetByID(ctx context.Context, id string) (Wallet, error)
	GetActive(ctx context.Context, userID string) (Wallet, error)
	GetByLabel(ctx context.Context, userID, label string) (Wallet, error)
	ListByUser(ctx context.Context, userID string) ([]Wallet, error)
}

// UserStore reads per-user preferences.
type UserStore interface {
	GetPreferences(ctx context.Context, userID string) (UserPreference, error)
	GetTelegramPreference(ctx context.Context, userID string) (TelegramPreference, error)
}

// TradeStore persists open position lots.
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	GetByID(ctx context.Context, id string) (Trade, error)
	// RecentBuy returns the most recent buy-side trade for the key created at
	// or after since, or ErrNotFound. The executor's duplicate guard uses it.
	RecentBuy(ctx context.Context, key PositionKey, since time.Time) (Trade, error)
	ListOpen(ctx context.Context, key PositionKey) ([]Trade, error)
	ListOpenByUser(ctx context.Context, userID string) ([]Trade, error)
	// ListActiveUsers returns the IDs of users currently holding open lots.
	ListActiveUsers(ctx context.Context) ([]string, error)
	SumDailyVolume(ctx context.Context, userID, botID string, since time.Time) (float64, error)
}

// ClosedTradeStore persists position reduction records.
type ClosedTradeStore interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]ClosedTrade, error)
	ListBefore(ctx context.Context, before time.Time) ([]ClosedTrade, error)
}

// TpSlRuleStore persists TP/SL rules.
type TpSlRuleStore interface {
	Upsert(ctx context.Context, r TpSlRule) error
	ListEnabled(ctx context.Context) ([]TpSlRule, error)
	// Claim transitions a rule from active to triggering and reports whether
	// this caller won the transition. Firing is idempotent per state change.
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string, failed bool) error
	// Reactivate returns a partially fired rule to active so the rescaled
	// remainder can trigger again.
	Reactivate(ctx context.Context, id string) error
	DeleteForPosition(ctx context.Context, key PositionKey) error
}

// LimitOrderStore persists limit orders.
type LimitOrderStore interface {
	ListOpen(ctx context.Context) ([]LimitOrder, error)
	// Claim transitions open -> triggering; false when another monitor won.
	Claim(ctx context.Context, id string) (bool, error)
	MarkFilled(ctx context.Context, id, txHash string) error
	Release(ctx context.Context, id string, failed bool) error
}

// DcaOrderStore persists DCA ladders.
type DcaOrderStore interface {
	ListDue(ctx context.Context, now time.Time) ([]DcaOrder, error)
	Claim(ctx context.Context, id string) (bool, error)
	// Advance increments completedBuys, sets the next fire time, and closes
	// the order when the ladder is complete.
	Advance(ctx context.Context, id string, nextFireAt time.Time) error
	Release(ctx context.Context, id string, failed bool) error
	Defer(ctx context.Context, id string, nextFireAt time.Time) error
}

// ScheduleStore persists scheduled strategy launches.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time) ([]Schedule, error)
	// Claim transitions pending -> triggering; false when already claimed.
	Claim(ctx context.Context, id string) (bool, error)
	MarkLaunched(ctx context.Context, id, botID string) error
	Release(ctx context.Context, id string, failed bool) error
}

// NetWorthStore appends net-worth history snapshots.
type NetWorthStore interface {
	Record(ctx context.Context, snap NetWorthSnapshot) error
}

// ReduceRequest asks the FIFO reducer to close or trim a position. Exactly
// one of Percent, Amount, RemovedAmount is set.
type ReduceRequest struct {
	Key           PositionKey
	Percent       float64 // fraction of the open total (0..1]
	Amount        uint64  // raw output units to sell
	RemovedAmount uint64  // raw output units already removed on-chain
	ExitPrice     float64
	ExitPriceUSD  float64
	TxHash        string
	TriggerType   TriggerType
	Decimals      int
}

// ReduceResult reports what the reducer did.
type ReduceResult struct {
	SoldAmount   uint64
	ClosedTrades []ClosedTrade
	LotsDeleted  int
	PositionFlat bool
}

// PositionTx is the transactional surface the FIFO reducer runs against.
// Implementations must make the whole reduction atomic.
type PositionTx interface {
	// LockOpenLots returns the key's open lots ordered oldest-first, locked
	// for update.
	LockOpenLots(ctx context.Context, key PositionKey) ([]Trade, error)
	UpdateLot(ctx context.Context, lot Trade) error
	DeleteLot(ctx context.Context, id string) error
	InsertClosedTrade(ctx context.Context, ct ClosedTrade) error
	ListRules(ctx context.Context, key PositionKey) ([]TpSlRule, error)
	UpdateRuleSellPct(ctx context.Context, id string, sellPct float64) error
	DeleteRules(ctx context.Context, key PositionKey) error
}

// PositionStore opens position transactions.
type PositionStore interface {
	WithinTx(ctx context.Context, fn func(tx PositionTx) error) error
}
