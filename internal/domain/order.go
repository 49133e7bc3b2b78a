package domain

import "time"

// OrderStatus is the lifecycle state of a limit or DCA order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderTriggering OrderStatus = "triggering"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderCompleted OrderStatus = "completed"
)

// LimitOrder fires a trade when the spot price crosses the target in the
// correct direction: buys at or below target, sells at or above.
type LimitOrder struct {
	ID          string
	UserID      string
	WalletID    string
	Mint        string
	Side        Side
	TargetPrice float64
	Amount      float64 // UI units of the input asset
	Unit        Unit
	SlippageBps int
	Force       bool
	Status      OrderStatus
	FailCount   int
	CreatedAt   time.Time
}

// Crossed reports whether price satisfies the order's firing condition.
func (o LimitOrder) Crossed(price float64) bool {
	if price <= 0 || o.TargetPrice <= 0 {
		return false
	}
	if o.Side == SideBuy {
		return price <= o.TargetPrice
	}
	return price >= o.TargetPrice
}

// DcaOrder buys (or sells) a fixed tranche on a fixed cadence, optionally
// pausing outside a price band. Each slot fires at most once.
type DcaOrder struct {
	ID            string
	UserID        string
	WalletID      string
	Mint          string
	Side          Side
	TotalAmount   float64 // UI units of the input asset, split across NumBuys
	Unit          Unit
	NumBuys       int
	FreqHours     float64
	StopAbove     float64 // skip slot when price > StopAbove (0 = unset)
	StopBelow     float64 // skip slot when price < StopBelow (0 = unset)
	SlippageBps   int
	CompletedBuys int
	NextFireAt    time.Time
	Status        OrderStatus
	FailCount     int
	CreatedAt     time.Time
}

// TrancheAmount returns the per-slot amount.
func (o DcaOrder) TrancheAmount() float64 {
	if o.NumBuys <= 0 {
		return 0
	}
	return o.TotalAmount / float64(o.NumBuys)
}

// InBand reports whether the current price is inside the configured band.
func (o DcaOrder) InBand(price float64) bool {
	if o.StopAbove > 0 && price > o.StopAbove {
		return false
	}
	if o.StopBelow > 0 && price < o.StopBelow {
		return false
	}
	return true
}

// Schedule materialises a bot config into a running instance at or after
// LaunchAt. WalletLabel resolves the wallet when WalletID is empty.
type Schedule struct {
	ID          string
	UserID      string
	Mode        string
	Config      BotConfig
	WalletID    string
	WalletLabel string
	LaunchAt    time.Time
	Limit       int // optional max trades override
	Status      OrderStatus
	CreatedAt   time.Time
}
