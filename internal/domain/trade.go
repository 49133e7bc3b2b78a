package domain

import "time"

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Unit names the denominating asset of a trade's input.
type Unit string

const (
	UnitSOL  Unit = "sol"
	UnitUSDC Unit = "usdc"
	UnitSPL  Unit = "spl"
)

// Well-known mints used to derive a trade's Unit.
const (
	MintSOL  = "So11111111111111111111111111111111111111112"
	MintUSDC = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// UnitForMint maps an input mint onto its trade unit.
func UnitForMint(mint string) Unit {
	switch mint {
	case MintSOL:
		return UnitSOL
	case MintUSDC:
		return UnitUSDC
	default:
		return UnitSPL
	}
}

// TriggerType records what caused a position reduction.
type TriggerType string

const (
	TriggerManual TriggerType = "manual"
	TriggerTP     TriggerType = "tp"
	TriggerSL     TriggerType = "sl"
	TriggerLimit  TriggerType = "limit"
	TriggerDCA    TriggerType = "dca"
)

// PositionKey identifies one logical position: all open lots a user holds in
// a mint through a given strategy and wallet.
type PositionKey struct {
	UserID   string
	WalletID string
	Mint     string
	Strategy string
}

// Trade is one open position lot. A lot is open while OutAmount > 0; the FIFO
// reducer debits lots oldest-first and deletes them once residual dust remains.
type Trade struct {
	ID              string
	UserID          string
	WalletID        string
	WalletLabel     string
	Strategy        string
	BotID           string
	Mint            string
	Side            Side
	InAmount        uint64 // raw input units spent
	OutAmount       uint64 // raw output units still held
	ClosedOutAmount uint64 // raw input units already realised
	EntryPrice      float64
	EntryPriceUSD   float64
	Unit            Unit
	Decimals        int
	USDValue        float64
	SlippageBps     int
	MEVMode         MEVMode
	PriorityFee     uint64
	BriberyAmount   uint64
	InputMint       string
	OutputMint      string
	TxHash          string
	Simulated       bool
	CreatedAt       time.Time
}

// Key returns the position key this lot belongs to.
func (t Trade) Key() PositionKey {
	return PositionKey{UserID: t.UserID, WalletID: t.WalletID, Mint: t.Mint, Strategy: t.Strategy}
}

// Open reports whether the lot still holds tokens.
func (t Trade) Open() bool { return t.OutAmount > 0 }

// ClosedTrade is the immutable record of one slice taken off an open lot.
// TxHash carries a uuid suffix so multiple slices of the same sell remain
// unique.
type ClosedTrade struct {
	ID            string
	UserID        string
	WalletID      string
	WalletLabel   string
	Strategy      string
	Mint          string
	InAmount      uint64
	OutAmount     uint64
	EntryPrice    float64
	EntryPriceUSD float64
	ExitPrice     float64
	ExitPriceUSD  float64
	Unit          Unit
	Decimals      int
	TriggerType   TriggerType
	TxHash        string
	ExitedAt      time.Time
}

// NetWorthSnapshot records a user's aggregate position value at a point in
// time, written after position-changing events.
type NetWorthSnapshot struct {
	UserID     string
	TotalUSD   float64
	OpenLots   int
	RecordedAt time.Time
}
