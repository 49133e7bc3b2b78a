package domain

import "time"

// RuleStatus is the lifecycle state of a TP/SL rule. Monitors move a rule to
// triggering before invoking the reducer so a firing happens at most once.
type RuleStatus string

const (
	RuleActive     RuleStatus = "active"
	RuleTriggering RuleStatus = "triggering"
	RuleDisabled   RuleStatus = "disabled"
)

// TpSlRule is a take-profit / stop-loss watcher attached to one position key.
// Absolute TP/SL prices and percentage thresholds may both be set; either
// firing condition triggers.
type TpSlRule struct {
	ID         string
	UserID     string
	WalletID   string
	Mint       string
	Strategy   string
	TP         float64 // absolute price, 0 = unset
	SL         float64 // absolute price, 0 = unset
	TPPercent  float64 // percent above entry, 0 = unset
	SLPercent  float64 // percent below entry, 0 = unset
	EntryPrice float64
	SellPct    float64 // fraction of the position to sell on trigger (0..1]
	Force      bool
	Enabled    bool
	Status     RuleStatus
	FailCount  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Key returns the position key this rule watches.
func (r TpSlRule) Key() PositionKey {
	return PositionKey{UserID: r.UserID, WalletID: r.WalletID, Mint: r.Mint, Strategy: r.Strategy}
}

// ShouldTrigger evaluates the rule against the current price and returns the
// trigger type, or "" when no threshold is crossed.
func (r TpSlRule) ShouldTrigger(price float64) TriggerType {
	if !r.Enabled || price <= 0 {
		return ""
	}
	if r.TP > 0 && price >= r.TP {
		return TriggerTP
	}
	if r.SL > 0 && price <= r.SL {
		return TriggerSL
	}
	if r.EntryPrice > 0 {
		if r.TPPercent > 0 && price >= r.EntryPrice*(1+r.TPPercent/100) {
			return TriggerTP
		}
		if r.SLPercent > 0 && price <= r.EntryPrice*(1-r.SLPercent/100) {
			return TriggerSL
		}
	}
	return ""
}
