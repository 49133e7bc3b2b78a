package domain

// MEVMode selects how transactions are routed to mitigate sandwich attacks.
type MEVMode string

const (
	MEVModeOff    MEVMode = "off"
	MEVModeSecure MEVMode = "secure"
)

// UserPreference carries the per-user trading defaults applied when a strategy
// or manual trade does not override them.
type UserPreference struct {
	UserID             string
	DefaultSlippageBps int
	MEVMode            MEVMode
	DefaultPriorityFee uint64 // micro-lamports per compute unit
	BriberyAmount      uint64 // lamports
	AutoBuyAmountSOL   float64
	ConfirmTrades      bool
	RequireArmToTrade  bool
}

// TelegramPreference controls which alert categories are forwarded to a
// user's Telegram chat.
type TelegramPreference struct {
	UserID  string
	ChatID  string
	Enabled bool
	Events  []string
}

// WantsEvent reports whether the given alert category should be delivered.
// An empty Events list means all categories.
func (p TelegramPreference) WantsEvent(category string) bool {
	if !p.Enabled || p.ChatID == "" {
		return false
	}
	if len(p.Events) == 0 {
		return true
	}
	for _, e := range p.Events {
		if e == category {
			return true
		}
	}
	return false
}
