package domain

import (
	"strings"
	"testing"
)

func validSniper() BotConfig {
	return BotConfig{
		Mode:   "sniper",
		Common: CommonBotConfig{WalletID: "w1", AmountToSpend: 0.5, IntervalSec: 10},
		Sniper: &SniperConfig{EntryThresholdPct: 5},
	}
}

func TestBotConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*BotConfig)
		wantErr string
	}{
		{"valid", func(*BotConfig) {}, ""},
		{"unknown mode", func(c *BotConfig) { c.Mode = "yolo" }, "unknown bot mode"},
		{"missing section", func(c *BotConfig) { c.Sniper = nil }, "requires its config section"},
		{"extra section", func(c *BotConfig) { c.Scalper = &ScalperConfig{} }, "extra scalper section"},
		{"zero amount", func(c *BotConfig) { c.Common.AmountToSpend = 0 }, "amountToSpend"},
		{"zero interval", func(c *BotConfig) { c.Common.IntervalSec = 0 }, "interval"},
		{"no wallet", func(c *BotConfig) { c.Common.WalletID = "" }, "walletId or walletLabels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validSniper()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestBotConfigValidatePaper(t *testing.T) {
	cfg := validSniper()
	cfg.Mode = "paper"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("paper wrapping one section: %v", err)
	}

	cfg.Scalper = &ScalperConfig{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("paper with two sections validated")
	}

	cfg = BotConfig{Mode: "paper", Common: CommonBotConfig{WalletID: "w1", AmountToSpend: 1, IntervalSec: 5}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("paper with no section validated")
	}
}

func TestBotConfigValidatePortfolioModes(t *testing.T) {
	// Rebalancer and rotation size trades from the portfolio, not a fixed
	// per-trade amount.
	cfg := BotConfig{
		Mode:       "rebalancer",
		Common:     CommonBotConfig{WalletID: "w1", IntervalSec: 60},
		Rebalancer: &RebalancerConfig{TargetWeights: map[string]float64{"MintA": 1}, BandPct: 5},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("rebalancer without amountToSpend: %v", err)
	}
}
