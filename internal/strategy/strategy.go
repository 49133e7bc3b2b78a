// Package strategy implements the per-bot trading strategies and the
// supervised runtime loop that drives them. Each strategy is a single-actor
// tick function; everything shared between bots goes through the repository
// or the executor's process-wide gates.
package strategy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// TradeExecutor is the slice of the executor the strategies use.
type TradeExecutor interface {
	ExecTrade(ctx context.Context, req executor.ExecRequest) (string, error)
}

// SafetyEvaluator runs the pre-trade checks for a mint.
type SafetyEvaluator interface {
	Evaluate(ctx context.Context, mint string, flags domain.SafetyFlags) domain.SafetyReport
}

// Env bundles the collaborators a strategy may use. Not every strategy uses
// every field.
type Env struct {
	Exec     TradeExecutor
	Quotes   domain.QuoteSource
	Oracle   domain.PriceOracle
	Meta     domain.TokenMetaSource
	Safety   SafetyEvaluator
	Listings domain.ListingsFeed
	Trades   domain.TradeStore
	Wallets  domain.WalletStore
	Sell     SellExecutor
	Forward  Forwarder
	Logger   *slog.Logger
}

// SellExecutor is the sell-side surface: swap out of a position and record
// the reduction. Rotation and rebalancer trim positions through it.
type SellExecutor interface {
	ExecSell(ctx context.Context, req executor.SellRequest) (string, error)
}

// Forwarder sweeps a wallet's purchased tokens and excess SOL to a cold
// destination. Used by the stealth strategy's auto-forward modes.
type Forwarder interface {
	Forward(ctx context.Context, walletID, destination string, mints []string, solFloorLamports uint64) error
}

// TickStrategy is one strategy's actor body. The runtime calls Init once,
// Tick every interval, and Close on the way out. Tick errors count toward the
// halt-on-failures limit; skipped candidates are not errors.
type TickStrategy interface {
	Mode() string
	Init(ctx context.Context) error
	Tick(ctx context.Context) error
	Close(ctx context.Context) error
}

// BotIdentity names the bot a strategy instance runs under.
type BotIdentity struct {
	BotID  string
	UserID string
}

// New builds the strategy for cfg.Mode. Paper mode wraps the inner section's
// strategy with a pipeline forced onto the simulated path.
func New(id BotIdentity, cfg domain.BotConfig, env Env) (TickStrategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	simulated := cfg.Mode == "paper" || cfg.Common.DryRun

	mode := cfg.Mode
	if mode == "paper" {
		mode = innerMode(cfg)
	}

	p := newPipeline(id, mode, cfg.Common, simulated, env)

	switch mode {
	case "sniper":
		return newSniper(cfg.Sniper, p, env), nil
	case "scalper":
		return newScalper(cfg.Scalper, p, env), nil
	case "breakout":
		return newBreakout(cfg.Breakout, p, env), nil
	case "trend":
		return newTrend(cfg.Trend, p, env), nil
	case "dip":
		return newDip(cfg.Dip, p, env), nil
	case "chad":
		return newChad(cfg.Chad, p, env), nil
	case "stealth":
		return newStealth(cfg.Stealth, p, env), nil
	case "rebalancer":
		return newRebalancer(cfg.Rebalancer, p, env), nil
	case "rotation":
		return newRotation(cfg.Rotation, p, env), nil
	default:
		return nil, fmt.Errorf("strategy: unknown mode %q", mode)
	}
}

// innerMode names the section a paper config wraps.
func innerMode(cfg domain.BotConfig) string {
	switch {
	case cfg.Sniper != nil:
		return "sniper"
	case cfg.Scalper != nil:
		return "scalper"
	case cfg.Breakout != nil:
		return "breakout"
	case cfg.Trend != nil:
		return "trend"
	case cfg.Dip != nil:
		return "dip"
	case cfg.Chad != nil:
		return "chad"
	case cfg.Stealth != nil:
		return "stealth"
	case cfg.Rebalancer != nil:
		return "rebalancer"
	case cfg.Rotation != nil:
		return "rotation"
	}
	return ""
}
