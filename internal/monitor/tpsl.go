package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// TpSlMonitor evaluates enabled TP/SL rules against the spot price and sells
// through the FIFO reducer when one triggers.
type TpSlMonitor struct {
	rules  domain.TpSlRuleStore
	trades domain.TradeStore
	oracle domain.PriceOracle
	quotes domain.QuoteSource
	sell   SellExecutor
	locks  domain.LockManager
	logger *slog.Logger
}

// NewTpSlMonitor creates the TP/SL watcher.
func NewTpSlMonitor(rules domain.TpSlRuleStore, trades domain.TradeStore, oracle domain.PriceOracle, quotes domain.QuoteSource, sell SellExecutor, locks domain.LockManager, logger *slog.Logger) *TpSlMonitor {
	return &TpSlMonitor{
		rules:  rules,
		trades: trades,
		oracle: oracle,
		quotes: quotes,
		sell:   sell,
		locks:  locks,
		logger: logger.With(slog.String("component", "tpsl_monitor")),
	}
}

// Run scans every TpSlInterval until ctx is cancelled.
func (m *TpSlMonitor) Run(ctx context.Context) error {
	return runEvery(ctx, TpSlInterval, m.logger, m.scan)
}

func (m *TpSlMonitor) scan(ctx context.Context) error {
	rules, err := m.rules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("tpsl: listing rules: %w", err)
	}
	if len(rules) == 0 {
		return nil
	}

	// One batched price read covers every watched mint.
	seen := make(map[string]bool)
	mints := make([]string, 0, len(rules))
	for _, rule := range rules {
		if !seen[rule.Mint] {
			seen[rule.Mint] = true
			mints = append(mints, rule.Mint)
		}
	}
	prices, err := m.oracle.GetPrices(ctx, mints)
	if err != nil {
		return fmt.Errorf("tpsl: prices: %w", err)
	}

	for _, rule := range rules {
		price, ok := prices[rule.Mint]
		if !ok {
			continue
		}
		trigger := rule.ShouldTrigger(price.PriceUSD)
		if trigger == "" {
			continue
		}
		m.fire(ctx, rule, trigger, price.PriceUSD)
	}
	return nil
}

func (m *TpSlMonitor) fire(ctx context.Context, rule domain.TpSlRule, trigger domain.TriggerType, price float64) {
	release, ok := acquire(ctx, m.locks, "tpsl:"+rule.ID)
	if !ok {
		return
	}
	defer release()

	won, err := m.rules.Claim(ctx, rule.ID)
	if err != nil || !won {
		return
	}

	key := rule.Key()
	lots, err := m.trades.ListOpen(ctx, key)
	if err != nil || len(lots) == 0 {
		// Rule outlived its position: drop it rather than retry forever.
		if derr := m.rules.DeleteForPosition(ctx, key); derr != nil {
			m.logger.Error("orphan rule cleanup failed", slog.String("rule_id", rule.ID), slog.String("error", derr.Error()))
		}
		return
	}
	var total uint64
	for _, lot := range lots {
		total += lot.OutAmount
	}

	sellPct := rule.SellPct
	if sellPct <= 0 || sellPct > 1 {
		sellPct = 1
	}
	amount := uint64(math.Floor(float64(total) * sellPct))
	if amount == 0 {
		m.releaseFailed(ctx, rule.ID)
		return
	}

	quote, err := m.quotes.GetQuote(ctx, domain.QuoteRequest{
		InputMint:  rule.Mint,
		OutputMint: domain.MintSOL,
		Amount:     amount,
	})
	if err == nil {
		_, err = m.sell.ExecSell(ctx, executor.SellRequest{
			Quote:       quote,
			Key:         key,
			TriggerType: trigger,
			Turbo:       rule.Force,
		})
	}
	if err != nil {
		m.logger.Warn("tp/sl fire failed",
			slog.String("rule_id", rule.ID),
			slog.String("trigger", string(trigger)),
			slog.String("error", err.Error()),
		)
		m.releaseFailed(ctx, rule.ID)
		return
	}

	// A full exit disables the rule so the same state transition cannot fire
	// twice; a flat position already had its rules deleted by the reducer. A
	// partial fire goes back to active: the reducer rescaled its sell fraction
	// and the remainder must stay watchable.
	if sellPct < 1 {
		if err := m.rules.Reactivate(ctx, rule.ID); err != nil {
			m.logger.Error("reactivate failed", slog.String("rule_id", rule.ID), slog.String("error", err.Error()))
		}
	} else if err := m.rules.Release(ctx, rule.ID, false); err != nil {
		m.logger.Error("release failed", slog.String("rule_id", rule.ID), slog.String("error", err.Error()))
	}
	m.logger.Info("tp/sl fired",
		slog.String("rule_id", rule.ID),
		slog.String("trigger", string(trigger)),
		slog.Float64("price", price),
		slog.Float64("sell_pct", sellPct),
	)
}

func (m *TpSlMonitor) releaseFailed(ctx context.Context, ruleID string) {
	if err := m.rules.Release(ctx, ruleID, true); err != nil {
		m.logger.Error("release failed", slog.String("rule_id", ruleID), slog.String("error", err.Error()))
	}
}
