package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// candidate is one mint a strategy wants to enter this tick. Strategies apply
// their own entry signal first; the pipeline applies the shared guards.
type candidate struct {
	Mint      string
	PriceUSD  float64
	VolumeUSD float64
	ListedAt  int64 // unix seconds, 0 = unknown

	// Optional per-candidate overrides (stealth jitter, portfolio sizing).
	WalletID    string
	AmountUI    float64
	SlippageBps int
	InputMint   string
}

// pipeline runs the shared candidate guards in order: cooldown, age filter,
// volume floor, limit price, safety, daily-volume cap, quote + slippage,
// execute. Per-bot state (cooldown map, counters) is local to the pipeline.
type pipeline struct {
	id        BotIdentity
	mode      string
	common    domain.CommonBotConfig
	simulated bool
	env       Env
	log       *slog.Logger

	// Strategy-tuned guard knobs.
	volumeFloor float64
	limitPrice  float64

	cooldown map[string]time.Time
	executed atomic.Int64
}

func newPipeline(id BotIdentity, mode string, common domain.CommonBotConfig, simulated bool, env Env) *pipeline {
	return &pipeline{
		id:        id,
		mode:      mode,
		common:    common,
		simulated: simulated,
		env:       env,
		log: env.Logger.With(
			slog.String("component", "strategy"),
			slog.String("bot_id", id.BotID),
			slog.String("mode", mode),
		),
		cooldown: make(map[string]time.Time),
	}
}

// Executed reports how many trades this bot has placed.
func (p *pipeline) Executed() int { return int(p.executed.Load()) }

// Consider runs the guards for one candidate. A skipped candidate returns
// (false, nil); only executor and infrastructure failures are errors.
func (p *pipeline) Consider(ctx context.Context, cand candidate) (bool, error) {
	// 1. Cooldown: one attempt per mint per scan interval.
	interval := time.Duration(p.common.IntervalSec) * time.Second
	if last, ok := p.cooldown[cand.Mint]; ok && time.Since(last) < interval {
		return false, nil
	}
	p.cooldown[cand.Mint] = time.Now()

	// 2. Age filter.
	if p.common.MaxTokenAgeMin > 0 {
		listedAt := cand.ListedAt
		if listedAt == 0 && p.env.Meta != nil {
			if meta, err := p.env.Meta.GetTokenMeta(ctx, cand.Mint); err == nil {
				listedAt = meta.CreatedAt
			}
		}
		if listedAt > 0 {
			age := time.Since(time.Unix(listedAt, 0))
			if age > time.Duration(p.common.MaxTokenAgeMin)*time.Minute {
				p.log.Debug("candidate too old", slog.String("mint", cand.Mint), slog.Duration("age", age))
				return false, nil
			}
		}
	}

	// 3. Volume floor.
	if p.volumeFloor > 0 && cand.VolumeUSD < p.volumeFloor {
		return false, nil
	}

	// 4. Limit price.
	if p.limitPrice > 0 && cand.PriceUSD > p.limitPrice {
		return false, nil
	}

	// 5. Safety.
	if !p.common.DisableSafety && p.env.Safety != nil {
		flags := domain.DefaultSafetyFlags()
		if p.common.SafetyChecks != nil {
			flags = *p.common.SafetyChecks
		}
		report := p.env.Safety.Evaluate(ctx, cand.Mint, flags)
		if !report.Passed {
			p.log.Info("safety rejected candidate",
				slog.String("mint", cand.Mint),
				slog.Any("failed", report.FailedKeys()),
			)
			return false, nil
		}
	}

	amountUI := cand.AmountUI
	if amountUI <= 0 {
		amountUI = p.common.AmountToSpend
	}

	// 6. Daily-volume cap.
	if p.common.MaxDailyVolume > 0 {
		dayStart := time.Now().UTC().Truncate(24 * time.Hour)
		spent, err := p.env.Trades.SumDailyVolume(ctx, p.id.UserID, p.id.BotID, dayStart)
		if err != nil {
			return false, fmt.Errorf("strategy: daily volume: %w", err)
		}
		if spent+amountUI > p.common.MaxDailyVolume {
			p.log.Info("daily volume cap reached", slog.Float64("spent", spent))
			return false, nil
		}
	}

	// 7. Quote.
	inputMint := cand.InputMint
	if inputMint == "" {
		inputMint = domain.MintSOL
	}
	slippage := cand.SlippageBps
	if slippage <= 0 {
		slippage = p.common.SlippageBps
	}
	quote, err := p.env.Quotes.GetQuote(ctx, domain.QuoteRequest{
		InputMint:   inputMint,
		OutputMint:  cand.Mint,
		Amount:      rawAmount(inputMint, amountUI),
		SlippageBps: slippage,
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuoteUnavailable) {
			p.log.Debug("no route for candidate", slog.String("mint", cand.Mint))
			return false, nil
		}
		return false, fmt.Errorf("strategy: quote: %w", err)
	}
	if p.common.MaxSlippagePct > 0 && quote.PriceImpactPct > p.common.MaxSlippagePct {
		p.log.Debug("price impact over limit",
			slog.String("mint", cand.Mint),
			slog.Float64("impact_pct", quote.PriceImpactPct),
		)
		return false, nil
	}

	// 8. Execute.
	walletID := cand.WalletID
	if walletID == "" {
		walletID = p.common.WalletID
	}
	txHash, err := p.env.Exec.ExecTrade(ctx, executor.ExecRequest{
		Quote: quote,
		Mint:  cand.Mint,
		Meta: executor.TradeMeta{
			UserID:      p.id.UserID,
			WalletID:    walletID,
			Strategy:    p.mode,
			Category:    "bot",
			BotID:       p.id.BotID,
			TPPercent:   p.common.TakeProfit,
			SLPercent:   p.common.StopLoss,
			SlippageBps: slippage,
		},
		Simulated: p.simulated,
	})
	if err != nil {
		return false, err
	}
	if txHash == "" {
		// Idempotency suppression: nothing new happened.
		return false, nil
	}
	p.executed.Add(1)
	p.log.Info("candidate executed",
		slog.String("mint", cand.Mint),
		slog.String("tx", txHash),
		slog.Bool("simulated", p.simulated),
	)
	return true, nil
}

// rawAmount converts UI units of the input mint into raw units.
func rawAmount(inputMint string, ui float64) uint64 {
	decimals := 9
	if inputMint == domain.MintUSDC {
		decimals = 6
	}
	return uint64(math.Round(ui * math.Pow10(decimals)))
}
