package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

// openByMint groups a user's open lots for this bot's wallet and strategy.
func openByMint(ctx context.Context, env Env, id BotIdentity, walletID, strategyName string) (map[string][]domain.Trade, error) {
	lots, err := env.Trades.ListOpenByUser(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("strategy: open lots: %w", err)
	}
	byMint := make(map[string][]domain.Trade)
	for _, lot := range lots {
		if lot.WalletID != walletID || lot.Strategy != strategyName {
			continue
		}
		byMint[lot.Mint] = append(byMint[lot.Mint], lot)
	}
	return byMint, nil
}

// sellPosition quotes the position amount into SOL and executes the sell.
func sellPosition(ctx context.Context, env Env, key domain.PositionKey, lots []domain.Trade, fraction float64, trigger domain.TriggerType, slippageBps int, simulated bool) error {
	var total uint64
	for _, lot := range lots {
		total += lot.OutAmount
	}
	amount := uint64(math.Floor(float64(total) * fraction))
	if amount == 0 {
		return nil
	}
	quote, err := env.Quotes.GetQuote(ctx, domain.QuoteRequest{
		InputMint:   key.Mint,
		OutputMint:  domain.MintSOL,
		Amount:      amount,
		SlippageBps: slippageBps,
	})
	if err != nil {
		if errors.Is(err, domain.ErrQuoteUnavailable) {
			return nil
		}
		return fmt.Errorf("strategy: sell quote: %w", err)
	}
	_, err = env.Sell.ExecSell(ctx, executor.SellRequest{
		Quote:       quote,
		Key:         key,
		TriggerType: trigger,
		Simulated:   simulated,
	})
	return err
}

// rebalancer nudges portfolio weights back toward their targets whenever the
// drift exceeds the band.
type rebalancer struct {
	base
	cfg *domain.RebalancerConfig
	env Env
}

func newRebalancer(cfg *domain.RebalancerConfig, p *pipeline, env Env) *rebalancer {
	return &rebalancer{base: base{p: p}, cfg: cfg, env: env}
}

func (s *rebalancer) Mode() string { return "rebalancer" }

func (s *rebalancer) Tick(ctx context.Context) error {
	byMint, err := openByMint(ctx, s.env, s.p.id, s.p.common.WalletID, "rebalancer")
	if err != nil {
		return err
	}

	mints := make([]string, 0, len(s.cfg.TargetWeights))
	for mint := range s.cfg.TargetWeights {
		mints = append(mints, mint)
	}
	prices, err := s.env.Oracle.GetPrices(ctx, mints)
	if err != nil {
		return fmt.Errorf("rebalancer: prices: %w", err)
	}
	solPrice, err := s.env.Oracle.GetPrice(ctx, domain.MintSOL)
	if err != nil {
		return fmt.Errorf("rebalancer: sol price: %w", err)
	}

	// Portfolio value per mint at current prices.
	values := make(map[string]float64, len(mints))
	total := 0.0
	for _, mint := range mints {
		price, ok := prices[mint]
		if !ok {
			continue
		}
		var held float64
		for _, lot := range byMint[mint] {
			held += float64(lot.OutAmount) / math.Pow10(lot.Decimals)
		}
		v := held * price.PriceUSD
		values[mint] = v
		total += v
	}
	if total == 0 {
		// Empty portfolio: seed each target with its weight share of the
		// configured spend.
		for _, mint := range mints {
			weight := s.cfg.TargetWeights[mint]
			if weight <= 0 || s.p.common.AmountToSpend <= 0 {
				continue
			}
			if _, err := s.p.Consider(ctx, candidate{
				Mint:      mint,
				PriceUSD:  prices[mint].PriceUSD,
				VolumeUSD: prices[mint].VolumeUSD,
				AmountUI:  s.p.common.AmountToSpend * weight,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	band := s.cfg.BandPct / 100
	for _, mint := range mints {
		target := s.cfg.TargetWeights[mint]
		current := values[mint] / total
		drift := current - target

		switch {
		case drift > band:
			// Overweight: trim the excess.
			excessUSD := (current - target) * total
			fraction := excessUSD / values[mint]
			key := domain.PositionKey{UserID: s.p.id.UserID, WalletID: s.p.common.WalletID, Mint: mint, Strategy: "rebalancer"}
			if err := sellPosition(ctx, s.env, key, byMint[mint], fraction, domain.TriggerManual, s.p.common.SlippageBps, s.p.simulated); err != nil {
				return err
			}
			s.p.log.Info("rebalanced down", slog.String("mint", mint), slog.Float64("drift_pct", drift*100))
		case drift < -band:
			// Underweight: top up with the deficit, denominated in SOL.
			deficitUSD := (target - current) * total
			if solPrice.PriceUSD <= 0 {
				continue
			}
			if _, err := s.p.Consider(ctx, candidate{
				Mint:      mint,
				PriceUSD:  prices[mint].PriceUSD,
				VolumeUSD: prices[mint].VolumeUSD,
				AmountUI:  deficitUSD / solPrice.PriceUSD,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// rotation keeps the position in the strongest mint of the candidate set,
// switching only after the minimum hold elapses.
type rotation struct {
	base
	cfg    *domain.RotationConfig
	env    Env
	window *priceWindow

	heldMint  string
	heldSince time.Time
}

func newRotation(cfg *domain.RotationConfig, p *pipeline, env Env) *rotation {
	return &rotation{
		base:   base{p: p},
		cfg:    cfg,
		env:    env,
		window: newPriceWindow(time.Duration(cfg.WindowSec) * time.Second),
	}
}

func (s *rotation) Mode() string { return "rotation" }

// Init recovers the held mint from open lots so a restart does not flip the
// position immediately.
func (s *rotation) Init(ctx context.Context) error {
	byMint, err := openByMint(ctx, s.env, s.p.id, s.p.common.WalletID, "rotation")
	if err != nil {
		return err
	}
	for mint, lots := range byMint {
		if len(lots) > 0 {
			s.heldMint = mint
			s.heldSince = lots[0].CreatedAt
			break
		}
	}
	return nil
}

func (s *rotation) Tick(ctx context.Context) error {
	prices, err := watchedPrices(ctx, s.env, s.window, s.cfg.Mints)
	if err != nil {
		return err
	}

	strongest := ""
	best := math.Inf(-1)
	for _, mint := range s.cfg.Mints {
		change, ok := s.window.ChangePct(mint)
		if !ok {
			continue
		}
		if change > best {
			best = change
			strongest = mint
		}
	}
	if strongest == "" {
		return nil // window still warming up
	}

	if s.heldMint == strongest {
		return nil
	}

	if s.heldMint != "" {
		hold := time.Duration(s.cfg.HoldMinutes) * time.Minute
		if time.Since(s.heldSince) < hold {
			return nil
		}
		byMint, err := openByMint(ctx, s.env, s.p.id, s.p.common.WalletID, "rotation")
		if err != nil {
			return err
		}
		key := domain.PositionKey{UserID: s.p.id.UserID, WalletID: s.p.common.WalletID, Mint: s.heldMint, Strategy: "rotation"}
		if err := sellPosition(ctx, s.env, key, byMint[s.heldMint], 1, domain.TriggerManual, s.p.common.SlippageBps, s.p.simulated); err != nil {
			return err
		}
		s.p.log.Info("rotated out", slog.String("mint", s.heldMint))
		s.heldMint = ""
	}

	amount := s.p.common.AmountToSpend
	if amount <= 0 {
		return nil
	}
	executed, err := s.p.Consider(ctx, candidate{
		Mint:      strongest,
		PriceUSD:  prices[strongest].PriceUSD,
		VolumeUSD: prices[strongest].VolumeUSD,
		AmountUI:  amount,
	})
	if err != nil {
		return err
	}
	if executed {
		s.heldMint = strongest
		s.heldSince = time.Now()
		s.p.log.Info("rotated into", slog.String("mint", strongest))
	}
	return nil
}
