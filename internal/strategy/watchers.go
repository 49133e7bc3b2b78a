package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

// watchedPrices fetches the current prices for a mint set and feeds the
// rolling window. Shared by every watched-mint strategy.
func watchedPrices(ctx context.Context, env Env, w *priceWindow, mints []string) (map[string]domain.TokenPrice, error) {
	prices, err := env.Oracle.GetPrices(ctx, mints)
	if err != nil {
		return nil, fmt.Errorf("strategy: prices: %w", err)
	}
	for mint, p := range prices {
		w.Observe(mint, p.PriceUSD)
	}
	return prices, nil
}

// scalper buys a watched mint after a short-window drop, betting on the
// bounce.
type scalper struct {
	base
	cfg    *domain.ScalperConfig
	env    Env
	window *priceWindow
}

func newScalper(cfg *domain.ScalperConfig, p *pipeline, env Env) *scalper {
	p.volumeFloor = cfg.VolumeFloorUSD
	return &scalper{
		base:   base{p: p},
		cfg:    cfg,
		env:    env,
		window: newPriceWindow(time.Duration(cfg.PriceWindowSec) * time.Second),
	}
}

func (s *scalper) Mode() string { return "scalper" }

func (s *scalper) Tick(ctx context.Context) error {
	prices, err := watchedPrices(ctx, s.env, s.window, s.cfg.Mints)
	if err != nil {
		return err
	}
	for mint, price := range prices {
		change, ok := s.window.ChangePct(mint)
		if !ok || change > -s.cfg.EntryDropPct {
			continue
		}
		if _, err := s.p.Consider(ctx, candidate{
			Mint:      mint,
			PriceUSD:  price.PriceUSD,
			VolumeUSD: price.VolumeUSD,
		}); err != nil {
			return err
		}
	}
	return nil
}

// breakout buys when the latest price clears the window high by the
// configured margin.
type breakout struct {
	base
	cfg    *domain.BreakoutConfig
	env    Env
	window *priceWindow
}

func newBreakout(cfg *domain.BreakoutConfig, p *pipeline, env Env) *breakout {
	p.volumeFloor = cfg.VolumeFloorUSD
	return &breakout{
		base:   base{p: p},
		cfg:    cfg,
		env:    env,
		window: newPriceWindow(time.Duration(cfg.PriceWindowSec) * time.Second),
	}
}

func (s *breakout) Mode() string { return "breakout" }

func (s *breakout) Tick(ctx context.Context) error {
	prices, err := watchedPrices(ctx, s.env, s.window, s.cfg.Mints)
	if err != nil {
		return err
	}
	for mint, price := range prices {
		change, ok := s.window.ChangePct(mint)
		if !ok || change < s.cfg.BreakoutPct {
			continue
		}
		// Require the latest print to be the window high so a round trip back
		// into the range does not count.
		high, _ := s.window.High(mint)
		if price.PriceUSD < high {
			continue
		}
		if _, err := s.p.Consider(ctx, candidate{
			Mint:      mint,
			PriceUSD:  price.PriceUSD,
			VolumeUSD: price.VolumeUSD,
		}); err != nil {
			return err
		}
	}
	return nil
}

// trend follows sustained directional movement rather than single spikes.
type trend struct {
	base
	cfg    *domain.TrendConfig
	env    Env
	window *priceWindow
}

func newTrend(cfg *domain.TrendConfig, p *pipeline, env Env) *trend {
	return &trend{
		base:   base{p: p},
		cfg:    cfg,
		env:    env,
		window: newPriceWindow(time.Duration(cfg.PriceWindowSec) * time.Second),
	}
}

func (s *trend) Mode() string { return "trend" }

func (s *trend) Tick(ctx context.Context) error {
	prices, err := watchedPrices(ctx, s.env, s.window, s.cfg.Mints)
	if err != nil {
		return err
	}
	for mint, price := range prices {
		change, ok := s.window.ChangePct(mint)
		if !ok || change < s.cfg.MinTrendPct || !s.window.Trending(mint) {
			continue
		}
		if _, err := s.p.Consider(ctx, candidate{
			Mint:      mint,
			PriceUSD:  price.PriceUSD,
			VolumeUSD: price.VolumeUSD,
		}); err != nil {
			return err
		}
	}
	return nil
}
