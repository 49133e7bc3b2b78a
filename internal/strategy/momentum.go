package strategy

import (
	"context"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

// dip buys configured mints on sharp drawdowns.
type dip struct {
	base
	cfg    *domain.DipConfig
	env    Env
	window *priceWindow
}

func newDip(cfg *domain.DipConfig, p *pipeline, env Env) *dip {
	return &dip{
		base:   base{p: p},
		cfg:    cfg,
		env:    env,
		window: newPriceWindow(time.Duration(cfg.WindowSec) * time.Second),
	}
}

func (s *dip) Mode() string { return "dip" }

func (s *dip) Tick(ctx context.Context) error {
	prices, err := watchedPrices(ctx, s.env, s.window, s.cfg.Mints)
	if err != nil {
		return err
	}
	for mint, price := range prices {
		change, ok := s.window.ChangePct(mint)
		if !ok || change > -s.cfg.DipPct {
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

// chad chases strong upward momentum regardless of token age.
type chad struct {
	base
	cfg    *domain.ChadConfig
	env    Env
	window *priceWindow
}

func newChad(cfg *domain.ChadConfig, p *pipeline, env Env) *chad {
	return &chad{
		base:   base{p: p},
		cfg:    cfg,
		env:    env,
		window: newPriceWindow(time.Duration(cfg.WindowSec) * time.Second),
	}
}

func (s *chad) Mode() string { return "chad" }

func (s *chad) Tick(ctx context.Context) error {
	prices, err := watchedPrices(ctx, s.env, s.window, s.cfg.Mints)
	if err != nil {
		return err
	}
	for mint, price := range prices {
		change, ok := s.window.ChangePct(mint)
		if !ok || change < s.cfg.MomentumPct {
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
