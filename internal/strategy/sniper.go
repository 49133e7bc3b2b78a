package strategy

import (
	"context"
	"fmt"

	"github.com/averylane/soltraderd/internal/domain"
)

// base carries the pipeline plumbing shared by every built-in strategy.
type base struct {
	p *pipeline
}

func (b *base) pipeline() *pipeline         { return b.p }
func (b *base) Init(context.Context) error  { return nil }
func (b *base) Close(context.Context) error { return nil }

const listingsScanLimit = 50

// sniper buys fresh listings that clear the entry and volume thresholds.
type sniper struct {
	base
	cfg *domain.SniperConfig
	env Env
}

func newSniper(cfg *domain.SniperConfig, p *pipeline, env Env) *sniper {
	p.volumeFloor = cfg.VolumeThresholdUSD
	p.limitPrice = cfg.LimitPrice
	return &sniper{base: base{p: p}, cfg: cfg, env: env}
}

func (s *sniper) Mode() string { return "sniper" }

func (s *sniper) Tick(ctx context.Context) error {
	listings, err := s.env.Listings.Recent(ctx, listingsScanLimit)
	if err != nil {
		return fmt.Errorf("sniper: listings: %w", err)
	}
	for _, l := range listings {
		if l.PriceChangePct < s.cfg.EntryThresholdPct {
			continue
		}
		if _, err := s.p.Consider(ctx, candidate{
			Mint:      l.Mint,
			PriceUSD:  l.PriceUSD,
			VolumeUSD: l.VolumeUSD,
			ListedAt:  l.ListedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}
