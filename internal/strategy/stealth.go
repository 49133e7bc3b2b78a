package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

// stealth splits a position entry over a rotation of wallets with per-wallet
// size, slippage, and timing jitter. Auto-forward sweeps each wallet's
// purchase (then USDC, then SOL above the floor) to the cold destination.
type stealth struct {
	base
	cfg *domain.StealthConfig
	env Env

	wallets []domain.Wallet
	cursor  int
	bought  map[string]bool // walletID -> bought this run
}

func newStealth(cfg *domain.StealthConfig, p *pipeline, env Env) *stealth {
	return &stealth{base: base{p: p}, cfg: cfg, env: env, bought: make(map[string]bool)}
}

func (s *stealth) Mode() string { return "stealth" }

// Init resolves the wallet rotation from labels, falling back to the single
// configured wallet.
func (s *stealth) Init(ctx context.Context) error {
	common := s.p.common
	if len(common.WalletLabels) == 0 {
		w, err := s.env.Wallets.GetByID(ctx, common.WalletID)
		if err != nil {
			return fmt.Errorf("stealth: wallet %s: %w", common.WalletID, err)
		}
		s.wallets = []domain.Wallet{w}
		return nil
	}
	for _, label := range common.WalletLabels {
		w, err := s.env.Wallets.GetByLabel(ctx, s.p.id.UserID, label)
		if err != nil {
			return fmt.Errorf("stealth: wallet label %q: %w", label, err)
		}
		s.wallets = append(s.wallets, w)
	}
	return nil
}

// Tick buys through the next wallet in the rotation.
func (s *stealth) Tick(ctx context.Context) error {
	if len(s.wallets) == 0 {
		return fmt.Errorf("stealth: no wallets resolved")
	}
	wallet := s.wallets[s.cursor%len(s.wallets)]
	s.cursor++

	if err := s.jitterDelay(ctx); err != nil {
		return err
	}

	// Clear the cooldown so every wallet in the rotation gets its attempt at
	// the same mint.
	delete(s.p.cooldown, s.cfg.Mint)

	executed, err := s.p.Consider(ctx, candidate{
		Mint:        s.cfg.Mint,
		WalletID:    wallet.ID,
		AmountUI:    jitter(s.p.common.AmountToSpend, s.cfg.SizeJitterPct),
		SlippageBps: int(jitter(float64(s.p.common.SlippageBps), s.cfg.SlippageJitterPct)),
	})
	if err != nil {
		return err
	}
	if !executed {
		return nil
	}
	s.bought[wallet.ID] = true

	if s.cfg.AutoForward == domain.ForwardOnEachBuy {
		s.forward(ctx, wallet.ID)
	}
	return nil
}

// Close sweeps all purchased wallets when forwarding is deferred to the end.
func (s *stealth) Close(ctx context.Context) error {
	if s.cfg.AutoForward != domain.ForwardOnFinish {
		return nil
	}
	for walletID, bought := range s.bought {
		if bought {
			s.forward(ctx, walletID)
		}
	}
	return nil
}

// forward is best-effort: a sweep failure never fails the buy that preceded
// it.
func (s *stealth) forward(ctx context.Context, walletID string) {
	if s.env.Forward == nil || s.cfg.ForwardDestination == "" {
		return
	}
	err := s.env.Forward.Forward(ctx, walletID, s.cfg.ForwardDestination, []string{s.cfg.Mint}, s.cfg.SolFloorLamports)
	if err != nil {
		s.p.log.Warn("auto-forward failed",
			slog.String("wallet_id", walletID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *stealth) jitterDelay(ctx context.Context) error {
	if s.cfg.DelayMaxMs <= 0 {
		return nil
	}
	min, max := s.cfg.DelayMinMs, s.cfg.DelayMaxMs
	if min > max {
		min = max
	}
	delay := time.Duration(min+rand.Intn(max-min+1)) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// jitter applies a symmetric random perturbation of up to pct percent.
func jitter(v, pct float64) float64 {
	if pct <= 0 {
		return v
	}
	return v * (1 + (rand.Float64()*2-1)*pct/100)
}
