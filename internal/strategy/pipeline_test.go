package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
)

type stubExec struct {
	tx   string
	err  error
	reqs []executor.ExecRequest
}

func (s *stubExec) ExecTrade(_ context.Context, req executor.ExecRequest) (string, error) {
	s.reqs = append(s.reqs, req)
	return s.tx, s.err
}

type stubQuotes struct {
	quote domain.Quote
	err   error
}

func (s *stubQuotes) GetQuote(_ context.Context, req domain.QuoteRequest) (domain.Quote, error) {
	if s.err != nil {
		return domain.Quote{}, s.err
	}
	q := s.quote
	q.InputMint = req.InputMint
	q.OutputMint = req.OutputMint
	q.InAmount = req.Amount
	return q, nil
}

type stubSafety struct {
	pass  bool
	calls int
}

func (s *stubSafety) Evaluate(_ context.Context, mint string, _ domain.SafetyFlags) domain.SafetyReport {
	s.calls++
	report := domain.SafetyReport{Mint: mint, Passed: s.pass}
	if !s.pass {
		report.Results = []domain.CheckResult{{Key: "liquidity", Passed: false}}
	}
	return report
}

type stubTrades struct {
	dailyVolume float64
}

func (s *stubTrades) Create(context.Context, domain.Trade) error { return nil }
func (s *stubTrades) GetByID(context.Context, string) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *stubTrades) RecentBuy(context.Context, domain.PositionKey, time.Time) (domain.Trade, error) {
	return domain.Trade{}, domain.ErrNotFound
}
func (s *stubTrades) ListOpen(context.Context, domain.PositionKey) ([]domain.Trade, error) {
	return nil, nil
}
func (s *stubTrades) ListOpenByUser(context.Context, string) ([]domain.Trade, error) {
	return nil, nil
}
func (s *stubTrades) ListActiveUsers(context.Context) ([]string, error) { return nil, nil }
func (s *stubTrades) SumDailyVolume(context.Context, string, string, time.Time) (float64, error) {
	return s.dailyVolume, nil
}

type plEnv struct {
	exec   *stubExec
	quotes *stubQuotes
	safety *stubSafety
	trades *stubTrades
}

func newPlEnv() *plEnv {
	return &plEnv{
		exec:   &stubExec{tx: "tx1"},
		quotes: &stubQuotes{quote: domain.Quote{OutAmount: 1000}},
		safety: &stubSafety{pass: true},
		trades: &stubTrades{},
	}
}

func (e *plEnv) pipeline(common domain.CommonBotConfig) *pipeline {
	env := Env{
		Exec:   e.exec,
		Quotes: e.quotes,
		Safety: e.safety,
		Trades: e.trades,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return newPipeline(BotIdentity{BotID: "b1", UserID: "u1"}, "sniper", common, false, env)
}

func baseCommon() domain.CommonBotConfig {
	return domain.CommonBotConfig{
		WalletID:      "w1",
		AmountToSpend: 0.5,
		SlippageBps:   150,
		IntervalSec:   30,
		TakeProfit:    50,
		StopLoss:      20,
	}
}

func TestPipelineExecutes(t *testing.T) {
	e := newPlEnv()
	p := e.pipeline(baseCommon())

	ok, err := p.Consider(context.Background(), candidate{Mint: "MintA", PriceUSD: 1})
	if err != nil || !ok {
		t.Fatalf("Consider = %v, %v", ok, err)
	}
	if p.Executed() != 1 {
		t.Fatalf("Executed = %d", p.Executed())
	}
	if len(e.exec.reqs) != 1 {
		t.Fatalf("exec calls = %d", len(e.exec.reqs))
	}
	req := e.exec.reqs[0]
	if req.Meta.TPPercent != 50 || req.Meta.SLPercent != 20 || req.Meta.SlippageBps != 150 {
		t.Fatalf("meta: %+v", req.Meta)
	}
	if req.Quote.InputMint != domain.MintSOL || req.Quote.InAmount != 500_000_000 {
		t.Fatalf("quote request: %+v", req.Quote)
	}
}

func TestPipelineCooldown(t *testing.T) {
	e := newPlEnv()
	p := e.pipeline(baseCommon())

	if ok, _ := p.Consider(context.Background(), candidate{Mint: "MintA"}); !ok {
		t.Fatal("first attempt skipped")
	}
	if ok, err := p.Consider(context.Background(), candidate{Mint: "MintA"}); ok || err != nil {
		t.Fatalf("cooldown not applied: %v, %v", ok, err)
	}
	// A different mint is unaffected.
	if ok, _ := p.Consider(context.Background(), candidate{Mint: "MintB"}); !ok {
		t.Fatal("cooldown leaked across mints")
	}
}

func TestPipelineGuards(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*plEnv, *domain.CommonBotConfig)
		cand   candidate
		rigged func(*plEnv, *pipeline)
	}{
		{
			name:   "volume floor",
			cand:   candidate{Mint: "MintA", VolumeUSD: 100},
			rigged: func(_ *plEnv, p *pipeline) { p.volumeFloor = 1000 },
		},
		{
			name:   "limit price",
			cand:   candidate{Mint: "MintA", PriceUSD: 2},
			rigged: func(_ *plEnv, p *pipeline) { p.limitPrice = 1 },
		},
		{
			name:   "safety reject",
			cand:   candidate{Mint: "MintA"},
			rigged: func(e *plEnv, _ *pipeline) { e.safety.pass = false },
		},
		{
			name: "daily volume cap",
			setup: func(e *plEnv, c *domain.CommonBotConfig) {
				c.MaxDailyVolume = 1
				e.trades.dailyVolume = 0.8
			},
			cand: candidate{Mint: "MintA"},
		},
		{
			name: "price impact over limit",
			setup: func(e *plEnv, c *domain.CommonBotConfig) {
				c.MaxSlippagePct = 1
				e.quotes.quote.PriceImpactPct = 2.5
			},
			cand: candidate{Mint: "MintA"},
		},
		{
			name:   "no route",
			cand:   candidate{Mint: "MintA"},
			rigged: func(e *plEnv, _ *pipeline) { e.quotes.err = domain.ErrQuoteUnavailable },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newPlEnv()
			common := baseCommon()
			if tt.setup != nil {
				tt.setup(e, &common)
			}
			p := e.pipeline(common)
			if tt.rigged != nil {
				tt.rigged(e, p)
			}

			ok, err := p.Consider(context.Background(), tt.cand)
			if err != nil {
				t.Fatalf("guard returned error: %v", err)
			}
			if ok {
				t.Fatal("guard did not skip the candidate")
			}
			if len(e.exec.reqs) != 0 {
				t.Fatal("skipped candidate reached the executor")
			}
		})
	}
}

func TestPipelineDisableSafety(t *testing.T) {
	e := newPlEnv()
	e.safety.pass = false
	common := baseCommon()
	common.DisableSafety = true
	p := e.pipeline(common)

	if ok, err := p.Consider(context.Background(), candidate{Mint: "MintA"}); !ok || err != nil {
		t.Fatalf("Consider = %v, %v", ok, err)
	}
	if e.safety.calls != 0 {
		t.Fatal("disabled safety still evaluated")
	}
}

func TestPipelineErrorsPropagate(t *testing.T) {
	e := newPlEnv()
	e.quotes.err = errors.New("aggregator 500")
	p := e.pipeline(baseCommon())

	if _, err := p.Consider(context.Background(), candidate{Mint: "MintA"}); err == nil {
		t.Fatal("infrastructure failure not surfaced")
	}

	e = newPlEnv()
	e.exec.err = domain.ErrKillSwitchActive
	p = e.pipeline(baseCommon())
	if _, err := p.Consider(context.Background(), candidate{Mint: "MintA"}); !errors.Is(err, domain.ErrKillSwitchActive) {
		t.Fatalf("got %v, want executor error", err)
	}
}

func TestPipelineSuppressedExecution(t *testing.T) {
	e := newPlEnv()
	e.exec.tx = "" // idempotency gate swallowed the attempt
	p := e.pipeline(baseCommon())

	ok, err := p.Consider(context.Background(), candidate{Mint: "MintA"})
	if err != nil || ok {
		t.Fatalf("Consider = %v, %v", ok, err)
	}
	if p.Executed() != 0 {
		t.Fatal("suppressed attempt counted as executed")
	}
}

func TestPipelinePerCandidateOverrides(t *testing.T) {
	e := newPlEnv()
	p := e.pipeline(baseCommon())

	ok, err := p.Consider(context.Background(), candidate{
		Mint:        "MintA",
		WalletID:    "w9",
		AmountUI:    2,
		SlippageBps: 300,
		InputMint:   domain.MintUSDC,
	})
	if !ok || err != nil {
		t.Fatalf("Consider = %v, %v", ok, err)
	}
	req := e.exec.reqs[0]
	if req.Meta.WalletID != "w9" || req.Meta.SlippageBps != 300 {
		t.Fatalf("overrides lost: %+v", req.Meta)
	}
	// 2 USDC at 6 decimals.
	if req.Quote.InputMint != domain.MintUSDC || req.Quote.InAmount != 2_000_000 {
		t.Fatalf("quote request: %+v", req.Quote)
	}
}
