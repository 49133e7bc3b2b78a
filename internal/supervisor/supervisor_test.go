package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/strategy"
)

type stubOracle struct {
	err error
}

func (s *stubOracle) GetPrice(context.Context, string) (domain.TokenPrice, error) {
	return domain.TokenPrice{PriceUSD: 1}, s.err
}
func (s *stubOracle) GetPrices(_ context.Context, mints []string) (map[string]domain.TokenPrice, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]domain.TokenPrice, len(mints))
	for _, m := range mints {
		out[m] = domain.TokenPrice{Mint: m, PriceUSD: 1}
	}
	return out, nil
}

type stubArtifacts struct {
	mu      sync.Mutex
	reports []domain.CrashReport
}

func (s *stubArtifacts) WriteCrashReport(_ context.Context, report domain.CrashReport) error {
	s.mu.Lock()
	s.reports = append(s.reports, report)
	s.mu.Unlock()
	return nil
}

func (s *stubArtifacts) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func newSupervisor(oracle domain.PriceOracle, artifacts ArtifactWriter) *Supervisor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := strategy.Env{Oracle: oracle, Logger: logger}
	return New(context.Background(), env, artifacts, nil, nil, logger)
}

// scalperConfig builds a valid watcher config whose entry signal never fires
// against the flat stub oracle.
func scalperConfig() domain.BotConfig {
	return domain.BotConfig{
		Mode: "scalper",
		Common: domain.CommonBotConfig{
			WalletID:      "w1",
			AmountToSpend: 0.5,
			IntervalSec:   60,
		},
		Scalper: &domain.ScalperConfig{
			Mints:        []string{"MintA"},
			EntryDropPct: 5,
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStartStatusDelete(t *testing.T) {
	s := newSupervisor(&stubOracle{}, nil)

	botID, err := s.Start(context.Background(), "u1", scalperConfig(), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !strings.HasPrefix(botID, "scalper-") {
		t.Fatalf("botID = %q", botID)
	}

	waitFor(t, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].Status == domain.BotRunning
	})
	st := s.Status()[0]
	if st.BotID != botID || st.UserID != "u1" || st.Mode != "scalper" {
		t.Fatalf("status: %+v", st)
	}

	if err := s.Delete(botID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(s.Status()) != 0 {
		t.Fatal("deleted bot still registered")
	}
	if err := s.Delete(botID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	s := newSupervisor(&stubOracle{}, nil)
	cfg := scalperConfig()
	cfg.Common.WalletID = ""

	if _, err := s.Start(context.Background(), "u1", cfg, false); err == nil {
		t.Fatal("invalid config started")
	}
	if len(s.Status()) != 0 {
		t.Fatal("failed start left a handle")
	}
}

func TestCrashCapture(t *testing.T) {
	artifacts := &stubArtifacts{}
	s := newSupervisor(&stubOracle{err: errors.New("oracle down")}, artifacts)

	cfg := scalperConfig()
	cfg.Common.HaltOnFailures = 1
	botID, err := s.Start(context.Background(), "u1", cfg, false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, func() bool { return artifacts.count() == 1 })
	artifacts.mu.Lock()
	report := artifacts.reports[0]
	artifacts.mu.Unlock()
	if report.BotID != botID || report.UserID != "u1" || report.Event != "crash" {
		t.Fatalf("report: %+v", report)
	}
	if !strings.Contains(report.Message, strategy.StopReasonErrorLimit) {
		t.Fatalf("message: %q", report.Message)
	}

	// No auto-restart: the handle stays registered as crashed for inspection.
	waitFor(t, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].Status == domain.BotCrashed
	})
}

func TestDeleteCancelsAutoRestart(t *testing.T) {
	artifacts := &stubArtifacts{}
	s := newSupervisor(&stubOracle{err: errors.New("oracle down")}, artifacts)

	cfg := scalperConfig()
	cfg.Common.HaltOnFailures = 1
	botID, err := s.Start(context.Background(), "u1", cfg, true)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the first crash so the restart loop is live, then delete while
	// it is backing off.
	waitFor(t, func() bool { return artifacts.count() >= 1 })
	if err := s.Delete(botID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(s.Status()) != 0 {
		t.Fatal("deleted bot still registered")
	}
}

func TestStartMultiRollsBack(t *testing.T) {
	s := newSupervisor(&stubOracle{}, nil)
	bad := scalperConfig()
	bad.Scalper = nil

	_, err := s.StartMulti(context.Background(), []StartSpec{
		{UserID: "u1", Config: scalperConfig()},
		{UserID: "u1", Config: bad},
	})
	if err == nil {
		t.Fatal("batch with an invalid entry started")
	}
	if len(s.Status()) != 0 {
		t.Fatal("rollback left bots running")
	}
}

func TestPauseResume(t *testing.T) {
	s := newSupervisor(&stubOracle{}, nil)
	botID, err := s.Start(context.Background(), "u1", scalperConfig(), false)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool {
		st := s.Status()
		return len(st) == 1 && st[0].Status == domain.BotRunning
	})

	if err := s.Pause(botID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitFor(t, func() bool { return s.Status()[0].Status == domain.BotPaused })

	if err := s.Resume(botID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitFor(t, func() bool { return s.Status()[0].Status == domain.BotRunning })

	s.Shutdown()
	if len(s.Status()) != 0 {
		t.Fatal("shutdown left bots registered")
	}
}
