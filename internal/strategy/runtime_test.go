package strategy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

type stubStrat struct {
	initErr error
	tickErr error
	onTick  func()
	ticks   int
	closes  int
}

func (s *stubStrat) Mode() string                { return "sniper" }
func (s *stubStrat) Init(context.Context) error  { return s.initErr }
func (s *stubStrat) Close(context.Context) error { s.closes++; return nil }
func (s *stubStrat) Tick(context.Context) error {
	s.ticks++
	if s.onTick != nil {
		s.onTick()
	}
	return s.tickErr
}

func runtimeFor(strat *stubStrat, common domain.CommonBotConfig, pl *pipeline, out io.Writer, sink HealthSink) *Runtime {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	id := BotIdentity{BotID: "b1", UserID: "u1"}
	cfg := domain.BotConfig{Mode: "sniper", Common: common}
	return NewRuntime(id, cfg, strat, pl, logger, out, sink)
}

func emptyPipeline(common domain.CommonBotConfig) *pipeline {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newPipeline(BotIdentity{BotID: "b1", UserID: "u1"}, "sniper", common, false, Env{Logger: logger})
}

func TestRuntimeMaxTrades(t *testing.T) {
	common := domain.CommonBotConfig{IntervalSec: 60, MaxTrades: 1}
	pl := emptyPipeline(common)
	strat := &stubStrat{onTick: func() { pl.executed.Add(1) }}

	var out bytes.Buffer
	var metrics []domain.HealthMetric
	r := runtimeFor(strat, common, pl, &out, func(m domain.HealthMetric) { metrics = append(metrics, m) })

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	st := r.Status()
	if st.Status != domain.BotStopped || st.StopReason != StopReasonMaxTrades {
		t.Fatalf("status %q reason %q", st.Status, st.StopReason)
	}
	if st.TradesExecuted != 1 || strat.ticks != 1 {
		t.Fatalf("trades=%d ticks=%d", st.TradesExecuted, strat.ticks)
	}
	if strat.closes != 1 {
		t.Fatal("strategy not closed")
	}

	if !strings.Contains(out.String(), "[HEALTH]") {
		t.Fatal("no health telemetry written")
	}
	if len(metrics) == 0 || metrics[0].BotID != "b1" {
		t.Fatalf("sink metrics: %+v", metrics)
	}
}

func TestRuntimeErrorLimit(t *testing.T) {
	common := domain.CommonBotConfig{IntervalSec: 1, HaltOnFailures: 2}
	strat := &stubStrat{tickErr: errors.New("oracle down")}
	r := runtimeFor(strat, common, emptyPipeline(common), nil, nil)

	err := r.Run(context.Background())
	if err == nil {
		t.Fatal("crash not surfaced")
	}
	st := r.Status()
	if st.Status != domain.BotCrashed || st.StopReason != StopReasonErrorLimit {
		t.Fatalf("status %q reason %q", st.Status, st.StopReason)
	}
	if st.Errors != 2 || strat.ticks != 2 {
		t.Fatalf("errors=%d ticks=%d", st.Errors, strat.ticks)
	}
}

func TestRuntimeErrorCountResets(t *testing.T) {
	// A success between failures resets the consecutive counter, so the bot
	// survives alternating outcomes.
	common := domain.CommonBotConfig{IntervalSec: 1, HaltOnFailures: 2, MaxTrades: 1}
	pl := emptyPipeline(common)
	strat := &stubStrat{}
	strat.onTick = func() {
		switch strat.ticks {
		case 1, 3:
			strat.tickErr = errors.New("flaky")
		default:
			strat.tickErr = nil
			pl.executed.Add(1)
		}
	}
	r := runtimeFor(strat, common, pl, nil, nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st := r.Status(); st.Status != domain.BotStopped || st.StopReason != StopReasonMaxTrades {
		t.Fatalf("status %q reason %q", st.Status, st.StopReason)
	}
}

func TestRuntimeStop(t *testing.T) {
	common := domain.CommonBotConfig{IntervalSec: 60}
	strat := &stubStrat{}
	r := runtimeFor(strat, common, emptyPipeline(common), nil, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	waitFor(t, func() bool { return r.Status().Status == domain.BotRunning })
	r.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if st := r.Status(); st.Status != domain.BotStopped || st.StopReason != "stopped" {
		t.Fatalf("status %q reason %q", st.Status, st.StopReason)
	}
}

func TestRuntimePauseResume(t *testing.T) {
	common := domain.CommonBotConfig{IntervalSec: 60}
	strat := &stubStrat{}
	r := runtimeFor(strat, common, emptyPipeline(common), nil, nil)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	waitFor(t, func() bool { return r.Status().Status == domain.BotRunning })
	r.Pause()
	waitFor(t, func() bool { return r.Status().Status == domain.BotPaused })

	r.Resume()
	waitFor(t, func() bool { return r.Status().Status == domain.BotRunning })

	r.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRuntimeShutdownOnContext(t *testing.T) {
	common := domain.CommonBotConfig{IntervalSec: 60}
	strat := &stubStrat{}
	r := runtimeFor(strat, common, emptyPipeline(common), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, func() bool { return r.Status().Status == domain.BotRunning })
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on context cancel")
	}
	if st := r.Status(); st.Status != domain.BotStopped || st.StopReason != "shutdown" {
		t.Fatalf("status %q reason %q", st.Status, st.StopReason)
	}
}

func TestRuntimeInitFailure(t *testing.T) {
	common := domain.CommonBotConfig{IntervalSec: 60}
	strat := &stubStrat{initErr: errors.New("no wallet")}
	r := runtimeFor(strat, common, emptyPipeline(common), nil, nil)

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("init failure not surfaced")
	}
	if st := r.Status(); st.Status != domain.BotCrashed {
		t.Fatalf("status %q", st.Status)
	}
	if strat.ticks != 0 {
		t.Fatal("ticked after failed init")
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
