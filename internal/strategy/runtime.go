package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

// StopReasonMaxTrades is emitted when a bot retires after its trade cap.
const StopReasonMaxTrades = "max-trades reached"

// StopReasonErrorLimit is emitted when consecutive tick errors crash a bot.
const StopReasonErrorLimit = "error-limit"

// HealthSink receives one metric per tick.
type HealthSink func(domain.HealthMetric)

// Runtime drives one strategy as a supervised tick loop. State transitions
// happen only at tick boundaries; Pause and Stop are cooperative.
type Runtime struct {
	id     BotIdentity
	mode   string
	common domain.CommonBotConfig
	strat  TickStrategy
	pl     *pipeline
	logger *slog.Logger

	healthOut io.Writer
	sink      HealthSink

	mu             sync.Mutex
	status         domain.BotStatus
	startedAt      time.Time
	lastTickAt     time.Time
	loopDurationMs int64
	restartCount   int
	errorsTotal    int
	stopReason     string

	pauseReq bool
	stopReq  bool
	wake     chan struct{}
}

// NewRuntime wraps a built strategy in its supervised loop. healthOut gets the
// [HEALTH] telemetry line each tick; sink gets the structured metric.
func NewRuntime(id BotIdentity, cfg domain.BotConfig, strat TickStrategy, pl *pipeline, logger *slog.Logger, healthOut io.Writer, sink HealthSink) *Runtime {
	mode := cfg.Mode
	if mode == "paper" {
		mode = "paper:" + innerMode(cfg)
	}
	return &Runtime{
		id:        id,
		mode:      mode,
		common:    cfg.Common,
		strat:     strat,
		pl:        pl,
		logger:    logger.With(slog.String("component", "bot"), slog.String("bot_id", id.BotID), slog.String("mode", mode)),
		healthOut: healthOut,
		sink:      sink,
		status:    domain.BotStarting,
		wake:      make(chan struct{}, 1),
	}
}

// Build constructs the strategy and its runtime together.
func Build(id BotIdentity, cfg domain.BotConfig, env Env, healthOut io.Writer, sink HealthSink) (*Runtime, error) {
	strat, err := New(id, cfg, env)
	if err != nil {
		return nil, err
	}
	// The strategy holds the pipeline; fetch it for counter access.
	pl := pipelineOf(strat)
	return NewRuntime(id, cfg, strat, pl, env.Logger, healthOut, sink), nil
}

// pipelined is implemented by every built-in strategy.
type pipelined interface{ pipeline() *pipeline }

func pipelineOf(s TickStrategy) *pipeline {
	if p, ok := s.(pipelined); ok {
		return p.pipeline()
	}
	return nil
}

// Status snapshots the runtime's state.
func (r *Runtime) Status() domain.BotInstance {
	r.mu.Lock()
	defer r.mu.Unlock()
	executed := 0
	if r.pl != nil {
		executed = r.pl.Executed()
	}
	return domain.BotInstance{
		BotID:          r.id.BotID,
		UserID:         r.id.UserID,
		Mode:           r.mode,
		Status:         r.status,
		StartedAt:      r.startedAt,
		LastTickAt:     r.lastTickAt,
		LoopDurationMs: r.loopDurationMs,
		RestartCount:   r.restartCount,
		TradesExecuted: executed,
		MaxTrades:      r.common.MaxTrades,
		Errors:         r.errorsTotal,
		StopReason:     r.stopReason,
	}
}

// SetRestartCount records the supervisor's restart counter before a re-run.
func (r *Runtime) SetRestartCount(n int) {
	r.mu.Lock()
	r.restartCount = n
	r.mu.Unlock()
}

// Pause requests a pause at the next tick boundary.
func (r *Runtime) Pause() {
	r.mu.Lock()
	r.pauseReq = true
	r.mu.Unlock()
	r.signal()
}

// Resume lifts a pause.
func (r *Runtime) Resume() {
	r.mu.Lock()
	r.pauseReq = false
	r.mu.Unlock()
	r.signal()
}

// Stop requests a cooperative stop.
func (r *Runtime) Stop() {
	r.mu.Lock()
	r.stopReq = true
	r.mu.Unlock()
	r.signal()
}

func (r *Runtime) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runtime) setStatus(s domain.BotStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// Run executes the loop until the context is cancelled, the bot is stopped,
// the trade cap is hit, or the error limit crashes it. The returned error is
// non-nil only for a crash.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	r.status = domain.BotStarting
	r.startedAt = time.Now()
	r.stopReq = false
	r.mu.Unlock()

	if err := r.strat.Init(ctx); err != nil {
		r.crash(fmt.Sprintf("init: %v", err))
		return fmt.Errorf("bot %s init: %w", r.id.BotID, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.strat.Close(closeCtx); err != nil {
			r.logger.Warn("strategy close failed", slog.String("error", err.Error()))
		}
	}()

	r.setStatus(domain.BotRunning)
	r.logger.Info("bot running", slog.Int("interval_sec", r.common.IntervalSec))

	interval := time.Duration(r.common.IntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutive := 0
	for {
		// Tick boundary: honor stop and pause before doing work.
		if r.consumeStop() {
			r.retire(domain.BotStopped, "stopped")
			return nil
		}
		if r.paused() {
			r.setStatus(domain.BotPaused)
			select {
			case <-ctx.Done():
				r.retire(domain.BotStopped, "shutdown")
				return nil
			case <-r.wake:
			}
			continue
		}
		r.setStatus(domain.BotRunning)

		start := time.Now()
		err := r.strat.Tick(ctx)
		r.recordTick(start)
		r.emitHealth()

		if err != nil {
			if ctx.Err() != nil {
				r.retire(domain.BotStopped, "shutdown")
				return nil
			}
			consecutive++
			r.mu.Lock()
			r.errorsTotal++
			r.mu.Unlock()
			r.logger.Warn("tick failed",
				slog.String("error", err.Error()),
				slog.Int("consecutive", consecutive),
			)
			if r.common.HaltOnFailures > 0 && consecutive >= r.common.HaltOnFailures {
				r.crash(StopReasonErrorLimit)
				return fmt.Errorf("bot %s halted: %s: %w", r.id.BotID, StopReasonErrorLimit, err)
			}
		} else {
			consecutive = 0
		}

		if r.common.MaxTrades > 0 && r.pl != nil && r.pl.Executed() >= r.common.MaxTrades {
			r.logger.Info("trade cap reached",
				slog.Int("trades", r.pl.Executed()),
				slog.Int("max_trades", r.common.MaxTrades),
			)
			r.retire(domain.BotStopped, StopReasonMaxTrades)
			return nil
		}

		select {
		case <-ctx.Done():
			r.retire(domain.BotStopped, "shutdown")
			return nil
		case <-r.wake:
		case <-ticker.C:
		}
	}
}

func (r *Runtime) consumeStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.stopReq {
		return false
	}
	r.status = domain.BotStopping
	return true
}

func (r *Runtime) paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pauseReq
}

func (r *Runtime) recordTick(start time.Time) {
	r.mu.Lock()
	r.lastTickAt = time.Now()
	r.loopDurationMs = time.Since(start).Milliseconds()
	r.mu.Unlock()
}

func (r *Runtime) retire(status domain.BotStatus, reason string) {
	r.mu.Lock()
	r.status = status
	r.stopReason = reason
	r.mu.Unlock()
	r.emitHealth()
	r.logger.Info("bot retired", slog.String("reason", reason))
}

func (r *Runtime) crash(reason string) {
	r.mu.Lock()
	r.status = domain.BotCrashed
	r.stopReason = reason
	r.mu.Unlock()
	r.emitHealth()
}

// emitHealth writes the per-tick telemetry line and feeds the sink.
func (r *Runtime) emitHealth() {
	r.mu.Lock()
	metric := domain.HealthMetric{
		BotID:          r.id.BotID,
		LastTickAt:     r.lastTickAt,
		LoopDurationMs: r.loopDurationMs,
		RestartCount:   r.restartCount,
		Status:         r.status,
	}
	r.mu.Unlock()

	if r.healthOut != nil {
		if b, err := json.Marshal(metric); err == nil {
			fmt.Fprintf(r.healthOut, "[HEALTH]%s\n", b)
		}
	}
	if r.sink != nil {
		r.sink(metric)
	}
}
