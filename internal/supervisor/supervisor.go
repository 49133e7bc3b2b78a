// Package supervisor owns the lifecycle of every bot in the process: start,
// pause, resume, delete, crash capture, and auto-restart with bounded
// exponential backoff.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/strategy"
)

// ArtifactWriter persists crash reports for postmortem inspection.
type ArtifactWriter interface {
	WriteCrashReport(ctx context.Context, report domain.CrashReport) error
}

// StartSpec is one entry of a StartMulti batch.
type StartSpec struct {
	UserID      string
	Config      domain.BotConfig
	AutoRestart bool
}

// DetailedBot is a status row with the last-tick age resolved.
type DetailedBot struct {
	domain.BotInstance
	LastTickAge time.Duration `json:"lastTickAgeMs"`
}

type handle struct {
	runtime *strategy.Runtime
	cancel  context.CancelFunc
	done    chan struct{}
	userID  string
	mode    string

	// autoRestart is cleared by Delete while the run loop reads it.
	autoRestart atomic.Bool

	mu       sync.Mutex
	restarts int
}

// Supervisor is the process-wide bot registry.
type Supervisor struct {
	env       strategy.Env
	artifacts ArtifactWriter
	healthOut io.Writer
	sink      strategy.HealthSink
	logger    *slog.Logger

	mu   sync.Mutex
	bots map[string]*handle

	baseCtx context.Context
}

// New creates a Supervisor. baseCtx bounds the lifetime of every bot it
// spawns; artifacts and sink are optional.
func New(baseCtx context.Context, env strategy.Env, artifacts ArtifactWriter, healthOut io.Writer, sink strategy.HealthSink, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		env:       env,
		artifacts: artifacts,
		healthOut: healthOut,
		sink:      sink,
		logger:    logger.With(slog.String("component", "supervisor")),
		bots:      make(map[string]*handle),
		baseCtx:   baseCtx,
	}
}

// Start builds and spawns a bot, returning its id.
func (s *Supervisor) Start(_ context.Context, userID string, cfg domain.BotConfig, autoRestart bool) (string, error) {
	botID := cfg.Mode + "-" + uuid.New().String()[:8]
	id := strategy.BotIdentity{BotID: botID, UserID: userID}

	rt, err := strategy.Build(id, cfg, s.env, s.healthOut, s.sink)
	if err != nil {
		return "", fmt.Errorf("supervisor: start %s: %w", cfg.Mode, err)
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	h := &handle{
		runtime: rt,
		cancel:  cancel,
		done:    make(chan struct{}),
		userID:  userID,
		mode:    cfg.Mode,
	}
	h.autoRestart.Store(autoRestart)

	s.mu.Lock()
	s.bots[botID] = h
	s.mu.Unlock()

	go s.run(runCtx, botID, h)
	s.logger.Info("bot started",
		slog.String("bot_id", botID),
		slog.String("user_id", userID),
		slog.String("mode", cfg.Mode),
		slog.Bool("auto_restart", autoRestart),
	)
	return botID, nil
}

// StartMulti starts every spec or none: a failure rolls back the bots already
// started in this batch.
func (s *Supervisor) StartMulti(ctx context.Context, specs []StartSpec) ([]string, error) {
	started := make([]string, 0, len(specs))
	for _, spec := range specs {
		botID, err := s.Start(ctx, spec.UserID, spec.Config, spec.AutoRestart)
		if err != nil {
			for _, id := range started {
				if derr := s.Delete(id); derr != nil {
					s.logger.Error("rollback delete failed", slog.String("bot_id", id), slog.String("error", derr.Error()))
				}
			}
			return nil, fmt.Errorf("supervisor: batch start rolled back: %w", err)
		}
		started = append(started, botID)
	}
	return started, nil
}

// run drives the runtime, capturing crashes and applying the restart policy.
func (s *Supervisor) run(ctx context.Context, botID string, h *handle) {
	defer close(h.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 2 * time.Minute

	for {
		err := s.runOnce(ctx, botID, h)
		if err == nil || ctx.Err() != nil {
			return
		}
		if !h.autoRestart.Load() {
			return
		}

		h.mu.Lock()
		h.restarts++
		restarts := h.restarts
		h.mu.Unlock()
		h.runtime.SetRestartCount(restarts)

		delay := bo.NextBackOff()
		s.logger.Warn("bot restarting",
			slog.String("bot_id", botID),
			slog.Int("restart", restarts),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce executes one runtime run under a panic boundary.
func (s *Supervisor) runOnce(ctx context.Context, botID string, h *handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = fmt.Errorf("bot %s panicked: %v", botID, r)
			s.captureCrash(botID, h, "panic", fmt.Sprint(r), stack)
		}
	}()

	err = h.runtime.Run(ctx)
	if err != nil && ctx.Err() == nil {
		s.captureCrash(botID, h, "crash", err.Error(), "")
	}
	return err
}

func (s *Supervisor) captureCrash(botID string, h *handle, event, message, stack string) {
	h.mu.Lock()
	restarts := h.restarts
	h.mu.Unlock()

	report := domain.CrashReport{
		BotID:        botID,
		UserID:       h.userID,
		Mode:         h.mode,
		Event:        event,
		Message:      message,
		Stack:        stack,
		RestartCount: restarts,
		OccurredAt:   time.Now().UTC(),
	}
	s.logger.Error("bot crashed",
		slog.String("bot_id", botID),
		slog.String("event", event),
		slog.String("message", message),
	)
	if s.artifacts == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.artifacts.WriteCrashReport(writeCtx, report); err != nil {
		s.logger.Error("crash artifact write failed", slog.String("bot_id", botID), slog.String("error", err.Error()))
	}
}

func (s *Supervisor) get(botID string) (*handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.bots[botID]
	if !ok {
		return nil, fmt.Errorf("supervisor: bot %s: %w", botID, domain.ErrNotFound)
	}
	return h, nil
}

// Pause requests a pause at the bot's next tick boundary.
func (s *Supervisor) Pause(botID string) error {
	h, err := s.get(botID)
	if err != nil {
		return err
	}
	h.runtime.Pause()
	return nil
}

// Resume lifts a pause.
func (s *Supervisor) Resume(botID string) error {
	h, err := s.get(botID)
	if err != nil {
		return err
	}
	h.runtime.Resume()
	return nil
}

// Delete stops the bot, waits for it to wind down, and removes the handle.
func (s *Supervisor) Delete(botID string) error {
	h, err := s.get(botID)
	if err != nil {
		return err
	}
	h.autoRestart.Store(false)
	h.runtime.Stop()
	h.cancel()

	select {
	case <-h.done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("bot did not wind down in time", slog.String("bot_id", botID))
	}

	s.mu.Lock()
	delete(s.bots, botID)
	s.mu.Unlock()
	s.logger.Info("bot deleted", slog.String("bot_id", botID))
	return nil
}

// Status snapshots every registered bot.
func (s *Supervisor) Status() []domain.BotInstance {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.bots))
	for _, h := range s.bots {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	out := make([]domain.BotInstance, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.runtime.Status())
	}
	return out
}

// DetailedStatus adds the last-tick age to each row.
func (s *Supervisor) DetailedStatus() []DetailedBot {
	now := time.Now()
	instances := s.Status()
	out := make([]DetailedBot, 0, len(instances))
	for _, inst := range instances {
		age := time.Duration(0)
		if !inst.LastTickAt.IsZero() {
			age = now.Sub(inst.LastTickAt)
		}
		out = append(out, DetailedBot{BotInstance: inst, LastTickAge: age})
	}
	return out
}

// Shutdown stops every bot and waits for them.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.bots))
	for id := range s.bots {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Delete(id); err != nil {
			s.logger.Warn("shutdown delete failed", slog.String("bot_id", id), slog.String("error", err.Error()))
		}
	}
}
