package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/averylane/soltraderd/internal/domain"
)

// BotLauncher is the supervisor surface the scheduler watchdog promotes
// schedules through.
type BotLauncher interface {
	Start(ctx context.Context, userID string, cfg domain.BotConfig, autoRestart bool) (string, error)
}

// SchedulerMonitor promotes due scheduled strategies into running bots.
type SchedulerMonitor struct {
	schedules domain.ScheduleStore
	wallets   domain.WalletStore
	launcher  BotLauncher
	locks     domain.LockManager
	logger    *slog.Logger
}

// NewSchedulerMonitor creates the scheduler watchdog.
func NewSchedulerMonitor(schedules domain.ScheduleStore, wallets domain.WalletStore, launcher BotLauncher, locks domain.LockManager, logger *slog.Logger) *SchedulerMonitor {
	return &SchedulerMonitor{
		schedules: schedules,
		wallets:   wallets,
		launcher:  launcher,
		locks:     locks,
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// Run scans every SchedulerInterval until ctx is cancelled.
func (m *SchedulerMonitor) Run(ctx context.Context) error {
	return runEvery(ctx, SchedulerInterval, m.logger, m.scan)
}

func (m *SchedulerMonitor) scan(ctx context.Context) error {
	due, err := m.schedules.ListDue(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("scheduler: listing due: %w", err)
	}
	for _, sched := range due {
		m.launch(ctx, sched)
	}
	return nil
}

// launch claims the schedule and starts the bot. The bot is started even when
// the wallet is not armed: the first execution surfaces AutomationNotArmed
// through the executor's alert path rather than silently dropping the launch.
func (m *SchedulerMonitor) launch(ctx context.Context, sched domain.Schedule) {
	release, ok := acquire(ctx, m.locks, "schedule:"+sched.ID)
	if !ok {
		return
	}
	defer release()

	won, err := m.schedules.Claim(ctx, sched.ID)
	if err != nil || !won {
		return
	}

	cfg := sched.Config
	if cfg.Common.WalletID == "" {
		walletID, err := m.resolveWallet(ctx, sched)
		if err != nil {
			m.logger.Warn("schedule wallet unresolved",
				slog.String("schedule_id", sched.ID),
				slog.String("error", err.Error()),
			)
			m.releaseFailed(ctx, sched.ID)
			return
		}
		cfg.Common.WalletID = walletID
	}
	if sched.Limit > 0 {
		cfg.Common.MaxTrades = sched.Limit
	}

	botID, err := m.launcher.Start(ctx, sched.UserID, cfg, true)
	if err != nil {
		m.logger.Warn("schedule launch failed",
			slog.String("schedule_id", sched.ID),
			slog.String("error", err.Error()),
		)
		m.releaseFailed(ctx, sched.ID)
		return
	}
	if err := m.schedules.MarkLaunched(ctx, sched.ID, botID); err != nil {
		m.logger.Error("mark launched failed", slog.String("schedule_id", sched.ID), slog.String("error", err.Error()))
		return
	}
	m.logger.Info("schedule launched",
		slog.String("schedule_id", sched.ID),
		slog.String("bot_id", botID),
		slog.String("mode", sched.Mode),
	)
}

func (m *SchedulerMonitor) resolveWallet(ctx context.Context, sched domain.Schedule) (string, error) {
	if sched.WalletID != "" {
		return sched.WalletID, nil
	}
	if sched.WalletLabel != "" {
		w, err := m.wallets.GetByLabel(ctx, sched.UserID, sched.WalletLabel)
		if err != nil {
			return "", err
		}
		return w.ID, nil
	}
	w, err := m.wallets.GetActive(ctx, sched.UserID)
	if err != nil {
		return "", err
	}
	return w.ID, nil
}

func (m *SchedulerMonitor) releaseFailed(ctx context.Context, id string) {
	if err := m.schedules.Release(ctx, id, true); err != nil {
		m.logger.Error("release failed", slog.String("schedule_id", id), slog.String("error", err.Error()))
	}
}
