package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/averylane/soltraderd/internal/monitor"
)

// EngineMode runs the trading core: arm session sweeper, executor gate
// sweeper, listings feed, and the scheduler watchdog that launches bots. It
// blocks until the context is cancelled.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "engine mode starting")
	g, gctx := errgroup.WithContext(ctx)

	a.startCore(gctx, g, deps)
	if a.cfg.Monitor.Scheduler {
		sched := monitor.NewSchedulerMonitor(deps.ScheduleStore, deps.WalletStore,
			deps.Supervisor, deps.LockManager, slog.Default())
		g.Go(func() error { return sched.Run(gctx) })
	}

	err := g.Wait()
	a.windDown(deps)
	return err
}

// MonitorMode runs only the always-on monitors and the archiver; bots are
// launched by an engine replica elsewhere.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "monitor mode starting")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return deps.ArmCache.Run(gctx) })
	g.Go(func() error { return deps.Executor.Run(gctx) })
	a.startMonitors(gctx, g, deps)

	err := g.Wait()
	a.windDown(deps)
	return err
}

// FullMode runs the whole daemon in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "full mode starting")
	g, gctx := errgroup.WithContext(ctx)

	a.startCore(gctx, g, deps)
	a.startMonitors(gctx, g, deps)
	if a.cfg.Monitor.Scheduler {
		sched := monitor.NewSchedulerMonitor(deps.ScheduleStore, deps.WalletStore,
			deps.Supervisor, deps.LockManager, slog.Default())
		g.Go(func() error { return sched.Run(gctx) })
	}

	err := g.Wait()
	a.windDown(deps)
	return err
}

// startCore launches the goroutines every trading replica needs.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.ArmCache.Run(ctx) })
	g.Go(func() error { return deps.Executor.Run(ctx) })
	if deps.Listings != nil {
		g.Go(func() error { return deps.Listings.Run(ctx) })
	}
}

// startMonitors launches the trigger monitors enabled by config, plus the
// closed-trade archiver when object storage is wired.
func (a *App) startMonitors(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	logger := slog.Default()

	if a.cfg.Monitor.Limit {
		m := monitor.NewLimitMonitor(deps.LimitOrderStore, deps.Pricer, deps.Aggregator,
			deps.Executor, deps.Executor, deps.LockManager, logger)
		g.Go(func() error { return m.Run(ctx) })
	}
	if a.cfg.Monitor.Dca {
		m := monitor.NewDcaMonitor(deps.DcaOrderStore, deps.Pricer, deps.Aggregator,
			deps.Executor, deps.LockManager, logger)
		g.Go(func() error { return m.Run(ctx) })
	}
	if a.cfg.Monitor.TpSl {
		m := monitor.NewTpSlMonitor(deps.RuleStore, deps.TradeStore, deps.Pricer,
			deps.Aggregator, deps.Executor, deps.LockManager, logger)
		g.Go(func() error { return m.Run(ctx) })
	}
	if a.cfg.Monitor.NetWorth {
		m := monitor.NewNetWorthMonitor(deps.TradeStore, deps.NetWorthStore, deps.Pricer, logger)
		g.Go(func() error { return m.Run(ctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
}

// windDown stops every bot and wipes key material before the stores close.
func (a *App) windDown(deps *Dependencies) {
	deps.Supervisor.Shutdown()
	deps.ArmCache.ZeroizeAll()
}
