package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/averylane/soltraderd/internal/arm"
	s3blob "github.com/averylane/soltraderd/internal/blob/s3"
	"github.com/averylane/soltraderd/internal/cache/redis"
	"github.com/averylane/soltraderd/internal/config"
	"github.com/averylane/soltraderd/internal/domain"
	"github.com/averylane/soltraderd/internal/executor"
	"github.com/averylane/soltraderd/internal/notify"
	"github.com/averylane/soltraderd/internal/platform/aggregator"
	"github.com/averylane/soltraderd/internal/platform/listings"
	"github.com/averylane/soltraderd/internal/platform/pricer"
	"github.com/averylane/soltraderd/internal/position"
	"github.com/averylane/soltraderd/internal/rpcpool"
	"github.com/averylane/soltraderd/internal/safety"
	"github.com/averylane/soltraderd/internal/store/postgres"
	"github.com/averylane/soltraderd/internal/strategy"
	"github.com/averylane/soltraderd/internal/supervisor"
)

// Dependencies bundles every constructed component the application modes need
// to operate. It is built by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	WalletStore      domain.WalletStore
	UserStore        domain.UserStore
	TradeStore       domain.TradeStore
	ClosedTradeStore domain.ClosedTradeStore
	RuleStore        domain.TpSlRuleStore
	LimitOrderStore  domain.LimitOrderStore
	DcaOrderStore    domain.DcaOrderStore
	ScheduleStore    domain.ScheduleStore
	NetWorthStore    domain.NetWorthStore
	PositionStore    domain.PositionStore

	// Caches
	PriceCache    domain.PriceCache
	DecimalsCache domain.DecimalsCache
	LockManager   domain.LockManager

	// Market data and transport
	Aggregator *aggregator.Client
	Pricer     *pricer.Client
	Listings   *listings.Feed
	Pool       *rpcpool.Pool

	// Core engine
	ArmCache   *arm.Cache
	Executor   *executor.Executor
	Reducer    *position.Reducer
	Safety     *safety.Engine
	Supervisor *supervisor.Supervisor
	Notifier   *notify.Notifier

	// Blob storage, nil unless s3.enabled
	Artifacts *s3blob.ArtifactStore
	Archiver  *s3blob.TradeArchiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.WalletStore = postgres.NewWalletStore(pool)
	deps.UserStore = postgres.NewUserStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.ClosedTradeStore = postgres.NewClosedTradeStore(pool)
	deps.RuleStore = postgres.NewTpSlRuleStore(pool)
	deps.LimitOrderStore = postgres.NewLimitOrderStore(pool)
	deps.DcaOrderStore = postgres.NewDcaOrderStore(pool)
	deps.ScheduleStore = postgres.NewScheduleStore(pool)
	deps.NetWorthStore = postgres.NewNetWorthStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.DecimalsCache = redis.NewDecimalsCache(redisClient)
	if cfg.Redis.UseLocks {
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Artifacts = s3blob.NewArtifactStore(s3Client)
		if cfg.Archive.Enabled {
			retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
			deps.Archiver = s3blob.NewTradeArchiver(s3Client, deps.ClosedTradeStore, retention, logger)
		}
	}

	// --- Solana transport ---
	deps.Pool = rpcpool.New(cfg.RPC.Endpoints, logger)
	directRPC := rpc.New(cfg.RPC.Endpoints[0])

	deps.Aggregator = aggregator.New(aggregator.ClientConfig{
		QuoteHost:  cfg.Aggregator.QuoteHost,
		DefaultRPC: cfg.RPC.Endpoints[0],
		PrivateRPC: cfg.RPC.PrivateEndpoint,
		Timeout:    cfg.Aggregator.Timeout.Duration,
	}, logger)

	deps.Pricer = pricer.New(pricer.ClientConfig{
		Host:    cfg.Pricer.Host,
		RPCURL:  cfg.RPC.Endpoints[0],
		Timeout: cfg.Pricer.Timeout.Duration,
	}, logger)

	if cfg.Listings.WsURL != "" {
		deps.Listings = listings.NewFeed(cfg.Listings.WsURL, logger)
	}

	// --- Safety engine ---
	deps.Safety = safety.NewEngine(logger,
		&safety.SimulationCheck{Quotes: deps.Aggregator},
		&safety.LiquidityCheck{Oracle: deps.Pricer, Cache: deps.PriceCache},
		&safety.AuthorityCheck{Meta: deps.Pricer},
		&safety.TopHoldersCheck{Meta: deps.Pricer},
		&safety.VerifiedCheck{Meta: deps.Pricer},
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken))
	}
	deps.Notifier = notify.NewNotifier(deps.UserStore, senders, logger)

	// --- Arm cache and executor ---
	deps.ArmCache = arm.NewCache(logger)

	deps.Executor = executor.New(executor.Deps{
		Wallets:   deps.WalletStore,
		Users:     deps.UserStore,
		Trades:    deps.TradeStore,
		Rules:     deps.RuleStore,
		ArmCache:  deps.ArmCache,
		LegacyKey: cfg.LegacyKey(),
		Swaps:     deps.Aggregator,
		Oracle:    deps.Pricer,
		TokenMeta: deps.Pricer,
		Prices:    deps.PriceCache,
		Decimals:  deps.DecimalsCache,
		Pool:      deps.Pool,
		RPC:       directRPC,
		Alerter:   deps.Notifier,
		QuorumDefaults: rpcpool.QuorumOpts{
			Quorum:    cfg.RPC.Quorum,
			MaxFanout: cfg.RPC.MaxFanout,
			StaggerMs: cfg.RPC.StaggerMs,
			TimeoutMs: cfg.RPC.TimeoutMs,
		},
	}, logger)
	deps.Executor.SetKillSwitch(cfg.Executor.KillSwitch)

	deps.Reducer = position.New(deps.PositionStore, logger)
	deps.Executor.SetReducer(deps.Reducer)

	// --- Strategy environment and supervisor ---
	env := strategy.Env{
		Exec:    deps.Executor,
		Quotes:  deps.Aggregator,
		Oracle:  deps.Pricer,
		Meta:    deps.Pricer,
		Safety:  deps.Safety,
		Trades:  deps.TradeStore,
		Wallets: deps.WalletStore,
		Sell:    deps.Executor,
		Forward: deps.Executor,
		Logger:  logger,
	}
	if deps.Listings != nil {
		env.Listings = deps.Listings
	}

	var artifacts supervisor.ArtifactWriter
	if deps.Artifacts != nil {
		artifacts = deps.Artifacts
	}
	deps.Supervisor = supervisor.New(ctx, env, artifacts, os.Stdout, nil, logger)

	return deps, cleanup, nil
}
