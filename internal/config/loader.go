package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SOLTRADER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SOLTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SOLTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "SOLTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLTRADER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOLTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLTRADER_REDIS_TLS_ENABLED")
	setBool(&cfg.Redis.UseLocks, "SOLTRADER_REDIS_USE_LOCKS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SOLTRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SOLTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SOLTRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SOLTRADER_S3_FORCE_PATH_STYLE")

	// ── RPC ──
	setStringSlice(&cfg.RPC.Endpoints, "SOLTRADER_RPC_ENDPOINTS")
	setInt(&cfg.RPC.Quorum, "SOLTRADER_RPC_QUORUM")
	setInt(&cfg.RPC.MaxFanout, "SOLTRADER_RPC_MAX_FANOUT")
	setInt(&cfg.RPC.StaggerMs, "SOLTRADER_RPC_STAGGER_MS")
	setInt(&cfg.RPC.TimeoutMs, "SOLTRADER_RPC_TIMEOUT_MS")
	setStr(&cfg.RPC.PrivateEndpoint, "SOLTRADER_RPC_PRIVATE_ENDPOINT")

	// ── Aggregator / pricer / listings ──
	setStr(&cfg.Aggregator.QuoteHost, "SOLTRADER_AGGREGATOR_QUOTE_HOST")
	setDuration(&cfg.Aggregator.Timeout, "SOLTRADER_AGGREGATOR_TIMEOUT")
	setStr(&cfg.Pricer.Host, "SOLTRADER_PRICER_HOST")
	setDuration(&cfg.Pricer.Timeout, "SOLTRADER_PRICER_TIMEOUT")
	setStr(&cfg.Listings.WsURL, "SOLTRADER_LISTINGS_WS_URL")

	// ── Executor ──
	setStr(&cfg.Executor.LegacyMasterKey, "SOLTRADER_EXECUTOR_LEGACY_MASTER_KEY")
	setBool(&cfg.Executor.KillSwitch, "SOLTRADER_KILL_SWITCH")

	// ── Arm ──
	setDuration(&cfg.Arm.MaxSessionTTL, "SOLTRADER_ARM_MAX_SESSION_TTL")

	// ── Monitor ──
	setBool(&cfg.Monitor.Limit, "SOLTRADER_MONITOR_LIMIT")
	setBool(&cfg.Monitor.Dca, "SOLTRADER_MONITOR_DCA")
	setBool(&cfg.Monitor.TpSl, "SOLTRADER_MONITOR_TPSL")
	setBool(&cfg.Monitor.Scheduler, "SOLTRADER_MONITOR_SCHEDULER")
	setBool(&cfg.Monitor.NetWorth, "SOLTRADER_MONITOR_NET_WORTH")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SOLTRADER_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SOLTRADER_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLTRADER_NOTIFY_TELEGRAM_TOKEN")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLTRADER_MODE")
	setStr(&cfg.LogLevel, "SOLTRADER_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
