// Package config defines the top-level configuration for the trading daemon
// and provides validation helpers.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SOLTRADER_* environment variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	RPC        RPCConfig        `toml:"rpc"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Pricer     PricerConfig     `toml:"pricer"`
	Listings   ListingsConfig   `toml:"listings"`
	Executor   ExecutorConfig   `toml:"executor"`
	Arm        ArmConfig        `toml:"arm"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// UseLocks enables cross-process trigger locks for the monitors. Single
	// replica deployments can leave it off.
	UseLocks bool `toml:"use_locks"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RPCConfig holds the Solana RPC endpoints and quorum broadcast parameters.
type RPCConfig struct {
	// Endpoints is the broadcast pool. The first entry doubles as the direct
	// read endpoint for balances and sweeps.
	Endpoints []string `toml:"endpoints"`
	Quorum    int      `toml:"quorum"`
	MaxFanout int      `toml:"max_fanout"`
	StaggerMs int      `toml:"stagger_ms"`
	TimeoutMs int      `toml:"timeout_ms"`
	// PrivateEndpoint is the MEV-protected send path for the turbo route.
	PrivateEndpoint string `toml:"private_endpoint"`
}

// AggregatorConfig holds the DEX aggregator API parameters.
type AggregatorConfig struct {
	QuoteHost string   `toml:"quote_host"`
	Timeout   duration `toml:"timeout"`
}

// PricerConfig holds the price API parameters.
type PricerConfig struct {
	Host    string   `toml:"host"`
	Timeout duration `toml:"timeout"`
}

// ListingsConfig holds the new-listings WebSocket feed parameters.
type ListingsConfig struct {
	WsURL string `toml:"ws_url"`
}

// ExecutorConfig holds trade execution parameters.
type ExecutorConfig struct {
	// LegacyMasterKey decrypts wallets that predate envelope encryption,
	// hex-encoded, 32 bytes. Empty disables the legacy path.
	LegacyMasterKey string `toml:"legacy_master_key"`
	// KillSwitch starts the daemon with real trading halted.
	KillSwitch bool `toml:"kill_switch"`
}

// ArmConfig bounds arm session lifetimes.
type ArmConfig struct {
	MaxSessionTTL duration `toml:"max_session_ttl"`
}

// MonitorConfig toggles the always-on monitors.
type MonitorConfig struct {
	Limit     bool `toml:"limit"`
	Dca       bool `toml:"dca"`
	TpSl      bool `toml:"tpsl"`
	Scheduler bool `toml:"scheduler"`
	NetWorth  bool `toml:"net_worth"`
}

// ArchiveConfig holds closed-trade archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials. Per-user chat routing
// lives in the database; only the bot token is global.
type NotifyConfig struct {
	TelegramToken string `toml:"telegram_token"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "soltrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "soltrader-data",
			ForcePathStyle: true,
		},
		RPC: RPCConfig{
			Endpoints: []string{"https://api.mainnet-beta.solana.com"},
			Quorum:    1,
			MaxFanout: 0,
			StaggerMs: 50,
			TimeoutMs: 10_000,
		},
		Aggregator: AggregatorConfig{
			QuoteHost: "https://quote-api.jup.ag/v6",
			Timeout:   duration{15 * time.Second},
		},
		Pricer: PricerConfig{
			Host:    "https://public-api.birdeye.so",
			Timeout: duration{10 * time.Second},
		},
		Arm: ArmConfig{
			MaxSessionTTL: duration{8 * time.Hour},
		},
		Monitor: MonitorConfig{
			Limit:     true,
			Dca:       true,
			TpSl:      true,
			Scheduler: true,
			NetWorth:  true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine":  true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// RPC
	if len(c.RPC.Endpoints) == 0 {
		errs = append(errs, "rpc: at least one endpoint is required")
	}
	if c.RPC.Quorum < 1 {
		errs = append(errs, "rpc: quorum must be >= 1")
	}
	if c.RPC.Quorum > len(c.RPC.Endpoints) {
		errs = append(errs, fmt.Sprintf("rpc: quorum %d exceeds endpoint count %d", c.RPC.Quorum, len(c.RPC.Endpoints)))
	}
	if c.RPC.MaxFanout < 0 {
		errs = append(errs, "rpc: max_fanout must be >= 0 (0 = all endpoints)")
	}
	if c.RPC.TimeoutMs < 1000 {
		errs = append(errs, "rpc: timeout_ms must be >= 1000")
	}

	// Aggregator / pricer
	if c.Aggregator.QuoteHost == "" {
		errs = append(errs, "aggregator: quote_host must not be empty")
	}
	if c.Pricer.Host == "" {
		errs = append(errs, "pricer: host must not be empty")
	}

	// Executor
	if c.Executor.LegacyMasterKey != "" {
		key, err := hex.DecodeString(c.Executor.LegacyMasterKey)
		if err != nil {
			errs = append(errs, "executor: legacy_master_key must be hex-encoded")
		} else if len(key) != 32 {
			errs = append(errs, fmt.Sprintf("executor: legacy_master_key must be 32 bytes, got %d", len(key)))
		}
	}

	// Arm
	if c.Arm.MaxSessionTTL.Duration <= 0 {
		errs = append(errs, "arm: max_session_ttl must be > 0")
	}

	// Archive
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LegacyKey returns the decoded legacy master key, or nil when unset. Call
// only after Validate.
func (c *Config) LegacyKey() []byte {
	if c.Executor.LegacyMasterKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Executor.LegacyMasterKey)
	if err != nil {
		return nil
	}
	return key
}
