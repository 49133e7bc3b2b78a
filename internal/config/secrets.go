package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Executor.LegacyMasterKey)
	redact(&out.Notify.TelegramToken)

	// RPC endpoint URLs often carry provider API keys in the path.
	if cfg.RPC.Endpoints != nil {
		out.RPC.Endpoints = make([]string, len(cfg.RPC.Endpoints))
		for i := range cfg.RPC.Endpoints {
			out.RPC.Endpoints[i] = redacted
		}
	}
	redact(&out.RPC.PrivateEndpoint)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
