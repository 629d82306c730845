package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)
	redact(&out.Providers.ZeroEx.APIKey)
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// The RPC URL frequently embeds a provider key in its path.
	redact(&out.Chain.RPCURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	if cfg.Tokens != nil {
		out.Tokens = make([]TokenConfig, len(cfg.Tokens))
		copy(out.Tokens, cfg.Tokens)
	}
	if cfg.Fallback != nil {
		out.Fallback = make(map[string]float64, len(cfg.Fallback))
		for k, v := range cfg.Fallback {
			out.Fallback[k] = v
		}
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = make([]string, len(cfg.Server.CORSOrigins))
		copy(out.Server.CORSOrigins, cfg.Server.CORSOrigins)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
