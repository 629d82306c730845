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
// built-in defaults, applies VAULTSIGNAL_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VAULTSIGNAL_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "VAULTSIGNAL_CHAIN_RPC_URL")
	setStr(&cfg.Chain.RPCURL, "RPC_URL") // compatibility alias
	setInt64(&cfg.Chain.ChainID, "VAULTSIGNAL_CHAIN_ID")
	setStr(&cfg.Chain.FactoryAddress, "VAULTSIGNAL_CHAIN_FACTORY_ADDRESS")
	setStr(&cfg.Chain.FactoryAddress, "FACTORY_ADDRESS") // compatibility alias
	setUint64(&cfg.Chain.ExecuteGasLimit, "VAULTSIGNAL_CHAIN_EXECUTE_GAS_LIMIT")
	setUint64(&cfg.Chain.ApproveGasLimit, "VAULTSIGNAL_CHAIN_APPROVE_GAS_LIMIT")
	setDuration(&cfg.Chain.ConfirmTimeout, "VAULTSIGNAL_CHAIN_CONFIRM_TIMEOUT")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "VAULTSIGNAL_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.EncryptedKeyPath, "VAULTSIGNAL_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "VAULTSIGNAL_WALLET_KEY_PASSWORD")

	// ── Providers ──
	setStr(&cfg.Providers.DefiLlama.BaseURL, "VAULTSIGNAL_DEFILLAMA_BASE_URL")
	setStr(&cfg.Providers.ZeroEx.BaseURL, "VAULTSIGNAL_ZEROEX_BASE_URL")
	setStr(&cfg.Providers.ZeroEx.APIKey, "VAULTSIGNAL_ZEROEX_API_KEY")
	setStr(&cfg.Providers.ZeroEx.APIKey, "ZEROX_API_KEY") // compatibility alias

	// ── Dispatch ──
	setStr(&cfg.Dispatch.QuoteSymbol, "VAULTSIGNAL_DISPATCH_QUOTE_SYMBOL")
	setInt(&cfg.Dispatch.MaxConcurrency, "VAULTSIGNAL_DISPATCH_MAX_CONCURRENCY")
	setDuration(&cfg.Dispatch.DrainTimeout, "VAULTSIGNAL_DISPATCH_DRAIN_TIMEOUT")

	// ── Price ──
	setDuration(&cfg.Price.SnapshotWindow, "VAULTSIGNAL_PRICE_SNAPSHOT_WINDOW")
	setStr(&cfg.Price.RefreshCron, "VAULTSIGNAL_PRICE_REFRESH_CRON")
	setBool(&cfg.Price.RefreshEnabled, "VAULTSIGNAL_PRICE_REFRESH_ENABLED")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "VAULTSIGNAL_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "VAULTSIGNAL_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "VAULTSIGNAL_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "VAULTSIGNAL_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "VAULTSIGNAL_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "VAULTSIGNAL_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "VAULTSIGNAL_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "VAULTSIGNAL_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "VAULTSIGNAL_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "VAULTSIGNAL_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "VAULTSIGNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VAULTSIGNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VAULTSIGNAL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "VAULTSIGNAL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "VAULTSIGNAL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "VAULTSIGNAL_REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "VAULTSIGNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VAULTSIGNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "VAULTSIGNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VAULTSIGNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VAULTSIGNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "VAULTSIGNAL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "VAULTSIGNAL_S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "VAULTSIGNAL_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "VAULTSIGNAL_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "VAULTSIGNAL_ARCHIVE_CRON")

	// ── Intake ──
	setBool(&cfg.Intake.StreamEnabled, "VAULTSIGNAL_INTAKE_STREAM_ENABLED")
	setStr(&cfg.Intake.Stream, "VAULTSIGNAL_INTAKE_STREAM")
	setStr(&cfg.Intake.Group, "VAULTSIGNAL_INTAKE_GROUP")
	setStr(&cfg.Intake.Consumer, "VAULTSIGNAL_INTAKE_CONSUMER")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "VAULTSIGNAL_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VAULTSIGNAL_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStringSlice(&cfg.Server.CORSOrigins, "VAULTSIGNAL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "VAULTSIGNAL_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "VAULTSIGNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VAULTSIGNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VAULTSIGNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VAULTSIGNAL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "VAULTSIGNAL_MODE")
	setStr(&cfg.LogLevel, "VAULTSIGNAL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
