// Package config defines the top-level configuration for the vaultsignal
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by VAULTSIGNAL_* environment variables.
type Config struct {
	Chain     ChainConfig        `toml:"chain"`
	Wallet    WalletConfig       `toml:"wallet"`
	Tokens    []TokenConfig      `toml:"tokens"`
	Fallback  map[string]float64 `toml:"fallback_prices"`
	Providers ProvidersConfig    `toml:"providers"`
	Dispatch  DispatchConfig     `toml:"dispatch"`
	Price     PriceConfig        `toml:"price"`
	Supabase  SupabaseConfig     `toml:"supabase"`
	Redis     RedisConfig        `toml:"redis"`
	S3        S3Config           `toml:"s3"`
	Archive   ArchiveConfig      `toml:"archive"`
	Intake    IntakeConfig       `toml:"intake"`
	Server    ServerConfig       `toml:"server"`
	Notify    NotifyConfig       `toml:"notify"`
	Mode      string             `toml:"mode"`
	LogLevel  string             `toml:"log_level"`
}

// ChainConfig holds the EVM chain and contract parameters.
type ChainConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ChainID         int64    `toml:"chain_id"`
	FactoryAddress  string   `toml:"factory_address"`
	ExecuteGasLimit uint64   `toml:"execute_gas_limit"`
	ApproveGasLimit uint64   `toml:"approve_gas_limit"`
	ConfirmPoll     duration `toml:"confirm_poll"`
	// ConfirmTimeout bounds a single wait for a receipt. A timed-out wait
	// also resyncs the operator nonce.
	ConfirmTimeout duration `toml:"confirm_timeout"`
}

// WalletConfig holds the operator key that relays vault execute calls.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TokenConfig registers one ERC-20 token.
type TokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int32  `toml:"decimals"`
}

// ProvidersConfig holds the external price and swap-quote providers.
type ProvidersConfig struct {
	DefiLlama DefiLlamaConfig `toml:"defillama"`
	ZeroEx    ZeroExConfig    `toml:"zeroex"`
}

// DefiLlamaConfig configures the price provider.
type DefiLlamaConfig struct {
	BaseURL     string   `toml:"base_url"`
	ChainPrefix string   `toml:"chain_prefix"`
	Span        int      `toml:"span"`
	Period      string   `toml:"period"`
	Timeout     duration `toml:"timeout"`
	RatePerSec  float64  `toml:"rate_per_sec"`
	Burst       int      `toml:"burst"`
}

// ZeroExConfig configures the swap-quote provider.
type ZeroExConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	RatePerSec float64  `toml:"rate_per_sec"`
	Burst      int      `toml:"burst"`
}

// DispatchConfig controls signal fan-out.
type DispatchConfig struct {
	QuoteSymbol string `toml:"quote_symbol"`
	// MaxConcurrency bounds the number of account units in flight per
	// dispatch. Zero means unbounded.
	MaxConcurrency int `toml:"max_concurrency"`
	// DrainTimeout bounds how long shutdown waits for accepted signals whose
	// fan-out is still running.
	DrainTimeout duration `toml:"drain_timeout"`
}

// PriceConfig controls the price oracle and its refresh schedule.
type PriceConfig struct {
	SnapshotWindow duration `toml:"snapshot_window"`
	RefreshCron    string   `toml:"refresh_cron"`
	RefreshEnabled bool     `toml:"refresh_enabled"`
	CacheTTL       duration `toml:"cache_ttl"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls cold-storage archival of old records.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// IntakeConfig controls the Redis stream signal consumer.
type IntakeConfig struct {
	StreamEnabled bool     `toml:"stream_enabled"`
	Stream        string   `toml:"stream"`
	Group         string   `toml:"group"`
	// Consumer names this process within Group. Empty uses the hostname.
	Consumer  string   `toml:"consumer"`
	BatchSize int      `toml:"batch_size"`
	Block         duration `toml:"block"`
	DedupTTL      duration `toml:"dedup_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	APIKey           string   `toml:"api_key"`
	IntakeRateLimit  int      `toml:"intake_rate_limit"`
	IntakeRateWindow duration `toml:"intake_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values for Base
// mainnet.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:          "https://mainnet.base.org",
			ChainID:         8453,
			ExecuteGasLimit: 500_000,
			ApproveGasLimit: 200_000,
			ConfirmPoll:     duration{2 * time.Second},
			ConfirmTimeout:  duration{3 * time.Minute},
		},
		Tokens: []TokenConfig{
			{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6},
			{Symbol: "AAVE", Address: "0x63706e401c06ac8513145b7687A14804d17f814b", Decimals: 18},
		},
		Fallback: map[string]float64{
			"USDC": 1.0,
			"USDT": 1.0,
			"DAI":  1.0,
			"WETH": 3000.0,
		},
		Providers: ProvidersConfig{
			DefiLlama: DefiLlamaConfig{
				BaseURL:     "https://coins.llama.fi",
				ChainPrefix: "base",
				Span:        2,
				Period:      "1h",
				Timeout:     duration{10 * time.Second},
				RatePerSec:  5,
				Burst:       5,
			},
			ZeroEx: ZeroExConfig{
				BaseURL:    "https://api.0x.org",
				Timeout:    duration{15 * time.Second},
				RatePerSec: 2,
				Burst:      4,
			},
		},
		Dispatch: DispatchConfig{
			QuoteSymbol:    "USDC",
			MaxConcurrency: 16,
			DrainTimeout:   duration{5 * time.Minute},
		},
		Price: PriceConfig{
			SnapshotWindow: duration{5 * time.Minute},
			RefreshCron:    "*/5 * * * *",
			RefreshEnabled: true,
			CacheTTL:       duration{10 * time.Minute},
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "vaultsignal-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Intake: IntakeConfig{
			StreamEnabled: true,
			Stream:        domain.StreamInbound,
			Group:         "vaultsignal",
			BatchSize:     16,
			Block:         duration{5 * time.Second},
			DedupTTL:      duration{10 * time.Minute},
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             3000,
			CORSOrigins:      []string{"http://localhost:3000"},
			IntakeRateLimit:  30,
			IntakeRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"swap_executed", "swap_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if !common.IsHexAddress(c.Chain.FactoryAddress) {
		errs = append(errs, fmt.Sprintf("chain: factory_address %q is not a hex address", c.Chain.FactoryAddress))
	}
	if c.Chain.ExecuteGasLimit == 0 {
		errs = append(errs, "chain: execute_gas_limit must be > 0")
	}
	if c.Chain.ApproveGasLimit == 0 {
		errs = append(errs, "chain: approve_gas_limit must be > 0")
	}

	// Wallet: the operator key relays every vault call.
	if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		errs = append(errs, "wallet: either private_key or encrypted_key_path must be set")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Tokens
	if len(c.Tokens) == 0 {
		errs = append(errs, "tokens: at least one token must be registered")
	}
	quoteFound := false
	for i, t := range c.Tokens {
		if strings.TrimSpace(t.Symbol) == "" {
			errs = append(errs, fmt.Sprintf("tokens[%d]: symbol must not be empty", i))
		}
		if !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Sprintf("tokens[%d]: address %q is not a hex address", i, t.Address))
		}
		if strings.EqualFold(t.Symbol, c.Dispatch.QuoteSymbol) {
			quoteFound = true
		}
	}
	if !quoteFound {
		errs = append(errs, fmt.Sprintf("dispatch: quote_symbol %q is not a registered token", c.Dispatch.QuoteSymbol))
	}
	if c.Dispatch.MaxConcurrency < 0 {
		errs = append(errs, "dispatch: max_concurrency must be >= 0")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be > 0")
	}

	// Providers
	if c.Providers.DefiLlama.BaseURL == "" {
		errs = append(errs, "providers.defillama: base_url must not be empty")
	}
	if c.Providers.ZeroEx.BaseURL == "" {
		errs = append(errs, "providers.zeroex: base_url must not be empty")
	}

	// Price
	if c.Price.SnapshotWindow.Duration <= time.Second {
		errs = append(errs, "price: snapshot_window must be longer than 1s")
	}
	if c.Price.RefreshEnabled && c.Price.RefreshCron == "" {
		errs = append(errs, "price: refresh_cron must be set when refresh is enabled")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Intake
	if c.Intake.StreamEnabled && c.Intake.Stream == "" {
		errs = append(errs, "intake: stream must not be empty when stream intake is enabled")
	}
	if c.Intake.StreamEnabled && c.Intake.Group == "" {
		errs = append(errs, "intake: group must not be empty when stream intake is enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TokenTable builds the immutable token lookup from the configured tokens.
func (c *Config) TokenTable() (domain.TokenTable, error) {
	tokens := make([]domain.Token, 0, len(c.Tokens))
	for _, t := range c.Tokens {
		tokens = append(tokens, domain.Token{
			Symbol:   t.Symbol,
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
		})
	}
	return domain.NewTokenTable(tokens)
}

// FallbackTable builds the fallback price table.
func (c *Config) FallbackTable() domain.FallbackTable {
	return domain.NewFallbackTable(c.Fallback)
}
