package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/vaultsignal/internal/blob/s3"
	"github.com/alanyoungcy/vaultsignal/internal/cache/redis"
	"github.com/alanyoungcy/vaultsignal/internal/chain"
	"github.com/alanyoungcy/vaultsignal/internal/config"
	"github.com/alanyoungcy/vaultsignal/internal/crypto"
	"github.com/alanyoungcy/vaultsignal/internal/domain"
	"github.com/alanyoungcy/vaultsignal/internal/metrics"
	"github.com/alanyoungcy/vaultsignal/internal/notify"
	"github.com/alanyoungcy/vaultsignal/internal/platform/defillama"
	"github.com/alanyoungcy/vaultsignal/internal/platform/zeroex"
	"github.com/alanyoungcy/vaultsignal/internal/server/handler"
	"github.com/alanyoungcy/vaultsignal/internal/service"
	"github.com/alanyoungcy/vaultsignal/internal/store/postgres"
)

// Dependencies bundles everything the modes run. It is built by Wire and
// torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	SignalStore   *postgres.SignalStore
	AccountStore  *postgres.AccountStore
	OutcomeStore  *postgres.OutcomeStore
	SnapshotStore *postgres.SnapshotStore
	AuditStore    *postgres.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless archival is enabled.
	Archiver *s3blob.Archiver

	Tokens   domain.TokenTable
	Operator common.Address

	// Services
	Oracle     *service.PriceOracle
	Refresher  *service.PriceRefresher
	Dispatcher *service.Dispatcher
	Outcomes   *service.OutcomeService
	Notifier   *notify.Notifier

	Registry *prometheus.Registry
	Metrics  *metrics.Recorder

	// HealthChecks are reported by GET /api/health.
	HealthChecks map[string]handler.Check
}

// needsS3 reports whether the mode runs the archive job.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled && cfg.Mode != "api"
}

// Wire constructs every dependency from cfg and returns a cleanup function
// that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	tokens, err := cfg.TokenTable()
	if err != nil {
		return fail("tokens", err)
	}

	deps := &Dependencies{
		Tokens:       tokens,
		Registry:     prometheus.NewRegistry(),
		HealthChecks: make(map[string]handler.Check),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	deps.SignalStore = postgres.NewSignalStore(pool)
	deps.AccountStore = postgres.NewAccountStore(pool)
	deps.OutcomeStore = postgres.NewOutcomeStore(pool)
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.HealthChecks["postgres"] = pgClient.Ping

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
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Price.CacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 archive ---
	if needsS3(cfg) {
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
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.SnapshotStore,
			deps.OutcomeStore,
			deps.AuditStore,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Chain ---
	ethClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, ethClient.Close)
	deps.HealthChecks["chain"] = chainCheck(ethClient)

	privateKey, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return fail("operator key", err)
	}
	signer, err := crypto.NewTxSigner(privateKey, big.NewInt(cfg.Chain.ChainID))
	if err != nil {
		return fail("operator signer", err)
	}
	deps.Operator = signer.Address()

	operator := chain.NewVaultOperator(ethClient, signer, chain.OperatorConfig{
		PollInterval:   cfg.Chain.ConfirmPoll.Duration,
		ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
	}, logger)
	registry := chain.NewVaultRegistry(ethClient, common.HexToAddress(cfg.Chain.FactoryAddress))

	// --- Providers ---
	llama := defillama.NewClient(defillama.Config{
		BaseURL:     cfg.Providers.DefiLlama.BaseURL,
		ChainPrefix: cfg.Providers.DefiLlama.ChainPrefix,
		Span:        cfg.Providers.DefiLlama.Span,
		Period:      cfg.Providers.DefiLlama.Period,
		Timeout:     cfg.Providers.DefiLlama.Timeout.Duration,
		RatePerSec:  cfg.Providers.DefiLlama.RatePerSec,
		Burst:       cfg.Providers.DefiLlama.Burst,
	})
	quotes := zeroex.NewClient(zeroex.Config{
		BaseURL:    cfg.Providers.ZeroEx.BaseURL,
		APIKey:     cfg.Providers.ZeroEx.APIKey,
		ChainID:    cfg.Chain.ChainID,
		Timeout:    cfg.Providers.ZeroEx.Timeout.Duration,
		RatePerSec: cfg.Providers.ZeroEx.RatePerSec,
		Burst:      cfg.Providers.ZeroEx.Burst,
	})

	// --- Services ---
	deps.Notifier = notify.New(notify.Config{
		TelegramToken:     cfg.Notify.TelegramToken,
		TelegramChatID:    cfg.Notify.TelegramChatID,
		DiscordWebhookURL: cfg.Notify.DiscordWebhookURL,
		Events:            cfg.Notify.Events,
		PerSenderInterval: time.Second,
	}, logger)

	deps.Oracle = service.NewPriceOracle(
		tokens, cfg.FallbackTable(), llama,
		deps.SnapshotStore, deps.PriceCache, deps.SignalBus, deps.Metrics,
		service.PriceOracleConfig{SnapshotWindow: cfg.Price.SnapshotWindow.Duration},
		logger,
	)
	deps.Refresher = service.NewPriceRefresher(deps.Oracle, logger)

	swapper := service.NewSwapExecutor(tokens, quotes, operator, service.SwapExecutorConfig{
		ExecuteGasLimit: cfg.Chain.ExecuteGasLimit,
		ApproveGasLimit: cfg.Chain.ApproveGasLimit,
	}, deps.Metrics, logger)

	deps.Dispatcher = service.NewDispatcher(
		deps.SignalStore, deps.AccountStore, deps.OutcomeStore, deps.AuditStore,
		deps.Oracle, registry, swapper, deps.SignalBus, deps.Notifier, deps.Metrics,
		service.DispatcherConfig{
			QuoteSymbol:    cfg.Dispatch.QuoteSymbol,
			MaxConcurrency: cfg.Dispatch.MaxConcurrency,
		},
		logger,
	)
	deps.Outcomes = service.NewOutcomeService(
		deps.SignalStore, deps.AccountStore, deps.OutcomeStore, deps.AuditStore, logger,
	)

	return deps, cleanup, nil
}

// chainCheck reports the RPC endpoint healthy when it returns a block number.
func chainCheck(c *ethclient.Client) handler.Check {
	return func(ctx context.Context) error {
		_, err := c.BlockNumber(ctx)
		return err
	}
}
