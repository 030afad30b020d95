package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/treasurybot/internal/blob/s3"
	"github.com/alanyoungcy/treasurybot/internal/cache/redis"
	"github.com/alanyoungcy/treasurybot/internal/config"
	"github.com/alanyoungcy/treasurybot/internal/domain"
	"github.com/alanyoungcy/treasurybot/internal/metrics"
	"github.com/alanyoungcy/treasurybot/internal/notify"
	"github.com/alanyoungcy/treasurybot/internal/platform/feed"
	"github.com/alanyoungcy/treasurybot/internal/platform/hyperliquid"
	"github.com/alanyoungcy/treasurybot/internal/platform/onchain"
	"github.com/alanyoungcy/treasurybot/internal/platform/polymarket"
	"github.com/alanyoungcy/treasurybot/internal/server/handler"
	"github.com/alanyoungcy/treasurybot/internal/service"
	"github.com/alanyoungcy/treasurybot/internal/store/memory"
	"github.com/alanyoungcy/treasurybot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Ledger     domain.PositionLedger
	AuditStore domain.AuditStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver domain.Archiver

	// Venues, in reconciliation order
	Venues   []service.VenueAccount
	Balances []service.BalanceAccount
	Listings domain.ListingSource

	Notifier *notify.Notifier
	// Dependency checks served on /api/health
	HealthChecks map[string]handler.HealthCheck

	Metrics  *metrics.Metrics
	Treasury *service.TreasuryService
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}

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
		return fail(fmt.Errorf("wire: postgres: %w", err))
	}
	closers = append(closers, pgClient.Close)
	deps.HealthChecks["postgres"] = pgClient.Ping

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("wire: postgres migrations: %w", err))
		}
	}
	ledger := postgres.NewPositionLedger(pgClient.Pool())
	deps.Ledger = ledger
	deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())

	// --- Redis (process-local fallbacks when disabled) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			MasterName: cfg.Redis.MasterName,
			KeyPrefix:  cfg.Redis.KeyPrefix,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.HealthChecks["redis"] = redisClient.Ping
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	} else {
		logger.Warn("wire: redis disabled, using process-local locks and bus")
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus(cfg.Redis.StreamMaxLen)
		deps.RateLimiter = memory.NewRateLimiter()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.Health(ctx); err != nil {
			logger.Warn("wire: archive bucket not reachable, uploads will be retried each pass",
				slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			ledger,
			deps.AuditStore,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Venues ---
	if closeChain := wireVenues(ctx, cfg, deps, logger); closeChain != nil {
		closers = append(closers, closeChain)
	}

	var alerts domain.PassAlerter
	if deps.Notifier != nil {
		alerts = deps.Notifier
	}

	rc := cfg.Reconcile
	reconciler := service.NewReconciler(deps.Ledger, deps.LockManager, deps.AuditStore, service.ReconcilerConfig{
		StrategyID: rc.StrategyID,
		LockTTL:    rc.LockTTL.Duration,
		Plan: service.PlanOptions{
			CostBasisToleranceUSD: rc.CostBasisToleranceUSD,
			KeepPolicy:            rc.MergeKeepPolicy,
		},
	}, logger)

	deps.Treasury = service.NewTreasuryService(service.TreasuryDeps{
		Ledger:     deps.Ledger,
		Reconciler: reconciler,
		Venues:     deps.Venues,
		Balances:   deps.Balances,
		Listings:   deps.Listings,
		Bus:        deps.SignalBus,
		Archiver:   deps.Archiver,
		Alerts:     alerts,
		Metrics:    deps.Metrics,
	}, service.TreasuryConfig{
		StrategyID:  rc.StrategyID,
		PassTimeout: rc.PassTimeout.Duration,
		Hedge:       cfg.Hedge,
		StopLoss:    cfg.StopLoss,
	}, logger)

	return deps, cleanup, nil
}

// wireVenues builds the guarded snapshot sources and balance readers. A
// balance reader that cannot be built is logged and left out. The returned
// func, if any, closes the chain connection.
func wireVenues(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) func() {
	breaker := service.BreakerSettings{
		FetchTimeout:        cfg.Reconcile.FetchTimeout.Duration,
		ConsecutiveFailures: cfg.Reconcile.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Reconcile.Breaker.OpenTimeout.Duration,
	}
	guard := func(src domain.VenueSnapshotSource) domain.VenueSnapshotSource {
		return service.NewGuardedSource(src, breaker, deps.Metrics, logger)
	}

	if v := cfg.Venues.Polymarket; v.Enabled {
		src := polymarket.NewSnapshotSource(polymarket.NewDataClient(v.DataHost))
		deps.Venues = append(deps.Venues, service.VenueAccount{
			Source:  guard(src),
			Account: cfg.Wallet.Account(polymarket.Venue),
		})
	}

	var prices domain.PriceSource
	if v := cfg.Venues.Hyperliquid; v.Enabled {
		hl := hyperliquid.NewSnapshotSource(hyperliquid.NewClient(v.APIHost))
		account := cfg.Wallet.Account(hyperliquid.Venue)
		deps.Venues = append(deps.Venues, service.VenueAccount{Source: guard(hl), Account: account})
		deps.Balances = append(deps.Balances, service.BalanceAccount{Name: "hyperliquid_spot", Source: hl, Account: account})
		deps.Listings = hl
		prices = hl
	}

	for _, f := range cfg.Venues.Feeds {
		account := f.Account
		if account == "" {
			account = cfg.Wallet.Address
		}
		deps.Venues = append(deps.Venues, service.VenueAccount{
			Source:  guard(feed.NewSnapshotSource(f.Name, f.URL)),
			Account: account,
		})
	}

	if !cfg.Onchain.Enabled {
		return nil
	}
	if prices == nil {
		logger.Warn("wire: onchain balances need hyperliquid mids, skipping")
		return nil
	}
	chain, err := onchain.Dial(ctx, cfg.Onchain.RPCURL)
	if err != nil {
		logger.Warn("wire: onchain balances disabled", slog.String("error", err.Error()))
		return nil
	}
	tokens := make([]onchain.Token, 0, len(cfg.Onchain.Tokens))
	for _, t := range cfg.Onchain.Tokens {
		tokens = append(tokens, onchain.Token{
			Symbol:      t.Symbol,
			Address:     common.HexToAddress(t.Address),
			Decimals:    int32(t.Decimals),
			PriceSymbol: t.PriceSymbol,
		})
	}
	deps.Balances = append(deps.Balances, service.BalanceAccount{
		Name:    "onchain",
		Source:  onchain.NewBalanceReader(chain, prices, cfg.Onchain.NativeSymbol, tokens),
		Account: cfg.Wallet.Address,
	})
	return chain.Close
}
