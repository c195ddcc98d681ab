package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alanyoungcy/arbexecutor/internal/cache/redis"
	"github.com/alanyoungcy/arbexecutor/internal/config"
	"github.com/alanyoungcy/arbexecutor/internal/dex"
	"github.com/alanyoungcy/arbexecutor/internal/domain"
	"github.com/alanyoungcy/arbexecutor/internal/engine"
	"github.com/alanyoungcy/arbexecutor/internal/flashloan"
	"github.com/alanyoungcy/arbexecutor/internal/guard"
	"github.com/alanyoungcy/arbexecutor/internal/ledger"
	"github.com/alanyoungcy/arbexecutor/internal/metrics"
	"github.com/alanyoungcy/arbexecutor/internal/notify"
	"github.com/alanyoungcy/arbexecutor/internal/queue/kafka"
	"github.com/alanyoungcy/arbexecutor/internal/server/ws"
	"github.com/alanyoungcy/arbexecutor/internal/service"
	"github.com/alanyoungcy/arbexecutor/internal/store/memory"
	"github.com/alanyoungcy/arbexecutor/internal/store/postgres"
	"github.com/alanyoungcy/arbexecutor/internal/store/sqlite"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger  *ledger.Ledger
	Venues  *dex.Registry
	Lender  *flashloan.Pool
	Engine  *engine.Orchestrator
	Service *service.ExecutionService

	Safety     domain.SafetyStore
	Executions domain.ExecutionStore

	// Redis-backed; nil when redis is disabled.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Nonces      domain.NonceStore
	EventBus    *redis.EventBus

	Hub      *ws.Hub
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
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

	clock := domain.Clock(time.Now)
	deps := &Dependencies{}

	// --- Simulated chain ---
	w, err := seedGenesis(cfg, clock, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: genesis: %w", err))
	}
	deps.Ledger, deps.Venues, deps.Lender = w.book, w.venues, w.lender

	// --- Persistence ---
	switch cfg.Storage.Backend {
	case "postgres":
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Safety = postgres.NewSafetyStore(pgClient.Pool())
		deps.Executions = postgres.NewExecutionStore(pgClient.Pool())
	case "sqlite":
		st, err := sqlite.Open(ctx, cfg.SQLite.Path, cfg.SQLite.BusyTimeout.Duration)
		if err != nil {
			return fail(fmt.Errorf("wire: sqlite: %w", err))
		}
		closers = append(closers, func() { _ = st.Close() })
		deps.Safety, deps.Executions = st, st
	default:
		st := memory.New()
		deps.Safety, deps.Executions = st, st
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Nonces = redis.NewNonceStore(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient, redis.EventBusConfig{
			Channel:      cfg.Redis.EventChannel,
			Stream:       cfg.Redis.EventStream,
			StreamMaxLen: int64(cfg.Redis.StreamMaxLen),
		})
	}

	// --- Event sinks ---
	sinks := domain.MultiSink{deps.Executions}
	if deps.EventBus != nil {
		sinks = append(sinks, deps.EventBus)
	}
	if cfg.Kafka.Enabled {
		pub, err := kafka.NewPublisher(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() { _ = pub.Close() })
		sinks = append(sinks, pub)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	if deps.Notifier.Enabled() {
		sinks = append(sinks, deps.Notifier)
	}

	// The hub follows the shared Redis channel when there is one so every
	// replica's clients see every replica's events.
	var orch *engine.Orchestrator
	if cfg.Mode == "server" {
		hubCfg := ws.Config{Safety: func() domain.SafetyState { return orch.Safety() }}
		if deps.EventBus != nil {
			hubCfg.Source = deps.EventBus
		}
		deps.Hub = ws.NewHub(hubCfg, logger)
		if deps.EventBus == nil {
			sinks = append(sinks, deps.Hub)
		}
	}

	// --- Metrics ---
	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- Engine ---
	maxTrade, err := config.ParseBaseUnits(cfg.Engine.MaxTradeSize)
	if err != nil {
		return fail(fmt.Errorf("wire: max_trade_size: %w", err))
	}
	dailyLoss, err := config.ParseBaseUnits(cfg.Engine.DailyLossLimit)
	if err != nil {
		return fail(fmt.Errorf("wire: daily_loss_limit: %w", err))
	}
	codec, err := engine.NewABICodec()
	if err != nil {
		return fail(fmt.Errorf("wire: codec: %w", err))
	}

	self := cfg.EngineAddress()
	orch, err = engine.New(ctx,
		engine.Config{
			Self:           self,
			Authority:      cfg.AuthorityAddress(),
			MaxTradeSize:   maxTrade,
			DailyLossLimit: dailyLoss,
		},
		engine.Dependencies{
			Ledger:  w.book,
			Swaps:   dex.NewAdapter(self, w.book, w.venues, clock, logger),
			Capital: flashloan.NewHandler(self, w.lender, logger),
			Guard:   guard.New(w.book, self),
			Codec:   codec,
			Events:  sinks,
			Store:   deps.Safety,
			Clock:   clock,
			Logger:  logger,
		},
	)
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}
	deps.Engine = orch

	deps.Service = service.NewExecutionService(orch, codec, w.book, deps.Executions, deps.LockManager, deps.Metrics,
		service.Config{
			LockKey:  cfg.Engine.LockKey,
			LockTTL:  cfg.Engine.LockTTL.Duration,
			Decimals: tokenDecimals(cfg.Genesis),
		},
		logger,
	)

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("engine", self.Hex()),
		slog.String("authority", cfg.AuthorityAddress().Hex()),
		slog.String("storage", cfg.Storage.Backend),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("kafka", cfg.Kafka.Enabled),
		slog.Int("event_sinks", len(sinks)),
	)
	return deps, cleanup, nil
}
