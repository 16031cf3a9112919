package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/commerce-core/pkg/database"
	"github.com/utafrali/commerce-core/pkg/health"
	"github.com/utafrali/commerce-core/pkg/httpclient"
	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/pkg/lifecycle"
	"github.com/utafrali/commerce-core/pkg/tracing"
	"github.com/utafrali/commerce-core/services/payment/internal/client"
	"github.com/utafrali/commerce-core/services/payment/internal/config"
	"github.com/utafrali/commerce-core/services/payment/internal/event"
	handler "github.com/utafrali/commerce-core/services/payment/internal/handler/http"
	"github.com/utafrali/commerce-core/services/payment/internal/processor"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/card"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/manual"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/simulated"
	"github.com/utafrali/commerce-core/services/payment/internal/processor/wallet"
	"github.com/utafrali/commerce-core/services/payment/internal/repository"
	"github.com/utafrali/commerce-core/services/payment/internal/repository/memory"
	"github.com/utafrali/commerce-core/services/payment/internal/repository/postgres"
	"github.com/utafrali/commerce-core/services/payment/internal/service"
	"github.com/utafrali/commerce-core/services/payment/internal/webhook"
	"github.com/utafrali/commerce-core/services/payment/migrations"
)

// Store is the payment storage used by every payment service.
type Store interface {
	repository.Reader
	repository.UnitOfWork
	repository.MethodRepository
}

// App is the assembled payment service.
type App struct {
	group *lifecycle.Group
}

// OpenStore connects the configured payment storage. For postgres it runs
// migrations first. The returned pool is nil for the memory driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, *pgxpool.Pool, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Warn("using in-memory payment store, data is lost on restart")
		return memory.NewStore(), nil, nil
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	return postgres.NewStore(pool), pool, nil
}

// breakerConfig builds the circuit breaker settings shared by outbound clients.
func breakerConfig(cfg *config.Config, name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  cfg.CBMaxRequests,
		Interval:     cfg.CBInterval,
		Timeout:      cfg.CBTimeout,
		FailureRatio: cfg.CBFailureRatio,
		MinRequests:  cfg.CBMinRequests,
	}
}

// BuildRegistry registers every processor the configuration enables. Gateway
// clients never retry on their own: a repeated charge is only safe through
// the orchestrator.
func BuildRegistry(cfg *config.Config, logger *slog.Logger) *processor.Registry {
	registry := processor.NewRegistry()

	gatewayDoer := func(name string) processor.HTTPDoer {
		hc := httpclient.New(httpclient.Config{
			Timeout:         cfg.ProcessorTimeout,
			MaxRetries:      0,
			MaxConnsPerHost: 50,
		})
		return httpclient.NewCircuitBreakerClient(hc, breakerConfig(cfg, name+"-gateway"), logger)
	}

	if cfg.CardGatewayURL != "" {
		registry.Register(card.New(card.Config{
			BaseURL:       cfg.CardGatewayURL,
			APIKey:        cfg.CardAPIKey,
			WebhookSecret: cfg.CardWebhookSecret,
		}, gatewayDoer(card.Name)))
	}
	if cfg.WalletGatewayURL != "" {
		registry.Register(wallet.New(wallet.Config{
			BaseURL:       cfg.WalletGatewayURL,
			APIKey:        cfg.WalletAPIKey,
			WebhookSecret: cfg.WalletWebhookSecret,
		}, gatewayDoer(wallet.Name)))
	}
	if cfg.ManualProcessorEnabled {
		registry.Register(manual.New())
	}
	if cfg.SimulatedProcessors {
		logger.Warn("simulated payment processor enabled, no money moves")
		registry.Register(simulated.New(cfg.SimulatedWebhookSecret, cfg.SimulatedGatewayLatency))
	}

	names := registry.Names()
	if len(names) == 0 {
		logger.Warn("no payment processors configured, every payment will be rejected")
	} else {
		logger.Info("payment processors registered", slog.Any("processors", names))
	}
	return registry
}

// NewApp connects storage, Kafka and Redis, registers the configured
// processors and assembles the HTTP API.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "payment",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	store, pool, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		database.RegisterPoolMetrics(pool, "payment")
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := producer.WaitReady(ctx, 3); err != nil {
		logger.Warn("kafka not reachable, events will be retried by the writer", slog.String("error", err.Error()))
	}

	guard, redisClient := openWebhookGuard(ctx, cfg, logger)

	orderBreaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(httpclient.DefaultConfig()),
		breakerConfig(cfg, "order-service"),
		logger,
	).WithFallback(client.CircuitOpenFallback)
	orders := client.NewOrderClient(orderBreaker, cfg.OrderServiceURL, logger)

	registry := BuildRegistry(cfg, logger)
	payments := service.NewPaymentService(store, store, store, orders, registry, event.NewProducer(producer, logger), logger, cfg.ProcessorTimeout)
	svcs := handler.Services{
		Payments: payments,
		Methods:  service.NewMethodService(store, registry, logger),
		Webhooks: service.NewWebhookService(registry, payments, guard, logger),
	}

	checks := health.NewHandler()
	if pool != nil {
		checks.RegisterCritical("postgres", pool.Ping)
	}
	checks.RegisterNonCritical("kafka", producer.Ping)
	if redisClient != nil {
		checks.RegisterNonCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	// A request may hold a processor call plus the transactions around it.
	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler.NewRouter(svcs, checks, logger, handler.RouterConfig{
			PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
			AdminAllowedCIDRs: cfg.AdminAllowedCIDRs,
			WebhookRPS:        cfg.WebhookRateLimitRPS,
			WebhookBurst:      cfg.WebhookRateLimitBurst,
			RequestTimeout:    cfg.RequestTimeout(),
		}),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 15*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g := lifecycle.New(logger)
	g.Go("http", func(context.Context) error {
		logger.Info("listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.OnStop("http", cfg.RequestTimeout(), server.Shutdown)
	g.OnStop("tracer", 3*time.Second, shutdownTracer)
	g.OnStop("kafka-producer", 5*time.Second, lifecycle.Closer(producer.Close))
	if redisClient != nil {
		g.OnStop("redis", time.Second, lifecycle.Closer(redisClient.Close))
	}
	if pool != nil {
		g.OnStop("postgres", time.Second, func(context.Context) error {
			pool.Close()
			return nil
		})
	}

	return &App{group: g}, nil
}

// Run blocks until ctx is canceled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	return a.group.Run(ctx)
}

// openWebhookGuard records processed webhook event ids in Redis when one is
// configured so redeliveries are recognised across restarts and replicas.
// The client is nil when the guard is in-process.
func openWebhookGuard(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.Guard, *redis.Client) {
	if cfg.RedisHost == "" {
		return webhook.NewMemoryGuard(cfg.WebhookDedupeTTL), nil
	}
	rc, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, deduplicating webhooks in memory", slog.String("error", err.Error()))
		return webhook.NewMemoryGuard(cfg.WebhookDedupeTTL), nil
	}
	return webhook.NewRedisGuard(rc, "payment", cfg.WebhookDedupeTTL), rc
}
