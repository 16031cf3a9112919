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
	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/pkg/lifecycle"
	"github.com/utafrali/commerce-core/pkg/tracing"
	"github.com/utafrali/commerce-core/services/inventory/internal/config"
	"github.com/utafrali/commerce-core/services/inventory/internal/event"
	handler "github.com/utafrali/commerce-core/services/inventory/internal/handler/http"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository/memory"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository/postgres"
	"github.com/utafrali/commerce-core/services/inventory/internal/service"
	"github.com/utafrali/commerce-core/services/inventory/migrations"
)

// Store is the ledger storage used by every inventory service.
type Store interface {
	repository.Reader
	repository.UnitOfWork
}

// App is the assembled inventory service.
type App struct {
	group *lifecycle.Group
}

// OpenStore connects the configured ledger storage. For postgres it runs
// migrations first. The returned pool is nil for the memory driver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, *pgxpool.Pool, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Warn("using in-memory stock ledger, data is lost on restart")
		return memory.NewStore().WithLowStockThreshold(cfg.LowStockThreshold), nil, nil
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

	return postgres.NewStore(pool).WithLowStockThreshold(cfg.LowStockThreshold), pool, nil
}

// NewApp connects storage, Kafka and Redis and assembles the HTTP API, the
// order event consumers and the reservation sweeper.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "inventory",
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
		database.RegisterPoolMetrics(pool, "inventory")
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := producer.WaitReady(ctx, 3); err != nil {
		logger.Warn("kafka not reachable, events will be retried by the writer", slog.String("error", err.Error()))
	}

	idempotency, redisClient := openIdempotencyStore(ctx, cfg, logger)

	events := event.NewProducer(producer, logger)
	svcs := handler.Services{
		Ledger:       service.NewLedgerService(store, store, events, logger),
		Reservations: service.NewReservationService(store, store, events, logger, cfg.ReservationTTLDuration()),
		Transfers:    service.NewTransferService(store, store, events, logger),
		Reconcile:    service.NewReconcileService(store, store, events, logger),
	}

	orders := event.NewConsumer(svcs.Reservations, logger)
	orderConsumer := func(group, topic string, handle pkgkafka.Handler) *pkgkafka.Consumer {
		return pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:   cfg.KafkaBrokers,
			GroupID:   group,
			Topic:     topic,
			MinBytes:  1,
			MaxBytes:  10e6,
			EnableDLQ: true,
		}, pkgkafka.IdempotentHandler(idempotency, handle, logger), logger)
	}
	paid := orderConsumer("inventory-service-order-paid", event.TopicOrderPaid, orders.HandleOrderPaid)
	canceled := orderConsumer("inventory-service-order-canceled", event.TopicOrderCanceled, orders.HandleOrderCanceled)

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

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler.NewRouter(svcs, checks, logger, handler.RouterConfig{
			PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
			AdminAllowedCIDRs: cfg.AdminAllowedCIDRs,
		}),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
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
	g.Go("order-paid-consumer", paid.Start)
	g.Go("order-canceled-consumer", canceled.Start)
	if cfg.ReservationTTL > 0 {
		g.Go("reservation-sweeper", func(ctx context.Context) error {
			sweepReservations(ctx, svcs.Reservations, cfg.ReservationSweepInterval, logger)
			return nil
		})
	}

	// Requests drain before spans are flushed and before anything they
	// write through is closed.
	g.OnStop("http", 5*time.Second, server.Shutdown)
	g.OnStop("tracer", 3*time.Second, shutdownTracer)
	g.OnStop("order-paid-consumer", time.Second, lifecycle.Closer(paid.Close))
	g.OnStop("order-canceled-consumer", time.Second, lifecycle.Closer(canceled.Close))
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

// Run blocks until ctx is canceled or a component fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	return a.group.Run(ctx)
}

// openIdempotencyStore keeps processed event ids in Redis when one is
// configured, so redeliveries are recognised across restarts and replicas.
// The client is nil when the store is in-process.
func openIdempotencyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (pkgkafka.IdempotencyStore, *redis.Client) {
	const ttl = 24 * time.Hour

	if cfg.RedisHost == "" {
		return pkgkafka.NewMemoryIdempotencyStore(ttl), nil
	}
	client, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		logger.Warn("redis unavailable, tracking processed events in memory", slog.String("error", err.Error()))
		return pkgkafka.NewMemoryIdempotencyStore(ttl), nil
	}
	return pkgkafka.NewRedisIdempotencyStore(client, "inventory", ttl), client
}

// sweepReservations releases expired order reservations every interval
// until ctx ends.
func sweepReservations(ctx context.Context, reservations *service.ReservationService, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := reservations.ExpireStale(ctx, now.UTC())
			if err != nil {
				logger.Error("reservation sweep failed", slog.String("error", err.Error()))
			} else if expired > 0 {
				logger.Info("expired reservations released", slog.Int("expired", expired))
			}
		}
	}
}
