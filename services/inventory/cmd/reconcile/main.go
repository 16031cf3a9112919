// Command reconcile replays the movement log against every stock level and
// repairs drift. It is meant to run out of band, e.g. as a nightly job.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	pkgkafka "github.com/utafrali/commerce-core/pkg/kafka"
	"github.com/utafrali/commerce-core/pkg/logger"
	"github.com/utafrali/commerce-core/services/inventory/internal/app"
	"github.com/utafrali/commerce-core/services/inventory/internal/config"
	"github.com/utafrali/commerce-core/services/inventory/internal/event"
	"github.com/utafrali/commerce-core/services/inventory/internal/service"
)

func main() {
	productID := flag.String("product", "", "reconcile only this product id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("inventory-reconcile", cfg.LogLevel)

	os.Exit(run(cfg, log, *productID))
}

// run returns the process exit code: 0 when every key was checked, 1 when
// the job could not run, 2 when some keys failed.
func run(cfg *config.Config, log *slog.Logger, productID string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, pool, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open stock ledger", slog.String("error", err.Error()))
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	// Corrections are still published; a broker outage only costs the events.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), log)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}()

	job := service.NewReconcileService(store, store, event.NewProducer(producer, log), log)
	report, err := job.Run(ctx, productID)
	if err != nil {
		log.Error("reconciliation aborted", slog.String("error", err.Error()))
		return 1
	}

	log.Info("reconciliation complete",
		slog.Int("checked", report.Checked),
		slog.Int("corrected", len(report.Corrections)),
		slog.Int("failed", report.Failed),
	)
	if report.Failed > 0 {
		return 2
	}
	return 0
}
