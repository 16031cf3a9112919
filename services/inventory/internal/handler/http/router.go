package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/commerce-core/pkg/health"
	"github.com/utafrali/commerce-core/pkg/middleware"
	"github.com/utafrali/commerce-core/services/inventory/internal/service"
)

// Services bundles the application services exposed over HTTP.
type Services struct {
	Ledger       *service.LedgerService
	Reservations *service.ReservationService
	Transfers    *service.TransferService
	Reconcile    *service.ReconcileService
}

// RouterConfig holds the network allowlists for restricted endpoints.
type RouterConfig struct {
	PprofAllowedCIDRs []string
	AdminAllowedCIDRs []string
}

// NewRouter creates a chi router with all inventory service routes registered.
func NewRouter(
	svcs Services,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("inventory"))
	r.Use(middleware.Tracing("inventory"))
	r.Use(middleware.Actor)
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	inventoryHandler := NewInventoryHandler(svcs.Ledger, svcs.Reconcile, logger)
	reservationHandler := NewReservationHandler(svcs.Reservations, logger)
	transferHandler := NewTransferHandler(svcs.Transfers, logger)

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Ledger
		r.Post("/movements", inventoryHandler.ApplyMovement)
		r.Get("/movements", inventoryHandler.ListMovements)
		r.Get("/levels", inventoryHandler.GetLevels)
		r.Post("/availability", inventoryHandler.CheckAvailability)

		// Reservations
		r.Post("/reservations", reservationHandler.ReserveStock)
		r.Get("/reservations/{orderId}", reservationHandler.GetReservation)
		r.Post("/reservations/{orderId}/release", reservationHandler.ReleaseReservation)
		r.Post("/reservations/{orderId}/commit", reservationHandler.CommitReservation)

		// Transfers
		r.Post("/transfers", transferHandler.CreateTransfer)
		r.Get("/transfers/{id}", transferHandler.GetTransfer)
		r.Patch("/transfers/{id}/approve", transferHandler.ApproveTransfer)
		r.Patch("/transfers/{id}/start", transferHandler.StartTransfer)
		r.Patch("/transfers/{id}/complete", transferHandler.CompleteTransfer)
		r.Patch("/transfers/{id}/cancel", transferHandler.CancelTransfer)

		// Admin
		r.With(middleware.IPAllowlist(cfg.AdminAllowedCIDRs, logger)).Post("/reconcile", inventoryHandler.Reconcile)
	})

	return r
}
