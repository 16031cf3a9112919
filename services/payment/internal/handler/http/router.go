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
	"github.com/utafrali/commerce-core/services/payment/internal/service"
)

// Services bundles the application services exposed over HTTP.
type Services struct {
	Payments *service.PaymentService
	Methods  *service.MethodService
	Webhooks *service.WebhookService
}

// DefaultRequestTimeout bounds a request when RouterConfig sets none.
const DefaultRequestTimeout = 30 * time.Second

// RouterConfig holds the network allowlists for restricted endpoints, the
// per-client webhook rate limit and the request deadline. A zero WebhookRPS
// disables the limit.
type RouterConfig struct {
	PprofAllowedCIDRs []string
	AdminAllowedCIDRs []string
	WebhookRPS        float64
	WebhookBurst      int
	RequestTimeout    time.Duration
}

func (c RouterConfig) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

// NewRouter creates a chi router with all payment service routes registered.
func NewRouter(
	svcs Services,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(cfg.requestTimeout()))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("payment"))
	r.Use(middleware.Tracing("payment"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	paymentHandler := NewPaymentHandler(svcs.Payments, logger)
	methodHandler := NewMethodHandler(svcs.Methods, logger)
	webhookHandler := NewWebhookHandler(svcs.Webhooks, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/payments", paymentHandler.ProcessPayment)
		r.Get("/payments/{transactionId}/status", paymentHandler.GetPaymentStatus)
		r.Post("/payments/{transactionId}/refund", paymentHandler.RefundPayment)
		r.Get("/orders/{orderId}/payments", paymentHandler.ListOrderPayments)

		// Store configuration
		r.Group(func(r chi.Router) {
			r.Use(middleware.IPAllowlist(cfg.AdminAllowedCIDRs, logger))
			r.Post("/stores/{storeId}/payment-methods", methodHandler.CreateMethod)
			r.Patch("/payment-methods/{id}", methodHandler.UpdateMethod)
		})
		r.Get("/stores/{storeId}/payment-methods", methodHandler.ListStoreMethods)
		r.Get("/payment-methods/{id}", methodHandler.GetMethod)
	})

	// Processor callbacks are signed, not JSON-typed.
	r.With(middleware.RateLimit(cfg.WebhookRPS, cfg.WebhookBurst, logger)).
		Post("/webhooks/{processor}", webhookHandler.Receive)

	return r
}
