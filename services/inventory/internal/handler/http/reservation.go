package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/commerce-core/pkg/httputil"
	"github.com/utafrali/commerce-core/pkg/logger"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/service"
)

// ReservationHandler handles HTTP requests for order reservations.
type ReservationHandler struct {
	service *service.ReservationService
	logger  *slog.Logger
}

// NewReservationHandler creates a new reservation HTTP handler.
func NewReservationHandler(svc *service.ReservationService, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{
		service: svc,
		logger:  logger,
	}
}

// ReserveStockRequest is the JSON request body for reserving stock for an order.
type ReserveStockRequest struct {
	OrderID    string             `json:"order_id" validate:"required,max=64"`
	Items      []StockLineRequest `json:"items" validate:"required,min=1,dive"`
	TTLSeconds int                `json:"ttl_seconds" validate:"omitempty,gte=1"`
}

// ReserveStock handles POST /api/v1/inventory/reservations
func (h *ReservationHandler) ReserveStock(w http.ResponseWriter, r *http.Request) {
	var req ReserveStockRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Reserve(r.Context(), service.ReserveInput{
		ReferenceType: domain.ReferenceOrder,
		ReferenceID:   req.OrderID,
		Lines:         toStockLines(req.Items),
		TTL:           time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: res})
}

// GetReservation handles GET /api/v1/inventory/reservations/{orderId}
func (h *ReservationHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GetReservation(r.Context(), domain.ReferenceOrder, chi.URLParam(r, "orderId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// ReleaseReservation handles POST /api/v1/inventory/reservations/{orderId}/release
func (h *ReservationHandler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Release(r.Context(), domain.ReferenceOrder, chi.URLParam(r, "orderId"), logger.ActorFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// CommitReservation handles POST /api/v1/inventory/reservations/{orderId}/commit
func (h *ReservationHandler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Commit(r.Context(), domain.ReferenceOrder, chi.URLParam(r, "orderId"), logger.ActorFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}
