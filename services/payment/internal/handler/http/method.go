package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/commerce-core/pkg/httputil"
	"github.com/utafrali/commerce-core/services/payment/internal/service"
)

// MethodHandler handles HTTP requests for store payment methods.
type MethodHandler struct {
	service *service.MethodService
	logger  *slog.Logger
}

// NewMethodHandler creates a new payment method HTTP handler.
func NewMethodHandler(svc *service.MethodService, logger *slog.Logger) *MethodHandler {
	return &MethodHandler{
		service: svc,
		logger:  logger,
	}
}

// CreateMethodRequest is the JSON request body for adding a payment method.
type CreateMethodRequest struct {
	Type          string   `json:"type" validate:"required,oneof=card wallet manual"`
	ProcessorName string   `json:"processor_name" validate:"omitempty,max=32"`
	Enabled       *bool    `json:"enabled"`
	Currencies    []string `json:"currencies" validate:"required,min=1,dive,len=3,alpha"`
	MinAmount     int64    `json:"min_amount" validate:"gte=0"`
	MaxAmount     int64    `json:"max_amount" validate:"gte=0"`
}

// UpdateMethodRequest is the JSON request body for changing a payment method.
type UpdateMethodRequest struct {
	ProcessorName *string  `json:"processor_name" validate:"omitempty,max=32"`
	Enabled       *bool    `json:"enabled"`
	Currencies    []string `json:"currencies" validate:"omitempty,min=1,dive,len=3,alpha"`
	MinAmount     *int64   `json:"min_amount" validate:"omitempty,gte=0"`
	MaxAmount     *int64   `json:"max_amount" validate:"omitempty,gte=0"`
}

// CreateMethod handles POST /api/v1/stores/{storeId}/payment-methods
func (h *MethodHandler) CreateMethod(w http.ResponseWriter, r *http.Request) {
	var req CreateMethodRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.service.CreateMethod(r.Context(), service.CreateMethodInput{
		StoreID:       chi.URLParam(r, "storeId"),
		Type:          req.Type,
		ProcessorName: req.ProcessorName,
		Enabled:       req.Enabled,
		Currencies:    req.Currencies,
		MinAmount:     req.MinAmount,
		MaxAmount:     req.MaxAmount,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: m})
}

// ListStoreMethods handles GET /api/v1/stores/{storeId}/payment-methods
func (h *MethodHandler) ListStoreMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.service.ListStoreMethods(r.Context(), chi.URLParam(r, "storeId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: methods})
}

// GetMethod handles GET /api/v1/payment-methods/{id}
func (h *MethodHandler) GetMethod(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.GetMethod(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: m})
}

// UpdateMethod handles PATCH /api/v1/payment-methods/{id}
func (h *MethodHandler) UpdateMethod(w http.ResponseWriter, r *http.Request) {
	var req UpdateMethodRequest
	if !decode(w, r, &req) {
		return
	}

	m, err := h.service.UpdateMethod(r.Context(), chi.URLParam(r, "id"), service.UpdateMethodInput{
		ProcessorName: req.ProcessorName,
		Enabled:       req.Enabled,
		Currencies:    req.Currencies,
		MinAmount:     req.MinAmount,
		MaxAmount:     req.MaxAmount,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: m})
}
