package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/utafrali/commerce-core/pkg/errors"
	"github.com/utafrali/commerce-core/pkg/httputil"
	"github.com/utafrali/commerce-core/services/payment/internal/domain"
	"github.com/utafrali/commerce-core/services/payment/internal/service"
)

// PaymentHandler handles HTTP requests for payment endpoints.
type PaymentHandler struct {
	service *service.PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a new payment HTTP handler.
func NewPaymentHandler(svc *service.PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ProcessPaymentRequest is the JSON request body for paying an order.
type ProcessPaymentRequest struct {
	OrderID         string `json:"order_id" validate:"required,max=64"`
	StoreID         string `json:"store_id" validate:"required,max=64"`
	PaymentMethodID string `json:"payment_method_id" validate:"required,max=64"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	Currency        string `json:"currency" validate:"required,len=3,alpha"`
	ReturnURL       string `json:"return_url" validate:"omitempty,url"`
	Description     string `json:"description" validate:"omitempty,max=255"`
}

// RefundPaymentRequest is the JSON request body for refunding a payment. An
// absent amount refunds everything still refundable.
type RefundPaymentRequest struct {
	Amount *int64 `json:"amount" validate:"omitempty,gt=0"`
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

// --- Response DTOs ---

// PaymentResponse is a payment with the flags of the call that produced it.
type PaymentResponse struct {
	*domain.Payment
	Duplicate bool     `json:"duplicate,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// --- Handlers ---

// ProcessPayment handles POST /api/v1/payments
// @Summary Pay an order
// @Description Validates the request, charges the payment method's processor and records the outcome.
// @Tags payments
// @Accept json
// @Produce json
// @Param request body ProcessPaymentRequest true "Payment request"
// @Success 201 {object} map[string]interface{}
// @Success 200 {object} map[string]interface{} "Duplicate of an existing payment"
// @Failure 400 {object} map[string]interface{}
// @Failure 402 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /api/v1/payments [post]
func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req ProcessPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.ProcessPayment(r.Context(), service.ProcessPaymentInput{
		OrderID:     req.OrderID,
		StoreID:     req.StoreID,
		MethodID:    req.PaymentMethodID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReturnURL:   req.ReturnURL,
		Description: req.Description,
	})
	if err != nil {
		if res != nil && errors.Is(err, apperrors.ErrGatewayDeclined) {
			httputil.WriteErrorWithData(w, r, err, res.Payment, h.logger)
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: PaymentResponse{
		Payment:   res.Payment,
		Duplicate: res.Duplicate,
		Warnings:  res.Warnings,
	}})
}

// GetPaymentStatus handles GET /api/v1/payments/{transactionId}/status
// @Summary Get payment status
// @Tags payments
// @Produce json
// @Param transactionId path string true "Processor transaction ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/payments/{transactionId}/status [get]
func (h *PaymentHandler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	payment, err := h.service.GetPaymentStatus(r.Context(), chi.URLParam(r, "transactionId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: payment})
}

// RefundPayment handles POST /api/v1/payments/{transactionId}/refund
// @Summary Refund a payment
// @Tags payments
// @Accept json
// @Produce json
// @Param transactionId path string true "Processor transaction ID"
// @Param request body RefundPaymentRequest true "Refund request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/payments/{transactionId}/refund [post]
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req RefundPaymentRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.RefundPayment(r.Context(), service.RefundInput{
		TransactionID: chi.URLParam(r, "transactionId"),
		Amount:        req.Amount,
		Reason:        req.Reason,
	})
	if err != nil {
		if res != nil && errors.Is(err, apperrors.ErrGatewayDeclined) {
			httputil.WriteErrorWithData(w, r, err, res, h.logger)
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: res})
}

// ListOrderPayments handles GET /api/v1/orders/{orderId}/payments
func (h *PaymentHandler) ListOrderPayments(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.ListOrderPayments(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: out})
}
