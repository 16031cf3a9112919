package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/utafrali/commerce-core/pkg/httputil"
	"github.com/utafrali/commerce-core/pkg/logger"
	"github.com/utafrali/commerce-core/pkg/pagination"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/repository"
	"github.com/utafrali/commerce-core/services/inventory/internal/service"
)

// InventoryHandler handles HTTP requests for the stock ledger endpoints.
type InventoryHandler struct {
	ledger    *service.LedgerService
	reconcile *service.ReconcileService
	logger    *slog.Logger
}

// NewInventoryHandler creates a new inventory HTTP handler.
func NewInventoryHandler(ledger *service.LedgerService, reconcile *service.ReconcileService, logger *slog.Logger) *InventoryHandler {
	return &InventoryHandler{
		ledger:    ledger,
		reconcile: reconcile,
		logger:    logger,
	}
}

// --- Request DTOs ---

// ApplyMovementRequest is the JSON request body for recording a stock movement.
type ApplyMovementRequest struct {
	MovementType   string `json:"movement_type" validate:"required,oneof=stock_in stock_out transfer sale return damage expiration adjustment"`
	ProductID      string `json:"product_id" validate:"required,max=64"`
	VariantID      string `json:"variant_id" validate:"omitempty,max=64"`
	FromLocationID string `json:"from_location_id" validate:"omitempty,max=64"`
	ToLocationID   string `json:"to_location_id" validate:"omitempty,max=64"`
	Quantity       int    `json:"quantity" validate:"required"`
	Reason         string `json:"reason" validate:"omitempty,max=500"`
	ReferenceType  string `json:"reference_type" validate:"omitempty,max=32"`
	ReferenceID    string `json:"reference_id" validate:"omitempty,max=64"`
}

// StockLineRequest is one SKU-location quantity in a request body.
type StockLineRequest struct {
	ProductID  string `json:"product_id" validate:"required,max=64"`
	VariantID  string `json:"variant_id" validate:"omitempty,max=64"`
	LocationID string `json:"location_id" validate:"required,max=64"`
	Quantity   int    `json:"quantity" validate:"required,gte=1"`
}

// CheckAvailabilityRequest is the JSON request body for checking availability.
type CheckAvailabilityRequest struct {
	Items []StockLineRequest `json:"items" validate:"required,min=1,dive"`
}

// ReconcileRequest optionally narrows reconciliation to one product.
type ReconcileRequest struct {
	ProductID string `json:"product_id" validate:"omitempty,max=64"`
}

func toStockLines(items []StockLineRequest) []domain.StockLine {
	lines := make([]domain.StockLine, len(items))
	for i, item := range items {
		lines[i] = domain.StockLine{
			ProductID:  item.ProductID,
			VariantID:  item.VariantID,
			LocationID: item.LocationID,
			Quantity:   item.Quantity,
		}
	}
	return lines
}

// --- Handlers ---

// ApplyMovement handles POST /api/v1/inventory/movements
func (h *InventoryHandler) ApplyMovement(w http.ResponseWriter, r *http.Request) {
	var req ApplyMovementRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.ledger.ApplyMovement(r.Context(), service.ApplyMovementInput{
		MovementType:   domain.MovementType(req.MovementType),
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Quantity:       req.Quantity,
		Reason:         req.Reason,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		Actor:          logger.ActorFromContext(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}

// ListMovements handles GET /api/v1/inventory/movements
func (h *InventoryHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := pagination.FromRequest(r)

	filter := domain.MovementFilter{
		ProductID:    q.Get("product_id"),
		VariantID:    q.Get("variant_id"),
		LocationID:   q.Get("location_id"),
		MovementType: domain.MovementType(q.Get("movement_type")),
		ReferenceID:  q.Get("reference_id"),
	}

	movements, total, err := h.ledger.ListMovements(r.Context(), filter, params.Page, params.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(movements, total, params.Page, params.PerPage))
}

// GetLevels handles GET /api/v1/inventory/levels
func (h *InventoryHandler) GetLevels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.LevelFilter{
		ProductID:  q.Get("product_id"),
		VariantID:  q.Get("variant_id"),
		LocationID: q.Get("location_id"),
	}
	if v := q.Get("low_stock"); v != "" {
		lowStock, err := strconv.ParseBool(v)
		if err != nil {
			writeInvalidParameter(w, "low_stock must be a boolean")
			return
		}
		filter.LowStock = lowStock
	}

	levels, err := h.ledger.GetLevels(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if levels == nil {
		levels = []domain.StockLevel{}
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: levels})
}

// CheckAvailability handles POST /api/v1/inventory/availability
func (h *InventoryHandler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	var req CheckAvailabilityRequest
	if !decode(w, r, &req) {
		return
	}

	results, allAvailable, err := h.ledger.CheckAvailability(r.Context(), toStockLines(req.Items))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]any{
		"items":         results,
		"all_available": allAvailable,
	}})
}

// Reconcile handles POST /api/v1/inventory/reconcile
func (h *InventoryHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if r.ContentLength != 0 {
		if !decode(w, r, &req) {
			return
		}
	}

	report, err := h.reconcile.Run(r.Context(), req.ProductID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: report})
}
