package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/commerce-core/pkg/httputil"
	"github.com/utafrali/commerce-core/pkg/logger"
	"github.com/utafrali/commerce-core/services/inventory/internal/domain"
	"github.com/utafrali/commerce-core/services/inventory/internal/service"
)

// TransferHandler handles HTTP requests for inter-location transfers.
type TransferHandler struct {
	service *service.TransferService
	logger  *slog.Logger
}

// NewTransferHandler creates a new transfer HTTP handler.
func NewTransferHandler(svc *service.TransferService, logger *slog.Logger) *TransferHandler {
	return &TransferHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateTransferRequest is the JSON request body for a new transfer.
type CreateTransferRequest struct {
	FromLocationID string                `json:"from_location_id" validate:"required,max=64"`
	ToLocationID   string                `json:"to_location_id" validate:"required,max=64,nefield=FromLocationID"`
	Notes          string                `json:"notes" validate:"omitempty,max=1000"`
	Items          []TransferItemRequest `json:"items" validate:"required,min=1,dive"`
}

// TransferItemRequest is one requested product line.
type TransferItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	VariantID string `json:"variant_id" validate:"omitempty,max=64"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
}

// CompleteTransferRequest lists received quantities. Items left out are
// treated as not received.
type CompleteTransferRequest struct {
	Items []ReceivedItemRequest `json:"items" validate:"dive"`
}

// ReceivedItemRequest is the quantity received for one transfer item.
type ReceivedItemRequest struct {
	ItemID           string `json:"item_id" validate:"required"`
	QuantityReceived int    `json:"quantity_received" validate:"gte=0"`
}

// --- Handlers ---

// CreateTransfer handles POST /api/v1/inventory/transfers
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req CreateTransferRequest
	if !decode(w, r, &req) {
		return
	}

	items := make([]service.TransferItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.TransferItemInput{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		}
	}

	t, err := h.service.Create(r.Context(), service.CreateTransferInput{
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Notes:          req.Notes,
		Actor:          logger.ActorFromContext(r.Context()),
		Items:          items,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: t})
}

// GetTransfer handles GET /api/v1/inventory/transfers/{id}
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: t})
}

// ApproveTransfer handles PATCH /api/v1/inventory/transfers/{id}/approve
func (h *TransferHandler) ApproveTransfer(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.Approve(r.Context(), chi.URLParam(r, "id"), logger.ActorFromContext(r.Context())))
}

// StartTransfer handles PATCH /api/v1/inventory/transfers/{id}/start
func (h *TransferHandler) StartTransfer(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.Start(r.Context(), chi.URLParam(r, "id"), logger.ActorFromContext(r.Context())))
}

// CompleteTransfer handles PATCH /api/v1/inventory/transfers/{id}/complete
func (h *TransferHandler) CompleteTransfer(w http.ResponseWriter, r *http.Request) {
	var req CompleteTransferRequest
	if !decode(w, r, &req) {
		return
	}

	received := make([]domain.ReceivedItem, len(req.Items))
	for i, item := range req.Items {
		received[i] = domain.ReceivedItem{ItemID: item.ItemID, QuantityReceived: item.QuantityReceived}
	}

	h.respond(w, r)(h.service.Complete(r.Context(), chi.URLParam(r, "id"), logger.ActorFromContext(r.Context()), received))
}

// CancelTransfer handles PATCH /api/v1/inventory/transfers/{id}/cancel
func (h *TransferHandler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r)(h.service.Cancel(r.Context(), chi.URLParam(r, "id"), logger.ActorFromContext(r.Context())))
}

func (h *TransferHandler) respond(w http.ResponseWriter, r *http.Request) func(*domain.Transfer, error) {
	return func(t *domain.Transfer, err error) {
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: t})
	}
}
