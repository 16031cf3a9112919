package domain

// Order status constants, as reported by the order service.
const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCanceled   = "canceled"
	OrderStatusRefunded   = "refunded"
)

// Order is the part of the order aggregate payments depend on. The order
// service owns it.
type Order struct {
	ID          string      `json:"id"`
	StoreID     string      `json:"store_id"`
	Status      string      `json:"status"`
	TotalAmount int64       `json:"total_amount"`
	Currency    string      `json:"currency"`
	Items       []OrderItem `json:"items"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// IsCanceled reports whether the order was canceled.
func (o *Order) IsCanceled() bool {
	return o.Status == OrderStatusCanceled
}

// AwaitsPayment reports whether a full payment should advance the order.
func (o *Order) AwaitsPayment() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}
