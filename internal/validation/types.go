package validation

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	ProductID  string `json:"product_id" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"required,min=1"`
}

// ProcessPaymentRequest is the payload for POST /payments/process. Amount is
// in integer minor units. The Idempotency-Key header, when present,
// overrides IdempotencyKey.
type ProcessPaymentRequest struct {
	CustomerID     string `json:"customer_id" validate:"required"`
	OrderID        string `json:"order_id" validate:"required"`
	ProductID      string `json:"product_id" validate:"required"`
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	PaymentMethod  string `json:"payment_method,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// QuantityRequest is the payload for stock reserve/release calls.
type QuantityRequest struct {
	Quantity int64 `json:"quantity" validate:"required,min=1"`
}
