package payments

import "time"

// Transaction statuses. Completed, failed and refunded are terminal; a
// record reaches a terminal status exactly once.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
)

// Terminal reports whether status admits no further transitions.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed || status == StatusRefunded
}

// PaymentRecord is the item stored in the payments table.
type PaymentRecord struct {
	TransactionID  string    `dynamodbav:"transaction_id" json:"transaction_id"` // PK
	OrderID        string    `dynamodbav:"order_id" json:"order_id"`
	CustomerID     string    `dynamodbav:"customer_id" json:"customer_id"`
	ProductID      string    `dynamodbav:"product_id" json:"product_id"`
	Amount         int64     `dynamodbav:"amount" json:"amount"` // integer minor units
	Status         string    `dynamodbav:"status" json:"status"`
	IdempotencyKey string    `dynamodbav:"idempotency_key,omitempty" json:"idempotency_key,omitempty"`
	PaymentMethod  string    `dynamodbav:"payment_method,omitempty" json:"payment_method,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// keyRecord maps an idempotency key to the transaction that won the creation
// race. The key table's uniqueness constraint is the sole arbiter of "is this
// a new payment".
type keyRecord struct {
	IdempotencyKey string `dynamodbav:"idempotency_key"` // PK
	TransactionID  string `dynamodbav:"transaction_id"`
	ExpiresAt      int64  `dynamodbav:"expires_at"` // TTL epoch seconds
}
