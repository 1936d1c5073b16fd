package orders

import "time"

// Order statuses. Cancelled is reachable only from pending/processing and
// always triggers stock compensation.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Order is the item stored in the orders table. Amount is price × quantity
// in integer minor units, captured at creation time; the price is never
// re-read later.
type Order struct {
	OrderID    string    `dynamodbav:"order_id" json:"order_id"` // PK
	CustomerID string    `dynamodbav:"customer_id" json:"customer_id"`
	ProductID  string    `dynamodbav:"product_id" json:"product_id"`
	Quantity   int64     `dynamodbav:"quantity" json:"quantity"`
	Amount     int64     `dynamodbav:"amount" json:"amount"`
	Status     string    `dynamodbav:"status" json:"status"`
	CreatedAt  time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
