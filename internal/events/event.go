package events

import "time"

// Message attribute names carried on every transaction message.
const (
	AttrMessageID     = "message_id"
	AttrRetryCount    = "retry_count"
	AttrCorrelationID = "correlation_id"
)

// TransactionEvent is the settlement outcome published once per completed
// payment attempt and consumed at-least-once by the settlement worker.
type TransactionEvent struct {
	TransactionID string    `json:"transaction_id"`
	OrderID       string    `json:"order_id"`
	CustomerID    string    `json:"customer_id"`
	ProductID     string    `json:"product_id"`
	Amount        int64     `json:"amount"` // integer minor units
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
}

// Valid reports whether the event carries the identities the worker needs to
// converge history. Anything less is a malformed payload.
func (e TransactionEvent) Valid() bool {
	return e.TransactionID != "" && e.OrderID != "" && e.Status != ""
}
