package customers

import "time"

// Customer is the item stored in the customers table.
type Customer struct {
	CustomerID string    `dynamodbav:"customer_id" json:"customer_id"` // PK
	Name       string    `dynamodbav:"name" json:"name"`
	Email      string    `dynamodbav:"email" json:"email"`
	IsActive   bool      `dynamodbav:"is_active" json:"is_active"`
	CreatedAt  time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt  time.Time `dynamodbav:"updated_at" json:"updated_at"`
}
