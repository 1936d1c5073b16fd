package products

import "time"

// Product is the item stored in the products table. Price is in integer
// minor units; Stock is mutated only through atomic conditional updates.
type Product struct {
	ProductID string    `dynamodbav:"product_id" json:"product_id"` // PK
	Name      string    `dynamodbav:"name" json:"name"`
	Price     int64     `dynamodbav:"price" json:"price"`
	Stock     int64     `dynamodbav:"stock" json:"stock"`
	IsActive  bool      `dynamodbav:"is_active" json:"is_active"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// Availability is the response shape for availability checks.
type Availability struct {
	Available bool  `json:"available"`
	Stock     int64 `json:"stock"`
}
