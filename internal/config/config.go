package config

import (
	"os"
	"strconv"
	"time"
)

// Service holds the environment-driven settings shared by the entrypoints.
// Each binary reads only the fields it needs.
type Service struct {
	// DynamoDB table names
	OrdersTable      string
	PaymentsTable    string
	IdempotencyTable string
	CustomersTable   string
	ProductsTable    string
	HistoryTable     string

	// SQS
	TransactionQueueURL string
	DeadLetterQueueURL  string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Peer service base URLs
	CustomerServiceURL string
	ProductServiceURL  string
	PaymentServiceURL  string

	// Worker tuning
	WorkerPrefetch   int
	WorkerMaxRetries int

	IdempotencyTTL time.Duration
}

// Load reads the service configuration from the environment, applying
// development defaults where a variable is unset.
func Load() Service {
	return Service{
		OrdersTable:      getenv("ORDERS_TABLE", "orders"),
		PaymentsTable:    getenv("PAYMENTS_TABLE", "payments"),
		IdempotencyTable: getenv("PAYMENT_IDEMPOTENCY_TABLE", "payment-idempotency"),
		CustomersTable:   getenv("CUSTOMERS_TABLE", "customers"),
		ProductsTable:    getenv("PRODUCTS_TABLE", "products"),
		HistoryTable:     getenv("TRANSACTION_HISTORY_TABLE", "transaction-history"),

		TransactionQueueURL: os.Getenv("TRANSACTION_QUEUE_URL"),
		DeadLetterQueueURL:  os.Getenv("TRANSACTION_DLQ_URL"),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getint("REDIS_DB", 0),

		CustomerServiceURL: getenv("CUSTOMER_SERVICE_URL", "http://localhost:8081"),
		ProductServiceURL:  getenv("PRODUCT_SERVICE_URL", "http://localhost:8081"),
		PaymentServiceURL:  getenv("PAYMENT_SERVICE_URL", "http://localhost:8082"),

		WorkerPrefetch:   getint("WORKER_PREFETCH", 5),
		WorkerMaxRetries: getint("WORKER_MAX_RETRIES", 3),

		IdempotencyTTL: getduration("IDEMPOTENCY_TTL", 48*time.Hour),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
