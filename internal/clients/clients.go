package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/imkarn/go-saga-fulfillment/internal/errs"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
)

// CorrelationHeader is attached to every outbound peer call.
const CorrelationHeader = "X-Correlation-Id"

// newClient builds a resty client with bounded retries on transport-level
// failures and 5xx responses. 4xx responses are never retried.
func newClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(100 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= http.StatusInternalServerError
		})
}

func request(ctx context.Context, c *resty.Client) *resty.Request {
	req := c.R().SetContext(ctx)
	if corr := logging.CorrelationID(ctx); corr != "" {
		req.SetHeader(CorrelationHeader, corr)
	}
	return req
}

// classify maps a completed (or failed) call to the error taxonomy.
// A transport failure after retries is a distinguishable service-unavailable
// condition; 4xx surfaces as-is without retry.
func classify(service string, resp *resty.Response, err error) error {
	if err != nil {
		return errs.ServiceUnavailable(service+"_unavailable", service+" service unavailable", err)
	}
	code := resp.StatusCode()
	switch {
	case code < 300:
		return nil
	case code == http.StatusNotFound:
		return errs.NotFound(service+"_not_found", service+" not found")
	case code >= 400 && code < 500:
		return errs.Validation(service+"_rejected", fmt.Sprintf("%s service rejected request: %s", service, resp.String()))
	default:
		return errs.ServiceUnavailable(service+"_unavailable", fmt.Sprintf("%s service returned %d", service, code), nil)
	}
}

// CustomerInfo is the customer lookup response at this boundary.
type CustomerInfo struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
}

// CustomerClient calls the customer service.
type CustomerClient struct {
	http *resty.Client
}

func NewCustomerClient(baseURL string) *CustomerClient {
	return &CustomerClient{http: newClient(baseURL)}
}

// Get looks up a customer. Returns a not-found taxonomy error when the
// customer does not exist.
func (c *CustomerClient) Get(ctx context.Context, customerID string) (*CustomerInfo, error) {
	var out CustomerInfo
	resp, err := request(ctx, c.http).
		SetResult(&out).
		Get("/customers/" + customerID)
	if cerr := classify("customer", resp, err); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// ProductInfo is the product lookup response at this boundary.
type ProductInfo struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Stock     int64  `json:"stock"`
	IsActive  bool   `json:"is_active"`
}

// AvailabilityInfo is the availability check response.
type AvailabilityInfo struct {
	Available bool  `json:"available"`
	Stock     int64 `json:"stock"`
}

type reserveResponse struct {
	Reserved bool `json:"reserved"`
}

// ProductClient calls the product service.
type ProductClient struct {
	http *resty.Client
}

func NewProductClient(baseURL string) *ProductClient {
	return &ProductClient{http: newClient(baseURL)}
}

func (c *ProductClient) Get(ctx context.Context, productID string) (*ProductInfo, error) {
	var out ProductInfo
	resp, err := request(ctx, c.http).
		SetResult(&out).
		Get("/products/" + productID)
	if cerr := classify("product", resp, err); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

func (c *ProductClient) CheckAvailability(ctx context.Context, productID string, quantity int64) (*AvailabilityInfo, error) {
	var out AvailabilityInfo
	resp, err := request(ctx, c.http).
		SetResult(&out).
		SetQueryParam("quantity", fmt.Sprintf("%d", quantity)).
		Get("/products/" + productID + "/availability")
	if cerr := classify("product", resp, err); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}

// Reserve asks the product service for an atomic stock decrement. A declined
// reservation (insufficient stock) returns reserved=false with no error.
func (c *ProductClient) Reserve(ctx context.Context, productID string, quantity int64) (bool, error) {
	var out reserveResponse
	resp, err := request(ctx, c.http).
		SetBody(map[string]int64{"quantity": quantity}).
		SetResult(&out).
		Post("/products/" + productID + "/reserve")
	if resp != nil && resp.StatusCode() == http.StatusConflict {
		return false, nil
	}
	if cerr := classify("product", resp, err); cerr != nil {
		return false, cerr
	}
	return out.Reserved, nil
}

// Release returns previously reserved stock.
func (c *ProductClient) Release(ctx context.Context, productID string, quantity int64) error {
	resp, err := request(ctx, c.http).
		SetBody(map[string]int64{"quantity": quantity}).
		Post("/products/" + productID + "/release")
	return classify("product", resp, err)
}

// PaymentRequest is the payment invocation payload.
type PaymentRequest struct {
	CustomerID     string `json:"customer_id"`
	OrderID        string `json:"order_id"`
	ProductID      string `json:"product_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PaymentResult mirrors the payment service response.
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// PaymentClient calls the payment service.
type PaymentClient struct {
	http *resty.Client
}

func NewPaymentClient(baseURL string) *PaymentClient {
	return &PaymentClient{http: newClient(baseURL)}
}

// Process invokes settlement. The Idempotency-Key header overrides any
// derived key on the payment side.
func (c *PaymentClient) Process(ctx context.Context, req PaymentRequest) (*PaymentResult, error) {
	var out PaymentResult
	r := request(ctx, c.http).SetBody(req).SetResult(&out)
	if req.IdempotencyKey != "" {
		r.SetHeader("Idempotency-Key", req.IdempotencyKey)
	}
	resp, err := r.Post("/payments/process")
	if err != nil {
		return nil, errs.ServiceUnavailable("payment_unavailable", "payment service unavailable", err)
	}
	// the payment service answers 200 for declined payments too; only
	// classify non-2xx statuses as errors
	if cerr := classify("payment", resp, nil); cerr != nil {
		return nil, cerr
	}
	return &out, nil
}
