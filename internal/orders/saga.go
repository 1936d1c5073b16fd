package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imkarn/go-saga-fulfillment/internal/clients"
	"github.com/imkarn/go-saga-fulfillment/internal/errs"
	"github.com/imkarn/go-saga-fulfillment/internal/locks"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
	"github.com/imkarn/go-saga-fulfillment/internal/metrics"
)

// Narrow views of the peer services, satisfied by the clients package and by
// fakes in tests.
type CustomerService interface {
	Get(ctx context.Context, customerID string) (*clients.CustomerInfo, error)
}

type ProductService interface {
	Get(ctx context.Context, productID string) (*clients.ProductInfo, error)
	CheckAvailability(ctx context.Context, productID string, quantity int64) (*clients.AvailabilityInfo, error)
	Reserve(ctx context.Context, productID string, quantity int64) (bool, error)
	Release(ctx context.Context, productID string, quantity int64) error
}

type PaymentService interface {
	Process(ctx context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error)
}

// duplicateWindow bounds the coarse idempotency guard for retried client
// requests that carry no explicit key.
const duplicateWindow = 5 * time.Minute

// Saga orchestrates order creation: validation against the customer and
// product services, atomic stock reservation, order persistence, and
// asynchronous payment settlement with compensation on failure. There is no
// shared transaction across the services; forward steps are undone by
// explicit compensations.
type Saga struct {
	store     *Store
	customers CustomerService
	products  ProductService
	payments  PaymentService
	locks     *locks.Manager
	log       *logging.Logger
	rec       *metrics.Recorder

	lockTTL time.Duration
	nowFunc func() time.Time

	// tracks in-flight settlement goroutines for tests and shutdown
	settling sync.WaitGroup
}

func NewSaga(store *Store, customers CustomerService, products ProductService, payments PaymentService, lockMgr *locks.Manager, log *logging.Logger, rec *metrics.Recorder) *Saga {
	return &Saga{
		store:     store,
		customers: customers,
		products:  products,
		payments:  payments,
		locks:     lockMgr,
		log:       log,
		rec:       rec,
		lockTTL:   10 * time.Second,
		nowFunc:   time.Now,
	}
}

// CreateResult reports the created (or deduplicated) order.
type CreateResult struct {
	Order     Order `json:"order"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// CreateOrder runs the creation saga. On any failure after stock was
// reserved, the reserved quantity is released exactly once and the order
// (when already persisted) reaches failed.
func (s *Saga) CreateOrder(ctx context.Context, customerID, productID string, quantity int64) (*CreateResult, error) {
	// Serialize stock decisions per product. When the lock service is down
	// or contended we proceed without the lock: a deliberate
	// availability-over-strict-serialization tradeoff, logged, never silent.
	lease, err := s.locks.Acquire(ctx, "order-creation:"+productID, s.lockTTL)
	if err != nil {
		s.log.Warn(ctx, "proceeding without order-creation lock", map[string]any{
			"product_id": productID,
			"error":      err.Error(),
		})
		s.rec.Count(ctx, "OrderLockBypassed", map[string]string{"product_id": productID})
	} else {
		defer func() { _ = s.locks.Release(context.WithoutCancel(ctx), lease) }()
	}

	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if !customer.IsActive {
		return nil, errs.Validation("customer_inactive", "customer is not active")
	}

	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	availability, err := s.products.CheckAvailability(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	if !availability.Available {
		return nil, errs.Validation("insufficient_stock", "requested quantity is not available")
	}

	if dup, err := s.store.FindRecentDuplicate(ctx, customerID, productID, quantity, duplicateWindow); err != nil {
		return nil, errs.ServiceUnavailable("order_store_unavailable", "could not check for duplicate orders", err)
	} else if dup != nil {
		s.log.Info(ctx, "returning recent duplicate order", map[string]any{"order_id": dup.OrderID})
		return &CreateResult{Order: *dup, Duplicate: true}, nil
	}

	reserved, err := s.products.Reserve(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, errs.Validation("reservation_failed", "stock reservation failed")
	}

	order := Order{
		OrderID:    uuid.NewString(),
		CustomerID: customerID,
		ProductID:  productID,
		Quantity:   quantity,
		// price captured now; never re-read
		Amount: product.Price * quantity,
		Status: StatusPending,
	}
	if err := s.store.Create(ctx, order); err != nil {
		// order never existed; undo the reservation
		s.compensate(ctx, order)
		return nil, errs.ServiceUnavailable("order_store_unavailable", "could not persist order", err)
	}

	// Settlement is fire-and-forget relative to the HTTP response. The
	// settlement worker independently converges the audit trail even if this
	// process dies after the payment succeeded.
	s.settling.Add(1)
	go func() {
		defer s.settling.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		s.settle(sctx, order)
	}()

	return &CreateResult{Order: order}, nil
}

// settle claims the order and invokes the payment service, then applies the
// outcome. Each step is a conditional transition, so a concurrent cancel is
// never overwritten and compensation runs at most once.
func (s *Saga) settle(ctx context.Context, order Order) {
	if err := s.store.UpdateStatus(ctx, order.OrderID, StatusProcessing, StatusPending); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			// cancelled before settlement started; nothing to do and the
			// cancel path already compensated
			s.log.Info(ctx, "order left pending before settlement started", map[string]any{"order_id": order.OrderID})
			return
		}
		s.log.Error(ctx, "could not claim order for settlement", map[string]any{"order_id": order.OrderID, "error": err.Error()})
		return
	}

	res, err := s.payments.Process(ctx, clients.PaymentRequest{
		CustomerID: order.CustomerID,
		OrderID:    order.OrderID,
		ProductID:  order.ProductID,
		Amount:     order.Amount,
	})
	if err == nil && res.Success {
		if uerr := s.store.UpdateStatus(ctx, order.OrderID, StatusCompleted, StatusProcessing); uerr != nil {
			if errors.Is(uerr, ErrStatusMismatch) {
				s.log.Info(ctx, "order no longer settling, leaving outcome to its owner", map[string]any{"order_id": order.OrderID})
				return
			}
			s.log.Error(ctx, "could not complete order", map[string]any{"order_id": order.OrderID, "error": uerr.Error()})
			return
		}
		s.rec.Count(ctx, "OrderCompleted", nil)
		return
	}

	if err != nil {
		s.log.Error(ctx, "payment invocation failed", map[string]any{"order_id": order.OrderID, "error": err.Error()})
	} else {
		s.log.Info(ctx, "payment declined", map[string]any{"order_id": order.OrderID, "status": res.Status})
	}

	uerr := s.store.UpdateStatus(ctx, order.OrderID, StatusFailed, StatusProcessing)
	if errors.Is(uerr, ErrStatusMismatch) {
		// another path owns the order now (e.g. cancelled, which already
		// compensated); do not release twice
		return
	}
	if uerr != nil {
		s.log.Error(ctx, "could not fail order", map[string]any{"order_id": order.OrderID, "error": uerr.Error()})
		return
	}
	s.rec.Count(ctx, "OrderFailed", nil)
	s.compensate(ctx, order)
}

// compensate returns the reserved stock. Best effort: the order's terminal
// status is already committed, so a cleanup failure is logged for manual
// replay rather than re-thrown.
func (s *Saga) compensate(ctx context.Context, order Order) {
	if err := s.products.Release(ctx, order.ProductID, order.Quantity); err != nil {
		s.log.Error(ctx, "stock compensation failed", map[string]any{
			"order_id":   order.OrderID,
			"product_id": order.ProductID,
			"quantity":   order.Quantity,
			"error":      err.Error(),
		})
		s.rec.Count(ctx, "CompensationFailed", map[string]string{"product_id": order.ProductID})
	}
}

// CancelOrder cancels an order still in pending/processing and always
// performs stock compensation, regardless of whether payment was attempted.
func (s *Saga) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, errs.ServiceUnavailable("order_store_unavailable", "could not read order", err)
	}
	if order == nil {
		return nil, errs.NotFound("order_not_found", "order not found")
	}

	err = s.store.UpdateStatus(ctx, orderID, StatusCancelled, StatusPending, StatusProcessing)
	if errors.Is(err, ErrStatusMismatch) {
		return nil, errs.Conflict("order_not_cancellable", "order is not in a cancellable state")
	}
	if err != nil {
		return nil, errs.ServiceUnavailable("order_store_unavailable", "could not cancel order", err)
	}

	s.compensate(ctx, *order)
	order.Status = StatusCancelled
	return order, nil
}

// GetOrder fetches a single order.
func (s *Saga) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, errs.ServiceUnavailable("order_store_unavailable", "could not read order", err)
	}
	if order == nil {
		return nil, errs.NotFound("order_not_found", "order not found")
	}
	return order, nil
}

// Wait blocks until in-flight settlements finish. Used by tests and at
// shutdown.
func (s *Saga) Wait() {
	s.settling.Wait()
}
