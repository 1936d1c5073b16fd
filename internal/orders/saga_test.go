package orders

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/imkarn/go-saga-fulfillment/internal/clients"
	"github.com/imkarn/go-saga-fulfillment/internal/errs"
	"github.com/imkarn/go-saga-fulfillment/internal/locks"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
)

// lockMock backs a locks.Manager with an in-memory keyspace.
type lockMock struct {
	mu      sync.Mutex
	entries map[string]string
	down    bool // when true, every SetNX is denied
}

func newLockMock() *lockMock {
	return &lockMock{entries: map[string]string{}}
}

func (r *lockMock) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return redis.NewBoolResult(false, nil)
	}
	if _, ok := r.entries[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	r.entries[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (r *lockMock) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.entries[keys[0]]; ok && v == args[0].(string) {
		delete(r.entries, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

type fakeCustomers struct {
	customer *clients.CustomerInfo
	err      error
}

func (f *fakeCustomers) Get(ctx context.Context, id string) (*clients.CustomerInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.customer, nil
}

type fakeProducts struct {
	product   *clients.ProductInfo
	available bool
	reserveOK bool

	reserveCalls int32
	releaseCalls int32
}

func (f *fakeProducts) Get(ctx context.Context, id string) (*clients.ProductInfo, error) {
	if f.product == nil {
		return nil, errs.NotFound("product_not_found", "product not found")
	}
	return f.product, nil
}

func (f *fakeProducts) CheckAvailability(ctx context.Context, id string, q int64) (*clients.AvailabilityInfo, error) {
	return &clients.AvailabilityInfo{Available: f.available, Stock: f.product.Stock}, nil
}

func (f *fakeProducts) Reserve(ctx context.Context, id string, q int64) (bool, error) {
	atomic.AddInt32(&f.reserveCalls, 1)
	return f.reserveOK, nil
}

func (f *fakeProducts) Release(ctx context.Context, id string, q int64) error {
	atomic.AddInt32(&f.releaseCalls, 1)
	return nil
}

type fakePayments struct {
	result *clients.PaymentResult
	err    error
	gate   chan struct{} // when set, Process blocks until the gate closes
}

func (f *fakePayments) Process(ctx context.Context, req clients.PaymentRequest) (*clients.PaymentResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func activeCustomer() *fakeCustomers {
	return &fakeCustomers{customer: &clients.CustomerInfo{CustomerID: "c1", IsActive: true}}
}

func stockedProduct() *fakeProducts {
	return &fakeProducts{
		product:   &clients.ProductInfo{ProductID: "p1", Price: 500, Stock: 5, IsActive: true},
		available: true,
		reserveOK: true,
	}
}

func paymentSuccess() *fakePayments {
	return &fakePayments{result: &clients.PaymentResult{Success: true, TransactionID: "t1", Status: "completed"}}
}

func newTestSaga(customers CustomerService, products ProductService, payments PaymentService, redisMock *lockMock) (*Saga, *ordersMock) {
	mock := newOrdersMock()
	store := NewStore(mock, "orders")
	mgr := locks.NewManager(redisMock, "node-test")
	saga := NewSaga(store, customers, products, payments, mgr, logging.New("orders-test"), nil)
	return saga, mock
}

func TestCreateOrderHappyPath(t *testing.T) {
	products := stockedProduct()
	saga, mock := newTestSaga(activeCustomer(), products, paymentSuccess(), newLockMock())
	ctx := context.Background()

	res, err := saga.CreateOrder(ctx, "c1", "p1", 2)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if res.Order.Amount != 1000 {
		t.Fatalf("expected amount 1000 (500 x 2), got %d", res.Order.Amount)
	}
	if res.Order.Status != StatusPending {
		t.Fatalf("expected pending at creation, got %s", res.Order.Status)
	}

	saga.Wait()
	if got := mock.statusOf(res.Order.OrderID); got != StatusCompleted {
		t.Fatalf("expected completed after settlement, got %s", got)
	}
	if products.releaseCalls != 0 {
		t.Fatalf("no compensation expected on success, got %d releases", products.releaseCalls)
	}
}

func TestCreateOrderPaymentDeclinedCompensates(t *testing.T) {
	products := stockedProduct()
	payments := &fakePayments{result: &clients.PaymentResult{Success: false, Status: "failed", Error: "payment failed"}}
	saga, mock := newTestSaga(activeCustomer(), products, payments, newLockMock())
	ctx := context.Background()

	res, err := saga.CreateOrder(ctx, "c1", "p1", 2)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	saga.Wait()
	if got := mock.statusOf(res.Order.OrderID); got != StatusFailed {
		t.Fatalf("expected failed order, got %s", got)
	}
	if products.releaseCalls != 1 {
		t.Fatalf("expected exactly one stock release, got %d", products.releaseCalls)
	}
}

func TestCreateOrderPaymentTransportFailureCompensates(t *testing.T) {
	products := stockedProduct()
	payments := &fakePayments{err: errs.ServiceUnavailable("payment_unavailable", "payment service unavailable", nil)}
	saga, mock := newTestSaga(activeCustomer(), products, payments, newLockMock())
	ctx := context.Background()

	res, err := saga.CreateOrder(ctx, "c1", "p1", 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	saga.Wait()
	if got := mock.statusOf(res.Order.OrderID); got != StatusFailed {
		t.Fatalf("expected failed order, got %s", got)
	}
	if products.releaseCalls != 1 {
		t.Fatalf("expected exactly one stock release, got %d", products.releaseCalls)
	}
}

func TestCreateOrderUnknownCustomer(t *testing.T) {
	products := stockedProduct()
	customers := &fakeCustomers{err: errs.NotFound("customer_not_found", "customer not found")}
	saga, _ := newTestSaga(customers, products, paymentSuccess(), newLockMock())

	_, err := saga.CreateOrder(context.Background(), "ghost", "p1", 1)
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if products.reserveCalls != 0 {
		t.Fatal("no reservation may happen for an unknown customer")
	}
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	products := stockedProduct()
	products.available = false
	saga, _ := newTestSaga(activeCustomer(), products, paymentSuccess(), newLockMock())

	_, err := saga.CreateOrder(context.Background(), "c1", "p1", 10)
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if products.reserveCalls != 0 {
		t.Fatal("no reservation may happen when unavailable")
	}
}

func TestCreateOrderReservationRace(t *testing.T) {
	products := stockedProduct()
	products.reserveOK = false // available check passed, but the atomic decrement lost
	saga, _ := newTestSaga(activeCustomer(), products, paymentSuccess(), newLockMock())

	_, err := saga.CreateOrder(context.Background(), "c1", "p1", 2)
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateOrderDuplicateWindow(t *testing.T) {
	products := stockedProduct()
	saga, _ := newTestSaga(activeCustomer(), products, paymentSuccess(), newLockMock())
	ctx := context.Background()

	first, err := saga.CreateOrder(ctx, "c1", "p1", 2)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	saga.Wait()

	second, err := saga.CreateOrder(ctx, "c1", "p1", 2)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("expected duplicate flag")
	}
	if second.Order.OrderID != first.Order.OrderID {
		t.Fatalf("expected same order id, got %s vs %s", second.Order.OrderID, first.Order.OrderID)
	}
	if products.reserveCalls != 1 {
		t.Fatalf("duplicate must not reserve again, got %d reservations", products.reserveCalls)
	}
}

func TestCreateOrderProceedsWithoutLock(t *testing.T) {
	redisMock := newLockMock()
	redisMock.down = true
	saga, _ := newTestSaga(activeCustomer(), stockedProduct(), paymentSuccess(), redisMock)

	res, err := saga.CreateOrder(context.Background(), "c1", "p1", 1)
	if err != nil {
		t.Fatalf("saga must proceed without the creation lock: %v", err)
	}
	saga.Wait()
	if res.Order.Amount != 500 {
		t.Fatalf("unexpected amount %d", res.Order.Amount)
	}
}

func TestCancelOrderCompensates(t *testing.T) {
	products := stockedProduct()
	// keep settlement blocked so the order stays pending
	payments := &fakePayments{gate: make(chan struct{}), result: &clients.PaymentResult{Success: false, Status: "failed"}}
	saga, mock := newTestSaga(activeCustomer(), products, payments, newLockMock())
	ctx := context.Background()

	res, err := saga.CreateOrder(ctx, "c1", "p1", 2)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	cancelled, err := saga.CancelOrder(ctx, res.Order.OrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// settlement finishes late and fails; the cancelled order must not be
	// clobbered, and stock must not be released a second time
	close(payments.gate)
	saga.Wait()

	if got := mock.statusOf(res.Order.OrderID); got != StatusCancelled {
		t.Fatalf("late settlement clobbered cancel: %s", got)
	}
	if products.releaseCalls != 1 {
		t.Fatalf("expected exactly one release, got %d", products.releaseCalls)
	}
}

func TestCancelOrderRejectsTerminalStates(t *testing.T) {
	saga, mock := newTestSaga(activeCustomer(), stockedProduct(), paymentSuccess(), newLockMock())
	ctx := context.Background()

	res, err := saga.CreateOrder(ctx, "c1", "p1", 1)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	saga.Wait()
	if got := mock.statusOf(res.Order.OrderID); got != StatusCompleted {
		t.Fatalf("precondition: expected completed, got %s", got)
	}

	_, err = saga.CancelOrder(ctx, res.Order.OrderID)
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindConflict {
		t.Fatalf("expected conflict error, got %v", err)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	saga, _ := newTestSaga(activeCustomer(), stockedProduct(), paymentSuccess(), newLockMock())

	_, err := saga.CancelOrder(context.Background(), "missing")
	e, ok := errs.As(err)
	if !ok || e.Kind != errs.KindNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
