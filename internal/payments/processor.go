package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/imkarn/go-saga-fulfillment/internal/errs"
	"github.com/imkarn/go-saga-fulfillment/internal/events"
	"github.com/imkarn/go-saga-fulfillment/internal/locks"
	"github.com/imkarn/go-saga-fulfillment/internal/logging"
	"github.com/imkarn/go-saga-fulfillment/internal/metrics"
)

// ProcessRequest carries a settlement request into the processor.
type ProcessRequest struct {
	CustomerID     string
	OrderID        string
	ProductID      string
	Amount         int64
	PaymentMethod  string
	IdempotencyKey string // optional; derived when empty
}

// Result is the processor's answer. For any idempotency key the result is
// stable: every call observes the same transaction and terminal status.
type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// EventPublisher is satisfied by *events.Publisher.
type EventPublisher interface {
	PublishTransaction(ctx context.Context, ev events.TransactionEvent) error
}

// Processor runs the idempotent payment state machine: a per-order lock, a
// create-as-idempotency-gate, a simulated gateway charge, and a conditional
// terminal transition, then an event publish.
type Processor struct {
	store     *Store
	locks     *locks.Manager
	publisher EventPublisher
	log       *logging.Logger
	rec       *metrics.Recorder

	lockTTL time.Duration

	// gateway simulation knobs, injected for tests
	chargeDelay time.Duration
	successRate float64
	randFloat   func() float64
	nowFunc     func() time.Time
}

func NewProcessor(store *Store, lockMgr *locks.Manager, publisher EventPublisher, log *logging.Logger, rec *metrics.Recorder) *Processor {
	return &Processor{
		store:       store,
		locks:       lockMgr,
		publisher:   publisher,
		log:         log,
		rec:         rec,
		lockTTL:     10 * time.Second,
		chargeDelay: 200 * time.Millisecond,
		successRate: 0.9,
		randFloat:   rand.Float64,
		nowFunc:     time.Now,
	}
}

// DeriveKey builds a deterministic idempotency key so retried identical
// requests collide even without an explicit token.
func DeriveKey(customerID, orderID string, amount int64, productID string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s", customerID, orderID, amount, productID))
	return hex.EncodeToString(sum[:])
}

// Process settles a payment at most once per idempotency key. Safe to call
// any number of times, concurrently or sequentially; every call returns the
// same eventual terminal outcome. Lock contention surfaces as a retryable
// lock-unavailable error without blocking indefinitely.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (*Result, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = DeriveKey(req.CustomerID, req.OrderID, req.Amount, req.ProductID)
	}

	var res *Result
	err := p.locks.WithLock(ctx, "payment-processing:"+req.OrderID, p.lockTTL, func(ctx context.Context) error {
		var err error
		res, err = p.process(ctx, req, key)
		return err
	})
	if err != nil {
		if e, ok := errs.As(err); ok && e.Kind == errs.KindLockUnavailable {
			p.rec.Count(ctx, "PaymentLockContention", map[string]string{"order_id": req.OrderID})
		}
		return nil, err
	}
	return res, nil
}

func (p *Processor) process(ctx context.Context, req ProcessRequest, key string) (*Result, error) {
	rec := PaymentRecord{
		TransactionID:  uuid.NewString(),
		OrderID:        req.OrderID,
		CustomerID:     req.CustomerID,
		ProductID:      req.ProductID,
		Amount:         req.Amount,
		IdempotencyKey: key,
		PaymentMethod:  req.PaymentMethod,
	}

	created, err := p.store.CreateIdempotent(ctx, rec)
	if err != nil {
		return nil, errs.ServiceUnavailable("payment_store_unavailable", "could not record payment", err)
	}
	if !created {
		// Not a new payment: the key's record is the answer. No settlement
		// logic runs a second time.
		existing, err := p.store.GetByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, errs.ServiceUnavailable("payment_store_unavailable", "could not read payment", err)
		}
		if existing == nil {
			return nil, errs.Internal("idempotency key present but payment missing", nil)
		}
		p.log.Info(ctx, "duplicate payment request", map[string]any{
			"transaction_id": existing.TransactionID,
			"status":         existing.Status,
		})
		return resultFor(existing), nil
	}

	terminal := p.charge(ctx)
	if err := p.store.Settle(ctx, rec.TransactionID, terminal); err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			// a concurrent timer/retry path won; report its outcome
			settled, gerr := p.store.Get(ctx, rec.TransactionID)
			if gerr != nil || settled == nil {
				return nil, errs.Internal("re-read after settle race failed", gerr)
			}
			return resultFor(settled), nil
		}
		return nil, errs.ServiceUnavailable("payment_store_unavailable", "could not settle payment", err)
	}
	rec.Status = terminal

	p.rec.Count(ctx, "PaymentSettled", map[string]string{"status": terminal})

	// Settlement correctness does not depend on the event arriving; the
	// worker's audit trail is eventual.
	ev := events.TransactionEvent{
		TransactionID: rec.TransactionID,
		OrderID:       rec.OrderID,
		CustomerID:    rec.CustomerID,
		ProductID:     rec.ProductID,
		Amount:        rec.Amount,
		Status:        terminal,
		Timestamp:     p.nowFunc().UTC(),
	}
	if err := p.publisher.PublishTransaction(ctx, ev); err != nil {
		p.log.Error(ctx, "transaction event publish failed", map[string]any{
			"transaction_id": rec.TransactionID,
			"error":          err.Error(),
		})
	}

	return resultFor(&rec), nil
}

// charge stands in for an external payment gateway: it sleeps to model
// gateway latency and succeeds probabilistically.
func (p *Processor) charge(ctx context.Context) string {
	if p.chargeDelay > 0 {
		select {
		case <-ctx.Done():
			return StatusFailed
		case <-time.After(p.chargeDelay):
		}
	}
	if p.randFloat() < p.successRate {
		return StatusCompleted
	}
	return StatusFailed
}

func resultFor(rec *PaymentRecord) *Result {
	res := &Result{
		Success:       rec.Status == StatusCompleted,
		TransactionID: rec.TransactionID,
		Status:        rec.Status,
	}
	if !res.Success && Terminal(rec.Status) {
		res.Error = "payment " + rec.Status
	}
	return res
}
