package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	mrand "math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/imkarn/go-saga-fulfillment/internal/errs"
)

// RedisAPI is the subset of the go-redis client the lock manager uses.
// *redis.Client satisfies it; tests substitute an in-memory implementation.
type RedisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// ErrNotAcquired indicates the key is held by another owner.
var ErrNotAcquired = errors.New("lock not acquired")

// ErrNotHeld indicates a release/extend by a caller that no longer owns the
// key (expired, or a newer holder took over).
var ErrNotHeld = errors.New("lock not held by this owner")

// Owner comparison and mutation must be atomic so that a stale holder can
// never delete or extend a newer holder's lock.
const (
	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`
	extendScript  = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`
)

// Lease is an acquired lock. The owner token is unique per acquisition, not
// per process, so two acquisitions by the same node never alias each other.
type Lease struct {
	Key   string
	Owner string
	TTL   time.Duration
}

// Manager provides named, time-bounded mutual exclusion across process
// instances, backed by a shared Redis keyspace. Expiry is enforced by Redis
// itself, so a crashed holder cannot block others past the TTL.
type Manager struct {
	client RedisAPI
	nodeID string

	// acquire retry tuning for WithLock
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewManager returns a Manager tagged with the given node identity.
// nodeID must be constructed by the caller (see NodeIdentity) rather than
// read from ambient process state.
func NewManager(client RedisAPI, nodeID string) *Manager {
	return &Manager{
		client:      client,
		nodeID:      nodeID,
		maxAttempts: 5,
		baseDelay:   50 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
}

// NodeIdentity builds a process identity from start time plus a random
// suffix. Constructed once in main and injected into NewManager.
func NodeIdentity() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("node-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("node-%d-%s", time.Now().UnixNano(), hex.EncodeToString(buf))
}

func (m *Manager) key(name string) string { return "lock:" + name }

// Acquire attempts a single atomic "set if not exists with expiry". It never
// reads then writes, so there is no check-then-act window. Returns
// ErrNotAcquired when the key is already held.
func (m *Manager) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	owner := m.nodeID + ":" + uuid.NewString()
	ok, err := m.client.SetNX(ctx, m.key(name), owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lease{Key: name, Owner: owner, TTL: ttl}, nil
}

// Release deletes the lock only if lease still owns it. A release after
// expiry, or after another holder took over, returns ErrNotHeld and leaves
// the current holder's lock intact.
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	n, err := m.client.Eval(ctx, releaseScript, []string{m.key(lease.Key)}, lease.Owner).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", lease.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Extend pushes the expiry out by ttl, only if lease still owns the key.
func (m *Manager) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	n, err := m.client.Eval(ctx, extendScript, []string{m.key(lease.Key)}, lease.Owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend %s: %w", lease.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	lease.TTL = ttl
	return nil
}

// WithLock acquires the named lock with bounded retries and capped
// exponential backoff, runs fn while renewing the lease in the background at
// roughly a third of the TTL, and releases unconditionally when fn returns.
// Acquisition failure after every attempt surfaces as a lock-unavailable
// error; fn is never invoked in that case.
func (m *Manager) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(ctx context.Context) error) error {
	var lease *Lease
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errs.LockUnavailable(name, ctx.Err())
			case <-time.After(m.backoff(attempt)):
			}
		}
		l, err := m.Acquire(ctx, name, ttl)
		if err == nil {
			lease = l
			break
		}
		if !errors.Is(err, ErrNotAcquired) {
			return errs.LockUnavailable(name, err)
		}
	}
	if lease == nil {
		return errs.LockUnavailable(name, ErrNotAcquired)
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.renewLoop(renewCtx, lease, ttl)
	}()

	err := fn(ctx)

	stopRenew()
	<-done
	// best effort: the lock expires on its own if this fails
	_ = m.Release(context.WithoutCancel(ctx), lease)
	return err
}

func (m *Manager) renewLoop(ctx context.Context, lease *Lease, ttl time.Duration) {
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Extend(ctx, lease, ttl); err != nil {
				// lost ownership; nothing left to renew
				return
			}
		}
	}
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := time.Duration(float64(m.baseDelay) * math.Pow(2, float64(attempt-1)))
	if d > m.maxDelay {
		d = m.maxDelay
	}
	// jitter up to 10% to spread contending retries apart
	return d + time.Duration(mrand.Float64()*0.1*float64(d))
}
