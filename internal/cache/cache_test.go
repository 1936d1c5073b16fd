package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisFake struct {
	mu     sync.Mutex
	data   map[string]string
	broken bool
}

func newRedisFake() *redisFake {
	return &redisFake{data: map[string]string{}}
}

var errRedisDown = errors.New("connection refused")

func (f *redisFake) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return redis.NewStringResult("", errRedisDown)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *redisFake) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return redis.NewStatusResult("", errRedisDown)
	}
	f.data[key] = string(value.([]byte))
	return redis.NewStatusResult("OK", nil)
}

func (f *redisFake) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return redis.NewIntResult(0, errRedisDown)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *redisFake) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return redis.NewScanCmdResult(nil, 0, errRedisDown)
	}
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(match, k); ok {
			keys = append(keys, k)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

type widget struct {
	ID    string `json:"id"`
	Stock int64  `json:"stock"`
}

func TestSetGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	c := New(newRedisFake(), time.Minute)

	c.SetJSON(ctx, "product:p-1", widget{ID: "p-1", Stock: 7})

	var got widget
	if !c.GetJSON(ctx, "product:p-1", &got) {
		t.Fatal("expected cache hit")
	}
	if got.Stock != 7 {
		t.Errorf("stock = %d, want 7", got.Stock)
	}
}

func TestMissReturnsFalse(t *testing.T) {
	c := New(newRedisFake(), time.Minute)
	var got widget
	if c.GetJSON(context.Background(), "product:absent", &got) {
		t.Error("miss must report false")
	}
}

func TestRedisFailureDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	f := newRedisFake()
	c := New(f, time.Minute)
	c.SetJSON(ctx, "product:p-1", widget{ID: "p-1"})

	f.broken = true
	var got widget
	if c.GetJSON(ctx, "product:p-1", &got) {
		t.Error("a Redis failure must read as a miss")
	}
	// writes and invalidations must be silent no-ops
	c.SetJSON(ctx, "product:p-2", widget{ID: "p-2"})
	c.Invalidate(ctx, "product:p-1")
	c.InvalidatePattern(ctx, "product:*")
}

func TestInvalidatePattern(t *testing.T) {
	ctx := context.Background()
	f := newRedisFake()
	c := New(f, time.Minute)
	c.SetJSON(ctx, "product:p-1", widget{ID: "p-1"})
	c.SetJSON(ctx, "product:p-2", widget{ID: "p-2"})
	c.SetJSON(ctx, "customer:c-1", widget{ID: "c-1"})

	c.InvalidatePattern(ctx, "product:*")

	var got widget
	if c.GetJSON(ctx, "product:p-1", &got) || c.GetJSON(ctx, "product:p-2", &got) {
		t.Error("product keys must be gone")
	}
	if !c.GetJSON(ctx, "customer:c-1", &got) {
		t.Error("non-matching key must survive")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	ctx := context.Background()
	var c *Cache
	var got widget
	if c.GetJSON(ctx, "k", &got) {
		t.Error("nil cache must miss")
	}
	c.SetJSON(ctx, "k", got)
	c.Invalidate(ctx, "k")
	c.InvalidatePattern(ctx, "k*")
}
