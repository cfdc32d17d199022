package validator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/dialogbot/core/logger"
)

// DefaultDuplicateWindow is the span within which an identical input is suppressed.
const DefaultDuplicateWindow = 2 * time.Second

const defaultMaxLocal = 10000

// duplicateRedis is the part of *redis.Client the duplicate store uses.
type duplicateRedis interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// DuplicateStore remembers input fingerprints for a sliding window.
// Redis is the primary store; a process-local map is always written too and
// answers alone when Redis is absent or failing, so an outage can only cause
// missed duplicates.
type DuplicateStore struct {
	rdb    duplicateRedis
	prefix string
	window time.Duration
	max    int
	now    func() time.Time

	mu        sync.Mutex
	local     map[string]time.Time
	lastSweep time.Time
}

// NewDuplicateStore builds a store. rdb may be nil.
func NewDuplicateStore(rdb duplicateRedis, prefix string, window time.Duration) *DuplicateStore {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	return &DuplicateStore{
		rdb:    rdb,
		prefix: prefix,
		window: window,
		max:    defaultMaxLocal,
		now:    time.Now,
		local:  make(map[string]time.Time),
	}
}

// Seen reports whether key was recorded within the window.
func (d *DuplicateStore) Seen(ctx context.Context, key string) bool {
	now := d.now()
	d.mu.Lock()
	at, ok := d.local[key]
	d.mu.Unlock()
	if ok && now.Sub(at) < d.window {
		return true
	}

	if d.rdb == nil {
		return false
	}
	n, err := d.rdb.Exists(ctx, d.Key(key)).Result()
	if err != nil {
		logger.Warn(ctx, component, "duplicate.check",
			slog.String("status", "skip"),
			slog.String("backend", "redis"),
			slog.String("err", err.Error()),
		)
		return false
	}
	return n > 0
}

// Key is the Redis key a fingerprint is stored under.
func (d *DuplicateStore) Key(key string) string {
	return d.prefix + "dup:" + key
}

// Forget drops key from both stores.
func (d *DuplicateStore) Forget(ctx context.Context, key string) {
	if d.rdb != nil {
		if err := d.rdb.Del(ctx, d.Key(key)).Err(); err != nil {
			logger.Warn(ctx, component, "duplicate.forget",
				slog.String("status", "fail"),
				slog.String("backend", "redis"),
				slog.String("err", err.Error()),
			)
		}
	}
	d.mu.Lock()
	delete(d.local, key)
	d.mu.Unlock()
}

// Record stores key in both stores.
func (d *DuplicateStore) Record(ctx context.Context, key string) {
	if d.rdb != nil {
		if err := d.rdb.Set(ctx, d.Key(key), 1, d.window).Err(); err != nil {
			logger.Warn(ctx, component, "duplicate.record",
				slog.String("status", "fail"),
				slog.String("backend", "redis"),
				slog.String("err", err.Error()),
			)
		}
	}

	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.local[key] = now
	if now.Sub(d.lastSweep) >= d.window || len(d.local) > d.max {
		d.sweep(now)
	}
}

// sweep drops entries older than twice the window, then trims to max.
func (d *DuplicateStore) sweep(now time.Time) {
	d.lastSweep = now
	horizon := 2 * d.window
	for k, at := range d.local {
		if now.Sub(at) > horizon {
			delete(d.local, k)
		}
	}
	for k := range d.local {
		if len(d.local) <= d.max {
			break
		}
		delete(d.local, k)
	}
}

// Len reports the number of locally tracked fingerprints.
func (d *DuplicateStore) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.local)
}
