package validator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

// DefaultRatePerMinute is the per-user input ceiling in a sliding minute.
const DefaultRatePerMinute = 30

// RateLimiter decides whether one more input for key is allowed now.
// An error means the check could not be performed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// rateRedis is the part of *redis.Client the sliding window needs.
type rateRedis interface {
	ZRemRangeByScore(ctx context.Context, key, min, max string) *redis.IntCmd
	ZCard(ctx context.Context, key string) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisRateLimiter keeps one sorted set of input timestamps per key.
type RedisRateLimiter struct {
	rdb    rateRedis
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter allows limit inputs per window for each key.
func NewRedisRateLimiter(rdb rateRedis, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRatePerMinute
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{rdb: rdb, prefix: prefix, limit: limit, window: window, now: time.Now}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now()
	k := r.Key(key)
	floor := strconv.FormatInt(now.Add(-r.window).UnixMicro(), 10)

	if err := r.rdb.ZRemRangeByScore(ctx, k, "-inf", "("+floor).Err(); err != nil {
		return false, err
	}
	n, err := r.rdb.ZCard(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n >= int64(r.limit) {
		return false, nil
	}
	member := redis.Z{Score: float64(now.UnixMicro()), Member: xid.New().String()}
	if err := r.rdb.ZAdd(ctx, k, member).Err(); err != nil {
		return false, err
	}
	if err := r.rdb.Expire(ctx, k, r.window).Err(); err != nil {
		return false, err
	}
	return true, nil
}

// Key is the Redis key the window for key is kept under.
func (r *RedisRateLimiter) Key(key string) string {
	return r.prefix + "rate:" + key
}

// MemoryRateLimiter is the process-local sliding window.
// Keys whose window has emptied are swept at most once per window.
type MemoryRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

// NewMemoryRateLimiter allows limit inputs per window for each key.
func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = DefaultRatePerMinute
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryRateLimiter{limit: limit, window: window, now: time.Now, hits: make(map[string][]time.Time)}
}

func (m *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= m.window {
		m.sweep(now)
	}

	hits := m.live(m.hits[key], now)
	if len(hits) >= m.limit {
		m.hits[key] = hits
		return false, nil
	}
	m.hits[key] = append(hits, now)
	return true, nil
}

// live drops hits that fell out of the window ending at now.
func (m *MemoryRateLimiter) live(hits []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(hits) && now.Sub(hits[i]) >= m.window {
		i++
	}
	return hits[i:]
}

func (m *MemoryRateLimiter) sweep(now time.Time) {
	m.lastSweep = now
	for k, hits := range m.hits {
		if len(m.live(hits, now)) == 0 {
			delete(m.hits, k)
		}
	}
}

// Len reports the number of keys with tracked hits.
func (m *MemoryRateLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}
