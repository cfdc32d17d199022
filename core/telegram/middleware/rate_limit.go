package middleware

import (
	"log/slog"
	"sync"
	"time"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	"github.com/m3rciful/dialogbot/core/logger"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Entries kept before stale senders are swept.
const sweepThreshold = 1024

// RateLimitOptions configures RateLimitMiddleware. Exclude lists update
// kinds (see coreconfig.Update*) that are never throttled.
type RateLimitOptions struct {
	Interval  time.Duration
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
}

// senderClock tracks when each sender was last let through.
type senderClock struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[int64]time.Time
}

func (s *senderClock) allow(id int64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at, ok := s.last[id]; ok && now.Sub(at) < s.interval {
		return false
	}
	s.last[id] = now
	if len(s.last) > sweepThreshold {
		for k, at := range s.last {
			if now.Sub(at) > s.interval {
				delete(s.last, k)
			}
		}
	}
	return true
}

// RateLimitMiddleware drops updates arriving from a sender faster than
// opts.Interval. Per-minute input budgets live in the dialog validator.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	clock := &senderClock{interval: opts.Interval, last: make(map[int64]time.Time)}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			if _, skip := opts.Exclude[updateKind(c.Update())]; skip {
				return next(c)
			}
			if clock.allow(user.ID, time.Now()) {
				return next(c)
			}
			logger.Warn(tghelpers.BuildContext(c), component, "tg.rate_limit",
				slog.String("status", "rate_limited"),
				slog.Duration("interval", opts.Interval),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}

func updateKind(upd tele.Update) string {
	if upd.Callback != nil {
		return coreconfig.UpdateCallback
	}
	if upd.Message != nil {
		return coreconfig.UpdateMessage
	}
	if upd.Query != nil {
		return "inline_query"
	}
	return "other"
}
