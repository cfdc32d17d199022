package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// updateSet remembers update ids for a short while.
type updateSet struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[int]time.Time
}

// firstTime reports whether id was not seen within ttl and remembers it.
func (s *updateSet) firstTime(id int, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.seen {
		if now.Sub(at) > s.ttl {
			delete(s.seen, k)
		}
	}
	if _, dup := s.seen[id]; dup {
		return false
	}
	s.seen[id] = now
	return true
}

var receipts = &updateSet{ttl: 10 * time.Second, seen: make(map[int]time.Time)}

// LoggerMiddleware stores the request context and rid on c and logs one
// receipt line per update. Applying it on several branches logs once.
func LoggerMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		ctx := tghelpers.BuildContext(c)
		if c.Get("rid") == nil {
			c.Set("rid", logger.RIDFrom(ctx))
			c.Set("update_start", time.Now())
		}
		if logger.ShouldSampleDebug() && receipts.firstTime(c.Update().ID, time.Now()) {
			logger.Debug(ctx, component, "update.received", receiptAttrs(c)...)
		}
		return next(c)
	}
}

func receiptAttrs(c tele.Context) []slog.Attr {
	attrs := []slog.Attr{slog.String("status", "ok")}
	if chat := c.Chat(); chat != nil {
		attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
	}
	if u := c.Sender(); u != nil {
		if u.Username != "" {
			attrs = append(attrs, slog.String("username", logger.SanitizeLimit(u.Username, 64)))
		}
		if u.LanguageCode != "" {
			attrs = append(attrs, slog.String("lang", u.LanguageCode))
		}
	}

	payload := ""
	if cb := c.Callback(); cb != nil {
		key, data := callbacks.Split(cb)
		if key != "" {
			attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
		}
		payload = data
	} else if c.Message() != nil {
		payload = c.Text()
	}
	if payload != "" {
		attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 256)))
	}
	return attrs
}
