package router

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/dialogbot/core/logger"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

const component = "tg"

// summary collects what one handler invocation did and logs it once as
// "handler.handled".
type summary struct {
	name    string
	start   time.Time
	status  string
	outcome string
	attrs   []slog.Attr
}

func begin(name string) *summary {
	return &summary{name: name, start: time.Now()}
}

// mark overrides the status and outcome derived from the handler error.
func (s *summary) mark(status, outcome string) *summary {
	s.status, s.outcome = status, outcome
	return s
}

func (s *summary) with(attrs ...slog.Attr) *summary {
	s.attrs = append(s.attrs, attrs...)
	return s
}

func (s *summary) done(c tele.Context, err error) {
	ctx := tghelpers.WithHandler(c, s.name)
	msgs, kb := middleware.GetCounters(c)

	fallback := "ok"
	if err != nil {
		fallback = "fail"
	}
	attrs := make([]slog.Attr, 0, len(s.attrs)+9)
	attrs = append(attrs,
		slog.String("status", orDefault(s.status, fallback)),
		slog.String("handler", s.name),
		slog.String("outcome", orDefault(s.outcome, fallback)),
		slog.Int("messages", msgs),
		slog.Bool("kb", kb),
		slog.Duration("duration", logger.Took(s.start)),
	)
	if err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
			slog.String("err_code", errorCode(err)),
		)
	}
	logger.Info(ctx, component, "handler.handled", append(attrs, s.attrs...)...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// handlerName turns a command or callback key into a log-friendly name.
func handlerName(prefix, key string) string {
	key = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(key), "/"))
	if key == "" {
		key = "unknown"
	}
	return prefix + strings.Join(strings.Fields(key), "_")
}

// errorCode names err for dashboards: its Code() when it has one, otherwise
// the type of the innermost wrapped error.
func errorCode(err error) string {
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.Join(strings.Fields(code), "_"))
		}
	}
	for next := errors.Unwrap(err); next != nil; next = errors.Unwrap(err) {
		err = next
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "UNKNOWN_ERROR"
	}
	return strings.ToUpper(t.Name())
}
