package logger

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type ctxKey int

const (
	metaKey ctxKey = iota
	loggerKey
)

// Meta is the dialog identity attached to every line logged under a context.
type Meta struct {
	RID          string
	TraceID      string
	SpanID       string
	UpdateID     int
	BotID        string
	Platform     string
	UserID       string
	ChatID       string
	DialogID     string
	TransitionID string
	Handler      string
}

func overlay(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func (m Meta) with(o Meta) Meta {
	overlay(&m.RID, o.RID)
	overlay(&m.TraceID, o.TraceID)
	overlay(&m.SpanID, o.SpanID)
	overlay(&m.BotID, o.BotID)
	overlay(&m.Platform, o.Platform)
	overlay(&m.UserID, o.UserID)
	overlay(&m.ChatID, o.ChatID)
	overlay(&m.DialogID, o.DialogID)
	overlay(&m.TransitionID, o.TransitionID)
	overlay(&m.Handler, o.Handler)
	if o.UpdateID != 0 {
		m.UpdateID = o.UpdateID
	}
	return m
}

// fields lists m as log keys, skipping empty values.
func (m Meta) fields(set func(key string, value any)) {
	for _, kv := range [...]struct{ k, v string }{
		{"rid", m.RID},
		{"trace_id", m.TraceID},
		{"span_id", m.SpanID},
		{"bot_id", m.BotID},
		{"platform", m.Platform},
		{"user_id", m.UserID},
		{"chat_id", m.ChatID},
		{"dialog_id", m.DialogID},
		{"transition_id", m.TransitionID},
		{"handler", m.Handler},
	} {
		if kv.v != "" {
			set(kv.k, kv.v)
		}
	}
	if m.UpdateID != 0 {
		set("update_id", int64(m.UpdateID))
	}
}

// WithMeta returns ctx with the non-empty fields of m laid over the Meta
// already present. The parent context is left untouched.
func WithMeta(ctx context.Context, m Meta) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metaKey, MetaFrom(ctx).with(m))
}

// MetaFrom returns the Meta stored in ctx, or the zero Meta.
func MetaFrom(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	m, _ := ctx.Value(metaKey).(Meta)
	return m
}

// RIDFrom returns the correlation id stored in ctx.
func RIDFrom(ctx context.Context) string {
	return MetaFrom(ctx).RID
}

// WithHandler records the handler name serving ctx.
func WithHandler(ctx context.Context, handler string) context.Context {
	return WithMeta(ctx, Meta{Handler: handler})
}

// WithLogger makes l the logger used for events logged under ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored in ctx or the process logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
			return l
		}
	}
	return base.Load()
}

// BuildRID formats the correlation id of one update as update:chat:user.
func BuildRID(updateID int, chatID, userID int64) string {
	return strconv.Itoa(updateID) + ":" + strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}

// CompactRID rewrites a BuildRID value with base36 segments joined by dots.
// Anything else is returned as is.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}

// SanitizeLimit drops control and format runes (keeping tab and newline)
// and cuts the result to max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 || s == "" {
		return ""
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		if r != '\n' && r != '\t' && (unicode.IsControl(r) || unicode.Is(unicode.Cf, r)) {
			continue
		}
		if n == max {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}
