package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// defaultKeyOrder puts identity first, then the dialog transition, then
// timings and errors. Keys not listed follow in alphabetical order.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "trace_id", "span_id", "ts_unix_nano", "update_id",
	"bot_id", "platform", "user_id", "chat_id", "chat_type", "dialog_id", "transition_id",
	"handler", "operation", "op",
	"from_step", "to_step", "step", "input_type", "result", "cb_key", "outcome",
	"duration_ms", "messages", "kb", "count",
	"strategy", "media_type", "file_id", "cache",
	"payload", "text", "lang", "username",
	"mode", "listen", "public_url", "http_code",
	"driver", "host", "port", "backend",
	"err", "err_code", "cause", "retryable", "attempts", "backoff_ms", "rate_limited",
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError+4:
		return "FATAL"
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}

func knownOutcome(s string) bool {
	switch s {
	case "ok", "fail", "cancelled", "rate_limited":
		return true
	}
	return false
}

func knownCache(s string) bool {
	return s == "hit" || s == "miss" || s == "refresh"
}

// entry holds the flattened fields of one line.
type entry map[string]any

func (e entry) setDefault(key string, v any) {
	if _, ok := e[key]; !ok {
		e[key] = v
	}
}

func (e entry) str(key string) string {
	switch v := e[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// finish fills event and component, compacts rid, lowercases the enum
// fields and drops empty values. Unknown status values are kept as is;
// unknown outcome and cache values are dropped.
func (e entry) finish(message string, keepFullRID bool) {
	if rid := e.str("rid"); rid != "" {
		if compact := CompactRID(rid); compact != rid {
			if keepFullRID {
				e.setDefault("rid_full", rid)
			}
			e["rid"] = compact
		}
	}
	if e.str("event") == "" {
		e["event"] = message
		if message == "" {
			e["event"] = "unknown"
		}
	}
	if e.str("component") == "" {
		e["component"] = "app"
	}

	if s := strings.ToLower(strings.TrimSpace(e.str("status"))); s != "" {
		e["status"] = s
	}
	for key, known := range map[string]func(string) bool{"outcome": knownOutcome, "cache": knownCache} {
		if _, ok := e[key]; !ok {
			continue
		}
		v := strings.ToLower(strings.TrimSpace(e.str(key)))
		if known(v) {
			e[key] = v
		} else {
			delete(e, key)
		}
	}

	for k, v := range e {
		if v == nil || e.str(k) == "" {
			delete(e, k)
		}
	}
}
