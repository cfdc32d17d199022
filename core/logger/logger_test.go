package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
)

// capture returns a context that logs through a fresh handler and a func
// returning everything written so far.
func capture(t *testing.T, format logFormat, lvl slog.Level) (context.Context, func() string) {
	t.Helper()
	var buf bytes.Buffer
	w := newAsyncWriter([]io.Writer{&buf}, 1024)
	h := newStructuredHandler(handlerConfig{level: lvl, writer: w, format: format})
	ctx := WithLogger(context.Background(), slog.New(h))
	return ctx, func() string {
		require.NoError(t, w.Flush())
		return buf.String()
	}
}

func TestKVLineFollowsKeyOrder(t *testing.T) {
	ctx, read := capture(t, formatKV, slog.LevelInfo)
	ctx = WithMeta(ctx, Meta{RID: "105:5:5", UpdateID: 105})

	Info(ctx, "tg", "handler.handled",
		slog.String("status", "OK"),
		slog.String("zeta", "last"),
		slog.Duration("duration", 1500*time.Microsecond),
		slog.String("text", "two words"),
	)
	line := strings.TrimSpace(read())

	require.True(t, strings.HasPrefix(line, "ts="), line)
	require.Contains(t, line, " level=INFO component=tg event=handler.handled status=ok rid=2x.5.5 update_id=105 ")
	require.Contains(t, line, "duration_ms=2")
	require.Contains(t, line, `text="two words"`)
	require.True(t, strings.HasSuffix(line, "zeta=last"), line)
	require.NotContains(t, line, "rid_full")
	require.NotContains(t, line, "ts_unix_nano")
}

func TestJSONLineKeepsFullRID(t *testing.T) {
	ctx, read := capture(t, formatJSON, slog.LevelInfo)
	ctx = WithMeta(ctx, Meta{RID: "105:5:5", ChatID: "5"})

	Warn(ctx, "dialog.manager", "", slog.Any("err", errors.New("boom")), slog.String("outcome", "weird"))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(read()), &got))
	require.Equal(t, "WARN", got["level"])
	require.Equal(t, "dialog.manager", got["component"])
	require.Equal(t, "unknown", got["event"])
	require.Equal(t, "2x.5.5", got["rid"])
	require.Equal(t, "105:5:5", got["rid_full"])
	require.Equal(t, "5", got["chat_id"])
	require.Equal(t, "boom", got["err"])
	require.NotContains(t, got, "outcome")
	require.Contains(t, got, "ts_unix_nano")
}

func TestMetaDoesNotOverrideExplicitAttrs(t *testing.T) {
	ctx, read := capture(t, formatKV, slog.LevelInfo)
	ctx = WithMeta(ctx, Meta{BotID: "bot-1", Platform: "telegram", ChatID: "100"})
	ctx = WithMeta(ctx, Meta{DialogID: "d-1", TransitionID: "tr-9"})

	Info(ctx, "dialog.manager", "step.transition",
		slog.String("chat_id", "override"),
		slog.String("from_step", "a"),
		slog.String("to_step", "b"),
	)
	line := read()
	for _, want := range []string{"bot_id=bot-1", "platform=telegram", "chat_id=override", "dialog_id=d-1", "transition_id=tr-9", "from_step=a", "to_step=b"} {
		require.Contains(t, line, want)
	}
	require.Less(t, strings.Index(line, "bot_id="), strings.Index(line, "dialog_id="))
}

func TestLevelFilteringAndGroups(t *testing.T) {
	ctx, read := capture(t, formatKV, slog.LevelInfo)
	Debug(ctx, "x", "hidden")

	l := FromContext(ctx).With("component", "db").WithGroup("pool")
	l.Info("db.pool", slog.Int("open", 2), slog.Group("limits", slog.Int("idle", 1)))

	out := read()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "component=db")
	require.Contains(t, out, "pool.open=2")
	require.Contains(t, out, "pool.limits.idle=1")
	require.Contains(t, out, "event=db.pool")
}

func TestWithMetaOverlaysWithoutMutatingParent(t *testing.T) {
	parent := WithMeta(Background(), Meta{ChatID: "1", DialogID: "a"})
	child := WithHandler(WithMeta(parent, Meta{DialogID: "b"}), "dialog.text")

	require.Equal(t, "a", MetaFrom(parent).DialogID)
	m := MetaFrom(child)
	require.Equal(t, "b", m.DialogID)
	require.Equal(t, "1", m.ChatID)
	require.Equal(t, "dialog.text", m.Handler)
	require.Empty(t, RIDFrom(child))
}

func TestRIDHelpers(t *testing.T) {
	require.Equal(t, "105:-7:9", BuildRID(105, -7, 9))
	require.Equal(t, "2x.-7.9", CompactRID("105:-7:9"))
	require.Equal(t, "abc", CompactRID("abc"))
	require.Equal(t, "1:x:2", CompactRID("1:x:2"))
}

func TestSanitizeLimit(t *testing.T) {
	require.Equal(t, "ab\ncd", SanitizeLimit("a\x00b\ncd\u200e", 10))
	require.Equal(t, "héll", SanitizeLimit("héllo", 4))
	require.Empty(t, SanitizeLimit("abc", 0))
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(2, 5)
	var allowed int
	for i := 0; i < 10; i++ {
		if s.Allow() {
			allowed++
		}
	}
	require.Equal(t, 4, allowed)

	s.Set(0, 0)
	require.True(t, s.Allow())
}

func TestOptionsFromConfig(t *testing.T) {
	t.Setenv("TRACE", "")
	t.Setenv("LOG_TRACE", "yes")

	o := optionsFrom(nil)
	require.Equal(t, slog.LevelInfo, o.level)
	require.Equal(t, formatJSON, o.format)
	require.True(t, o.trace)

	cfg := &coreconfig.Config{}
	cfg.Logging = coreconfig.LoggingConfig{
		Level:       "WARNING",
		Profile:     "Dev",
		KeysOrder:   "event, , ts",
		DebugSample: "10",
	}
	o = optionsFrom(cfg)
	require.Equal(t, slog.LevelWarn, o.level)
	require.Equal(t, formatKV, o.format)
	require.Equal(t, "dev", o.profile)
	require.Equal(t, []string{"event", "ts"}, o.keyOrder)
	require.Equal(t, [2]int{1, 10}, [2]int{o.sampleNum, o.sampleDen})

	for in, want := range map[string][2]int{"3/4": {3, 4}, "0": {0, 0}, "x/y": {1, 50}, "-2": {1, 50}, "": {1, 50}} {
		n, d := parseSample(in)
		require.Equal(t, want, [2]int{n, d}, in)
	}
}

func TestSummarizeStrings(t *testing.T) {
	s, cut := SummarizeStrings([]string{"a", "b", "c"}, 2)
	require.Equal(t, "a, b", s)
	require.True(t, cut)

	s, cut = SummarizeStrings([]string{"a"}, 2)
	require.Equal(t, "a", s)
	require.False(t, cut)
	require.Equal(t, time.Duration(0), RoundMS(-time.Second))
}

func TestAsyncWriterRejectsWritesAfterClose(t *testing.T) {
	var buf bytes.Buffer
	w := newAsyncWriter([]io.Writer{&buf, nil}, 0)

	require.NoError(t, w.Write([]byte("one\n")))
	require.NoError(t, w.Write(nil))
	require.NoError(t, w.Flush())
	require.Equal(t, "one\n", buf.String())

	require.NoError(t, w.Write([]byte("two\n")))
	require.NoError(t, w.Close())
	require.Equal(t, "one\ntwo\n", buf.String())

	require.ErrorIs(t, w.Write([]byte("late\n")), errWriterClosed)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
}
