package middleware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"
)

func newContext(t *testing.T, upd tele.Update) tele.Context {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Token: "123:TEST", Offline: true})
	require.NoError(t, err)
	return bot.NewContext(upd)
}

func message(userID int64, text string) tele.Update {
	return tele.Update{
		ID: int(userID) + 100,
		Message: &tele.Message{
			Text:   text,
			Chat:   &tele.Chat{ID: userID},
			Sender: &tele.User{ID: userID},
		},
	}
}

func TestRecoverMiddlewareReturnsError(t *testing.T) {
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(newContext(t, message(1, "hi")))
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestRateLimitMiddleware(t *testing.T) {
	calls, limited := 0, 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		Exclude:   map[string]struct{}{coreconfig.UpdateCallback: {}},
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	h := mw(func(tele.Context) error { calls++; return nil })

	require.NoError(t, h(newContext(t, message(1, "a"))))
	require.NoError(t, h(newContext(t, message(1, "b"))))
	require.NoError(t, h(newContext(t, message(2, "c"))))
	require.Equal(t, 2, calls)
	require.Equal(t, 1, limited)

	cb := tele.Update{ID: 9, Callback: &tele.Callback{Sender: &tele.User{ID: 1}}}
	require.NoError(t, h(newContext(t, cb)))
	require.Equal(t, 3, calls, "callbacks are excluded")
}

func TestAdminOnlyMiddleware(t *testing.T) {
	rejected, passed := 0, 0
	mw := AdminOnlyMiddleware(AdminOptions{
		AdminID:  1,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})
	h := mw(func(tele.Context) error { passed++; return nil })

	require.NoError(t, h(newContext(t, message(2, "/reload"))))
	require.NoError(t, h(newContext(t, message(1, "/reload"))))
	require.Equal(t, 1, rejected)
	require.Equal(t, 1, passed)

	closed := AdminOnlyMiddleware(AdminOptions{})(func(tele.Context) error { passed++; return nil })
	require.NoError(t, closed(newContext(t, message(1, "/reload"))))
	require.Equal(t, 1, passed, "no admin configured rejects everyone")
}

func TestMetricsCountersAndLoggerContext(t *testing.T) {
	var seen tele.Context
	h := LoggerMiddleware(MessageMetricsMiddleware(func(c tele.Context) error {
		AddMessages(c, 2, true)
		AddMessages(c, 0, false)
		seen = c
		return nil
	}))
	c := newContext(t, message(5, "hello"))
	require.NoError(t, h(c))

	msgs, kb := GetCounters(seen)
	require.Equal(t, 2, msgs)
	require.True(t, kb)

	ctx, ok := tghelpers.ContextFrom(c)
	require.True(t, ok)
	require.NotNil(t, ctx)
	require.Equal(t, "105:5:5", c.Get("rid"))
}

func TestUpdateSetForgetsAfterTTL(t *testing.T) {
	s := &updateSet{ttl: time.Second, seen: make(map[int]time.Time)}
	now := time.Unix(1000, 0)
	require.True(t, s.firstTime(7, now))
	require.False(t, s.firstTime(7, now.Add(500*time.Millisecond)))
	require.True(t, s.firstTime(7, now.Add(2*time.Second)))
}

func TestCountingContextSkipsFailedSends(t *testing.T) {
	c := newContext(t, message(3, "x"))
	cc := countingContext{Context: c}
	require.Error(t, cc.count(errors.New("send failed"), nil))
	require.NoError(t, cc.count(nil, []interface{}{&tele.ReplyMarkup{}}))
	msgs, kb := GetCounters(c)
	require.Equal(t, 1, msgs)
	require.True(t, kb)
	require.False(t, carriesKeyboard([]interface{}{&tele.SendOptions{}}))
}
