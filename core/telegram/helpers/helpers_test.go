package helpers

import (
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
)

func newContext(t *testing.T) tele.Context {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Token: "123:TEST", Offline: true})
	require.NoError(t, err)
	return bot.NewContext(tele.Update{
		ID: 42,
		Message: &tele.Message{
			Text:   "hi",
			Chat:   &tele.Chat{ID: 7},
			Sender: &tele.User{ID: 9},
		},
	})
}

func TestBuildContextCachesMeta(t *testing.T) {
	c := newContext(t)
	_, ok := ContextFrom(c)
	require.False(t, ok)

	ctx := BuildContext(c)
	meta := logger.MetaFrom(ctx)
	require.Equal(t, "42:7:9", meta.RID)
	require.Equal(t, 42, meta.UpdateID)
	require.Equal(t, "7", meta.ChatID)
	require.Equal(t, "9", meta.UserID)
	require.Equal(t, Platform, meta.Platform)

	again, ok := ContextFrom(c)
	require.True(t, ok)
	require.Equal(t, ctx, again)
}

func TestBuildContextPrefersStoredRID(t *testing.T) {
	c := newContext(t)
	c.Set("rid", "custom")
	require.Equal(t, "custom", logger.RIDFrom(BuildContext(c)))
}

func TestWithHandlerTagsContext(t *testing.T) {
	c := newContext(t)
	ctx := WithHandler(c, "dialog.text")
	require.Equal(t, "dialog.text", logger.MetaFrom(ctx).Handler)

	cached, ok := ContextFrom(c)
	require.True(t, ok)
	require.Equal(t, "dialog.text", logger.MetaFrom(cached).Handler)
}

func TestRespondIgnoresNonCallbacks(t *testing.T) {
	require.NoError(t, Respond(newContext(t), "toast"))
}
