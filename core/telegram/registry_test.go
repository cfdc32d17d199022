package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	"github.com/m3rciful/dialogbot/core/telegram/commands"
)

func noop(tele.Context) error { return nil }

func TestRegistryCommands(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "Start"}))
	require.NoError(t, reg.RegisterCommand("/reload", commands.Command{Handler: noop, Description: "Reload", AdminOnly: true}))
	require.ErrorIs(t, reg.RegisterCommand("help", commands.Command{Handler: noop, Description: "no slash"}), commands.ErrInvalid)
	require.ErrorIs(t, reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "dup"}), ErrDuplicate)
	require.ErrorIs(t, reg.RegisterCommand("/empty", commands.Command{Handler: noop}), commands.ErrInvalid)

	require.Equal(t, []string{"/reload", "/start"}, reg.CommandNames())
	cmd, ok := reg.Command("/start")
	require.True(t, ok)
	require.Equal(t, "Start", cmd.Description)
	_, ok = reg.Command("/missing")
	require.False(t, ok)
	require.Equal(t, []tele.Command{{Text: "/start", Description: "Start"}}, reg.MenuCommands())
}

func TestRegistryCallbacks(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCallback("dlg", noop))
	require.ErrorIs(t, reg.RegisterCallback("dlg", noop), ErrDuplicate)
	require.Error(t, reg.RegisterCallback("", noop))

	_, ok := reg.Callback("dlg")
	require.True(t, ok)
	require.Equal(t, []string{"dlg"}, reg.CallbackKeys())

	fallback, ok := reg.Callback("gone")
	require.False(t, ok)
	require.NotNil(t, fallback)

	called := false
	reg.SetCallbackNotFound(func(tele.Context) error { called = true; return nil })
	fallback, _ = reg.Callback("gone")
	require.NoError(t, fallback(nil))
	require.True(t, called)
}

type menuRecorder struct {
	got []tele.Command
	err error
}

func (m *menuRecorder) SetCommands(opts ...interface{}) error {
	for _, o := range opts {
		if cmds, ok := o.([]tele.Command); ok {
			m.got = cmds
		}
	}
	return m.err
}

func TestPublishMenu(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterCommand("/start", commands.Command{Handler: noop, Description: "Start"}))
	require.NoError(t, reg.RegisterCommand("/debug", commands.Command{Handler: noop, Description: "Debug", Hidden: true}))

	rec := &menuRecorder{}
	require.NoError(t, PublishMenu(rec, reg))
	require.Equal(t, []tele.Command{{Text: "/start", Description: "Start"}}, rec.got)

	rec.err = errors.New("forbidden")
	require.Error(t, PublishMenu(rec, reg))
}

func TestBuildPoller(t *testing.T) {
	p := BuildPoller(&coreconfig.Config{Telegram: coreconfig.TelegramConfig{RunMode: "LongPoll"}})
	lp, ok := p.(*tele.LongPoller)
	require.True(t, ok)
	require.Equal(t, 10*time.Second, lp.Timeout)
	require.Equal(t, AllowedUpdates, lp.AllowedUpdates)

	p = BuildPoller(&coreconfig.Config{
		Telegram: coreconfig.TelegramConfig{RunMode: coreconfig.RunModeWebhook},
		Webhook:  coreconfig.WebhookConfig{Listen: "0.0.0.0", Port: 8443, URL: "https://bot.example.com/hook"},
	})
	wh, ok := p.(*tele.Webhook)
	require.True(t, ok)
	require.Equal(t, "0.0.0.0:8443", wh.Listen)
	require.Equal(t, "https://bot.example.com/hook", wh.Endpoint.PublicURL)
	require.Equal(t, "webhook", pollerAttrs(wh)[0].Value.String())
}

func TestSenderOptions(t *testing.T) {
	cfg := &coreconfig.Config{Telegram: coreconfig.TelegramConfig{SendRetries: 4, SendBackoffMS: 250}}
	opts := SenderOptions(cfg)
	require.Equal(t, 4, opts.MaxRetries)
	require.Equal(t, 250*time.Millisecond, opts.RetryBackoff)
}

func TestHTTPClientDoesNotRetryHTTPErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := BuildHTTPClient(2, time.Millisecond)
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, int32(1), hits.Load())
}

func TestEndpointOfDropsToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://api.telegram.org/bot1:secret/sendMessage", nil)
	require.Equal(t, "sendMessage", endpointOf(req))
	require.Empty(t, endpointOf(nil))
}

func TestDefaultMiddlewares(t *testing.T) {
	names := func(mws []Middleware) []string {
		out := make([]string, len(mws))
		for i, mw := range mws {
			out[i] = mw.Name
		}
		return out
	}
	require.Equal(t, []string{"recover", "logger", "metrics"}, names(DefaultMiddlewares(nil, nil)))

	cfg := &coreconfig.Config{RateLimit: coreconfig.RateLimitConfig{IntervalMS: 500}}
	require.Equal(t, []string{"recover", "rate_limit", "logger", "metrics"}, names(DefaultMiddlewares(cfg, nil)))
}

func TestRunTelegramRejectsNilConfig(t *testing.T) {
	require.ErrorIs(t, RunTelegram(context.Background(), RunOptions{}), errNilConfig)
}
