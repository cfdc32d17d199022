package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/dialog/manager"
	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/validator"
	tg "github.com/m3rciful/dialogbot/core/telegram"
	"github.com/m3rciful/dialogbot/core/telegram/commands"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"
)

type fakeEngine struct {
	mu  sync.Mutex
	got []platform.Inbound
	out manager.Outcome
	err error
}

func (e *fakeEngine) Dispatch(_ context.Context, in platform.Inbound) (manager.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, in)
	return e.out, e.err
}

type apiRecorder struct {
	mu      sync.Mutex
	methods []string
	bodies  []string
}

func (r *apiRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	r.mu.Lock()
	parts := strings.Split(req.URL.Path, "/")
	r.methods = append(r.methods, parts[len(parts)-1])
	r.bodies = append(r.bodies, string(body))
	r.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(`{"ok":true,"result":true}`)),
		Request:    req,
	}, nil
}

func newTestBot(t *testing.T) (*tele.Bot, *apiRecorder) {
	t.Helper()
	rec := &apiRecorder{}
	bot, err := tele.NewBot(tele.Settings{
		Token:   "123:TEST",
		Offline: true,
		Client:  &http.Client{Transport: rec},
	})
	require.NoError(t, err)
	return bot, rec
}

func textUpdate(text string) tele.Update {
	return tele.Update{
		ID: 10,
		Message: &tele.Message{
			ID:     1,
			Text:   text,
			Chat:   &tele.Chat{ID: 42, Type: tele.ChatPrivate},
			Sender: &tele.User{ID: 7},
		},
	}
}

func callbackUpdate(data string) tele.Update {
	return tele.Update{
		ID: 11,
		Callback: &tele.Callback{
			ID:      "cb1",
			Data:    data,
			Sender:  &tele.User{ID: 7},
			Message: &tele.Message{ID: 5, Chat: &tele.Chat{ID: 42}},
		},
	}
}

func TestDialogHandlerDispatchesText(t *testing.T) {
	bot, _ := newTestBot(t)
	engine := &fakeEngine{out: manager.Outcome{Result: validator.Valid, Step: "ask_age", Sent: 2}}
	c := bot.NewContext(textUpdate("Ann"))

	require.NoError(t, DialogHandler(engine, "dialog.text")(c))

	require.Len(t, engine.got, 1)
	in := engine.got[0]
	require.Equal(t, platform.KindMessage, in.Kind)
	require.Equal(t, tg.PlatformName, in.Platform)
	require.Equal(t, "42", in.ChatID)
	require.Equal(t, "7", in.UserID)
	require.Equal(t, platform.ContentText, in.Content.Type)
	require.Equal(t, "Ann", in.Content.Text)

	msgs, _ := middleware.GetCounters(c)
	require.Equal(t, 2, msgs)
}

func TestDialogHandlerSkipsUnsupportedUpdates(t *testing.T) {
	bot, _ := newTestBot(t)
	engine := &fakeEngine{}
	c := bot.NewContext(tele.Update{ID: 3, Message: &tele.Message{Chat: &tele.Chat{ID: 42}, Sticker: &tele.Sticker{}}})

	require.NoError(t, DialogHandler(engine, "dialog.sticker")(c))
	require.Empty(t, engine.got)
}

func TestDialogHandlerReturnsEngineError(t *testing.T) {
	bot, _ := newTestBot(t)
	boom := errors.New("store down")
	engine := &fakeEngine{err: boom}

	err := DialogHandler(engine, "dialog.text")(bot.NewContext(textUpdate("hi")))
	require.ErrorIs(t, err, boom)
}

func TestCallbackRouteDispatchesChoice(t *testing.T) {
	bot, rec := newTestBot(t)
	reg := tg.NewRegistry()
	engine := &fakeEngine{out: manager.Outcome{Result: validator.Valid}}
	require.NoError(t, RegisterDialogCallbacks(reg, engine))

	route := CallbackRoute(reg, CallbackOptions{})
	require.Equal(t, tele.OnCallback, route.Endpoint)
	require.NoError(t, route.Handler(bot.NewContext(callbackUpdate("\fdlg|rf"))))

	require.Len(t, engine.got, 1)
	require.Equal(t, platform.KindCallback, engine.got[0].Kind)
	require.Equal(t, "rf", engine.got[0].Content.Value)
	require.Equal(t, []string{"answerCallbackQuery"}, rec.methods)
}

func TestCallbackRouteAnswersUnknownKey(t *testing.T) {
	bot, rec := newTestBot(t)
	reg := tg.NewRegistry()
	engine := &fakeEngine{}
	require.NoError(t, RegisterDialogCallbacks(reg, engine))

	route := CallbackRoute(reg, CallbackOptions{})
	require.NoError(t, route.Handler(bot.NewContext(callbackUpdate("\fmenu|x"))))

	require.Empty(t, engine.got)
	require.Equal(t, []string{"answerCallbackQuery"}, rec.methods)
	require.Contains(t, rec.bodies[0], "no longer active")
}

func TestRegisterDialogCallbacksRejectsDuplicates(t *testing.T) {
	reg := tg.NewRegistry()
	require.NoError(t, RegisterDialogCallbacks(reg, &fakeEngine{}))
	require.Error(t, RegisterDialogCallbacks(reg, &fakeEngine{}))
}

func TestCommandRoutesGuardAdminCommands(t *testing.T) {
	bot, _ := newTestBot(t)
	reg := tg.NewRegistry()
	engine := &fakeEngine{out: manager.Outcome{Result: validator.Valid}}
	require.NoError(t, RegisterDialogCommands(reg, engine))

	reloads := 0
	require.NoError(t, reg.RegisterCommand("/reload", commands.Command{
		Handler:     func(tele.Context) error { reloads++; return nil },
		Description: "Reload the scenario",
		AdminOnly:   true,
		Hidden:      true,
	}))

	routes := CommandRoutes(reg, CommandRouteOptions{AdminID: 1})
	byName := make(map[string]tele.HandlerFunc, len(routes))
	for _, r := range routes {
		byName[r.Endpoint.(string)] = r.Handler
	}
	require.Len(t, byName, 4)

	require.NoError(t, byName["/reload"](bot.NewContext(textUpdate("/reload"))))
	require.Zero(t, reloads)

	admin := textUpdate("/reload")
	admin.Message.Sender = &tele.User{ID: 1}
	require.NoError(t, byName["/reload"](bot.NewContext(admin)))
	require.Equal(t, 1, reloads)

	require.NoError(t, byName["/start"](bot.NewContext(textUpdate("/start"))))
	require.Len(t, engine.got, 1)
	require.Equal(t, "start", engine.got[0].Content.Command())

	require.Len(t, reg.MenuCommands(), 3)
	require.ErrorIs(t, RegisterDialogCommands(reg, engine), tg.ErrDuplicate)
}

func TestDialogRoutesCoverMedia(t *testing.T) {
	routes := DialogRoutes(&fakeEngine{})
	endpoints := make([]any, 0, len(routes))
	for _, r := range routes {
		endpoints = append(endpoints, r.Endpoint)
	}
	require.Contains(t, endpoints, tele.OnText)
	require.Contains(t, endpoints, tele.OnPhoto)
	require.Contains(t, endpoints, tele.OnVoice)
}

func TestTurnStatus(t *testing.T) {
	cases := []struct {
		out     manager.Outcome
		err     error
		status  string
		outcome string
	}{
		{manager.Outcome{Result: validator.Valid}, nil, "ok", "ok"},
		{manager.Outcome{Result: validator.Valid, InputError: "too short"}, nil, "rejected", "ok"},
		{manager.Outcome{Result: validator.Duplicate}, nil, "skip", "ok"},
		{manager.Outcome{Result: validator.RateLimited}, nil, "rate_limited", "rate_limited"},
		{manager.Outcome{Result: validator.InvalidButton}, nil, "rejected", "ok"},
		{manager.Outcome{}, errors.New("x"), "fail", "fail"},
	}
	for _, tc := range cases {
		status, outcome := turnStatus(tc.out, tc.err)
		require.Equal(t, tc.status, status)
		require.Equal(t, tc.outcome, outcome)
	}
}

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() string  { return "chat not found" }

type plainErr struct{}

func (*plainErr) Error() string { return "plain" }

func TestHandlerName(t *testing.T) {
	require.Equal(t, "callback.dialog_choice", handlerName("callback.", " Dialog Choice "))
	require.Equal(t, "cmd.start", handlerName("cmd.", "/start"))
	require.Equal(t, "callback.unknown", handlerName("callback.", ""))
}

func TestErrorCode(t *testing.T) {
	require.Equal(t, "CHAT_NOT_FOUND", errorCode(codedErr{}))
	require.Equal(t, "PLAINERR", errorCode(fmt.Errorf("send: %w", &plainErr{})))
	require.Equal(t, "ERRORSTRING", errorCode(errors.New("boom")))
	require.Equal(t, "UNKNOWN_ERROR", errorCode(nil))
}
