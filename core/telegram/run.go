// Package telegram runs the bot: client and poller setup, handler
// registry, middleware chain and lifecycle.
package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	"github.com/m3rciful/dialogbot/core/logger"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"
	"github.com/m3rciful/dialogbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

const component = "tg"

var errNilConfig = errors.New("telegram: nil config")

// Middleware is a named global middleware installed with bot.Use.
type Middleware struct {
	Name string
	Use  func(next tele.HandlerFunc) tele.HandlerFunc
}

// Route binds Handler to Endpoint, anything tele.Bot.Handle accepts.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// RunOptions controls RunTelegram.
type RunOptions struct {
	Config *coreconfig.Config
	// Bot is a prebuilt bot; NewBot is used when nil.
	Bot      *tele.Bot
	Registry *Registry
	Caller   *sender.Caller

	Middlewares []Middleware
	Routes      []Route

	DisableWebhookCleanup bool
	DisableHelperCaller   bool

	OnStart func(ctx context.Context, rt Runtime) error
	OnStop  func(ctx context.Context, rt Runtime) error
}

// Runtime is handed to the lifecycle hooks.
type Runtime struct {
	Bot      *tele.Bot
	Caller   *sender.Caller
	Registry *Registry
}

// SenderOptions derives the outbound retry policy from cfg.
func SenderOptions(cfg *coreconfig.Config) sender.Options {
	if cfg == nil {
		return sender.Options{}
	}
	return sender.Options{
		MaxRetries:   cfg.Telegram.SendRetries,
		RetryBackoff: time.Duration(cfg.Telegram.SendBackoffMS) * time.Millisecond,
	}
}

// NewBot builds a bot with the configured poller and HTTP client.
func NewBot(cfg *coreconfig.Config) (*tele.Bot, error) {
	if cfg == nil {
		return nil, errNilConfig
	}
	start := time.Now()
	poller := BuildPoller(cfg)
	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Telegram.Token,
		Poller:  poller,
		Client:  BuildHTTPClient(transportRetries, transportBackoff),
		OnError: logBotError,
	})
	if err != nil {
		return nil, errors.Join(errors.New("telegram: create bot"), err)
	}
	logger.Info(logger.Background(), component, "tg.mode",
		append(pollerAttrs(poller), slog.Duration("duration", logger.Took(start)))...,
	)
	return bot, nil
}

func logBotError(err error, c tele.Context) {
	ctx := logger.Background()
	if c != nil {
		ctx = tghelpers.BuildContext(c)
	}
	logger.Error(ctx, component, "tg.error",
		slog.String("status", "fail"),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
}

// RunTelegram wires opts into a bot and serves updates until ctx is done.
// OnStop runs after polling has stopped, with cancellation detached.
func RunTelegram(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Config == nil {
		return errNilConfig
	}

	rt, err := prepare(opts)
	if err != nil {
		return err
	}
	if !opts.DisableHelperCaller {
		tghelpers.SetCaller(rt.Caller)
		defer tghelpers.SetCaller(nil)
	}
	if !opts.DisableWebhookCleanup && opts.Config.Telegram.RunMode == coreconfig.RunModeLongpoll {
		dropWebhook(ctx, rt.Bot)
	}
	install(rt, opts)

	if opts.OnStart != nil {
		if err := opts.OnStart(ctx, rt); err != nil {
			return err
		}
	}
	runErr := serve(ctx, rt.Bot)

	var stopErr error
	if opts.OnStop != nil {
		stopErr = opts.OnStop(context.WithoutCancel(ctx), rt)
	}
	logger.Info(ctx, component, "tg.stop",
		slog.String("status", "ok"),
		slog.Uint64("send_errors", rt.Caller.ErrorCount()),
	)
	if stopErr != nil {
		return stopErr
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func prepare(opts RunOptions) (Runtime, error) {
	rt := Runtime{Bot: opts.Bot, Caller: opts.Caller, Registry: opts.Registry}
	if rt.Registry == nil {
		rt.Registry = NewRegistry()
	}
	if rt.Caller == nil {
		rt.Caller = sender.New(SenderOptions(opts.Config))
	}
	if rt.Bot == nil {
		bot, err := NewBot(opts.Config)
		if err != nil {
			return Runtime{}, err
		}
		rt.Bot = bot
	}
	return rt, nil
}

// install registers middleware, routes and the command menu on rt.Bot.
func install(rt Runtime, opts RunOptions) {
	for _, mw := range opts.Middlewares {
		if mw.Use != nil {
			rt.Bot.Use(mw.Use)
		}
	}
	for _, r := range opts.Routes {
		if r.Endpoint != nil && r.Handler != nil {
			rt.Bot.Handle(r.Endpoint, r.Handler)
		}
	}
	_ = PublishMenu(rt.Bot, rt.Registry)
}

// dropWebhook clears a webhook left from a previous deployment, which would
// otherwise block getUpdates.
func dropWebhook(ctx context.Context, bot *tele.Bot) {
	attrs := []slog.Attr{slog.String("mode", coreconfig.RunModeLongpoll), slog.String("status", "ok")}
	if err := bot.RemoveWebhook(false); err != nil {
		attrs[1] = slog.String("status", "fail")
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	logger.Info(ctx, component, "tg.delete_webhook", attrs...)
}

// serve blocks in bot.Start until ctx is done or the poller exits.
func serve(ctx context.Context, bot *tele.Bot) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Start()
	}()
	select {
	case <-ctx.Done():
		bot.Stop()
		<-done
		return ctx.Err()
	case <-done:
		return nil
	}
}
