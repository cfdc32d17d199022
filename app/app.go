package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/v9"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/bootstrap"
	"github.com/m3rciful/dialogbot/core/cache"
	corecmd "github.com/m3rciful/dialogbot/core/cmd"
	"github.com/m3rciful/dialogbot/core/dialog/manager"
	"github.com/m3rciful/dialogbot/core/dialog/media"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/dialog/state"
	"github.com/m3rciful/dialogbot/core/logger"
	coretelegram "github.com/m3rciful/dialogbot/core/telegram"
	"github.com/m3rciful/dialogbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"
	"github.com/m3rciful/dialogbot/core/telegram/router"
	"github.com/m3rciful/dialogbot/core/telegram/sender"
)

const (
	reloadCommand     = "/reload"
	reloadDescription = "Reload the scenario file"
	rateLimitedText   = "Slow down a little, please."
	notAdminText      = "This command is for the bot admin only."
)

// Options overrides infrastructure normally built from the config.
type Options struct {
	Bot     *tele.Bot
	Backend state.Backend
	Redis   *redis.Client
}

// App holds the wired dialog bot.
type App struct {
	cfg      *Config
	loader   *scenario.Loader
	manager  *manager.Manager
	registry *coretelegram.Registry
	bot      *tele.Bot
	caller   *sender.Caller

	infra *bootstrap.Result
	rdb   *redis.Client

	closeOnce sync.Once
	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// Bootstrap initializes logging and infrastructure for cfg and builds the app.
func Bootstrap(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}

	infra, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:   &cfg.Config,
		Database: cfg.DatabaseConfig(),
	})
	if err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	if needsAWS(&cfg.Config) {
		loaded, err := loadAWS(ctx, &cfg.Config)
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		awsCfg = &loaded
	}
	if err := resolveToken(ctx, &cfg.Config, awsCfg); err != nil {
		_ = infra.Close()
		return nil, err
	}

	rdb, err := cache.Connect(ctx, cfg.Redis)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}

	cleanup := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = infra.Close()
	}

	backend, err := openBackend(&cfg.Config, infra.DB, awsCfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	bot, err := coretelegram.NewBot(&cfg.Config)
	if err != nil {
		cleanup()
		return nil, err
	}
	a, err := New(ctx, cfg, Options{Bot: bot, Backend: backend, Redis: rdb})
	if err != nil {
		cleanup()
		return nil, err
	}
	a.infra = infra
	return a, nil
}

// New builds the dialog engine and its Telegram routing on top of opts.
func New(ctx context.Context, cfg *Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if opts.Bot == nil || opts.Backend == nil {
		return nil, errors.New("app: bot and state backend are required")
	}

	loader, err := scenario.NewLoader(ctx, cfg.Dialog.ScenarioPath)
	if err != nil {
		return nil, err
	}

	caller := sender.New(coretelegram.SenderOptions(&cfg.Config))
	adapter := coretelegram.NewAdapter(opts.Bot, caller, coretelegram.AdapterOptions{
		ButtonsPerRow: cfg.Telegram.ButtonsPerRow,
	})

	mgr, err := manager.New(manager.Options{
		BotID:        cfg.Dialog.BotID,
		Scenarios:    loader,
		States:       state.NewRepository(opts.Backend),
		Validator:    newValidator(&cfg.Config, opts.Redis),
		Media:        media.New(),
		Adapter:      adapter,
		HelpText:     cfg.Dialog.HelpText,
		MaxAutoChain: cfg.Dialog.MaxAutoChain,
		Serialize:    cfg.Dialog.SerializeEnabled(),
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		loader:   loader,
		manager:  mgr,
		registry: coretelegram.NewRegistry(),
		bot:      opts.Bot,
		caller:   caller,
		rdb:      opts.Redis,
	}
	if err := a.register(); err != nil {
		mgr.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) register() error {
	if err := router.RegisterDialogCommands(a.registry, a.manager); err != nil {
		return err
	}
	err := a.registry.RegisterCommand(reloadCommand, commands.Command{
		Handler:     a.handleReload,
		Description: reloadDescription,
		AdminOnly:   true,
		Hidden:      true,
	})
	if err != nil {
		return err
	}
	return router.RegisterDialogCallbacks(a.registry, a.manager)
}

// handleReload re-reads the scenario file on admin request.
func (a *App) handleReload(c tele.Context) error {
	ctx := tghelpers.WithHandler(c, "reload")
	if err := a.loader.Reload(ctx); err != nil {
		return tghelpers.SendText(c, "Reload failed: "+logger.SanitizeLimit(err.Error(), 200))
	}
	sc := a.loader.Scenario()
	return tghelpers.SendText(c, fmt.Sprintf("Scenario %q reloaded: %d steps.", sc.Name, len(sc.Steps)))
}

// Manager exposes the dialog engine.
func (a *App) Manager() *manager.Manager { return a.manager }

// Registry exposes the command and callback registry.
func (a *App) Registry() *coretelegram.Registry { return a.registry }

// TelegramRunOptions assembles middleware, routes and lifecycle hooks.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	onLimited := func(c tele.Context) error {
		if c.Callback() != nil {
			return tghelpers.Respond(c, rateLimitedText)
		}
		return nil
	}

	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{
		AdminID: a.cfg.Telegram.AdminID,
		OnAdminReject: func(c tele.Context) error {
			return tghelpers.SendText(c, notAdminText)
		},
	})
	routes = append(routes, router.CallbackRoute(a.registry, router.CallbackOptions{}))
	routes = append(routes, router.DialogRoutes(a.manager)...)

	return coretelegram.RunOptions{
		Config:      &a.cfg.Config,
		Bot:         a.bot,
		Registry:    a.registry,
		Caller:      a.caller,
		Middlewares: coretelegram.DefaultMiddlewares(&a.cfg.Config, onLimited),
		Routes:      routes,
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, _ coretelegram.Runtime) error {
	if !a.cfg.Dialog.WatchScenario {
		return nil
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopWatch = cancel
	a.watchDone = make(chan struct{})
	go func() {
		defer close(a.watchDone)
		if err := a.loader.Watch(watchCtx); err != nil {
			logger.Error(watchCtx, component, "scenario.watch",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}()
	return nil
}

func (a *App) onStop(ctx context.Context, _ coretelegram.Runtime) error {
	a.manager.Close()
	logger.Info(ctx, component, "dialog.stop", slog.String("status", "ok"))
	return nil
}

// Close stops background work and releases infrastructure.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.stopWatch != nil {
			a.stopWatch()
			<-a.watchDone
		}
		a.manager.Close()
		if a.rdb != nil {
			errs = append(errs, a.rdb.Close())
		}
		errs = append(errs, a.infra.Close())
	})
	return errors.Join(errs...)
}
