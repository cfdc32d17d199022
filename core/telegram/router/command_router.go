package router

import (
	"log/slog"

	"github.com/m3rciful/dialogbot/core/logger"
	tg "github.com/m3rciful/dialogbot/core/telegram"
	"github.com/m3rciful/dialogbot/core/telegram/commands"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// Descriptions of the built-in dialog commands shown in the command menu.
const (
	StartDescription = "Start the conversation"
	HelpDescription  = "How to use this bot"
	ResetDescription = "Forget the conversation"
)

// RegisterDialogCommands binds /start, /help and /reset to engine.
func RegisterDialogCommands(reg *tg.Registry, engine Engine) error {
	for _, c := range []struct{ name, handler, desc string }{
		{"/start", "start", StartDescription},
		{"/help", "help", HelpDescription},
		{"/reset", "reset", ResetDescription},
	} {
		err := reg.RegisterCommand(c.name, commands.Command{
			Handler:     DialogHandler(engine, c.handler),
			Description: c.desc,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOpts := middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	}

	names := reg.CommandNames()
	routes := make([]tg.Route, 0, len(names))
	for _, cmd := range names {
		def, _ := reg.Command(cmd)
		h := def.Handler
		if def.AdminOnly {
			h = middleware.AdminOnlyMiddleware(adminOpts)(h)
		}
		h = middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
		routes = append(routes, tg.Route{Endpoint: cmd, Handler: h})
	}

	logger.Info(logger.Background(), "tg.wire", "tg.wire",
		slog.String("status", "ok"),
		slog.Int("commands", len(names)),
		slog.Int("callbacks", len(reg.CallbackKeys())),
	)
	return routes
}
