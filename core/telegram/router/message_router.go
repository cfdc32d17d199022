package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/m3rciful/dialogbot/core/dialog/manager"
	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/validator"
	tg "github.com/m3rciful/dialogbot/core/telegram"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Engine runs one dialog turn for a normalized update.
type Engine interface {
	Dispatch(ctx context.Context, in platform.Inbound) (manager.Outcome, error)
}

// DialogEndpoints are the message kinds forwarded to the dialog engine.
var DialogEndpoints = []string{
	tele.OnText,
	tele.OnPhoto,
	tele.OnDocument,
	tele.OnVideo,
	tele.OnAudio,
	tele.OnVoice,
	tele.OnAnimation,
}

// DialogRoutes builds handlers forwarding text and media messages to
// engine. Commands without a registered handler arrive as text and are
// answered by the engine.
func DialogRoutes(engine Engine) []tg.Route {
	routes := make([]tg.Route, 0, len(DialogEndpoints))
	for _, ep := range DialogEndpoints {
		h := DialogHandler(engine, "dialog."+strings.TrimPrefix(ep, "\a"))
		routes = append(routes, tg.Route{
			Endpoint: ep,
			Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(h)),
		})
	}
	return routes
}

// DialogHandler normalizes the update behind c and dispatches it to engine.
func DialogHandler(engine Engine, name string) tele.HandlerFunc {
	return func(c tele.Context) error {
		sum := begin(name)
		in, ok := tg.Normalize(c)
		if !ok || engine == nil {
			sum.mark("skip", "ok").done(c, nil)
			return nil
		}

		ctx := tghelpers.WithHandler(c, name)
		out, err := engine.Dispatch(ctx, in)
		middleware.AddMessages(c, out.Sent, false)

		sum.mark(turnStatus(out, err)).with(
			slog.String("result", string(out.Result)),
			slog.String("step", out.Step),
		)
		if out.Stalled {
			sum.with(slog.Bool("stalled", true))
		}
		sum.done(c, err)
		return err
	}
}

func turnStatus(out manager.Outcome, err error) (string, string) {
	switch {
	case err != nil:
		return "fail", "fail"
	case out.Result == validator.RateLimited:
		return "rate_limited", "rate_limited"
	case out.Result == validator.Duplicate:
		return "skip", "ok"
	case out.Result != "" && out.Result != validator.Valid:
		return "rejected", "ok"
	case out.InputError != "":
		return "rejected", "ok"
	}
	return "ok", "ok"
}
