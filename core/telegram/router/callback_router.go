package router

import (
	"log/slog"

	tg "github.com/m3rciful/dialogbot/core/telegram"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/dialogbot/core/telegram/helpers"
	"github.com/m3rciful/dialogbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// RegisterDialogCallbacks routes scenario button presses to engine.
func RegisterDialogCallbacks(reg *tg.Registry, engine Engine) error {
	return reg.RegisterCallback(callbacks.ChoiceUnique, DialogHandler(engine, "choice"))
}

// CallbackRoute returns a handler that routes callbacks through the registry
// by their unique key. The query is answered before the handler runs so the
// client stops its spinner even when the turn is slow.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		if c.Callback() == nil {
			return nil
		}

		key := callbacks.CallbackKey(c)
		cbHandler, ok := reg.Callback(key)
		if !ok {
			sum := begin(handlerName("callback.", key)).mark("skip", "").
				with(slog.String("cb_key", key), slog.String("reason", "not_found"))
			if opts.NotFound != nil {
				cbHandler = opts.NotFound
			}
			var err error
			if cbHandler != nil {
				err = cbHandler(c)
			} else {
				err = tghelpers.Respond(c, "")
			}
			sum.done(c, err)
			return err
		}

		_ = tghelpers.Respond(c, "")
		return cbHandler(c)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
