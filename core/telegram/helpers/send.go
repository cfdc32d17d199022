package helpers

import (
	"sync/atomic"

	"github.com/m3rciful/dialogbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var caller atomic.Pointer[sender.Caller]

// SetCaller installs the Caller used for replies sent through this package.
// Without one, calls run once.
func SetCaller(c *sender.Caller) {
	caller.Store(c)
}

func do(c tele.Context, action, endpoint string, fn func() error) error {
	if cl := caller.Load(); cl != nil {
		return cl.Do(BuildContext(c), action, endpoint, fn)
	}
	return fn()
}

// SendText sends text without a parse mode to the current chat.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	args := make([]interface{}, 0, 1)
	if len(opts) > 0 && opts[0] != nil {
		args = append(args, opts[0])
	}
	return do(c, "send.text", "sendMessage", func() error {
		return c.Send(text, args...)
	})
}

// Respond answers the callback query behind c, with a toast when text is set.
func Respond(c tele.Context, text string) error {
	if c.Callback() == nil {
		return nil
	}
	var resp []*tele.CallbackResponse
	if text != "" {
		resp = append(resp, &tele.CallbackResponse{Text: text})
	}
	return do(c, "callback.answer", "answerCallbackQuery", func() error {
		return c.Respond(resp...)
	})
}
