package middleware

import (
	tele "gopkg.in/telebot.v4"
)

// Context keys holding per-update reply counters.
const (
	keyMessages = "messages"
	keyKeyboard = "kb"
)

// AddMessages records n replies delivered for c. Sends made by the dialog
// engine bypass tele.Context and are reported through here.
func AddMessages(c tele.Context, n int, withKeyboard bool) {
	if c == nil || n <= 0 {
		return
	}
	sent, _ := GetCounters(c)
	c.Set(keyMessages, sent+n)
	if withKeyboard {
		c.Set(keyKeyboard, true)
	}
}

// GetCounters returns the replies recorded for c and whether any of them
// carried a keyboard.
func GetCounters(c tele.Context) (int, bool) {
	sent, _ := c.Get(keyMessages).(int)
	kb, _ := c.Get(keyKeyboard).(bool)
	return sent, kb
}

// MessageMetricsMiddleware resets the counters and hands next a context that
// updates them on every successful reply.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set(keyMessages, 0)
		c.Set(keyKeyboard, false)
		return next(countingContext{Context: c})
	}
}

type countingContext struct{ tele.Context }

func (c countingContext) count(err error, opts []interface{}) error {
	if err == nil {
		AddMessages(c.Context, 1, carriesKeyboard(opts))
	}
	return err
}

func (c countingContext) Send(what interface{}, opts ...interface{}) error {
	return c.count(c.Context.Send(what, opts...), opts)
}

func (c countingContext) Reply(what interface{}, opts ...interface{}) error {
	return c.count(c.Context.Reply(what, opts...), opts)
}

func (c countingContext) Edit(what interface{}, opts ...interface{}) error {
	return c.count(c.Context.Edit(what, opts...), opts)
}

func (c countingContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return c.count(c.Context.EditOrSend(what, opts...), opts)
}

func (c countingContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return c.count(c.Context.EditOrReply(what, opts...), opts)
}

func carriesKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.ReplyMarkup:
			return v != nil
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		}
	}
	return false
}
