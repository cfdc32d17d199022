// Package helpers bridges telebot contexts to the logger metadata and the
// retrying sender.
package helpers

import (
	"context"
	"strconv"

	"github.com/m3rciful/dialogbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// Platform is the platform name stamped onto request metadata.
const Platform = "telegram"

const ctxKey = "logger_ctx"

// ContextFrom returns the request context cached on c.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(ctxKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the request context of c, creating it on first use
// with the update's rid and chat metadata.
func BuildContext(c tele.Context) context.Context {
	if ctx, ok := ContextFrom(c); ok {
		return ctx
	}

	meta := logger.Meta{UpdateID: c.Update().ID, Platform: Platform}
	var chatID, userID int64
	if chat := c.Chat(); chat != nil {
		chatID = chat.ID
		meta.ChatID = strconv.FormatInt(chatID, 10)
	}
	if u := c.Sender(); u != nil {
		userID = u.ID
		meta.UserID = strconv.FormatInt(userID, 10)
	}
	if rid, _ := c.Get("rid").(string); rid != "" {
		meta.RID = rid
	} else {
		meta.RID = logger.BuildRID(meta.UpdateID, chatID, userID)
	}

	ctx := logger.WithLogger(logger.WithMeta(context.Background(), meta), logger.Component("tg"))
	c.Set(ctxKey, ctx)
	return ctx
}

// WithHandler tags the request context of c with the handler name.
func WithHandler(c tele.Context, handler string) context.Context {
	ctx := BuildContext(c)
	if handler != "" {
		ctx = logger.WithHandler(ctx, handler)
		c.Set(ctxKey, ctx)
	}
	return ctx
}
