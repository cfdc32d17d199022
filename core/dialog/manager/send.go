package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/m3rciful/dialogbot/core/dialog/media"
	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/logger"
)

// SendMessage delivers msg through the media manager. A message whose media
// all lack file ids is sent as text alone.
func (m *Manager) SendMessage(ctx context.Context, chatID string, msg scenario.Message, buttons []scenario.Button) (platform.SendResult, error) {
	start := time.Now()
	res, err := m.media.Send(ctx, m.adapter, chatID, msg, buttons)
	if errors.Is(err, media.ErrNoValidMedia) {
		text := msg.Clone()
		text.Media = nil
		if text.Text == "" && len(buttons) == 0 {
			text.Text = media.MediaUnavailable
		}
		res, err = m.media.Send(ctx, m.adapter, chatID, text, buttons)
	}

	attrs := []slog.Attr{
		slog.Int("count", len(res.MessageIDs)),
		slog.Int("media", len(msg.Media)),
		slog.Int("buttons", len(buttons)),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))
		logger.Error(ctx, component, "dialog.send", attrs...)
		return res, err
	}
	attrs = append(attrs, slog.String("status", "ok"))
	logger.Debug(ctx, component, "dialog.send", attrs...)
	return res, nil
}

// send reports how many platform messages were delivered. Failures are
// already logged by SendMessage.
func (m *Manager) send(ctx context.Context, chatID string, msg scenario.Message, buttons []scenario.Button) int {
	res, _ := m.SendMessage(ctx, chatID, msg, buttons)
	return len(res.MessageIDs)
}

func (m *Manager) sendText(ctx context.Context, chatID, text string) int {
	return m.send(ctx, chatID, scenario.Message{Text: text}, nil)
}
