// Package media turns a logical message into platform send calls.
//
// Dispatch depends on the number of media items:
//
//	0   text, with buttons when present
//	1   one media send carrying the buttons if the adapter allows it
//	2+  leading text, one grouped send, trailing buttons
//
// Failed sends degrade through a fixed fallback chain; each fallback is
// attempted at most once.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "dialog.media"

var (
	// ErrNoValidMedia is returned when every media item lacks a file id.
	ErrNoValidMedia = errors.New("media: no valid media items")
	// ErrEmptyMessage is returned for a message with neither text, media nor buttons.
	ErrEmptyMessage = errors.New("media: empty message")
)

// Strategies reported in logs.
const (
	StrategyText             = "text"
	StrategyButtons          = "buttons"
	StrategyMediaWithButtons = "media_with_buttons"
	StrategyMedia            = "media"
	StrategyGroup            = "group"
	StrategyFallbackText     = "fallback_text"
	StrategyFallbackButtons  = "fallback_buttons"
	StrategyFallbackSingle   = "fallback_single"
)

// MediaUnavailable prefixes the text sent when a media item could not be delivered.
const MediaUnavailable = "[Media unavailable]"

// DefaultButtonsPrompt is the text of a button message that follows media.
const DefaultButtonsPrompt = "Choose an option:"

// Manager dispatches messages through an adapter.
type Manager struct {
	ButtonsPrompt string
}

// New returns a Manager with default settings.
func New() *Manager {
	return &Manager{ButtonsPrompt: DefaultButtonsPrompt}
}

type delivery struct {
	ids []string
}

func (d *delivery) add(r platform.SendResult) {
	if r.MessageID != "" {
		d.ids = append(d.ids, r.MessageID)
	}
	d.ids = append(d.ids, r.MessageIDs...)
}

func (d *delivery) result() platform.SendResult {
	res := platform.SendResult{Success: true, MessageIDs: d.ids}
	if len(d.ids) > 0 {
		res.MessageID = d.ids[0]
	}
	return res
}

// Send delivers msg and buttons to chatID.
func (m *Manager) Send(ctx context.Context, a platform.Adapter, chatID string, msg scenario.Message, buttons []scenario.Button) (platform.SendResult, error) {
	items := ValidItems(msg.Media)
	if len(msg.Media) > 0 && len(items) == 0 {
		logger.Warn(ctx, component, "media.validate",
			slog.String("status", "rejected"),
			slog.Int("count", len(msg.Media)),
			slog.String("cause", "no item carries a file_id"),
		)
		return platform.SendResult{}, ErrNoValidMedia
	}
	if msg.Text == "" && len(items) == 0 && len(buttons) == 0 {
		return platform.SendResult{}, ErrEmptyMessage
	}

	var d delivery
	var err error
	switch len(items) {
	case 0:
		err = m.sendText(ctx, a, chatID, msg.Text, buttons, &d)
	case 1:
		err = m.sendSingle(ctx, a, chatID, msg.Text, items[0], buttons, &d)
	default:
		err = m.sendGroup(ctx, a, chatID, msg.Text, items, buttons, &d)
	}
	res := d.result()
	res.Success = err == nil
	return res, err
}

// ValidItems drops items without a file id.
func ValidItems(items []scenario.MediaItem) []scenario.MediaItem {
	out := make([]scenario.MediaItem, 0, len(items))
	for _, it := range items {
		if it.FileID != "" {
			out = append(out, it)
		}
	}
	return out
}

func (m *Manager) prompt() string {
	if m.ButtonsPrompt == "" {
		return DefaultButtonsPrompt
	}
	return m.ButtonsPrompt
}

func (m *Manager) sendText(ctx context.Context, a platform.Adapter, chatID, text string, buttons []scenario.Button, d *delivery) error {
	if len(buttons) > 0 {
		if text == "" {
			text = m.prompt()
		}
		return m.call(ctx, StrategyButtons, nil, text, d, func() (platform.SendResult, error) {
			return a.SendButtons(ctx, chatID, text, buttons)
		})
	}
	return m.call(ctx, StrategyText, nil, text, d, func() (platform.SendResult, error) {
		return a.SendText(ctx, chatID, text)
	})
}

func (m *Manager) sendSingle(ctx context.Context, a platform.Adapter, chatID, text string, item scenario.MediaItem, buttons []scenario.Button, d *delivery) error {
	caps := a.Capabilities()
	caption := text
	if caption == "" {
		caption = item.Description
	}
	if !fitsCaption(caps, caption) {
		// overlong captions travel as their own message
		long := caption
		if err := m.call(ctx, StrategyText, nil, long, d, func() (platform.SendResult, error) {
			return a.SendText(ctx, chatID, long)
		}); err != nil {
			return err
		}
		caption = ""
	}
	fallbackText := caption

	if len(buttons) > 0 && caps.MediaWithButtons {
		err := m.call(ctx, StrategyMediaWithButtons, &item, caption, d, func() (platform.SendResult, error) {
			return a.SendMediaWithButtons(ctx, chatID, item, caption, buttons)
		})
		if err == nil {
			return nil
		}
		annotated := annotate(fallbackText)
		if err := m.call(ctx, StrategyFallbackButtons, &item, annotated, d, func() (platform.SendResult, error) {
			return a.SendButtons(ctx, chatID, annotated, buttons)
		}); err == nil {
			return nil
		}
		return m.call(ctx, StrategyFallbackText, &item, annotated, d, func() (platform.SendResult, error) {
			return a.SendText(ctx, chatID, annotated)
		})
	}

	err := m.call(ctx, StrategyMedia, &item, caption, d, func() (platform.SendResult, error) {
		return a.SendMedia(ctx, chatID, item, caption)
	})
	if err != nil {
		annotated := annotate(fallbackText)
		if len(buttons) > 0 {
			if ferr := m.call(ctx, StrategyFallbackButtons, &item, annotated, d, func() (platform.SendResult, error) {
				return a.SendButtons(ctx, chatID, annotated, buttons)
			}); ferr == nil {
				return nil
			}
		}
		return m.call(ctx, StrategyFallbackText, &item, annotated, d, func() (platform.SendResult, error) {
			return a.SendText(ctx, chatID, annotated)
		})
	}
	if len(buttons) == 0 {
		return nil
	}
	return m.sendText(ctx, a, chatID, m.prompt(), buttons, d)
}

func (m *Manager) sendGroup(ctx context.Context, a platform.Adapter, chatID, text string, items []scenario.MediaItem, buttons []scenario.Button, d *delivery) error {
	caps := a.Capabilities()
	if text != "" {
		if err := m.call(ctx, StrategyText, nil, text, d, func() (platform.SendResult, error) {
			return a.SendText(ctx, chatID, text)
		}); err != nil {
			return err
		}
	}

	var groupErr error
	if caps.MediaGroup {
		for _, batch := range chunk(items, caps.MaxGroupSize) {
			err := m.callGroup(ctx, batch, d, func() (platform.SendResult, error) {
				return a.SendMediaGroup(ctx, chatID, batch, "")
			})
			if err == nil {
				continue
			}
			first := batch[0]
			if ferr := m.call(ctx, StrategyFallbackSingle, &first, first.Description, d, func() (platform.SendResult, error) {
				return a.SendMedia(ctx, chatID, first, first.Description)
			}); ferr != nil {
				groupErr = ferr
			}
		}
	} else {
		for _, it := range items {
			if err := m.call(ctx, StrategyMedia, &it, it.Description, d, func() (platform.SendResult, error) {
				return a.SendMedia(ctx, chatID, it, it.Description)
			}); err != nil {
				groupErr = err
			}
		}
	}

	if len(buttons) > 0 {
		if err := m.sendText(ctx, a, chatID, m.prompt(), buttons, d); err != nil {
			return err
		}
	}
	return groupErr
}

func (m *Manager) call(ctx context.Context, strategy string, item *scenario.MediaItem, text string, d *delivery, fn func() (platform.SendResult, error)) error {
	start := time.Now()
	res, err := fn()
	if err == nil && !res.Success {
		err = errors.New("adapter reported failure")
	}
	attrs := []slog.Attr{
		slog.String("strategy", strategy),
		slog.String("text", logger.SanitizeLimit(text, 200)),
		slog.Duration("duration", logger.Took(start)),
	}
	if item != nil {
		attrs = append(attrs,
			slog.String("media_type", item.Type),
			slog.String("file_id", item.FileID),
			slog.Int("caption_len", utf8.RuneCountInString(text)),
		)
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))
		logger.Warn(ctx, component, "media.send", attrs...)
		return fmt.Errorf("media: %s: %w", strategy, err)
	}
	d.add(res)
	attrs = append(attrs, slog.String("status", "ok"))
	logger.Info(ctx, component, "media.send", attrs...)
	return nil
}

func (m *Manager) callGroup(ctx context.Context, items []scenario.MediaItem, d *delivery, fn func() (platform.SendResult, error)) error {
	start := time.Now()
	res, err := fn()
	if err == nil && !res.Success {
		err = errors.New("adapter reported failure")
	}
	refs := make([]string, 0, len(items))
	for _, it := range items {
		refs = append(refs, it.Type+":"+it.FileID)
	}
	preview, truncated := logger.SummarizeStrings(refs, 10)
	attrs := []slog.Attr{
		slog.String("strategy", StrategyGroup),
		slog.Int("count", len(items)),
		slog.String("items", preview),
		slog.Duration("duration", logger.Took(start)),
	}
	if truncated {
		attrs = append(attrs, slog.Bool("items_truncated", true))
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))
		logger.Warn(ctx, component, "media.send", attrs...)
		return fmt.Errorf("media: %s: %w", StrategyGroup, err)
	}
	d.add(res)
	attrs = append(attrs, slog.String("status", "ok"))
	logger.Info(ctx, component, "media.send", attrs...)
	return nil
}

func annotate(text string) string {
	if text == "" {
		return MediaUnavailable
	}
	return MediaUnavailable + "\n\n" + text
}

func fitsCaption(caps platform.Capabilities, caption string) bool {
	return caps.MaxCaptionLength <= 0 || utf8.RuneCountInString(caption) <= caps.MaxCaptionLength
}

func chunk(items []scenario.MediaItem, size int) [][]scenario.MediaItem {
	if size <= 0 || len(items) <= size {
		return [][]scenario.MediaItem{items}
	}
	var out [][]scenario.MediaItem
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
