package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/dialog/scenario"
	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/keyboard"
	"github.com/m3rciful/dialogbot/core/telegram/sender"
)

// PlatformName identifies Telegram in dialog state keys.
const PlatformName = "telegram"

// Bot API limits.
const (
	MaxCaptionLength = 1024
	MaxAlbumSize     = 10
)

// ErrUnsupportedAlbumItem is returned for media kinds sendMediaGroup rejects.
var ErrUnsupportedAlbumItem = errors.New("telegram: media kind cannot be grouped")

// BotAPI is the part of *tele.Bot the adapter sends through.
type BotAPI interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
}

// AdapterOptions tunes the Telegram adapter.
type AdapterOptions struct {
	ButtonsPerRow int
}

// Adapter implements platform.Adapter on top of the Bot API.
type Adapter struct {
	api    BotAPI
	caller *sender.Caller
	perRow int
}

// NewAdapter wraps api. A nil caller sends without retries.
func NewAdapter(api BotAPI, caller *sender.Caller, opts AdapterOptions) *Adapter {
	if caller == nil {
		caller = sender.New(sender.Options{})
	}
	if opts.ButtonsPerRow <= 0 {
		opts.ButtonsPerRow = 1
	}
	return &Adapter{api: api, caller: caller, perRow: opts.ButtonsPerRow}
}

var _ platform.Adapter = (*Adapter)(nil)

// Name returns the platform name.
func (a *Adapter) Name() string { return PlatformName }

// Capabilities reports Bot API features used by the media manager.
func (a *Adapter) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		MediaWithButtons: true,
		MediaGroup:       true,
		MaxCaptionLength: MaxCaptionLength,
		MaxGroupSize:     MaxAlbumSize,
	}
}

func (a *Adapter) SendText(ctx context.Context, chatID, text string) (platform.SendResult, error) {
	return a.send(ctx, chatID, "send.text", "sendMessage", text, nil)
}

func (a *Adapter) SendButtons(ctx context.Context, chatID, text string, buttons []scenario.Button) (platform.SendResult, error) {
	markup, err := keyboard.Choices(buttons, a.perRow)
	if err != nil {
		return platform.SendResult{}, err
	}
	return a.send(ctx, chatID, "send.buttons", "sendMessage", text, &tele.SendOptions{ReplyMarkup: markup})
}

func (a *Adapter) SendMedia(ctx context.Context, chatID string, item scenario.MediaItem, caption string) (platform.SendResult, error) {
	what, endpoint := mediaFor(item, caption)
	return a.send(ctx, chatID, "send.media", endpoint, what, nil)
}

func (a *Adapter) SendMediaWithButtons(ctx context.Context, chatID string, item scenario.MediaItem, caption string, buttons []scenario.Button) (platform.SendResult, error) {
	markup, err := keyboard.Choices(buttons, a.perRow)
	if err != nil {
		return platform.SendResult{}, err
	}
	what, endpoint := mediaFor(item, caption)
	return a.send(ctx, chatID, "send.media_buttons", endpoint, what, &tele.SendOptions{ReplyMarkup: markup})
}

// SendMediaGroup sends items as one album. The caption rides on the first item.
func (a *Adapter) SendMediaGroup(ctx context.Context, chatID string, items []scenario.MediaItem, caption string) (platform.SendResult, error) {
	to, err := recipient(chatID)
	if err != nil {
		return platform.SendResult{}, err
	}
	if len(items) == 0 || len(items) > MaxAlbumSize {
		return platform.SendResult{}, fmt.Errorf("telegram: album needs 1..%d items, got %d", MaxAlbumSize, len(items))
	}
	album := make(tele.Album, 0, len(items))
	for i, it := range items {
		c := ""
		if i == 0 {
			c = caption
		}
		in, ok := albumItem(it, c)
		if !ok {
			return platform.SendResult{}, fmt.Errorf("%w: %q", ErrUnsupportedAlbumItem, it.Type)
		}
		album = append(album, in)
	}

	var msgs []tele.Message
	err = a.caller.Do(ctx, "send.album", "sendMediaGroup", func() error {
		var sendErr error
		msgs, sendErr = a.api.SendAlbum(to, album)
		return sendErr
	})
	if err != nil {
		return platform.SendResult{}, err
	}
	res := platform.SendResult{Success: true}
	for i, m := range msgs {
		id := strconv.Itoa(m.ID)
		if i == 0 {
			res.MessageID = id
			continue
		}
		res.MessageIDs = append(res.MessageIDs, id)
	}
	logger.Debug(ctx, component, "send.album",
		slog.String("status", "ok"),
		slog.Int("count", len(msgs)),
	)
	return res, nil
}

// ProcessUpdate decodes a raw Bot API update and normalizes it.
func (a *Adapter) ProcessUpdate(raw []byte) (platform.Inbound, bool, error) {
	return ParseUpdate(raw)
}

func (a *Adapter) send(ctx context.Context, chatID, action, endpoint string, what interface{}, opts *tele.SendOptions) (platform.SendResult, error) {
	to, err := recipient(chatID)
	if err != nil {
		return platform.SendResult{}, err
	}
	var msg *tele.Message
	err = a.caller.Do(ctx, action, endpoint, func() error {
		var sendErr error
		if opts != nil {
			msg, sendErr = a.api.Send(to, what, opts)
		} else {
			msg, sendErr = a.api.Send(to, what)
		}
		return sendErr
	})
	if err != nil {
		return platform.SendResult{}, err
	}
	res := platform.SendResult{Success: true}
	if msg != nil {
		res.MessageID = strconv.Itoa(msg.ID)
	}
	return res, nil
}

func recipient(chatID string) (tele.ChatID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	return tele.ChatID(id), nil
}

func fileRef(id string) tele.File {
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return tele.FromURL(id)
	}
	return tele.File{FileID: id}
}

// mediaFor maps a scenario media kind onto a sendable telebot value and the
// Bot API method it goes through. Unknown kinds are sent as documents.
func mediaFor(item scenario.MediaItem, caption string) (interface{}, string) {
	f := fileRef(item.FileID)
	switch strings.ToLower(item.Type) {
	case "photo", "image":
		return &tele.Photo{File: f, Caption: caption}, "sendPhoto"
	case "video":
		return &tele.Video{File: f, Caption: caption}, "sendVideo"
	case "audio":
		return &tele.Audio{File: f, Caption: caption}, "sendAudio"
	case "voice":
		return &tele.Voice{File: f, Caption: caption}, "sendVoice"
	case "animation", "gif":
		return &tele.Animation{File: f, Caption: caption}, "sendAnimation"
	default:
		return &tele.Document{File: f, Caption: caption}, "sendDocument"
	}
}

func albumItem(item scenario.MediaItem, caption string) (tele.Inputtable, bool) {
	f := fileRef(item.FileID)
	switch strings.ToLower(item.Type) {
	case "photo", "image":
		return &tele.Photo{File: f, Caption: caption}, true
	case "video":
		return &tele.Video{File: f, Caption: caption}, true
	case "audio":
		return &tele.Audio{File: f, Caption: caption}, true
	case "document", "file", "":
		return &tele.Document{File: f, Caption: caption}, true
	default:
		return nil, false
	}
}
