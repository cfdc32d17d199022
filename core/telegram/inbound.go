package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/dialog/platform"
	"github.com/m3rciful/dialogbot/core/telegram/callbacks"
)

// ParseUpdate decodes a raw Bot API update and normalizes it.
func ParseUpdate(raw []byte) (platform.Inbound, bool, error) {
	var upd tele.Update
	if err := json.Unmarshal(raw, &upd); err != nil {
		return platform.Inbound{}, false, fmt.Errorf("telegram: decode update: %w", err)
	}
	in, ok := NormalizeUpdate(upd)
	return in, ok, nil
}

// Normalize converts the update behind c.
func Normalize(c tele.Context) (platform.Inbound, bool) {
	return NormalizeUpdate(c.Update())
}

// NormalizeUpdate maps a Bot API update onto the engine's inbound shape.
// Updates the engine does not consume (edits, inline queries, stickers,
// foreign callbacks) report false.
func NormalizeUpdate(upd tele.Update) (platform.Inbound, bool) {
	in := platform.Inbound{Platform: PlatformName, UpdateID: upd.ID}

	if cb := upd.Callback; cb != nil {
		key, _ := callbacks.ParseCallbackData(cb)
		if cb.Unique != "" {
			key = cb.Unique
		}
		if key != "" && key != callbacks.ChoiceUnique {
			return platform.Inbound{}, false
		}
		if cb.Message == nil || cb.Message.Chat == nil {
			return platform.Inbound{}, false
		}
		in.Kind = platform.KindCallback
		in.ChatID = formatID(cb.Message.Chat.ID)
		if cb.Sender != nil {
			in.UserID = formatID(cb.Sender.ID)
		}
		in.Content = platform.Content{Type: platform.ContentButton, Value: callbacks.Payload(cb)}
		return in, true
	}

	m := upd.Message
	if m == nil || m.Chat == nil {
		return platform.Inbound{}, false
	}
	in.Kind = platform.KindMessage
	in.ChatID = formatID(m.Chat.ID)
	in.UserID = in.ChatID
	if m.Sender != nil {
		in.UserID = formatID(m.Sender.ID)
	}

	if c, ok := mediaContent(m); ok {
		in.Content = c
		return in, true
	}
	text := strings.TrimSpace(m.Text)
	switch {
	case text == "":
		return platform.Inbound{}, false
	case strings.HasPrefix(text, "/"):
		in.Content = platform.Content{Type: platform.ContentCommand, Text: text}
	default:
		in.Content = platform.Content{Type: platform.ContentText, Text: m.Text}
	}
	return in, true
}

func mediaContent(m *tele.Message) (platform.Content, bool) {
	media := func(kind, id string) (platform.Content, bool) {
		return platform.Content{Type: platform.ContentMedia, FileID: id, MediaType: kind, Caption: m.Caption}, true
	}
	switch {
	case m.Photo != nil:
		return media("photo", m.Photo.FileID)
	case m.Animation != nil:
		return media("animation", m.Animation.FileID)
	case m.Video != nil:
		return media("video", m.Video.FileID)
	case m.Audio != nil:
		return media("audio", m.Audio.FileID)
	case m.Voice != nil:
		return media("voice", m.Voice.FileID)
	case m.Document != nil:
		return media("document", m.Document.FileID)
	}
	return platform.Content{}, false
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
