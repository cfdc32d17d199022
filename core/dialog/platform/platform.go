// Package platform defines the contract the dialog engine needs from a
// messaging platform.
package platform

import (
	"context"

	"github.com/m3rciful/dialogbot/core/dialog/scenario"
)

// Capabilities describes what an adapter can send.
type Capabilities struct {
	// MediaWithButtons means buttons can ride on the same call as one media item.
	MediaWithButtons bool
	// MediaGroup means several media items can be sent as one album.
	MediaGroup bool
	// MaxCaptionLength bounds media captions in runes; 0 means unlimited.
	MaxCaptionLength int
	// MaxGroupSize bounds the number of items per group; 0 means unlimited.
	MaxGroupSize int
}

// SendResult reports the platform ids of what was delivered.
type SendResult struct {
	Success    bool
	MessageID  string
	MessageIDs []string
}

// Adapter sends messages to one platform. Implementations own their retry policy.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	SendText(ctx context.Context, chatID, text string) (SendResult, error)
	SendButtons(ctx context.Context, chatID, text string, buttons []scenario.Button) (SendResult, error)
	SendMedia(ctx context.Context, chatID string, item scenario.MediaItem, caption string) (SendResult, error)
	SendMediaWithButtons(ctx context.Context, chatID string, item scenario.MediaItem, caption string, buttons []scenario.Button) (SendResult, error)
	SendMediaGroup(ctx context.Context, chatID string, items []scenario.MediaItem, caption string) (SendResult, error)
}

// InboundKind separates plain messages from button callbacks.
type InboundKind string

const (
	KindMessage  InboundKind = "message"
	KindCallback InboundKind = "callback"
)

// ContentType is the normalized inbound content modality.
type ContentType string

const (
	ContentText    ContentType = "text"
	ContentCommand ContentType = "command"
	ContentButton  ContentType = "button"
	ContentMedia   ContentType = "media"
)

// Content is the payload of an inbound update.
type Content struct {
	Type ContentType
	// Text holds message text or the full command line.
	Text string
	// Value holds the pressed button's value.
	Value string
	// FileID and MediaType describe attached media.
	FileID    string
	MediaType string
	Caption   string
}

// Inbound is a platform update normalized for the dialog engine.
type Inbound struct {
	Kind     InboundKind
	Platform string
	ChatID   string
	UserID   string
	UpdateID int
	Content  Content
}

// Command returns the command name without the slash and bot suffix,
// or "" when the content is not a command.
func (c Content) Command() string {
	if c.Type != ContentCommand || len(c.Text) < 2 || c.Text[0] != '/' {
		return ""
	}
	name := c.Text[1:]
	for i, r := range name {
		if r == ' ' || r == '@' || r == '\n' {
			return name[:i]
		}
	}
	return name
}

// Answer is the value this content contributes as user input.
func (c Content) Answer() string {
	switch c.Type {
	case ContentButton:
		return c.Value
	case ContentMedia:
		return c.FileID
	default:
		return c.Text
	}
}
