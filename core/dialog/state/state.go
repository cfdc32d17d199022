// Package state persists dialog cursors and their append-only history.
package state

import (
	"context"
	"errors"
	"maps"
	"time"
)

// ErrNotFound is returned when no dialog state matches the lookup.
var ErrNotFound = errors.New("state: not found")

// ErrExists is returned by Create when the chat already has a state.
var ErrExists = errors.New("state: already exists")

// Message types recorded in history.
const (
	MessageUser = "user"
	MessageBot  = "bot"
)

// Key identifies one conversation.
type Key struct {
	BotID    string
	Platform string
	ChatID   string
}

func (k Key) String() string {
	return k.BotID + "|" + k.Platform + "|" + k.ChatID
}

// DialogState is the mutable cursor of one conversation.
type DialogState struct {
	ID                string
	BotID             string
	Platform          string
	ChatID            string
	CurrentStep       string
	CollectedData     map[string]any
	LastInteractionAt time.Time
	CreatedAt         time.Time
}

// Key returns the conversation key of s.
func (s *DialogState) Key() Key {
	return Key{BotID: s.BotID, Platform: s.Platform, ChatID: s.ChatID}
}

// Clone returns a copy whose CollectedData map is not shared with s.
// Nested values inside the map are shared.
func (s *DialogState) Clone() *DialogState {
	if s == nil {
		return nil
	}
	out := *s
	out.CollectedData = maps.Clone(s.CollectedData)
	if out.CollectedData == nil {
		out.CollectedData = map[string]any{}
	}
	return &out
}

// HistoryEntry is one immutable history record.
type HistoryEntry struct {
	ID          int64
	DialogID    string
	StepID      string
	MessageType string
	Content     string
	CreatedAt   time.Time
}

// Backend is a durable store for dialog states and history.
type Backend interface {
	Get(ctx context.Context, key Key) (*DialogState, error)
	GetByID(ctx context.Context, id string) (*DialogState, error)
	Create(ctx context.Context, s *DialogState) error
	Update(ctx context.Context, s *DialogState) error
	// Delete removes the state and its history.
	Delete(ctx context.Context, id string) error
	AddHistory(ctx context.Context, e HistoryEntry) error
	// GetHistory returns entries newest first.
	GetHistory(ctx context.Context, dialogID string, limit, offset int) ([]HistoryEntry, error)
}
