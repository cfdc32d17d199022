package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "dialog.state"

// Repository is a read-through cache in front of a Backend.
// Callers always receive copies; mutating a returned state has no effect
// until it is passed to Update.
type Repository struct {
	backend Backend
	now     func() time.Time

	mu    sync.RWMutex
	cache map[Key]*DialogState
}

// NewRepository wraps backend with an in-memory cache.
func NewRepository(backend Backend) *Repository {
	return &Repository{
		backend: backend,
		now:     func() time.Time { return time.Now().UTC() },
		cache:   make(map[Key]*DialogState),
	}
}

// Get returns the state for key or ErrNotFound.
func (r *Repository) Get(ctx context.Context, key Key) (*DialogState, error) {
	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		logger.Debug(ctx, component, "state.get", slog.String("cache", "hit"))
		return cached.Clone(), nil
	}

	s, err := r.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	r.put(s)
	logger.Debug(ctx, component, "state.get",
		slog.String("cache", "miss"),
		slog.String("dialog_id", s.ID),
	)
	return s.Clone(), nil
}

// GetByID returns the state with the given id.
func (r *Repository) GetByID(ctx context.Context, id string) (*DialogState, error) {
	s, err := r.backend.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.put(s)
	return s.Clone(), nil
}

// Create stores a fresh state for key positioned at step.
func (r *Repository) Create(ctx context.Context, key Key, step string) (*DialogState, error) {
	now := r.now()
	s := &DialogState{
		ID:                uuid.NewString(),
		BotID:             key.BotID,
		Platform:          key.Platform,
		ChatID:            key.ChatID,
		CurrentStep:       step,
		CollectedData:     map[string]any{},
		LastInteractionAt: now,
		CreatedAt:         now,
	}
	if err := r.backend.Create(ctx, s); err != nil {
		logger.Error(ctx, component, "state.create",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return nil, err
	}
	r.put(s)
	logger.Info(ctx, component, "state.create",
		slog.String("status", "ok"),
		slog.String("dialog_id", s.ID),
		slog.String("step", step),
	)
	return s.Clone(), nil
}

// Update persists s and refreshes its LastInteractionAt.
func (r *Repository) Update(ctx context.Context, s *DialogState) error {
	if s == nil {
		return errors.New("state: update nil state")
	}
	s.LastInteractionAt = r.now()
	if err := r.backend.Update(ctx, s); err != nil {
		if errors.Is(err, ErrNotFound) {
			r.evict(s.Key())
		}
		return err
	}
	r.put(s)
	return nil
}

// Delete removes the state for key together with its history.
// Deleting an absent state is not an error.
func (r *Repository) Delete(ctx context.Context, key Key) error {
	s, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.DeleteByID(ctx, s.ID)
}

// DeleteByID removes the state with id together with its history.
func (r *Repository) DeleteByID(ctx context.Context, id string) error {
	var (
		key    Key
		cached bool
	)
	r.mu.RLock()
	for k, s := range r.cache {
		if s.ID == id {
			key, cached = k, true
			break
		}
	}
	r.mu.RUnlock()

	if err := r.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("state: delete %s: %w", id, err)
	}
	if cached {
		r.evict(key)
	}
	logger.Info(ctx, component, "state.delete",
		slog.String("status", "ok"),
		slog.String("dialog_id", id),
	)
	return nil
}

// AddHistory appends one entry for dialogID.
func (r *Repository) AddHistory(ctx context.Context, dialogID, stepID, messageType, content string) error {
	return r.backend.AddHistory(ctx, HistoryEntry{
		DialogID:    dialogID,
		StepID:      stepID,
		MessageType: messageType,
		Content:     content,
		CreatedAt:   r.now(),
	})
}

// GetHistory returns up to limit entries newest first, skipping offset.
// A non-positive limit returns everything after offset.
func (r *Repository) GetHistory(ctx context.Context, dialogID string, limit, offset int) ([]HistoryEntry, error) {
	return r.backend.GetHistory(ctx, dialogID, limit, offset)
}

// Invalidate drops the cached copy for key.
func (r *Repository) Invalidate(key Key) {
	r.evict(key)
}

func (r *Repository) put(s *DialogState) {
	r.mu.Lock()
	r.cache[s.Key()] = s.Clone()
	r.mu.Unlock()
}

func (r *Repository) evict(key Key) {
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}
