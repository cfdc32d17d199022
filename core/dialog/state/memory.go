package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryBackend keeps states in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	byID    map[string]*DialogState
	byKey   map[Key]string
	history map[string][]HistoryEntry
	seq     int64
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		byID:    make(map[string]*DialogState),
		byKey:   make(map[Key]string),
		history: make(map[string][]HistoryEntry),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key Key) (*DialogState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryBackend) GetByID(_ context.Context, id string) (*DialogState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryBackend) Create(_ context.Context, s *DialogState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[s.Key()]; ok {
		return fmt.Errorf("%w: %s", ErrExists, s.Key())
	}
	m.byID[s.ID] = s.Clone()
	m.byKey[s.Key()] = s.ID
	return nil
}

func (m *MemoryBackend) Update(_ context.Context, s *DialogState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; !ok {
		return ErrNotFound
	}
	m.byID[s.ID] = s.Clone()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil
	}
	delete(m.byKey, s.Key())
	delete(m.byID, id)
	delete(m.history, id)
	return nil
}

func (m *MemoryBackend) AddHistory(_ context.Context, e HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[e.DialogID]; !ok {
		return ErrNotFound
	}
	m.seq++
	e.ID = m.seq
	m.history[e.DialogID] = append(m.history[e.DialogID], e)
	return nil
}

func (m *MemoryBackend) GetHistory(_ context.Context, dialogID string, limit, offset int) ([]HistoryEntry, error) {
	m.mu.RLock()
	entries := append([]HistoryEntry(nil), m.history[dialogID]...)
	m.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	return page(entries, limit, offset), nil
}

func page(entries []HistoryEntry, limit, offset int) []HistoryEntry {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries
}
