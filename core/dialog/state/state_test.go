package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/core/database"
)

func newSQLiteBackend(t *testing.T) *SQLBackend {
	t.Helper()
	db, err := database.Connect(context.Background(), database.Config{Driver: database.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db, database.DriverSQLite))

	b, err := NewSQLBackend(db)
	require.NoError(t, err)
	return b
}

func backends(t *testing.T) map[string]Backend {
	dyn, err := NewDynamoBackend(newFakeDynamo(), "dialogs")
	require.NoError(t, err)
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": newSQLiteBackend(t),
		"dynamo": dyn,
	}
}

func sampleState(id, chat string) *DialogState {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &DialogState{
		ID:                id,
		BotID:             "bot",
		Platform:          "telegram",
		ChatID:            chat,
		CurrentStep:       "welcome",
		CollectedData:     map[string]any{"name": "Ann", "age": float64(30)},
		LastInteractionAt: ts,
		CreatedAt:         ts,
	}
}

func TestBackendsStateLifecycle(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := sampleState("s1", "100")

			_, err := b.Get(ctx, s.Key())
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Create(ctx, s))
			require.ErrorIs(t, b.Create(ctx, sampleState("s2", "100")), ErrExists)

			got, err := b.Get(ctx, s.Key())
			require.NoError(t, err)
			require.Equal(t, s, got)

			got.CurrentStep = "ask_name"
			got.CollectedData["country"] = "rf"
			require.NoError(t, b.Update(ctx, got))

			byID, err := b.GetByID(ctx, "s1")
			require.NoError(t, err)
			require.Equal(t, "ask_name", byID.CurrentStep)
			require.Equal(t, "rf", byID.CollectedData["country"])

			missing := sampleState("ghost", "999")
			require.ErrorIs(t, b.Update(ctx, missing), ErrNotFound)

			require.NoError(t, b.Delete(ctx, "s1"))
			_, err = b.Get(ctx, s.Key())
			require.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, b.Delete(ctx, "s1"), "deleting twice is a no-op")
		})
	}
}

func TestBackendsHistoryNewestFirst(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := sampleState("s1", "100")
			require.NoError(t, b.Create(ctx, s))

			base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			for i, step := range []string{"a", "b", "c", "d"} {
				require.NoError(t, b.AddHistory(ctx, HistoryEntry{
					DialogID:    "s1",
					StepID:      step,
					MessageType: MessageUser,
					Content:     "msg " + step,
					CreatedAt:   base.Add(time.Duration(i) * time.Second),
				}))
			}

			all, err := b.GetHistory(ctx, "s1", 0, 0)
			require.NoError(t, err)
			require.Equal(t, []string{"d", "c", "b", "a"}, steps(all))
			require.Equal(t, base.Add(3*time.Second), all[0].CreatedAt)

			pageTwo, err := b.GetHistory(ctx, "s1", 2, 1)
			require.NoError(t, err)
			require.Equal(t, []string{"c", "b"}, steps(pageTwo))

			past, err := b.GetHistory(ctx, "s1", 2, 10)
			require.NoError(t, err)
			require.Empty(t, past)

			require.NoError(t, b.Delete(ctx, "s1"))
			gone, err := b.GetHistory(ctx, "s1", 0, 0)
			require.NoError(t, err)
			require.Empty(t, gone, "history is removed with its state")
		})
	}
}

func steps(entries []HistoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.StepID)
	}
	return out
}

type countingBackend struct {
	Backend
	gets int
}

func (c *countingBackend) Get(ctx context.Context, key Key) (*DialogState, error) {
	c.gets++
	return c.Backend.Get(ctx, key)
}

func TestRepositoryReadThroughCache(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{Backend: NewMemoryBackend()}
	repo := NewRepository(backend)
	key := Key{BotID: "bot", Platform: "telegram", ChatID: "7"}

	created, err := repo.Create(ctx, key, "welcome")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	first, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 0, backend.gets, "create writes through to the cache")

	first.CurrentStep = "mutated"
	second, err := repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "welcome", second.CurrentStep, "callers get copies")

	repo.Invalidate(key)
	_, err = repo.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, 1, backend.gets)
}

func TestRepositoryUpdateRefreshesLastInteraction(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryBackend())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return clock }

	key := Key{BotID: "bot", Platform: "telegram", ChatID: "7"}
	s, err := repo.Create(ctx, key, "welcome")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	s.CurrentStep = "next"
	require.NoError(t, repo.Update(ctx, s))

	got, err := repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, clock, got.LastInteractionAt)
	require.Equal(t, "next", got.CurrentStep)
	require.True(t, got.CreatedAt.Before(got.LastInteractionAt))
}

func TestRepositoryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(NewMemoryBackend())
	key := Key{BotID: "bot", Platform: "telegram", ChatID: "7"}

	s, err := repo.Create(ctx, key, "welcome")
	require.NoError(t, err)
	require.NoError(t, repo.AddHistory(ctx, s.ID, "welcome", MessageBot, "hi"))

	require.NoError(t, repo.Delete(ctx, key))
	_, err = repo.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	history, err := repo.GetHistory(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	require.Empty(t, history)

	require.NoError(t, repo.Delete(ctx, key))
}
