package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	coredatabase "github.com/m3rciful/dialogbot/core/database"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigSQLite(t *testing.T) {
	t.Setenv("BOT_TOKEN", "env-token")
	path := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: file-token
  run_mode: polling
dialog:
  scenario_path: flow.json
storage:
  backend: SQLite
  sqlite_path: /tmp/dialogs.db
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "env-token", cfg.Telegram.Token)
	require.Equal(t, coreconfig.RunModeLongpoll, cfg.Telegram.RunMode)
	require.Equal(t, coreconfig.BackendSQLite, cfg.Storage.Backend)
	require.Equal(t, "default", cfg.Dialog.BotID)
	require.True(t, cfg.Dialog.SerializeEnabled())

	db := cfg.DatabaseConfig()
	require.NotNil(t, db)
	require.Equal(t, coredatabase.DriverSQLite, db.Driver)
	require.Equal(t, "/tmp/dialogs.db", db.Path)
	require.Same(t, &cfg.Config, cfg.CoreConfig())
}

func TestNormalizePostgresNeedsDatabase(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "t"
	cfg.Dialog.ScenarioPath = "flow.json"
	require.Error(t, cfg.Normalize())

	cfg.Database = coredatabase.Config{Host: "db", Name: "dialogs", User: "bot"}
	require.NoError(t, cfg.Normalize())
	require.Equal(t, coredatabase.DriverPostgres, cfg.Database.Driver)
	require.Equal(t, "5432", cfg.Database.Port)
	require.NotNil(t, cfg.DatabaseConfig())
}

func TestMemoryBackendHasNoDatabase(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.TokenParam = "/dialogbot/token"
	cfg.Dialog.ScenarioPath = "flow.json"
	cfg.Storage.Backend = "memory"
	require.NoError(t, cfg.Normalize())
	require.Nil(t, cfg.DatabaseConfig())
	require.True(t, needsAWS(&cfg.Config))
}

func TestOpenStoreRejectsMemoryBackend(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "t"
	cfg.Dialog.ScenarioPath = "flow.json"
	cfg.Storage.Backend = "memory"
	require.NoError(t, cfg.Normalize())

	_, _, err := OpenStore(context.Background(), cfg)
	require.ErrorContains(t, err, "keeps no durable state")
}
