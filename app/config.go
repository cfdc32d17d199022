// Package app wires the dialog engine, its stores and the Telegram runtime
// into one runnable bot.
package app

import (
	"fmt"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	coredatabase "github.com/m3rciful/dialogbot/core/database"
)

// Config is the full application configuration file.
type Config struct {
	coreconfig.Config `yaml:",inline"`
	Database          coredatabase.Config `yaml:"database"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// LoadConfig reads path, applies .env and environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the core sections and derives the database settings
// from the storage backend.
func (c *Config) Normalize() error {
	if err := coreconfig.Normalize(&c.Config); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case coreconfig.BackendSQLite:
		c.Database.Driver = coredatabase.DriverSQLite
		c.Database.Path = c.Storage.SQLitePath
	case coreconfig.BackendPostgres:
		c.Database.Driver = coredatabase.DriverPostgres
		if c.Database.Host == "" || c.Database.Name == "" {
			return fmt.Errorf("database.host and database.name are required when storage.backend is 'postgres'")
		}
		if c.Database.Port == "" {
			c.Database.Port = "5432"
		}
	}
	return nil
}

// DatabaseConfig returns the SQL settings, or nil when the backend stores
// state elsewhere.
func (c *Config) DatabaseConfig() *coredatabase.Config {
	switch c.Storage.Backend {
	case coreconfig.BackendPostgres, coreconfig.BackendSQLite:
		db := c.Database
		return &db
	}
	return nil
}
