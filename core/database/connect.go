package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/m3rciful/dialogbot/core/logger"
)

const (
	component      = "db"
	connectTimeout = 5 * time.Second
	waitInterval   = 2 * time.Second
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Connect opens and pings the database described by cfg and sizes its pool.
// SQLite always gets a single connection.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	driver := cfg.DriverName()
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("db connect: unsupported driver %q", driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	start := time.Now()
	db, err := sqlx.ConnectContext(pingCtx, driver, cfg.DSN())
	if err != nil {
		logger.Error(ctx, component, "db.connect",
			slog.String("status", "fail"),
			slog.String("driver", driver),
			slog.String("host", cfg.target()),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("db connect: %w", err)
	}

	pool := cfg.MaxConnections
	if driver == DriverSQLite {
		pool = 1
	}
	if pool > 0 {
		db.SetMaxOpenConns(pool)
		db.SetMaxIdleConns(pool)
	}

	logger.Info(ctx, component, "db.connect",
		slog.String("status", "ok"),
		slog.String("driver", driver),
		slog.String("host", cfg.target()),
		slog.Int("pool", pool),
		slog.Duration("duration", logger.Took(start)),
	)
	return db, nil
}

// WaitFor calls Connect every couple of seconds until it succeeds, ctx is
// done or timeout elapses.
func WaitFor(ctx context.Context, cfg Config, timeout time.Duration) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(waitInterval)
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		db, err := Connect(ctx, cfg)
		if err == nil {
			return db, nil
		}
		logger.Warn(ctx, component, "db.wait",
			slog.String("status", "retry"),
			slog.Int("attempts", attempt),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("db wait: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}
