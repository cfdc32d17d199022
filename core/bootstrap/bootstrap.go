// Package bootstrap brings up the process-wide infrastructure: logging,
// then the SQL database and its schema when the storage backend needs one.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/dialogbot/core/config"
	coredatabase "github.com/m3rciful/dialogbot/core/database"
	"github.com/m3rciful/dialogbot/core/logger"
)

var errNilConfig = errors.New("bootstrap: nil config")

// Options configure Run. Nil hooks use the package defaults.
type Options struct {
	Config *coreconfig.Config
	// Database is nil when the storage backend needs no SQL database.
	Database *coredatabase.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(db *sqlx.DB, driver string) error
}

func (o *Options) fill() {
	if o.LoggerInit == nil {
		o.LoggerInit = logger.InitLogger
	}
	if o.Connect == nil {
		o.Connect = connect
	}
	if o.Migrate == nil {
		o.Migrate = coredatabase.RunMigrations
	}
}

// Result holds what Run brought up.
type Result struct {
	DB *sqlx.DB
}

// Close releases the database handle, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger, then connects and migrates the database when
// opts.Database is set. On failure nothing stays open.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, errNilConfig
	}
	opts.fill()

	if err := opts.LoggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: init logger: %w", err)
	}
	if opts.Database == nil {
		return &Result{}, nil
	}

	start := time.Now()
	db, err := opts.Connect(ctx, *opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect database: %w", err)
	}
	if err := opts.Migrate(db, opts.Database.DriverName()); err != nil {
		return nil, errors.Join(fmt.Errorf("bootstrap: migrate database: %w", err), db.Close())
	}
	logger.Info(ctx, "bootstrap", "bootstrap.database",
		slog.String("status", "ok"),
		slog.String("driver", opts.Database.DriverName()),
		slog.Duration("duration", logger.Took(start)),
	)
	return &Result{DB: db}, nil
}

// connect waits up to WaitSeconds for the server when set.
func connect(ctx context.Context, cfg coredatabase.Config) (*sqlx.DB, error) {
	if cfg.WaitSeconds <= 0 {
		return coredatabase.Connect(ctx, cfg)
	}
	return coredatabase.WaitFor(ctx, cfg, time.Duration(cfg.WaitSeconds)*time.Second)
}
