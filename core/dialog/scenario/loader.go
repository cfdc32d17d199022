package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/m3rciful/dialogbot/core/logger"
)

const component = "dialog.scenario"

// Source yields the scenario currently in effect.
type Source interface {
	Scenario() *Scenario
}

type static struct{ sc *Scenario }

func (s static) Scenario() *Scenario { return s.sc }

// Static wraps a fixed scenario as a Source.
func Static(sc *Scenario) Source { return static{sc: sc} }

// LoadFile reads and parses a scenario document and returns its validation report.
func LoadFile(path string) (*Scenario, []Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario: read %q: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("scenario: load %q: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = filepath.Base(path)
	}
	return sc, sc.Validate(), nil
}

// Loader serves a scenario loaded from disk and can hot-reload it.
// A reload that fails to parse keeps the previous scenario in effect.
type Loader struct {
	path    string
	current atomic.Pointer[Scenario]
}

// NewLoader loads path once and returns a Loader serving it.
func NewLoader(ctx context.Context, path string) (*Loader, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: resolve %q: %w", path, err)
	}
	l := &Loader{path: abs}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Scenario returns the scenario currently in effect.
func (l *Loader) Scenario() *Scenario {
	return l.current.Load()
}

// Reload re-reads the file and swaps the scenario in on success.
func (l *Loader) Reload(ctx context.Context) error {
	start := time.Now()
	sc, issues, err := LoadFile(l.path)
	if err != nil {
		logger.Error(ctx, component, "scenario.load",
			slog.String("status", "fail"),
			slog.String("path", l.path),
			slog.String("err", err.Error()),
		)
		return err
	}
	for _, issue := range issues {
		level := logger.Warn
		if issue.Severity == SeverityError {
			level = logger.Error
		}
		level(ctx, component, "scenario.issue",
			slog.String("step", issue.StepID),
			slog.String("severity", string(issue.Severity)),
			slog.String("cause", issue.Message),
		)
	}
	l.current.Store(sc)
	logger.Info(ctx, component, "scenario.load",
		slog.String("status", "ok"),
		slog.String("path", l.path),
		slog.String("name", sc.Name),
		slog.String("version", sc.Version),
		slog.Int("count", len(sc.Steps)),
		slog.Int("issues", len(issues)),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Watch reloads the scenario whenever its file is written or replaced.
// It blocks until ctx is done.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("scenario: create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("scenario: watch dir %q: %w", dir, err)
	}
	logger.Info(ctx, component, "scenario.watch", slog.String("path", l.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != l.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				_ = l.Reload(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, component, "scenario.watch",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}
}
