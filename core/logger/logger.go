// Package logger emits one structured line per event. Every line carries a
// component and an event name plus whatever dialog identity the context
// holds (see Meta). Output is JSON in production and key=value in debug
// profiles, written asynchronously to stdout and an optional file.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/m3rciful/dialogbot/core/buildinfo"
	coreconfig "github.com/m3rciful/dialogbot/core/config"
)

var (
	base atomic.Pointer[slog.Logger]

	initOnce sync.Once
	level    slog.LevelVar
	sampler  = newRatioSampler(defaultSampleNum, defaultSampleDen)
	trace    atomic.Bool

	closeMu sync.Mutex
	closed  bool
	out     *asyncWriter
	files   []io.Closer
)

func init() {
	base.Store(slog.New(slog.DiscardHandler))
}

// InitLogger installs the process logger described by cfg. Only the first
// call has an effect; until then all events are discarded.
func InitLogger(cfg *coreconfig.Config) error {
	var err error
	initOnce.Do(func() {
		opts := optionsFrom(cfg)
		level.Set(opts.level)
		sampler.Set(opts.sampleNum, opts.sampleDen)
		trace.Store(opts.trace)

		sinks, closers, openErr := opts.openSinks()
		if openErr != nil {
			err = openErr
			return
		}
		files = closers
		out = newAsyncWriter(sinks, 64*1024)

		l := slog.New(newStructuredHandler(handlerConfig{
			level:    &level,
			writer:   out,
			format:   opts.format,
			keyOrder: opts.keyOrder,
		}))
		base.Store(l)
		slog.SetDefault(l)

		logStartup(cfg, opts)
	})
	return err
}

func logStartup(cfg *coreconfig.Config, opts options) {
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("version", buildinfo.Version),
		slog.String("build_commit", buildinfo.Commit),
		slog.String("build_time", buildinfo.Date),
		slog.String("go_version", runtime.Version()),
		slog.String("profile", opts.profile),
	}
	if cfg != nil {
		attrs = append(attrs,
			slog.String("bot_id", cfg.Dialog.BotID),
			slog.String("backend", cfg.Storage.Backend),
		)
	}
	Info(context.Background(), "app", "startup", attrs...)
}

// Shutdown flushes pending lines and closes log files. Later events are
// dropped.
func Shutdown() error {
	closeMu.Lock()
	defer closeMu.Unlock()
	if closed {
		return nil
	}
	closed = true

	var errs []error
	if out != nil {
		errs = append(errs, out.Flush(), out.Close())
	}
	for _, f := range files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// Background is the root context for events outside any update.
func Background() context.Context {
	return context.Background()
}

// Component returns the process logger tagged with name.
func Component(name string) *slog.Logger {
	l := base.Load()
	if name = strings.TrimSpace(name); name != "" {
		l = l.With("component", name)
	}
	return l
}

func emit(ctx context.Context, component string, lvl slog.Level, event string, attrs []slog.Attr) {
	l := FromContext(ctx)
	if !l.Enabled(ctx, lvl) {
		return
	}
	head := make([]slog.Attr, 0, len(attrs)+2)
	if component = strings.TrimSpace(component); component != "" {
		head = append(head, slog.String("component", component))
	}
	if event != "" {
		head = append(head, slog.String("event", event))
	}
	l.LogAttrs(ctx, lvl, event, append(head, attrs...)...)
}

// Debug logs event at debug level.
func Debug(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelDebug, event, attrs)
}

// Info logs event at info level.
func Info(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelInfo, event, attrs)
}

// Warn logs event at warn level.
func Warn(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelWarn, event, attrs)
}

// Error logs event at error level.
func Error(ctx context.Context, component, event string, attrs ...slog.Attr) {
	emit(ctx, component, slog.LevelError, event, attrs)
}

// ShouldSampleDebug reports whether a high-volume debug event should be
// written. TRACE=1 lets every event through.
func ShouldSampleDebug() bool {
	return trace.Load() || sampler.Allow()
}
