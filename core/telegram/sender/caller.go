// Package sender runs outbound Bot API calls with a bounded retry budget.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/netutil"
)

const component = "tg.sender"

var errNilCall = errors.New("sender: nil call")

// Options controls the retry policy of outbound calls.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single call.
	MaxDuration time.Duration
	// MaxFloodWait caps how long a flood-control answer may delay a retry.
	MaxFloodWait time.Duration
}

func (o Options) withDefaults() Options {
	o.MaxRetries = max(o.MaxRetries, 0)
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 12 * time.Second
	}
	if o.MaxFloodWait <= 0 {
		o.MaxFloodWait = 5 * time.Second
	}
	return o
}

// Caller executes calls synchronously. Transient failures are retried with
// linear backoff, flood-control answers wait as long as the server asks.
type Caller struct {
	opts  Options
	fails atomic.Uint64
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Caller {
	return &Caller{opts: opts.withDefaults(), sleep: sleep}
}

// ErrorCount returns the number of calls that failed for good.
func (c *Caller) ErrorCount() uint64 {
	return c.fails.Load()
}

// Do runs fn until it succeeds, fails permanently, or the budget is spent,
// and returns the last error.
func (c *Caller) Do(ctx context.Context, action, endpoint string, fn func() error) error {
	if fn == nil {
		return errNilCall
	}
	if ctx == nil {
		ctx = context.Background()
	}
	budget, cancel := context.WithTimeout(ctx, c.opts.MaxDuration)
	defer cancel()

	attrs := []slog.Attr{slog.String("action", action)}
	if endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", endpoint))
	}

	start := time.Now()
	attempt := 0
	var err error
	for {
		attempt++
		if err = fn(); err == nil {
			c.logSuccess(ctx, attrs, attempt, start)
			return nil
		}
		delay, ok := c.nextDelay(err, attempt)
		if !ok {
			break
		}
		logger.Debug(ctx, component, "send.retry",
			append(attrs,
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("err_kind", string(netutil.Classify(err))),
			)...,
		)
		if waitErr := c.sleep(budget, delay); waitErr != nil {
			err = errors.Join(err, waitErr)
			break
		}
	}

	c.fails.Add(1)
	logger.Error(ctx, component, "send.fail",
		append(attrs,
			slog.String("status", "fail"),
			slog.String("err_kind", string(netutil.Classify(err))),
			slog.String("err", netutil.Redact(err)),
			slog.Int("attempts", attempt),
			slog.Duration("duration", logger.Took(start)),
		)...,
	)
	return err
}

// nextDelay decides whether attempt may be followed by another one.
func (c *Caller) nextDelay(err error, attempt int) (time.Duration, bool) {
	if attempt > c.opts.MaxRetries {
		return 0, false
	}
	wait, retry := netutil.RetryAfter(err)
	switch {
	case !retry:
		return 0, false
	case wait > c.opts.MaxFloodWait:
		return 0, false
	case wait > 0:
		return wait, true
	}
	return netutil.Backoff(c.opts.RetryBackoff, attempt), true
}

func (c *Caller) logSuccess(ctx context.Context, attrs []slog.Attr, attempt int, start time.Time) {
	attrs = append(attrs, slog.Int("attempt", attempt), slog.Duration("duration", logger.Took(start)))
	if attempt > 1 {
		logger.Info(ctx, component, "send.recovered", attrs...)
		return
	}
	logger.Debug(ctx, component, "send.ok", attrs...)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
