package sender

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func newTestCaller(retries int) (*Caller, *[]time.Duration) {
	c := New(Options{MaxRetries: retries, RetryBackoff: 10 * time.Millisecond})
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return c, &delays
}

func TestCallerRetriesTransientErrorsWithLinearBackoff(t *testing.T) {
	c, delays := newTestCaller(3)
	calls := 0
	err := c.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls++
		if calls < 3 {
			return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *delays)
	require.Zero(t, c.ErrorCount())
}

func TestCallerStopsOnPermanentError(t *testing.T) {
	c, delays := newTestCaller(3)
	calls := 0
	apiErr := &tele.Error{Code: 400, Description: "Bad Request: chat not found"}
	err := c.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls++
		return apiErr
	})
	require.ErrorIs(t, err, apiErr)
	require.Equal(t, 1, calls)
	require.Empty(t, *delays)
	require.Equal(t, uint64(1), c.ErrorCount())
}

func TestCallerGivesUpAfterBudget(t *testing.T) {
	c, delays := newTestCaller(2)
	calls := 0
	err := c.Do(context.Background(), "send.photo", "sendPhoto", func() error {
		calls++
		return &tele.Error{Code: 502, Description: "Bad Gateway"}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, *delays, 2)
	require.Equal(t, uint64(1), c.ErrorCount())
}

func TestCallerHonoursFloodWait(t *testing.T) {
	c, delays := newTestCaller(1)
	calls := 0
	err := c.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls++
		if calls == 1 {
			return tele.FloodError{RetryAfter: 2}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []time.Duration{2 * time.Second}, *delays)
}

func TestCallerStopsWhenFloodWaitTooLong(t *testing.T) {
	c, delays := newTestCaller(3)
	calls := 0
	err := c.Do(context.Background(), "send.text", "sendMessage", func() error {
		calls++
		return tele.FloodError{RetryAfter: 60}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.Empty(t, *delays)
}

func TestCallerRejectsNilCall(t *testing.T) {
	c, _ := newTestCaller(0)
	require.ErrorIs(t, c.Do(context.Background(), "send.text", "", nil), errNilCall)
}
