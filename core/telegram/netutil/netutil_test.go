package netutil

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"cancelled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.telegram.org"}, KindDNS},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", IsTimeout: true}, KindTimeout},
		{"dial", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, KindDial},
		{"wrapped dial", &url.Error{Op: "Post", URL: "x", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, KindDial},
		{"flood", tele.FloodError{RetryAfter: 3}, KindFlood},
		{"server", &tele.Error{Code: 502}, KindServer},
		{"client", &tele.Error{Code: 403}, KindClient},
		{"parsed code", errors.New("telegram: strange failure (409)"), KindClient},
		{"unknown", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	wait, ok := RetryAfter(tele.FloodError{RetryAfter: 2})
	require.True(t, ok)
	require.Equal(t, 2*time.Second, wait)

	wait, ok = RetryAfter(&tele.Error{Code: 500})
	require.True(t, ok)
	require.Zero(t, wait)

	_, ok = RetryAfter(&tele.Error{Code: 400})
	require.False(t, ok)

	_, ok = RetryAfter(context.Canceled)
	require.False(t, ok)
}

func TestRedactMasksToken(t *testing.T) {
	err := errors.New(`Post "https://api.telegram.org/bot123456:AAbbccddeeffgghhiijjkk_-/sendMessage": timeout`)
	require.Equal(t, `Post "https://api.telegram.org/bot<token>/sendMessage": timeout`, Redact(err))
	require.Empty(t, Redact(nil))
	require.Equal(t, "telegram: flood control, retry after 7s", Redact(tele.FloodError{RetryAfter: 7}))
}

func TestBackoff(t *testing.T) {
	require.Zero(t, Backoff(time.Second, 0))
	require.Zero(t, Backoff(0, 3))
	require.Equal(t, 3*time.Second, Backoff(time.Second, 3))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRetryTransportRepeatsNetworkFailures(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) < 3 {
			return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
		}
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})
	var retried []int
	rt := &RetryTransport{Base: base, Retries: 2, OnRetry: func(_ *http.Request, attempt int, _ error) {
		retried = append(retried, attempt)
	}}

	req, err := http.NewRequest(http.MethodPost, "http://bot.test/sendMessage", strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []int{1, 2}, retried)
	require.Equal(t, []string{"payload", "payload", "payload"}, bodies)
}

func TestRetryTransportGivesUp(t *testing.T) {
	var calls atomic.Int32
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	rt := &RetryTransport{Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, dialErr
	}), Retries: 1}

	req, err := http.NewRequest(http.MethodGet, "http://bot.test/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, int32(2), calls.Load())
}

func TestRetryTransportSkipsOtherFailures(t *testing.T) {
	var calls atomic.Int32
	rt := &RetryTransport{Base: roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("malformed")
	}), Retries: 3}

	req, err := http.NewRequest(http.MethodGet, "http://bot.test/getMe", nil)
	require.NoError(t, err)
	_, err = rt.RoundTrip(req)
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}
