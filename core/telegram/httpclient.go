package telegram

import (
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/m3rciful/dialogbot/core/logger"
	"github.com/m3rciful/dialogbot/core/telegram/netutil"
)

// Transport limits for Bot API traffic.
const (
	dialTimeout       = 5 * time.Second
	keepAlive         = 30 * time.Second
	tlsTimeout        = 5 * time.Second
	headerTimeout     = 5 * time.Second
	idleTimeout       = 30 * time.Second
	requestTimeout    = 30 * time.Second
	transportRetries  = 2
	transportBackoff  = time.Second
	httpComponentName = "tg.http"
)

// BuildHTTPClient returns the client the bot talks to the Bot API with.
// Requests that never reached the server are repeated up to retries times.
func BuildHTTPClient(retries int, backoff time.Duration) *http.Client {
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: keepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   tlsTimeout,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &netutil.RetryTransport{
			Base:    base,
			Retries: max(retries, 0),
			Backoff: backoff,
			OnRetry: logTransportRetry,
		},
	}
}

func logTransportRetry(req *http.Request, attempt int, err error) {
	logger.Warn(req.Context(), httpComponentName, "http.retry",
		slog.String("endpoint", endpointOf(req)),
		slog.Int("attempt", attempt),
		slog.String("err_kind", string(netutil.Classify(err))),
		slog.String("err", netutil.Redact(err)),
	)
}

// endpointOf returns the Bot API method of req without the token segment.
func endpointOf(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return path.Base(req.URL.Path)
}
