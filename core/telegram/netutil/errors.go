// Package netutil classifies failures of Bot API calls and retries the
// transient ones.
package netutil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/dialogbot/core/logger"
)

// Kind names the class of a failed call in logs.
type Kind string

const (
	KindNone      Kind = ""
	KindCancelled Kind = "cancelled"
	KindTimeout   Kind = "timeout"
	KindDNS       Kind = "dns"
	KindDial      Kind = "dial"
	KindTLS       Kind = "tls"
	KindFlood     Kind = "flood"
	KindServer    Kind = "http_5xx"
	KindClient    Kind = "http_4xx"
	KindUnknown   Kind = "unknown"
)

// Network reports failures that happened before any response arrived.
func (k Kind) Network() bool {
	return k == KindTimeout || k == KindDNS || k == KindDial
}

// Transient reports whether repeating the call may succeed.
func (k Kind) Transient() bool {
	return k.Network() || k == KindFlood || k == KindServer
}

// Classify inspects err, unwrapping url and net errors.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindDial
	}
	var alert tls.AlertError
	if errors.As(err, &alert) {
		return KindTLS
	}

	switch code := StatusCode(err); {
	case code == http.StatusTooManyRequests:
		return KindFlood
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindClient
	}
	return KindUnknown
}

// StatusCode extracts the Bot API status of err, or 0.
func StatusCode(err error) int {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return http.StatusTooManyRequests
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var groupErr tele.GroupError
	if errors.As(err, &groupErr) {
		return http.StatusBadRequest
	}
	if err == nil {
		return 0
	}
	// telebot formats unknown API errors as "telegram: <description> (<code>)".
	msg := err.Error()
	open, end := strings.LastIndexByte(msg, '('), strings.LastIndexByte(msg, ')')
	if open >= 0 && end > open+1 {
		if code, convErr := strconv.Atoi(strings.TrimSpace(msg[open+1 : end])); convErr == nil {
			return code
		}
	}
	return 0
}

// RetryAfter reports whether err is worth retrying and the wait the server
// asked for, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return time.Duration(flood.RetryAfter) * time.Second, true
	}
	return 0, Classify(err).Transient()
}

var tokenRe = regexp.MustCompile(`[0-9]+:[A-Za-z0-9_-]{20,}`)

// Redact renders err for logs with bot tokens masked.
func Redact(err error) string {
	if err == nil {
		return ""
	}
	msg := ""
	var flood tele.FloodError
	if errors.As(err, &flood) {
		msg = fmt.Sprintf("telegram: flood control, retry after %ds", flood.RetryAfter)
	} else {
		msg = tokenRe.ReplaceAllString(err.Error(), "<token>")
	}
	return logger.SanitizeLimit(msg, 256)
}
