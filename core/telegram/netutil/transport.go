package netutil

import (
	"net/http"
	"time"
)

// Backoff is the linear delay before retry number attempt.
func Backoff(step time.Duration, attempt int) time.Duration {
	if step <= 0 || attempt <= 0 {
		return 0
	}
	return step * time.Duration(attempt)
}

// RetryTransport repeats requests that failed at the network layer. HTTP
// responses, even errors, are returned as they are.
type RetryTransport struct {
	Base    http.RoundTripper
	Retries int
	Backoff time.Duration
	// OnRetry is called before each repeated attempt.
	OnRetry func(req *http.Request, attempt int, err error)
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	for attempt := 1; ; attempt++ {
		resp, err := base.RoundTrip(req)
		if err == nil || attempt > t.Retries || !Classify(err).Network() {
			return resp, err
		}
		next, rewindErr := rewind(req)
		if rewindErr != nil {
			return nil, err
		}
		if t.OnRetry != nil {
			t.OnRetry(req, attempt, err)
		}
		if d := Backoff(t.Backoff, attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			case <-timer.C:
			}
		}
		req = next
	}
}

// rewind clones req with a fresh body so it can be sent again.
func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody {
		return next, nil
	}
	if req.GetBody == nil {
		return nil, http.ErrBodyNotAllowed
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	next.Body = body
	return next, nil
}
