package llm

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy configures the opt-in retry transport. Only 429 and 5xx
// responses are retried; transport errors are returned as is.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy returns standard retry settings.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxRetries <= 0 {
		p.MaxRetries = d.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// newBackOff returns the delay schedule for one request: exponential with
// jitter, capped at MaxDelay, stopping after MaxRetries.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxRetries))
}

// retryTransport retries requests that received a 429 or 5xx status.
// The request body is replayed through GetBody.
type retryTransport struct {
	next   http.RoundTripper
	policy RetryPolicy
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	b := t.policy.newBackOff()

	for attempt := 1; ; attempt++ {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		delay := nextDelay(b, t.policy.MaxDelay)
		if delay == backoff.Stop {
			return resp, nil
		}
		// Retry-After only stretches the next wait.
		if ra := parseRetryAfter(resp); ra > delay && ra < t.policy.MaxDelay {
			delay = ra
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		zerolog.Ctx(ctx).Warn().
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("url", req.URL.Redacted()).
			Msg("retrying llm request")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if req.Body != nil {
			if req.GetBody == nil {
				return nil, errBodyNotReplayable
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(ctx)
			req.Body = body
		}
	}
}

type retryError string

func (e retryError) Error() string { return string(e) }

const errBodyNotReplayable = retryError("retry: request body cannot be replayed")

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// nextDelay is the next wait from b, never above maxDelay. It returns
// backoff.Stop once the retries are used up.
func nextDelay(b backoff.BackOff, maxDelay time.Duration) time.Duration {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	return min(d, maxDelay)
}

// parseRetryAfter extracts the Retry-After header value as a duration.
// Supports integer seconds format. Returns 0 if not present or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	val := resp.Header.Get("Retry-After")
	if val == "" {
		return 0
	}
	seconds, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
