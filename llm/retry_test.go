package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func retryClient(t *testing.T, policy RetryPolicy) *http.Client {
	t.Helper()
	c, err := NewHTTPClient(TransportOptions{Retry: &policy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestRetryTransport_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	resp, err := retryClient(t, *DefaultRetryPolicy()).Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRetryTransport_429ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			w.WriteHeader(429)
			w.Write([]byte(`rate limited`))
			return
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	resp, err := retryClient(t, policy).Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRetryTransport_ExhaustedRetriesReturnsLastResponse(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(503)
		w.Write([]byte(`unavailable`))
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	resp, err := retryClient(t, policy).Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 503 {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "unavailable" {
		t.Errorf("expected last body to be readable, got %q", body)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRetryTransport_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(401)
		w.Write([]byte(`unauthorized`))
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	resp, err := retryClient(t, policy).Get(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 1 {
		t.Fatalf("expected 1 attempt (no retry for auth errors), got %d", calls.Load())
	}
}

func TestRetryTransport_ReplaysBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"q":1}` {
			t.Errorf("attempt %d: unexpected body %q", calls.Load()+1, body)
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	resp, err := retryClient(t, policy).Post(server.URL, "application/json", strings.NewReader(`{"q":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestRetryTransport_CancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	_, err := retryClient(t, policy).Do(req)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected errors.Is(err, context.Canceled), got %v", err)
	}
}

func TestRetryTransport_RetryAfterIsOneShot(t *testing.T) {
	// A Retry-After header only affects the immediately next attempt.
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(429)
			return
		}
		if n == 2 {
			w.WriteHeader(429)
			return
		}
		w.WriteHeader(200)
	}))
	defer server.Close()

	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 5 * time.Second}
	start := time.Now()
	resp, err := retryClient(t, policy).Get(server.URL)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if elapsed > 3*time.Second {
		t.Errorf("total elapsed %v suggests Retry-After permanently overrode backoff", elapsed)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"abc", 0},
	}
	for _, tt := range tests {
		resp := &http.Response{Header: http.Header{}}
		if tt.header != "" {
			resp.Header.Set("Retry-After", tt.header)
		}
		if got := parseRetryAfter(resp); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}

func TestNextDelayCappedAndStops(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 6, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
	b := policy.newBackOff()
	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		d := nextDelay(b, policy.MaxDelay)
		if d <= 0 || d > policy.MaxDelay {
			t.Fatalf("attempt %d: delay %v outside (0, %v]", attempt, d, policy.MaxDelay)
		}
	}
	if d := nextDelay(b, policy.MaxDelay); d != backoff.Stop {
		t.Fatalf("expected backoff.Stop after %d retries, got %v", policy.MaxRetries, d)
	}
}

func TestNextDelayGrows(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute}
	b := policy.newBackOff()
	first := nextDelay(b, policy.MaxDelay)
	nextDelay(b, policy.MaxDelay)
	third := nextDelay(b, policy.MaxDelay)
	// 100ms and 400ms before +/-25% jitter.
	if first > 125*time.Millisecond || third < 300*time.Millisecond {
		t.Errorf("expected exponential growth, got first=%v third=%v", first, third)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	if *DefaultRetryPolicy() != p {
		t.Errorf("expected defaults %+v, got %+v", *DefaultRetryPolicy(), p)
	}
}
