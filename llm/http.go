package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

// NewHTTPClient builds the HTTP client used by the adapters.
func NewHTTPClient(opts TransportOptions) (*http.Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		u, err := url.Parse(opts.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, &ConfigError{Msg: fmt.Sprintf("invalid proxy URL %q", opts.Proxy)}
		}
		base.Proxy = http.ProxyURL(u)
	}

	var rt http.RoundTripper = base
	if opts.Retry != nil {
		rt = &retryTransport{next: rt, policy: opts.Retry.withDefaults()}
	}
	if len(opts.Headers) > 0 {
		rt = &headerTransport{next: rt, headers: opts.Headers}
	}
	return &http.Client{Timeout: opts.Timeout, Transport: rt}, nil
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.next.RoundTrip(req)
}

// endpoint is the HTTP plumbing shared by the vendor adapters.
type endpoint struct {
	provider string
	http     *http.Client
	// parseError decodes the vendor error envelope. It returns nil when the
	// body is not a recognizable envelope.
	parseError func(status int, body []byte) *ProviderError
}

// post sends body as JSON. On success the caller owns the response body.
func (e *endpoint) post(ctx context.Context, url string, body any, headers map[string]string) (*http.Response, error) {
	log := zerolog.Ctx(ctx)

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	log.Debug().Str("provider", e.provider).RawJSON("body", bodyBytes).Msg("llm request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, &HTTPError{Op: "http request", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer closeLogged(ctx, resp.Body, "close error response body")
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &HTTPError{Op: "read response", Err: err}
		}
		return nil, e.errorFor(resp.StatusCode, respBody)
	}
	return resp, nil
}

// postJSON sends body and decodes a successful response into out.
func (e *endpoint) postJSON(ctx context.Context, url string, body any, headers map[string]string, out any) error {
	resp, err := e.post(ctx, url, body, headers)
	if err != nil {
		return err
	}
	defer closeLogged(ctx, resp.Body, "close response body")

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &HTTPError{Op: "read response", Err: err}
	}
	zerolog.Ctx(ctx).Debug().Str("provider", e.provider).Bytes("body", respBody).Msg("llm response")

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ParseError{What: "response", Err: err}
	}
	return nil
}

func (e *endpoint) errorFor(status int, body []byte) error {
	if e.parseError != nil {
		if perr := e.parseError(status, body); perr != nil {
			perr.Provider = e.provider
			perr.StatusCode = status
			return perr
		}
	}
	return &ProviderError{Provider: e.provider, StatusCode: status, Body: string(body)}
}

// closeLogged closes c and logs a failure through the context logger.
func closeLogged(ctx context.Context, c io.Closer, msg string) {
	if err := c.Close(); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg(msg)
	}
}
