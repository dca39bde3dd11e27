package llm

import (
	"fmt"
)

// ConfigError is a caller error detectable before any network call.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

// ErrModelRequired is returned when a request is made without a model.
var ErrModelRequired = &ConfigError{Msg: "model must be specified"}

// HTTPError is a transport-level failure: connection, TLS or timeout.
type HTTPError struct {
	Op  string
	Err error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ParseError reports malformed JSON where well-formed JSON was required.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ProviderError is a non-2xx answer from a vendor. Code and Message are set
// when the vendor error envelope could be parsed; otherwise Body holds the
// raw response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Provider, e.StatusCode, e.Body)
}

// StreamCancelledError is returned when a stream is aborted by its context.
type StreamCancelledError struct {
	Err error
}

func (e *StreamCancelledError) Error() string {
	return fmt.Sprintf("stream cancelled: %v", e.Err)
}

func (e *StreamCancelledError) Unwrap() error {
	return e.Err
}
