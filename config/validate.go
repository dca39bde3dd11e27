package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lowkaihon/unai/provider"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError collects every problem found by Validate.
type MultiValidationError struct {
	Errors []ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// MissingKey reports whether the selected provider needs a key and none
// was found.
func (c *Config) MissingKey() bool {
	info, ok := provider.Lookup(c.Provider)
	return ok && info.NeedsKey && c.APIKey == ""
}

// Validate checks c and returns a *MultiValidationError listing every
// problem, or nil.
func (c *Config) Validate() error {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if info, ok := provider.Lookup(c.Provider); !ok {
		add("provider", "unknown provider %q (known: %s)", c.Provider, strings.Join(provider.Names(), ", "))
	} else if info.NeedsKey && c.APIKey == "" {
		add("api_key", "%s requires an API key (set %s)", info.Name, info.KeyEnv)
	}

	if c.MaxIterations < 0 {
		add("max_iterations", "must not be negative")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		add("temperature", "must be between 0 and 2")
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		add("top_p", "must be between 0 and 1")
	}
	if c.MaxTokens != nil && *c.MaxTokens <= 0 {
		add("max_tokens", "must be positive")
	}
	if c.Transport.Timeout < 0 {
		add("transport.timeout", "must not be negative")
	}
	if c.Log.Level != "" {
		if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
			add("log.level", "unknown level %q", c.Log.Level)
		}
	}

	seen := make(map[string]bool, len(c.MCPServers))
	for i, s := range c.MCPServers {
		field := fmt.Sprintf("mcp_servers[%d]", i)
		switch {
		case s.ID == "":
			add(field+".id", "id is required")
		case seen[s.ID]:
			add(field+".id", "duplicate server id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Command == "" {
			add(field+".command", "command is required")
		}
	}

	switch c.Sessions.Backend {
	case "", BackendFile:
	case BackendMongo:
		if c.Sessions.Mongo.URI == "" {
			add("sessions.mongo.uri", "uri is required for the mongo backend")
		}
	default:
		add("sessions.backend", "backend must be %q or %q", BackendFile, BackendMongo)
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
