package llm

import "time"

// ModelOptions holds generation parameters shared by every vendor, plus
// vendor-specific options in Provider.
type ModelOptions[P any] struct {
	Model       string
	System      string
	Reasoning   *bool
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Provider    P
}

// NewModelOptions returns options for the given model.
func NewModelOptions[P any](model string) ModelOptions[P] {
	return ModelOptions[P]{Model: model}
}

// WithSystem returns a copy with system instructions set.
func (o ModelOptions[P]) WithSystem(system string) ModelOptions[P] {
	o.System = system
	return o
}

// WithReasoning returns a copy with the reasoning flag set.
func (o ModelOptions[P]) WithReasoning(enabled bool) ModelOptions[P] {
	o.Reasoning = &enabled
	return o
}

// WithTemperature returns a copy with temperature set.
func (o ModelOptions[P]) WithTemperature(t float64) ModelOptions[P] {
	o.Temperature = &t
	return o
}

// WithTopP returns a copy with top_p set.
func (o ModelOptions[P]) WithTopP(p float64) ModelOptions[P] {
	o.TopP = &p
	return o
}

// WithMaxTokens returns a copy with the output token limit set.
func (o ModelOptions[P]) WithMaxTokens(n int) ModelOptions[P] {
	o.MaxTokens = &n
	return o
}

// WithProvider returns a copy with vendor-specific options set.
func (o ModelOptions[P]) WithProvider(p P) ModelOptions[P] {
	o.Provider = p
	return o
}

func (o ModelOptions[P]) reasoningEnabled() bool {
	return o.Reasoning != nil && *o.Reasoning
}

func (o ModelOptions[P]) validate() error {
	if o.Model == "" {
		return ErrModelRequired
	}
	return nil
}

// TransportOptions configures the HTTP client used by an adapter.
type TransportOptions struct {
	// Timeout bounds a whole request, including reading a stream. Zero means none.
	Timeout time.Duration
	// Proxy is a proxy URL. Empty uses the environment.
	Proxy string
	// Headers are added to every outbound request.
	Headers map[string]string
	// Retry enables retrying 429 and 5xx responses. Nil disables retry.
	Retry *RetryPolicy
}

// OpenAIOptions are options specific to OpenAI-compatible endpoints.
type OpenAIOptions struct {
	ReasoningEffort  string         `json:"reasoning_effort,omitempty"`
	Seed             *int           `json:"seed,omitempty"`
	Stop             []string       `json:"stop,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	User             string         `json:"user,omitempty"`
	ResponseFormat   map[string]any `json:"response_format,omitempty"`
	// Extra is merged into the request body as top-level fields.
	Extra map[string]any `json:"-"`
}

// AnthropicOptions are options specific to the Anthropic Messages API.
type AnthropicOptions struct {
	TopK           *int              `json:"top_k,omitempty"`
	StopSequences  []string          `json:"stop_sequences,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ThinkingBudget int               `json:"thinking_budget,omitempty"`
}

// GeminiOptions are options specific to the Gemini API.
type GeminiOptions struct {
	TopK           *float64 `json:"top_k,omitempty"`
	StopSequences  []string `json:"stop_sequences,omitempty"`
	ThinkingBudget *int     `json:"thinking_budget,omitempty"`
}
