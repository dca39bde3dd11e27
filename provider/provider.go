// Package provider maps vendor names to configured llm clients.
package provider

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lowkaihon/unai/llm"
)

// Kind is the wire protocol a vendor speaks.
type Kind string

const (
	KindOpenAI    Kind = "openai"
	KindAnthropic Kind = "anthropic"
	KindGemini    Kind = "gemini"
)

// Info describes one vendor.
type Info struct {
	Name         string
	Kind         Kind
	BaseURL      string
	KeyEnv       string
	DefaultModel string
	NeedsKey     bool
}

var registry = map[string]Info{
	"openai":     {Name: "openai", Kind: KindOpenAI, BaseURL: "https://api.openai.com/v1", KeyEnv: "OPENAI_API_KEY", DefaultModel: "gpt-4o", NeedsKey: true},
	"anthropic":  {Name: "anthropic", Kind: KindAnthropic, BaseURL: "https://api.anthropic.com/v1", KeyEnv: "ANTHROPIC_API_KEY", DefaultModel: "claude-sonnet-4-20250514", NeedsKey: true},
	"gemini":     {Name: "gemini", Kind: KindGemini, BaseURL: "https://generativelanguage.googleapis.com/v1beta", KeyEnv: "GEMINI_API_KEY", DefaultModel: "gemini-2.5-flash", NeedsKey: true},
	"deepseek":   {Name: "deepseek", Kind: KindOpenAI, BaseURL: "https://api.deepseek.com/v1", KeyEnv: "DEEPSEEK_API_KEY", DefaultModel: "deepseek-chat", NeedsKey: true},
	"fireworks":  {Name: "fireworks", Kind: KindOpenAI, BaseURL: "https://api.fireworks.ai/inference/v1", KeyEnv: "FIREWORKS_API_KEY", DefaultModel: "accounts/fireworks/models/llama-v3p1-70b-instruct", NeedsKey: true},
	"groq":       {Name: "groq", Kind: KindOpenAI, BaseURL: "https://api.groq.com/openai/v1", KeyEnv: "GROQ_API_KEY", DefaultModel: "openai/gpt-oss-20b", NeedsKey: true},
	"hyperbolic": {Name: "hyperbolic", Kind: KindOpenAI, BaseURL: "https://api.hyperbolic.xyz/v1", KeyEnv: "HYPERBOLIC_API_KEY", DefaultModel: "meta-llama/Meta-Llama-3-70B-Instruct", NeedsKey: true},
	"mistral":    {Name: "mistral", Kind: KindOpenAI, BaseURL: "https://api.mistral.ai/v1", KeyEnv: "MISTRAL_API_KEY", DefaultModel: "mistral-small-latest", NeedsKey: true},
	"moonshot":   {Name: "moonshot", Kind: KindOpenAI, BaseURL: "https://api.moonshot.cn/v1", KeyEnv: "MOONSHOT_API_KEY", DefaultModel: "moonshot-v1-8k", NeedsKey: true},
	"ollama":     {Name: "ollama", Kind: KindOpenAI, BaseURL: "http://localhost:11434/v1", KeyEnv: "OLLAMA_API_KEY", DefaultModel: "llama3"},
	"openrouter": {Name: "openrouter", Kind: KindOpenAI, BaseURL: "https://openrouter.ai/api/v1", KeyEnv: "OPENROUTER_API_KEY", DefaultModel: "openai/gpt-4o-mini", NeedsKey: true},
	"perplexity": {Name: "perplexity", Kind: KindOpenAI, BaseURL: "https://api.perplexity.ai", KeyEnv: "PERPLEXITY_API_KEY", DefaultModel: "sonar", NeedsKey: true},
	"together":   {Name: "together", Kind: KindOpenAI, BaseURL: "https://api.together.xyz/v1", KeyEnv: "TOGETHER_API_KEY", DefaultModel: "meta-llama/Llama-3.3-70B-Instruct-Turbo", NeedsKey: true},
	"xai":        {Name: "xai", Kind: KindOpenAI, BaseURL: "https://api.x.ai/v1", KeyEnv: "XAI_API_KEY", DefaultModel: "grok-3-mini", NeedsKey: true},
}

// List returns every known vendor sorted by name.
func List() []Info {
	out := make([]Info, 0, len(registry))
	for _, info := range registry {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted vendor names.
func Names() []string {
	infos := List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names
}

// Lookup returns the vendor registered under name, case-insensitively.
func Lookup(name string) (Info, bool) {
	info, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	return info, ok
}

// Settings are the caller-supplied values used to build a client. Empty
// BaseURL and Model fall back to the vendor defaults.
type Settings struct {
	APIKey      string
	BaseURL     string
	Model       string
	System      string
	Reasoning   *bool
	Temperature *float64
	TopP        *float64
	MaxTokens   *int

	OpenAI    llm.OpenAIOptions
	Anthropic llm.AnthropicOptions
	Gemini    llm.GeminiOptions
}

// NewClient builds a streaming client for the named vendor.
func NewClient(name string, s Settings, transport llm.TransportOptions) (llm.StreamingClient, error) {
	info, ok := Lookup(name)
	if !ok {
		return nil, &llm.ConfigError{Msg: fmt.Sprintf("unknown provider %q (known: %s)", name, strings.Join(Names(), ", "))}
	}
	if info.NeedsKey && s.APIKey == "" {
		return nil, &llm.ConfigError{Msg: fmt.Sprintf("%s requires an API key (set %s)", info.Name, info.KeyEnv)}
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = info.BaseURL
	}
	model := s.Model
	if model == "" {
		model = info.DefaultModel
	}

	var (
		client llm.StreamingClient
		err    error
	)
	switch info.Kind {
	case KindAnthropic:
		client, err = llm.NewAnthropicClient(s.APIKey, baseURL, modelOptions(model, s, s.Anthropic), transport)
	case KindGemini:
		client, err = llm.NewGeminiClient(s.APIKey, baseURL, modelOptions(model, s, s.Gemini), transport)
	default:
		client, err = llm.NewOpenAIClient(info.Name, s.APIKey, baseURL, modelOptions(model, s, s.OpenAI), transport)
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

func modelOptions[P any](model string, s Settings, vendor P) llm.ModelOptions[P] {
	return llm.ModelOptions[P]{
		Model:       model,
		System:      s.System,
		Reasoning:   s.Reasoning,
		Temperature: s.Temperature,
		TopP:        s.TopP,
		MaxTokens:   s.MaxTokens,
		Provider:    vendor,
	}
}
