package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

const (
	anthropicVersion          = "2023-06-01"
	defaultAnthropicMaxTokens = 1024
	defaultThinkingBudget     = 1024
)

// AnthropicClient implements StreamingClient for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	opts    ModelOptions[AnthropicOptions]
	ep      endpoint
}

// NewAnthropicClient creates a new Anthropic API client. baseURL includes
// the version path, for example https://api.anthropic.com/v1.
func NewAnthropicClient(apiKey, baseURL string, opts ModelOptions[AnthropicOptions], transport TransportOptions) (*AnthropicClient, error) {
	httpClient, err := NewHTTPClient(transport)
	if err != nil {
		return nil, err
	}
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		ep:      endpoint{provider: "anthropic", http: httpClient, parseError: parseAnthropicError},
	}, nil
}

// Anthropic-specific request/response types

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Tools         []anthropicToolDef `json:"tools,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Metadata      map[string]string  `json:"metadata,omitempty"`
	Thinking      *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	Source    *anthropicSource `json:"source,omitempty"`
	Thinking  string           `json:"thinking,omitempty"`
	Signature string           `json:"signature,omitempty"`
	Data      string           `json:"data,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   any              `json:"content,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type anthropicToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicErrorEnvelope struct {
	Type  string              `json:"type"`
	Error *anthropicErrorBody `json:"error"`
}

type anthropicErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Request sends a non-streaming request to the Anthropic API.
func (c *AnthropicClient) Request(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
	reqBody, err := c.buildRequest(ctx, messages, tools, false)
	if err != nil {
		return nil, err
	}
	var apiResp anthropicResponse
	if err := c.ep.postJSON(ctx, c.baseURL+"/messages", reqBody, c.headers(), &apiResp); err != nil {
		return nil, err
	}
	return fromAnthropicResponse(&apiResp), nil
}

func (c *AnthropicClient) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (c *AnthropicClient) buildRequest(ctx context.Context, messages []Message, tools []Tool, stream bool) (*anthropicRequest, error) {
	if err := c.opts.validate(); err != nil {
		return nil, err
	}
	req := &anthropicRequest{
		Model:         c.opts.Model,
		MaxTokens:     defaultAnthropicMaxTokens,
		System:        systemText(c.opts.System, messages),
		Messages:      toAnthropicMessages(ctx, messages),
		Stream:        stream,
		Temperature:   c.opts.Temperature,
		TopP:          c.opts.TopP,
		TopK:          c.opts.Provider.TopK,
		StopSequences: c.opts.Provider.StopSequences,
		Metadata:      c.opts.Provider.Metadata,
	}
	if c.opts.MaxTokens != nil {
		req.MaxTokens = *c.opts.MaxTokens
	}
	if c.opts.reasoningEnabled() {
		budget := c.opts.Provider.ThinkingBudget
		if budget <= 0 {
			budget = defaultThinkingBudget
		}
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: budget}
		// The API requires max_tokens to exceed the thinking budget.
		if req.MaxTokens <= budget {
			req.MaxTokens = budget + defaultAnthropicMaxTokens
		}
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.schemaOrEmpty(),
		})
	}
	return req, nil
}

// toAnthropicMessages converts the canonical history. System messages are
// carried in the system field and skipped here. Consecutive messages with
// the same role are merged, since the API requires alternation.
func toAnthropicMessages(ctx context.Context, messages []Message) []anthropicMessage {
	var result []anthropicMessage
	ids := &callIDs{}

	for _, msg := range messages {
		var role string
		var blocks []anthropicContentBlock
		switch msg.Role() {
		case RoleSystem:
			continue
		case RoleUser:
			role = "user"
			blocks = anthropicUserBlocks(ctx, msg.Parts, ids)
		case RoleAssistant:
			role = "assistant"
			blocks = anthropicAssistantBlocks(msg.Parts, ids)
		}
		if len(blocks) == 0 {
			continue
		}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, blocks...)
			continue
		}
		result = append(result, anthropicMessage{Role: role, Content: blocks})
	}
	return result
}

func anthropicUserBlocks(ctx context.Context, parts []Part, ids *callIDs) []anthropicContentBlock {
	var blocks []anthropicContentBlock
	for _, p := range parts {
		switch v := p.(type) {
		case Text:
			if v.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: v.Content})
			}
		case Media:
			if b, ok := anthropicMediaBlock(v); ok {
				blocks = append(blocks, b)
			} else {
				zerolog.Ctx(ctx).Warn().Str("mime_type", v.MIMEType).Msg("media type not supported by anthropic, dropped")
			}
		case FunctionResponse:
			block := anthropicContentBlock{
				Type:      "tool_result",
				ToolUseID: ids.forResponse(v.ID),
				Content:   responseText(v.Response),
			}
			if len(v.Parts) > 0 {
				nested := []anthropicContentBlock{{Type: "text", Text: responseText(v.Response)}}
				for _, np := range v.Parts {
					if m, ok := np.(Media); ok {
						if b, ok := anthropicMediaBlock(m); ok {
							nested = append(nested, b)
						}
					}
				}
				block.Content = nested
			}
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func anthropicAssistantBlocks(parts []Part, ids *callIDs) []anthropicContentBlock {
	var blocks []anthropicContentBlock
	for _, p := range parts {
		switch v := p.(type) {
		case Text:
			if v.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: v.Content})
			}
		case Reasoning:
			switch {
			case v.Content != "":
				blocks = append(blocks, anthropicContentBlock{Type: "thinking", Thinking: v.Content, Signature: v.Signature})
			case v.Signature != "":
				blocks = append(blocks, anthropicContentBlock{Type: "redacted_thinking", Data: v.Signature})
			}
		case FunctionCall:
			blocks = append(blocks, anthropicContentBlock{
				Type:  "tool_use",
				ID:    ids.forCall(v.ID),
				Name:  v.Name,
				Input: argumentsOrEmpty(v.Arguments),
			})
		}
	}
	return blocks
}

func anthropicMediaBlock(m Media) (anthropicContentBlock, bool) {
	var blockType string
	switch m.Type {
	case MediaImage:
		blockType = "image"
	case MediaDocument:
		blockType = "document"
	case MediaText:
		if s, ok := decodeTextMedia(m); ok {
			return anthropicContentBlock{Type: "text", Text: s}, true
		}
		return anthropicContentBlock{}, false
	default:
		return anthropicContentBlock{}, false
	}
	if m.URI != "" {
		return anthropicContentBlock{Type: blockType, Source: &anthropicSource{Type: "url", URL: m.URI}}, true
	}
	return anthropicContentBlock{
		Type:   blockType,
		Source: &anthropicSource{Type: "base64", MediaType: m.MIMEType, Data: m.Data},
	}, true
}

func fromAnthropicResponse(resp *anthropicResponse) *Response {
	var parts []Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			parts = append(parts, Text{Content: block.Text, Finished: true})
		case "thinking":
			parts = append(parts, Reasoning{Content: block.Thinking, Signature: block.Signature, Finished: true})
		case "redacted_thinking":
			parts = append(parts, Reasoning{Signature: block.Data, Finished: true})
		case "tool_use":
			parts = append(parts, FunctionCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: argumentsOrEmpty(block.Input),
				Finished:  true,
			})
		}
	}

	out := &Response{
		Finish: anthropicFinishReason(resp.StopReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}
	if len(parts) > 0 {
		out.Data = []Message{Assistant(parts...)}
	}
	return out
}

func anthropicFinishReason(s string) FinishReason {
	switch s {
	case "end_turn", "stop_sequence", "pause_turn":
		return FinishStop
	case "max_tokens":
		return FinishOutputTokens
	case "tool_use":
		return FinishToolCalls
	case "refusal":
		return FinishContentFilter
	default:
		return FinishStop
	}
}

func parseAnthropicError(status int, body []byte) *ProviderError {
	var env anthropicErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.Message == "" {
		return nil
	}
	return &ProviderError{StatusCode: status, Code: env.Error.Type, Message: env.Error.Message}
}
