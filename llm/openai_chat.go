package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	apiKey  string
	baseURL string
	opts    ModelOptions[OpenAIOptions]
	ep      endpoint
}

// NewOpenAIClient creates a client for an OpenAI-compatible API. provider
// names the vendor in errors and logs; baseURL includes the version path,
// for example https://api.openai.com/v1. An empty apiKey sends no
// Authorization header.
func NewOpenAIClient(provider, apiKey, baseURL string, opts ModelOptions[OpenAIOptions], transport TransportOptions) (*OpenAIClient, error) {
	httpClient, err := NewHTTPClient(transport)
	if err != nil {
		return nil, err
	}
	if provider == "" {
		provider = "openai"
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		ep:      endpoint{provider: provider, http: httpClient, parseError: parseOpenAIError},
	}, nil
}

// Request sends a non-streaming chat completion request.
func (c *OpenAIClient) Request(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
	body, err := c.buildRequest(ctx, messages, tools, false)
	if err != nil {
		return nil, err
	}

	var apiResp openaiResponse
	if err := c.ep.postJSON(ctx, c.baseURL+"/chat/completions", body, c.headers(), &apiResp); err != nil {
		return nil, err
	}
	return fromOpenAIResponse(ctx, &apiResp), nil
}

func (c *OpenAIClient) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}

func (c *OpenAIClient) buildRequest(ctx context.Context, messages []Message, tools []Tool, stream bool) (json.RawMessage, error) {
	if err := c.opts.validate(); err != nil {
		return nil, err
	}
	req := openaiRequest{
		Model:         c.opts.Model,
		Messages:      toOpenAIMessages(ctx, c.opts.System, messages),
		Temperature:   c.opts.Temperature,
		TopP:          c.opts.TopP,
		MaxTokens:     c.opts.MaxTokens,
		OpenAIOptions: c.opts.Provider,
	}
	if c.opts.reasoningEnabled() && req.ReasoningEffort == "" {
		req.ReasoningEffort = "medium"
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, openaiTool{
			Type: "function",
			Function: openaiFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.schemaOrEmpty(),
			},
		})
	}
	if stream {
		req.Stream = true
		req.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	return mergeExtra(req, c.opts.Provider.Extra)
}

// toOpenAIMessages converts the canonical history. System text becomes
// leading system messages; function responses become tool messages.
func toOpenAIMessages(ctx context.Context, system string, messages []Message) []openaiMessage {
	var out []openaiMessage
	if system != "" {
		out = append(out, openaiMessage{Role: "system", Content: system})
	}
	ids := &callIDs{}

	for _, m := range messages {
		switch m.Role() {
		case RoleSystem:
			out = append(out, openaiMessage{Role: "system", Content: m.Text()})

		case RoleAssistant:
			msg := openaiMessage{Role: "assistant"}
			var texts []string
			for _, p := range m.Parts {
				switch v := p.(type) {
				case Text:
					texts = append(texts, v.Content)
				case FunctionCall:
					msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
						ID:   ids.forCall(v.ID),
						Type: "function",
						Function: openaiFunction{
							Name:      v.Name,
							Arguments: string(argumentsOrEmpty(v.Arguments)),
						},
					})
				}
			}
			if len(texts) > 0 {
				msg.Content = strings.Join(texts, "\n")
			}
			if msg.Content == nil && len(msg.ToolCalls) == 0 {
				continue
			}
			out = append(out, msg)

		case RoleUser:
			var content []Part
			for _, p := range m.Parts {
				fr, ok := p.(FunctionResponse)
				if !ok {
					content = append(content, p)
					continue
				}
				out = append(out, openaiMessage{
					Role:       "tool",
					ToolCallID: ids.forResponse(fr.ID),
					Content:    responseText(fr.Response),
				})
				content = append(content, fr.Parts...)
			}
			if len(content) > 0 {
				out = append(out, openaiMessage{Role: "user", Content: openaiUserContent(ctx, content)})
			}
		}
	}
	return out
}

// openaiUserContent returns a plain string for text-only content and a list
// of content parts otherwise.
func openaiUserContent(ctx context.Context, parts []Part) any {
	textOnly := true
	var texts []string
	for _, p := range parts {
		t, ok := p.(Text)
		if !ok {
			textOnly = false
			break
		}
		texts = append(texts, t.Content)
	}
	if textOnly {
		return strings.Join(texts, "\n")
	}

	var out []openaiContentPart
	for _, p := range parts {
		switch v := p.(type) {
		case Text:
			out = append(out, openaiContentPart{Type: "text", Text: v.Content})
		case Media:
			if cp, ok := openaiMediaPart(v); ok {
				out = append(out, cp)
			} else {
				zerolog.Ctx(ctx).Warn().Str("mime_type", v.MIMEType).Msg("media type not supported by chat completions, dropped")
			}
		}
	}
	return out
}

func openaiMediaPart(m Media) (openaiContentPart, bool) {
	switch m.Type {
	case MediaImage:
		return openaiContentPart{Type: "image_url", ImageURL: &openaiImageURL{URL: dataURL(m)}}, true
	case MediaAudio:
		if m.Data == "" {
			return openaiContentPart{}, false
		}
		format := strings.TrimPrefix(m.MIMEType, "audio/")
		if format == "mpeg" {
			format = "mp3"
		}
		return openaiContentPart{Type: "input_audio", InputAudio: &openaiInputAudio{Data: m.Data, Format: format}}, true
	case MediaText:
		if s, ok := decodeTextMedia(m); ok {
			return openaiContentPart{Type: "text", Text: s}, true
		}
	case MediaDocument:
		if m.Data != "" {
			return openaiContentPart{Type: "file", File: &openaiFile{Filename: "document.pdf", FileData: dataURL(m)}}, true
		}
	}
	return openaiContentPart{}, false
}

func argumentsOrEmpty(args json.RawMessage) json.RawMessage {
	if len(args) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

func fromOpenAIResponse(ctx context.Context, apiResp *openaiResponse) *Response {
	resp := &Response{Finish: FinishStop}
	if apiResp.Usage != nil {
		resp.Usage = Usage{PromptTokens: apiResp.Usage.PromptTokens, CompletionTokens: apiResp.Usage.CompletionTokens}
	}
	if len(apiResp.Choices) == 0 {
		return resp
	}

	choice := apiResp.Choices[0]
	resp.Finish = openaiFinishReason(choice.FinishReason)

	var parts []Part
	if r := choice.Message.ReasoningContent + choice.Message.Reasoning; r != "" {
		parts = append(parts, Reasoning{Content: r, Finished: true})
	}
	if text := openaiContentText(choice.Message.Content); text != "" {
		parts = append(parts, Text{Content: text, Finished: true})
	}
	for _, tc := range choice.Message.ToolCalls {
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" && !json.Valid([]byte(raw)) {
			zerolog.Ctx(ctx).Warn().Str("tool", tc.Function.Name).Msg("malformed tool call arguments, using {}")
		}
		parts = append(parts, FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments),
			Finished:  true,
		})
	}
	if len(parts) > 0 {
		resp.Data = []Message{Assistant(parts...)}
	}
	return resp
}

// openaiContentText accepts content as a string or as a list of text parts.
func openaiContentText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openaiContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "")
}

func openaiFinishReason(s string) FinishReason {
	switch s {
	case "stop":
		return FinishStop
	case "length":
		return FinishOutputTokens
	case "content_filter":
		return FinishContentFilter
	case "tool_calls", "function_call":
		return FinishToolCalls
	default:
		return FinishStop
	}
}

func parseOpenAIError(status int, body []byte) *ProviderError {
	var env openaiErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.Message == "" {
		return nil
	}
	return openaiProviderError("", status, env.Error)
}

func openaiProviderError(provider string, status int, e *openaiErrorBody) *ProviderError {
	code := e.Type
	if code == "" && len(e.Code) > 0 && string(e.Code) != "null" {
		code = strings.Trim(string(e.Code), `"`)
	}
	return &ProviderError{Provider: provider, StatusCode: status, Code: code, Message: e.Message}
}
