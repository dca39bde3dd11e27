package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// syntheticCallPrefix marks call ids invented locally because Gemini sent
// none. They are never sent back on the wire.
const syntheticCallPrefix = "gemini-call-"

// GeminiClient implements StreamingClient for the Gemini generateContent API.
type GeminiClient struct {
	apiKey  string
	baseURL string
	opts    ModelOptions[GeminiOptions]
	ep      endpoint
}

// NewGeminiClient creates a Gemini client. baseURL includes the version
// path, for example https://generativelanguage.googleapis.com/v1beta.
func NewGeminiClient(apiKey, baseURL string, opts ModelOptions[GeminiOptions], transport TransportOptions) (*GeminiClient, error) {
	httpClient, err := NewHTTPClient(transport)
	if err != nil {
		return nil, err
	}
	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		ep:      endpoint{provider: "gemini", http: httpClient, parseError: parseGeminiError},
	}, nil
}

type geminiRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []*genai.Tool           `json:"tools,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64              `json:"temperature,omitempty"`
	TopP            *float64              `json:"topP,omitempty"`
	TopK            *float64              `json:"topK,omitempty"`
	MaxOutputTokens *int                  `json:"maxOutputTokens,omitempty"`
	StopSequences   []string              `json:"stopSequences,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  *int `json:"thinkingBudget,omitempty"`
}

type geminiErrorEnvelope struct {
	Error *geminiErrorBody `json:"error"`
}

type geminiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Request sends a non-streaming generateContent request.
func (c *GeminiClient) Request(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
	req, err := c.buildRequest(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	var apiResp genai.GenerateContentResponse
	if err := c.ep.postJSON(ctx, c.methodURL("generateContent", false), req, nil, &apiResp); err != nil {
		return nil, err
	}
	return fromGeminiResponse(&apiResp), nil
}

func (c *GeminiClient) methodURL(method string, sse bool) string {
	q := url.Values{}
	if sse {
		q.Set("alt", "sse")
	}
	q.Set("key", c.apiKey)
	return c.baseURL + "/models/" + url.PathEscape(c.opts.Model) + ":" + method + "?" + q.Encode()
}

func (c *GeminiClient) buildRequest(ctx context.Context, messages []Message, tools []Tool) (*geminiRequest, error) {
	if err := c.opts.validate(); err != nil {
		return nil, err
	}
	req := &geminiRequest{Contents: toGeminiContents(ctx, messages)}
	if sys := systemText(c.opts.System, messages); sys != "" {
		req.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: sys}}}
	}

	gc := &geminiGenerationConfig{
		Temperature:     c.opts.Temperature,
		TopP:            c.opts.TopP,
		TopK:            c.opts.Provider.TopK,
		MaxOutputTokens: c.opts.MaxTokens,
		StopSequences:   c.opts.Provider.StopSequences,
	}
	if c.opts.Reasoning != nil || c.opts.Provider.ThinkingBudget != nil {
		gc.ThinkingConfig = &geminiThinkingConfig{
			IncludeThoughts: c.opts.reasoningEnabled(),
			ThinkingBudget:  c.opts.Provider.ThinkingBudget,
		}
	}
	if gc.Temperature != nil || gc.TopP != nil || gc.TopK != nil || gc.MaxOutputTokens != nil ||
		len(gc.StopSequences) > 0 || gc.ThinkingConfig != nil {
		req.GenerationConfig = gc
	}

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(tools))
		for _, t := range tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.schemaOrEmpty(),
			})
		}
		req.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return req, nil
}

// toGeminiContents converts the canonical history. System messages are
// carried in systemInstruction and skipped here.
func toGeminiContents(ctx context.Context, messages []Message) []*genai.Content {
	var contents []*genai.Content
	for _, m := range messages {
		var role string
		switch m.Role() {
		case RoleUser:
			role = genai.RoleUser
		case RoleAssistant:
			role = genai.RoleModel
		default:
			continue
		}
		var parts []*genai.Part
		for _, p := range m.Parts {
			parts = append(parts, toGeminiParts(ctx, p)...)
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func toGeminiParts(ctx context.Context, p Part) []*genai.Part {
	switch v := p.(type) {
	case Text:
		if v.Content == "" {
			return nil
		}
		return []*genai.Part{{Text: v.Content}}
	case Reasoning:
		if v.Content == "" && v.Signature == "" {
			return nil
		}
		return []*genai.Part{{Text: v.Content, Thought: true, ThoughtSignature: decodeSignature(v.Signature)}}
	case Media:
		return []*genai.Part{geminiMediaPart(ctx, v)}
	case FunctionCall:
		return []*genai.Part{{
			FunctionCall: &genai.FunctionCall{
				ID:   wireCallID(v.ID),
				Name: v.Name,
				Args: jsonObject(ctx, v.Arguments),
			},
			ThoughtSignature: decodeSignature(v.Signature),
		}}
	case FunctionResponse:
		parts := []*genai.Part{{
			FunctionResponse: &genai.FunctionResponse{
				ID:       wireCallID(v.ID),
				Name:     v.Name,
				Response: responseObject(v.Response),
			},
		}}
		for _, np := range v.Parts {
			if m, ok := np.(Media); ok {
				parts = append(parts, geminiMediaPart(ctx, m))
			}
		}
		return parts
	}
	return nil
}

func geminiMediaPart(ctx context.Context, m Media) *genai.Part {
	if m.URI != "" {
		return &genai.Part{FileData: &genai.FileData{FileURI: m.URI, MIMEType: m.MIMEType}}
	}
	data, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("mime_type", m.MIMEType).Msg("media data is not valid base64")
	}
	return &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: m.MIMEType}}
}

func wireCallID(id string) string {
	if strings.HasPrefix(id, syntheticCallPrefix) {
		return ""
	}
	return id
}

func newSyntheticCallID() string {
	return syntheticCallPrefix + uuid.NewString()
}

func decodeSignature(sig string) []byte {
	if sig == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return []byte(sig)
	}
	return b
}

func encodeSignature(sig []byte) string {
	if len(sig) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// jsonObject decodes function call arguments. Gemini requires an object.
func jsonObject(ctx context.Context, raw json.RawMessage) map[string]any {
	obj := map[string]any{}
	if len(raw) == 0 {
		return obj
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("function call arguments are not a JSON object, sending {}")
		return map[string]any{}
	}
	return obj
}

// responseObject wraps non-object tool results as {"result": v}.
func responseObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"result": string(raw)}
	}
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{"result": v}
}

// fromGeminiPart converts one response part. ok is false for parts that
// carry nothing representable.
func fromGeminiPart(p *genai.Part) (Part, bool) {
	switch {
	case p.FunctionCall != nil:
		args, err := json.Marshal(p.FunctionCall.Args)
		if err != nil || p.FunctionCall.Args == nil {
			args = json.RawMessage("{}")
		}
		id := p.FunctionCall.ID
		if id == "" {
			id = newSyntheticCallID()
		}
		return FunctionCall{
			ID:        id,
			Name:      p.FunctionCall.Name,
			Arguments: args,
			Signature: encodeSignature(p.ThoughtSignature),
			Finished:  true,
		}, true
	case p.Thought:
		return Reasoning{Content: p.Text, Signature: encodeSignature(p.ThoughtSignature), Finished: true}, true
	case p.Text != "":
		return Text{Content: p.Text, Finished: true}, true
	case p.InlineData != nil:
		return Media{
			Type:     MediaTypeFromMIME(p.InlineData.MIMEType),
			Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
			MIMEType: p.InlineData.MIMEType,
			Finished: true,
		}, true
	case p.FileData != nil:
		return Media{
			Type:     MediaTypeFromMIME(p.FileData.MIMEType),
			MIMEType: p.FileData.MIMEType,
			URI:      p.FileData.FileURI,
			Finished: true,
		}, true
	}
	return nil, false
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{Finish: FinishStop, Usage: geminiUsage(resp.UsageMetadata)}
	if len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]

	var parts []Part
	hasCalls := false
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			part, ok := fromGeminiPart(p)
			if !ok {
				continue
			}
			if _, isCall := part.(FunctionCall); isCall {
				hasCalls = true
			}
			parts = append(parts, part)
		}
	}
	if len(parts) > 0 {
		out.Data = []Message{Assistant(parts...)}
	}
	out.Finish = geminiFinishReason(string(cand.FinishReason), hasCalls)
	return out
}

func geminiUsage(u *genai.GenerateContentResponseUsageMetadata) Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount + u.ThoughtsTokenCount),
	}
}

// geminiFinishReason maps the wire value. Gemini reports STOP even when the
// model asked for tools, so calls upgrade STOP to ToolCalls.
func geminiFinishReason(s string, hasCalls bool) FinishReason {
	var reason FinishReason
	switch s {
	case "STOP":
		reason = FinishStop
	case "MAX_TOKENS":
		reason = FinishOutputTokens
	case "SAFETY", "RECITATION", "LANGUAGE", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII",
		"IMAGE_SAFETY", "IMAGE_PROHIBITED_CONTENT", "IMAGE_RECITATION":
		reason = FinishContentFilter
	case "MALFORMED_FUNCTION_CALL", "UNEXPECTED_TOOL_CALL", "TOO_MANY_TOOL_CALLS":
		reason = FinishToolCalls
	default:
		reason = FinishStop
	}
	if reason == FinishStop && hasCalls {
		reason = FinishToolCalls
	}
	return reason
}

func parseGeminiError(status int, body []byte) *ProviderError {
	var env geminiErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil || env.Error.Message == "" {
		return nil
	}
	return geminiProviderError(status, env.Error)
}

func geminiProviderError(status int, e *geminiErrorBody) *ProviderError {
	code := e.Status
	if code == "" {
		code = strconv.Itoa(e.Code)
	}
	return &ProviderError{Provider: "gemini", StatusCode: status, Code: code, Message: e.Message}
}
