package llm

import (
	"context"
	"encoding/json"
)

// RequestStream sends a streaming request to the Anthropic API.
func (c *AnthropicClient) RequestStream(ctx context.Context, messages []Message, tools []Tool) (*Stream, error) {
	reqBody, err := c.buildRequest(ctx, messages, tools, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.ep.post(ctx, c.baseURL+"/messages", reqBody, c.headers())
	if err != nil {
		return nil, err
	}
	return newSSEStream(ctx, c.ep.provider, resp.Body, handleAnthropicEvent), nil
}

// Anthropic SSE event types
type anthropicStreamEvent struct {
	Type string `json:"type"`
}

type anthropicMessageStart struct {
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
}

type anthropicContentBlockStart struct {
	Index        int                   `json:"index"`
	ContentBlock anthropicContentBlock `json:"content_block"`
}

type anthropicContentBlockDelta struct {
	Index int            `json:"index"`
	Delta anthropicDelta `json:"delta"`
}

type anthropicContentBlockStop struct {
	Index int `json:"index"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

type anthropicMessageDelta struct {
	Delta struct {
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Usage *anthropicUsage `json:"usage,omitempty"`
}

// handleAnthropicEvent folds one Messages API stream event. Tool-use blocks
// are keyed by their content block index.
func handleAnthropicEvent(_, data string, acc *Accumulator) error {
	var base anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &base); err != nil {
		return &ParseError{What: "stream chunk", Err: err}
	}

	switch base.Type {
	case "message_start":
		var ev anthropicMessageStart
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return &ParseError{What: "stream chunk", Err: err}
		}
		acc.SetUsage(Usage{PromptTokens: ev.Message.Usage.InputTokens, CompletionTokens: ev.Message.Usage.OutputTokens})

	case "content_block_start":
		var ev anthropicContentBlockStart
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return &ParseError{What: "stream chunk", Err: err}
		}
		switch ev.ContentBlock.Type {
		case "tool_use":
			acc.AddToolCallDelta(ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name, "")
		case "text":
			acc.AddText(ev.ContentBlock.Text)
		case "thinking":
			acc.AddReasoning(ev.ContentBlock.Thinking)
		case "redacted_thinking":
			acc.AddPart(Reasoning{Signature: ev.ContentBlock.Data, Finished: true})
		default:
			return errSkipChunk
		}

	case "content_block_delta":
		var ev anthropicContentBlockDelta
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return &ParseError{What: "stream chunk", Err: err}
		}
		switch ev.Delta.Type {
		case "text_delta":
			acc.AddText(ev.Delta.Text)
		case "thinking_delta":
			acc.AddReasoning(ev.Delta.Thinking)
		case "signature_delta":
			acc.SetReasoningSignature(ev.Delta.Signature)
		case "input_json_delta":
			acc.AddToolCallDelta(ev.Index, "", "", ev.Delta.PartialJSON)
		default:
			return errSkipChunk
		}

	case "content_block_stop":
		var ev anthropicContentBlockStop
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return &ParseError{What: "stream chunk", Err: err}
		}
		acc.FinishToolCall(ev.Index)

	case "message_delta":
		var ev anthropicMessageDelta
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return &ParseError{What: "stream chunk", Err: err}
		}
		if ev.Usage != nil {
			acc.SetUsage(Usage{PromptTokens: ev.Usage.InputTokens, CompletionTokens: ev.Usage.OutputTokens})
		}
		if ev.Delta.StopReason != "" {
			acc.Finish(anthropicFinishReason(ev.Delta.StopReason))
		}

	case "error":
		var env anthropicErrorEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil || env.Error == nil {
			return &ProviderError{Provider: "anthropic", Body: data}
		}
		return &ProviderError{Provider: "anthropic", Code: env.Error.Type, Message: env.Error.Message}

	default:
		// ping, message_stop
		return errSkipChunk
	}
	return nil
}
