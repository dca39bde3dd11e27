package llm

import (
	"context"
	"encoding/json"
)

// RequestStream sends a streaming chat completion request.
func (c *OpenAIClient) RequestStream(ctx context.Context, messages []Message, tools []Tool) (*Stream, error) {
	body, err := c.buildRequest(ctx, messages, tools, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.ep.post(ctx, c.baseURL+"/chat/completions", body, c.headers())
	if err != nil {
		return nil, err
	}
	return newSSEStream(ctx, c.ep.provider, resp.Body, c.handleChunk), nil
}

func (c *OpenAIClient) handleChunk(_, data string, acc *Accumulator) error {
	var chunk openaiStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return &ParseError{What: "stream chunk", Err: err}
	}
	if chunk.Error != nil {
		return openaiProviderError(c.ep.provider, 0, chunk.Error)
	}
	if chunk.Usage != nil {
		acc.SetUsage(Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens})
	}
	if len(chunk.Choices) == 0 {
		if chunk.Usage == nil {
			return errSkipChunk
		}
		return nil
	}

	choice := chunk.Choices[0]
	if r := choice.Delta.ReasoningContent + choice.Delta.Reasoning; r != "" {
		acc.AddReasoning(r)
	}
	if choice.Delta.Content != nil {
		acc.AddText(*choice.Delta.Content)
	}
	for i, tc := range choice.Delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		acc.AddToolCallDelta(index, tc.ID, tc.Function.Name, tc.Function.Arguments)
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		acc.Finish(openaiFinishReason(*choice.FinishReason))
	}
	return nil
}
