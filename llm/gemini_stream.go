package llm

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"
)

// RequestStream sends a streamGenerateContent request. Gemini sends no
// [DONE] marker; completion is the finishReason on the last candidate.
func (c *GeminiClient) RequestStream(ctx context.Context, messages []Message, tools []Tool) (*Stream, error) {
	req, err := c.buildRequest(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	resp, err := c.ep.post(ctx, c.methodURL("streamGenerateContent", true), req, nil)
	if err != nil {
		return nil, err
	}
	return newSSEStream(ctx, c.ep.provider, resp.Body, handleGeminiChunk), nil
}

func handleGeminiChunk(_, data string, acc *Accumulator) error {
	var env geminiErrorEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return &ParseError{What: "stream chunk", Err: err}
	}
	if env.Error != nil {
		return geminiProviderError(env.Error.Code, env.Error)
	}

	var chunk genai.GenerateContentResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return &ParseError{What: "stream chunk", Err: err}
	}
	acc.SetUsage(geminiUsage(chunk.UsageMetadata))
	if len(chunk.Candidates) == 0 {
		return nil
	}

	cand := chunk.Candidates[0]
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				if part, ok := fromGeminiPart(p); ok {
					acc.AddPart(part)
				}
			case p.Thought:
				acc.AddSignedReasoning(p.Text, encodeSignature(p.ThoughtSignature))
			case p.Text != "":
				acc.AddText(p.Text)
			default:
				if part, ok := fromGeminiPart(p); ok {
					acc.AddPart(part)
				}
			}
		}
	}
	if cand.FinishReason != "" {
		acc.Finish(geminiFinishReason(string(cand.FinishReason), acc.HasToolCalls()))
	}
	return nil
}
