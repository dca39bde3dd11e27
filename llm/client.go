package llm

import (
	"context"
)

// Client is the interface for a single request/response call to an LLM.
type Client interface {
	// Request sends the conversation and returns only the newly produced messages.
	Request(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// StreamingClient is a Client that can also stream responses.
type StreamingClient interface {
	Client
	// RequestStream returns a stream of cumulative Response snapshots.
	RequestStream(ctx context.Context, messages []Message, tools []Tool) (*Stream, error)
}
