// Package tools serves tools, prompts and resources to the agent loop.
//
// A Server exposes descriptors tagged with the id of the server that owns
// them. Registry serves in-process Go functions, MCPServer adapts an MCP
// client, and MultiServer aggregates several servers behind one interface.
package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lowkaihon/unai/llm"
)

// Served pairs a descriptor with the id of the server that owns it.
type Served[T any] struct {
	ServerID string
	Value    T
}

// Server is the tool-serving collaborator used by the agent. Listing and
// calling must be safe for concurrent use. serverID may be empty, in which
// case the server resolves the name itself.
type Server interface {
	ListTools(ctx context.Context) ([]Served[llm.Tool], error)
	CallTool(ctx context.Context, name string, args json.RawMessage, serverID string) (llm.FunctionResponse, error)
	ListPrompts(ctx context.Context) ([]Served[Prompt], error)
	GetPrompt(ctx context.Context, prompt Served[Prompt], args map[string]string) (*PromptResult, error)
	ListResources(ctx context.Context) ([]Served[Resource], error)
	ReadResource(ctx context.Context, resource Served[Resource]) (*ResourceResult, error)
}

// Identified is a Server with a stable id, as required by MultiServer.
type Identified interface {
	Server
	ID() string
}

// Prompt describes a prompt template.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument is one named argument of a prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptResult is a rendered prompt.
type PromptResult struct {
	Description string
	Messages    []llm.Message
}

// Resource describes a readable resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// ResourceResult holds the contents read from a resource.
type ResourceResult struct {
	Contents []ResourceContent
}

// ResourceContent is one item of a resource. Exactly one of Text or Blob
// (base64) is set.
type ResourceContent struct {
	URI      string
	MIMEType string
	Text     string
	Blob     string
}

// Part converts the content to a media part that can be sent to a model.
func (c ResourceContent) Part() llm.Media {
	mime := c.MIMEType
	data := c.Blob
	if c.Text != "" || data == "" {
		if mime == "" {
			mime = "text/plain"
		}
		data = base64.StdEncoding.EncodeToString([]byte(c.Text))
	}
	return llm.Media{
		Type:     llm.MediaTypeFromMIME(mime),
		Data:     data,
		MIMEType: mime,
		Finished: true,
	}
}

// ErrNotFound matches every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports an unknown tool, prompt, resource or server.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// textResponse wraps a string result as {"content": s}.
func textResponse(s string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"content": s})
	return b
}
