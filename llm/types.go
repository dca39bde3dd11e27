package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of a conversation. The role is fixed at construction;
// use User, Assistant or System to build one.
type Message struct {
	role  Role
	Parts []Part
}

// User creates a user message.
func User(parts ...Part) Message {
	return Message{role: RoleUser, Parts: parts}
}

// Assistant creates an assistant message.
func Assistant(parts ...Part) Message {
	return Message{role: RoleAssistant, Parts: parts}
}

// System creates a system message.
func System(parts ...Part) Message {
	return Message{role: RoleSystem, Parts: parts}
}

// UserText creates a user message holding a single finished text part.
func UserText(content string) Message {
	return User(Text{Content: content, Finished: true})
}

// AssistantText creates an assistant message holding a single finished text part.
func AssistantText(content string) Message {
	return Assistant(Text{Content: content, Finished: true})
}

// SystemText creates a system message holding a single finished text part.
func SystemText(content string) Message {
	return System(Text{Content: content, Finished: true})
}

// NewMessage creates a message with an explicit role.
func NewMessage(role Role, parts ...Part) (Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return Message{role: role, Parts: parts}, nil
	default:
		return Message{}, fmt.Errorf("unknown role %q", role)
	}
}

// Role returns the role of the message.
func (m Message) Role() Role {
	return m.role
}

// Text returns the content of all text parts joined by newlines.
func (m Message) Text() string {
	var texts []string
	for _, p := range m.Parts {
		if t, ok := p.(Text); ok {
			texts = append(texts, t.Content)
		}
	}
	return strings.Join(texts, "\n")
}

// FunctionCalls returns the function call parts of the message in order.
func (m Message) FunctionCalls() []FunctionCall {
	var calls []FunctionCall
	for _, p := range m.Parts {
		if fc, ok := p.(FunctionCall); ok {
			calls = append(calls, fc)
		}
	}
	return calls
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	return Message{role: m.role, Parts: cloneParts(m.Parts)}
}

// MediaType classifies a Media payload.
type MediaType string

const (
	MediaImage    MediaType = "image"
	MediaAudio    MediaType = "audio"
	MediaVideo    MediaType = "video"
	MediaText     MediaType = "text"
	MediaDocument MediaType = "document"
	MediaBinary   MediaType = "binary"
)

// MediaTypeFromMIME guesses a MediaType from a MIME type.
func MediaTypeFromMIME(mime string) MediaType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaImage
	case strings.HasPrefix(mime, "audio/"):
		return MediaAudio
	case strings.HasPrefix(mime, "video/"):
		return MediaVideo
	case strings.HasPrefix(mime, "text/"):
		return MediaText
	case mime == "application/pdf":
		return MediaDocument
	default:
		return MediaBinary
	}
}

// Part is one unit of content within a message. The concrete types are
// Text, Media, Reasoning, FunctionCall and FunctionResponse.
type Part interface {
	// IsFinished reports whether the part is complete. Parts built by
	// callers are normally finished; streamed parts finish on the terminal chunk.
	IsFinished() bool
	partType() string
}

// Text is natural-language content.
type Text struct {
	Content  string
	Finished bool
}

// Media is an inline (base64 Data) or referenced (URI) payload.
type Media struct {
	Type     MediaType
	Data     string
	MIMEType string
	URI      string
	Finished bool
}

// Reasoning is a model thinking trace. Signature is opaque and must be
// passed back unchanged.
type Reasoning struct {
	Content   string
	Summary   string
	Signature string
	Finished  bool
}

// FunctionCall is a request by the model to run a tool. While a streamed
// call is unfinished, Arguments holds the received argument text encoded
// as a JSON string.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	Signature string
	Finished  bool
}

// FunctionResponse is the result of running a tool. Parts carries media or
// resources returned alongside Response.
type FunctionResponse struct {
	ID       string
	Name     string
	Response json.RawMessage
	Parts    []Part
	Finished bool
}

func (t Text) IsFinished() bool             { return t.Finished }
func (m Media) IsFinished() bool            { return m.Finished }
func (r Reasoning) IsFinished() bool        { return r.Finished }
func (f FunctionCall) IsFinished() bool     { return f.Finished }
func (f FunctionResponse) IsFinished() bool { return f.Finished }

func (Text) partType() string             { return "text" }
func (Media) partType() string            { return "media" }
func (Reasoning) partType() string        { return "reasoning" }
func (FunctionCall) partType() string     { return "function_call" }
func (FunctionResponse) partType() string { return "function_response" }

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}

func cloneParts(parts []Part) []Part {
	if parts == nil {
		return nil
	}
	out := make([]Part, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case FunctionCall:
			v.Arguments = cloneRaw(v.Arguments)
			out[i] = v
		case FunctionResponse:
			v.Response = cloneRaw(v.Response)
			v.Parts = cloneParts(v.Parts)
			out[i] = v
		default:
			out[i] = p
		}
	}
	return out
}

// Tool describes a callable tool to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"input_schema"`
}

// schemaOrEmpty returns the tool schema, defaulting to an empty object schema.
func (t Tool) schemaOrEmpty() json.RawMessage {
	if len(t.Schema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.Schema
}
