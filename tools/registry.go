package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/lowkaihon/unai/llm"
)

// ToolFunc is the signature for in-process tool implementations. The
// result is marshalled to JSON; a string becomes {"content": s} and a
// Result can carry media parts alongside its value.
type ToolFunc func(ctx context.Context, input json.RawMessage) (any, error)

// PromptFunc renders a prompt from its arguments.
type PromptFunc func(ctx context.Context, args map[string]string) (*PromptResult, error)

// ResourceFunc reads a resource.
type ResourceFunc func(ctx context.Context) (*ResourceResult, error)

// Result is a tool result with media attached.
type Result struct {
	Value any
	Parts []llm.Part
}

type toolEntry struct {
	def llm.Tool
	fn  ToolFunc
}

type promptEntry struct {
	prompt Prompt
	fn     PromptFunc
}

type resourceEntry struct {
	resource Resource
	fn       ResourceFunc
}

// Registry is an in-process Server. Entries keep registration order.
type Registry struct {
	id string

	mu        sync.RWMutex
	tools     []toolEntry
	prompts   []promptEntry
	resources []resourceEntry
}

// NewRegistry creates an empty registry identified by id.
func NewRegistry(id string) *Registry {
	return &Registry{id: id}
}

// ID returns the registry id.
func (r *Registry) ID() string {
	return r.id
}

// Register adds a tool with an explicit JSON schema. Names must be unique.
func (r *Registry) Register(name, description string, schema json.RawMessage, fn ToolFunc) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(schema) > 0 && !json.Valid(schema) {
		return fmt.Errorf("tool %s: schema is not valid JSON", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tools {
		if t.def.Name == name {
			return fmt.Errorf("tool %s already registered", name)
		}
	}
	r.tools = append(r.tools, toolEntry{
		def: llm.Tool{Name: name, Description: description, Schema: schema},
		fn:  fn,
	})
	return nil
}

// RegisterFunc adds a typed tool. The input schema is reflected from In and
// arguments are decoded into In before fn runs.
func RegisterFunc[In, Out any](r *Registry, name, description string, fn func(context.Context, In) (Out, error)) error {
	schema, err := SchemaFor[In]()
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	return r.Register(name, description, schema, func(ctx context.Context, input json.RawMessage) (any, error) {
		params, err := decodeArgs[In](input)
		if err != nil {
			return nil, err
		}
		return fn(ctx, params)
	})
}

// SchemaFor reflects an inline JSON schema for T.
func SchemaFor[T any]() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(new(T))

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaBytes, &schemaMap); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(schemaMap, "$schema")
	delete(schemaMap, "$id")
	return json.Marshal(schemaMap)
}

// AddPrompt registers a prompt template.
func (r *Registry) AddPrompt(prompt Prompt, fn PromptFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, promptEntry{prompt: prompt, fn: fn})
}

// AddResource registers a readable resource.
func (r *Registry) AddResource(resource Resource, fn ResourceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources = append(r.resources, resourceEntry{resource: resource, fn: fn})
}

// ListTools returns the registered tools in registration order.
func (r *Registry) ListTools(context.Context) ([]Served[llm.Tool], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Served[llm.Tool], len(r.tools))
	for i, t := range r.tools {
		out[i] = Served[llm.Tool]{ServerID: r.id, Value: t.def}
	}
	return out, nil
}

// CallTool runs a registered tool. Handler errors are returned to the
// caller unchanged.
func (r *Registry) CallTool(ctx context.Context, name string, args json.RawMessage, serverID string) (llm.FunctionResponse, error) {
	if serverID != "" && serverID != r.id {
		return llm.FunctionResponse{}, &NotFoundError{Kind: "server", Name: serverID}
	}
	r.mu.RLock()
	var fn ToolFunc
	for _, t := range r.tools {
		if t.def.Name == name {
			fn = t.fn
			break
		}
	}
	r.mu.RUnlock()
	if fn == nil {
		return llm.FunctionResponse{}, &NotFoundError{Kind: "tool", Name: name}
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	value, err := fn(ctx, args)
	if err != nil {
		return llm.FunctionResponse{}, err
	}

	resp := llm.FunctionResponse{Name: name, Finished: true}
	if res, ok := value.(Result); ok {
		value = res.Value
		resp.Parts = res.Parts
	}
	resp.Response, err = encodeResult(value)
	if err != nil {
		return llm.FunctionResponse{}, fmt.Errorf("tool %s: %w", name, err)
	}
	return resp, nil
}

func encodeResult(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case nil:
		return json.RawMessage(`{"status":"success"}`), nil
	case string:
		return textResponse(val), nil
	case json.RawMessage:
		if !json.Valid(val) {
			return nil, fmt.Errorf("result is not valid JSON")
		}
		return val, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		return b, nil
	}
}

// ListPrompts returns the registered prompts.
func (r *Registry) ListPrompts(context.Context) ([]Served[Prompt], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Served[Prompt], len(r.prompts))
	for i, p := range r.prompts {
		out[i] = Served[Prompt]{ServerID: r.id, Value: p.prompt}
	}
	return out, nil
}

// GetPrompt renders a prompt. Required arguments must be present.
func (r *Registry) GetPrompt(ctx context.Context, prompt Served[Prompt], args map[string]string) (*PromptResult, error) {
	r.mu.RLock()
	var entry *promptEntry
	for i := range r.prompts {
		if r.prompts[i].prompt.Name == prompt.Value.Name {
			entry = &r.prompts[i]
			break
		}
	}
	r.mu.RUnlock()
	if entry == nil {
		return nil, &NotFoundError{Kind: "prompt", Name: prompt.Value.Name}
	}
	for _, a := range entry.prompt.Arguments {
		if _, ok := args[a.Name]; a.Required && !ok {
			return nil, fmt.Errorf("prompt %s: missing required argument %q", entry.prompt.Name, a.Name)
		}
	}
	return entry.fn(ctx, args)
}

// ListResources returns the registered resources.
func (r *Registry) ListResources(context.Context) ([]Served[Resource], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Served[Resource], len(r.resources))
	for i, res := range r.resources {
		out[i] = Served[Resource]{ServerID: r.id, Value: res.resource}
	}
	return out, nil
}

// ReadResource reads a registered resource by URI.
func (r *Registry) ReadResource(ctx context.Context, resource Served[Resource]) (*ResourceResult, error) {
	r.mu.RLock()
	var fn ResourceFunc
	for _, res := range r.resources {
		if res.resource.URI == resource.Value.URI {
			fn = res.fn
			break
		}
	}
	r.mu.RUnlock()
	if fn == nil {
		return nil, &NotFoundError{Kind: "resource", Name: resource.Value.URI}
	}
	return fn(ctx)
}
