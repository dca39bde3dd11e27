package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lowkaihon/unai/llm"
)

// MultiServer aggregates several servers. Member ids are unique and the
// member set is fixed at construction.
type MultiServer struct {
	order   []string
	members map[string]Identified
}

// NewMultiServer creates an aggregate over servers. Duplicate ids are rejected.
func NewMultiServer(servers ...Identified) (*MultiServer, error) {
	m := &MultiServer{members: make(map[string]Identified, len(servers))}
	for _, s := range servers {
		id := s.ID()
		if _, dup := m.members[id]; dup {
			return nil, fmt.Errorf("duplicate server id %q", id)
		}
		m.members[id] = s
		m.order = append(m.order, id)
	}
	return m, nil
}

// IDs returns the member ids in registration order.
func (m *MultiServer) IDs() []string {
	return append([]string(nil), m.order...)
}

func (m *MultiServer) member(id string) (Identified, error) {
	s, ok := m.members[id]
	if !ok {
		return nil, &NotFoundError{Kind: "server", Name: id}
	}
	return s, nil
}

// listAll concatenates the listings of every member, tagging each entry
// with the member id.
func listAll[T any](ctx context.Context, m *MultiServer, list func(Identified, context.Context) ([]Served[T], error)) ([]Served[T], error) {
	var out []Served[T]
	for _, id := range m.order {
		items, err := list(m.members[id], ctx)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", id, err)
		}
		for _, it := range items {
			out = append(out, Served[T]{ServerID: id, Value: it.Value})
		}
	}
	return out, nil
}

// ListTools concatenates the tools of every member in registration order.
func (m *MultiServer) ListTools(ctx context.Context) ([]Served[llm.Tool], error) {
	return listAll(ctx, m, Identified.ListTools)
}

// ListPrompts concatenates the prompts of every member.
func (m *MultiServer) ListPrompts(ctx context.Context) ([]Served[Prompt], error) {
	return listAll(ctx, m, Identified.ListPrompts)
}

// ListResources concatenates the resources of every member.
func (m *MultiServer) ListResources(ctx context.Context) ([]Served[Resource], error) {
	return listAll(ctx, m, Identified.ListResources)
}

// CallTool routes to serverID when given. Otherwise members are probed in
// order and the first one listing the tool wins.
func (m *MultiServer) CallTool(ctx context.Context, name string, args json.RawMessage, serverID string) (llm.FunctionResponse, error) {
	if serverID == "" {
		id, err := m.find(name, func(s Identified) ([]string, error) {
			tools, err := s.ListTools(ctx)
			return servedNames(tools, func(t llm.Tool) string { return t.Name }), err
		})
		if err != nil {
			return llm.FunctionResponse{}, err
		}
		if id == "" {
			return llm.FunctionResponse{}, &NotFoundError{Kind: "tool", Name: name}
		}
		serverID = id
	}
	s, err := m.member(serverID)
	if err != nil {
		return llm.FunctionResponse{}, err
	}
	return s.CallTool(ctx, name, args, serverID)
}

// GetPrompt renders prompt on its owning server, found by name when
// ServerID is empty.
func (m *MultiServer) GetPrompt(ctx context.Context, prompt Served[Prompt], args map[string]string) (*PromptResult, error) {
	if prompt.ServerID == "" {
		id, err := m.find(prompt.Value.Name, func(s Identified) ([]string, error) {
			prompts, err := s.ListPrompts(ctx)
			return servedNames(prompts, func(p Prompt) string { return p.Name }), err
		})
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, &NotFoundError{Kind: "prompt", Name: prompt.Value.Name}
		}
		prompt.ServerID = id
	}
	s, err := m.member(prompt.ServerID)
	if err != nil {
		return nil, err
	}
	return s.GetPrompt(ctx, prompt, args)
}

// ReadResource reads resource from its owning server, found by URI when
// ServerID is empty.
func (m *MultiServer) ReadResource(ctx context.Context, resource Served[Resource]) (*ResourceResult, error) {
	if resource.ServerID == "" {
		id, err := m.find(resource.Value.URI, func(s Identified) ([]string, error) {
			resources, err := s.ListResources(ctx)
			return servedNames(resources, func(r Resource) string { return r.URI }), err
		})
		if err != nil {
			return nil, err
		}
		if id == "" {
			return nil, &NotFoundError{Kind: "resource", Name: resource.Value.URI}
		}
		resource.ServerID = id
	}
	s, err := m.member(resource.ServerID)
	if err != nil {
		return nil, err
	}
	return s.ReadResource(ctx, resource)
}

// find returns the id of the first member whose listing contains key, or
// "" when none does.
func (m *MultiServer) find(key string, names func(Identified) ([]string, error)) (string, error) {
	for _, id := range m.order {
		list, err := names(m.members[id])
		if err != nil {
			return "", fmt.Errorf("server %s: %w", id, err)
		}
		for _, n := range list {
			if n == key {
				return id, nil
			}
		}
	}
	return "", nil
}

func servedNames[T any](items []Served[T], key func(T) string) []string {
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = key(it.Value)
	}
	return names
}
