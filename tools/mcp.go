package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/lowkaihon/unai/llm"
)

const clientName = "unai"

// ClientVersion is reported to MCP servers during initialization.
var ClientVersion = "dev"

// MCPServer adapts an initialized MCP client to Server.
type MCPServer struct {
	id     string
	client client.MCPClient
}

// NewMCPServer wraps an already initialized client.
func NewMCPServer(id string, c client.MCPClient) *MCPServer {
	return &MCPServer{id: id, client: c}
}

// ConnectStdio spawns command as a stdio MCP server and performs the
// initialize handshake.
func ConnectStdio(ctx context.Context, id, command string, env []string, args ...string) (*MCPServer, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %s: %w", id, err)
	}
	if err := Initialize(ctx, c); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize mcp server %s: %w", id, err)
	}
	zerolog.Ctx(ctx).Debug().Str("server", id).Str("command", command).Msg("mcp server connected")
	return NewMCPServer(id, c), nil
}

// Initialize performs the MCP initialize handshake on c.
func Initialize(ctx context.Context, c client.MCPClient) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: ClientVersion,
	}
	_, err := c.Initialize(ctx, initReq)
	return err
}

// ID returns the server id given at connect time.
func (s *MCPServer) ID() string {
	return s.id
}

// Close shuts down the underlying client and, for stdio servers, the
// child process.
func (s *MCPServer) Close() error {
	return s.client.Close()
}

// ListTools lists the remote tools with their input schemas.
func (s *MCPServer) ListTools(ctx context.Context) ([]Served[llm.Tool], error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	out := make([]Served[llm.Tool], 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, err := toolSchema(t)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.Name, err)
		}
		out = append(out, Served[llm.Tool]{
			ServerID: s.id,
			Value:    llm.Tool{Name: t.Name, Description: t.Description, Schema: schema},
		})
	}
	return out, nil
}

func toolSchema(t mcp.Tool) (json.RawMessage, error) {
	if len(t.RawInputSchema) > 0 {
		return t.RawInputSchema, nil
	}
	if t.InputSchema.Type == "" {
		return nil, nil
	}
	return json.Marshal(t.InputSchema)
}

// CallTool invokes a tool on the server. A result flagged as an error is
// returned as a Go error carrying the result text.
func (s *MCPServer) CallTool(ctx context.Context, name string, args json.RawMessage, serverID string) (llm.FunctionResponse, error) {
	if serverID != "" && serverID != s.id {
		return llm.FunctionResponse{}, &NotFoundError{Kind: "server", Name: serverID}
	}

	var arguments map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &arguments); err != nil {
			return llm.FunctionResponse{}, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return llm.FunctionResponse{}, fmt.Errorf("call tool %s: %w", name, err)
	}

	texts, parts := splitContent(res.Content)
	if res.IsError {
		msg := fmt.Sprintf("tool %s failed", name)
		if len(texts) > 0 {
			msg = strings.Join(texts, "\n")
		}
		return llm.FunctionResponse{}, errors.New(msg)
	}

	resp := llm.FunctionResponse{Name: name, Parts: parts, Finished: true}
	switch len(texts) {
	case 0:
		resp.Response = json.RawMessage(`{"status":"success"}`)
	case 1:
		resp.Response = textResponse(texts[0])
	default:
		resp.Response, err = json.Marshal(map[string][]string{"content": texts})
		if err != nil {
			return llm.FunctionResponse{}, err
		}
	}
	return resp, nil
}

// splitContent separates text items from media items.
func splitContent(content []mcp.Content) ([]string, []llm.Part) {
	var texts []string
	var parts []llm.Part
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			texts = append(texts, v.Text)
		case *mcp.TextContent:
			texts = append(texts, v.Text)
		case mcp.ImageContent:
			parts = append(parts, inlineMedia(v.Data, v.MIMEType))
		case *mcp.ImageContent:
			parts = append(parts, inlineMedia(v.Data, v.MIMEType))
		case mcp.AudioContent:
			parts = append(parts, inlineMedia(v.Data, v.MIMEType))
		case *mcp.AudioContent:
			parts = append(parts, inlineMedia(v.Data, v.MIMEType))
		case mcp.EmbeddedResource:
			if rc, ok := resourceContent(v.Resource); ok {
				parts = append(parts, rc.Part())
			}
		case *mcp.EmbeddedResource:
			if rc, ok := resourceContent(v.Resource); ok {
				parts = append(parts, rc.Part())
			}
		}
	}
	return texts, parts
}

func inlineMedia(data, mimeType string) llm.Media {
	return llm.Media{
		Type:     llm.MediaTypeFromMIME(mimeType),
		Data:     data,
		MIMEType: mimeType,
		Finished: true,
	}
}

func resourceContent(rc mcp.ResourceContents) (ResourceContent, bool) {
	switch v := rc.(type) {
	case mcp.TextResourceContents:
		return ResourceContent{URI: v.URI, MIMEType: v.MIMEType, Text: v.Text}, true
	case *mcp.TextResourceContents:
		return ResourceContent{URI: v.URI, MIMEType: v.MIMEType, Text: v.Text}, true
	case mcp.BlobResourceContents:
		return ResourceContent{URI: v.URI, MIMEType: v.MIMEType, Blob: v.Blob}, true
	case *mcp.BlobResourceContents:
		return ResourceContent{URI: v.URI, MIMEType: v.MIMEType, Blob: v.Blob}, true
	}
	return ResourceContent{}, false
}

// ListPrompts lists the remote prompt templates.
func (s *MCPServer) ListPrompts(ctx context.Context) ([]Served[Prompt], error) {
	res, err := s.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	out := make([]Served[Prompt], 0, len(res.Prompts))
	for _, p := range res.Prompts {
		prompt := Prompt{Name: p.Name, Description: p.Description}
		for _, a := range p.Arguments {
			prompt.Arguments = append(prompt.Arguments, PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		out = append(out, Served[Prompt]{ServerID: s.id, Value: prompt})
	}
	return out, nil
}

// GetPrompt renders a prompt into canonical messages. Text content becomes
// Text parts; images, audio and embedded resources become Media parts.
func (s *MCPServer) GetPrompt(ctx context.Context, prompt Served[Prompt], args map[string]string) (*PromptResult, error) {
	req := mcp.GetPromptRequest{}
	req.Params.Name = prompt.Value.Name
	req.Params.Arguments = args

	res, err := s.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get prompt %s: %w", prompt.Value.Name, err)
	}

	out := &PromptResult{Description: res.Description}
	for _, m := range res.Messages {
		texts, media := splitContent([]mcp.Content{m.Content})
		var parts []llm.Part
		for _, t := range texts {
			parts = append(parts, llm.Text{Content: t, Finished: true})
		}
		parts = append(parts, media...)

		role := llm.RoleUser
		if m.Role == mcp.RoleAssistant {
			role = llm.RoleAssistant
		}
		msg, err := llm.NewMessage(role, parts...)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

// ListResources lists the remote resources.
func (s *MCPServer) ListResources(ctx context.Context) ([]Served[Resource], error) {
	res, err := s.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	out := make([]Served[Resource], 0, len(res.Resources))
	for _, r := range res.Resources {
		out = append(out, Served[Resource]{ServerID: s.id, Value: Resource{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		}})
	}
	return out, nil
}

// ReadResource reads one remote resource by URI.
func (s *MCPServer) ReadResource(ctx context.Context, resource Served[Resource]) (*ResourceResult, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = resource.Value.URI

	res, err := s.client.ReadResource(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("read resource %s: %w", resource.Value.URI, err)
	}
	out := &ResourceResult{}
	for _, c := range res.Contents {
		if rc, ok := resourceContent(c); ok {
			out.Contents = append(out.Contents, rc)
		}
	}
	return out, nil
}
