package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowkaihon/unai/llm"
)

func newTestMCPServer(t *testing.T) *MCPServer {
	t.Helper()

	srv := server.NewMCPServer("test-server", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
		server.WithResourceCapabilities(false, false),
	)

	schema := []byte(`{"type":"object","properties":{"name":{"type":"string","description":"Who to greet"}},"required":["name"]}`)
	srv.AddTool(mcp.NewToolWithRawSchema("greet", "Greet someone", schema),
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			argsJSON, err := json.Marshal(request.Params.Arguments)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			var args struct {
				Name string `json:"name"`
			}
			if err := json.Unmarshal(argsJSON, &args); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText("hello " + args.Name), nil
		})
	srv.AddTool(mcp.NewToolWithRawSchema("silent", "Returns nothing", []byte(`{"type":"object"}`)),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{}}, nil
		})
	srv.AddTool(mcp.NewToolWithRawSchema("multi", "Two texts", []byte(`{"type":"object"}`)),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{
				mcp.NewTextContent("one"),
				mcp.NewTextContent("two"),
			}}, nil
		})
	srv.AddTool(mcp.NewToolWithRawSchema("snapshot", "Returns an image", []byte(`{"type":"object"}`)),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultImage("captured", "AQI=", "image/png"), nil
		})
	srv.AddTool(mcp.NewToolWithRawSchema("broken", "Always fails", []byte(`{"type":"object"}`)),
		func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultError("disk on fire"), nil
		})

	srv.AddPrompt(mcp.NewPrompt("review",
		mcp.WithPromptDescription("Review code"),
		mcp.WithArgument("lang", mcp.ArgumentDescription("Language"), mcp.RequiredArgument()),
	), func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return mcp.NewGetPromptResult("review prompt", []mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent("Review this "+request.Params.Arguments["lang"])),
			mcp.NewPromptMessage(mcp.RoleAssistant, mcp.NewTextContent("Send the code.")),
		}), nil
	})

	srv.AddResource(mcp.NewResource("mem://notes", "notes",
		mcp.WithResourceDescription("Scratch notes"),
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "mem://notes", MIMEType: "text/plain", Text: "remember the milk"},
		}, nil
	})

	c, err := client.NewInProcessClient(srv)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	require.NoError(t, Initialize(ctx, c))

	s := NewMCPServer("remote", c)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMCPServerListTools(t *testing.T) {
	s := newTestMCPServer(t)
	assert.Equal(t, "remote", s.ID())

	listed, err := s.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 5)

	byName := map[string]llm.Tool{}
	for _, tool := range listed {
		assert.Equal(t, "remote", tool.ServerID)
		byName[tool.Value.Name] = tool.Value
	}
	greet, ok := byName["greet"]
	require.True(t, ok)
	assert.Equal(t, "Greet someone", greet.Description)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(greet.Schema, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "name")
}

func TestMCPServerCallTool(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	resp, err := s.CallTool(ctx, "greet", json.RawMessage(`{"name":"ada"}`), "remote")
	require.NoError(t, err)
	assert.Equal(t, "greet", resp.Name)
	assert.True(t, resp.Finished)
	assert.JSONEq(t, `{"content":"hello ada"}`, string(resp.Response))

	resp, err = s.CallTool(ctx, "silent", nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(resp.Response))

	resp, err = s.CallTool(ctx, "multi", nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":["one","two"]}`, string(resp.Response))

	resp, err = s.CallTool(ctx, "snapshot", nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"captured"}`, string(resp.Response))
	require.Len(t, resp.Parts, 1)
	assert.Equal(t, llm.Media{Type: llm.MediaImage, Data: "AQI=", MIMEType: "image/png", Finished: true}, resp.Parts[0])

	_, err = s.CallTool(ctx, "broken", nil, "")
	assert.EqualError(t, err, "disk on fire")

	_, err = s.CallTool(ctx, "greet", nil, "elsewhere")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CallTool(ctx, "greet", json.RawMessage(`[1]`), "")
	assert.ErrorContains(t, err, "invalid tool arguments")
}

func TestMCPServerPrompts(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	listed, err := s.ListPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	p := listed[0]
	assert.Equal(t, "remote", p.ServerID)
	assert.Equal(t, "review", p.Value.Name)
	assert.Equal(t, []PromptArgument{{Name: "lang", Description: "Language", Required: true}}, p.Value.Arguments)

	res, err := s.GetPrompt(ctx, p, map[string]string{"lang": "go"})
	require.NoError(t, err)
	assert.Equal(t, "review prompt", res.Description)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, llm.RoleUser, res.Messages[0].Role())
	assert.Equal(t, "Review this go", res.Messages[0].Text())
	assert.Equal(t, llm.RoleAssistant, res.Messages[1].Role())
}

func TestMCPServerResources(t *testing.T) {
	s := newTestMCPServer(t)
	ctx := context.Background()

	listed, err := s.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, Resource{URI: "mem://notes", Name: "notes", Description: "Scratch notes", MIMEType: "text/plain"}, listed[0].Value)

	res, err := s.ReadResource(ctx, listed[0])
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "remember the milk", res.Contents[0].Text)
}

func TestMCPServerInMulti(t *testing.T) {
	remote := newTestMCPServer(t)
	local, err := NewFileTools(t.TempDir())
	require.NoError(t, err)

	m, err := NewMultiServer(local, remote)
	require.NoError(t, err)

	resp, err := m.CallTool(context.Background(), "greet", json.RawMessage(`{"name":"bob"}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hello bob"}`, string(resp.Response))
}

func TestSplitContentPointers(t *testing.T) {
	texts, parts := splitContent([]mcp.Content{
		&mcp.TextContent{Type: "text", Text: "a"},
		mcp.AudioContent{Type: "audio", Data: "AAA=", MIMEType: "audio/wav"},
		mcp.EmbeddedResource{Type: "resource", Resource: &mcp.BlobResourceContents{URI: "mem://b", MIMEType: "application/pdf", Blob: "JVBE"}},
	})
	assert.Equal(t, []string{"a"}, texts)
	require.Len(t, parts, 2)
	assert.Equal(t, llm.MediaAudio, parts[0].(llm.Media).Type)
	assert.Equal(t, llm.MediaDocument, parts[1].(llm.Media).Type)
	assert.Equal(t, "JVBE", parts[1].(llm.Media).Data)
}
