package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowkaihon/unai/config"
	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/provider"
	"github.com/lowkaihon/unai/tools"
)

// isolate clears every variable config.Load reads and points the config
// dir at a temp dir. It returns the unai config dir.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, k := range []string{"UNAI_CONFIG", "UNAI_PROVIDER", "UNAI_MODEL", "UNAI_BASE_URL", "UNAI_LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	for _, info := range provider.List() {
		t.Setenv(info.KeyEnv, "")
	}
	dir := filepath.Join(xdg, "unai")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// fakeOpenAI serves scripted chat completion bodies in order and records
// the request bodies.
type fakeOpenAI struct {
	mu       sync.Mutex
	bodies   []string
	requests []map[string]any
	calls    atomic.Int32
}

func (f *fakeOpenAI) start(t *testing.T, contentType string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &req)

		n := int(f.calls.Add(1)) - 1
		f.mu.Lock()
		f.requests = append(f.requests, req)
		resp := f.bodies[min(n, len(f.bodies)-1)]
		f.mu.Unlock()

		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeOpenAI) messages(i int) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, _ := f.requests[i]["messages"].([]any)
	return msgs
}

const stopBody = `{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1}}`

func TestChat_OneShot(t *testing.T) {
	isolate(t)
	fake := &fakeOpenAI{bodies: []string{stopBody}}
	srv := fake.start(t, "application/json")

	out, err := run(t, "", "chat", "--no-save", "--stream=false", "-p", "ollama", "--base-url", srv.URL, "hi", "there")
	require.NoError(t, err)
	assert.Equal(t, "hello\n\n", out)

	msgs := fake.messages(0)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi there", msgs[0].(map[string]any)["content"])
}

func TestChat_Stdin(t *testing.T) {
	isolate(t)
	fake := &fakeOpenAI{bodies: []string{stopBody}}
	srv := fake.start(t, "application/json")

	out, err := run(t, "  from stdin \n", "chat", "--no-save", "--stream=false", "-p", "ollama", "--base-url", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "hello\n\n", out)
	assert.Equal(t, "from stdin", fake.messages(0)[0].(map[string]any)["content"])

	_, err = run(t, "", "chat", "--no-save", "-p", "ollama", "--base-url", srv.URL)
	assert.EqualError(t, err, "no message given")
}

func TestChat_Stream(t *testing.T) {
	isolate(t)
	body := `data: {"choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}

data: {"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}

data: [DONE]

`
	fake := &fakeOpenAI{bodies: []string{body}}
	srv := fake.start(t, "text/event-stream")

	out, err := run(t, "", "chat", "--no-save", "-p", "ollama", "--base-url", srv.URL, "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello\n\n", out)
}

func TestChat_FileTools(t *testing.T) {
	isolate(t)
	work := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(work, "main.go"), []byte("package main\n"), 0o644))

	toolCall := `{"choices":[{"message":{"role":"assistant","tool_calls":[{"id":"c1","type":"function","function":{"name":"glob","arguments":"{\"pattern\":\"*.go\"}"}}]},"finish_reason":"tool_calls"}]}`
	final := `{"choices":[{"message":{"role":"assistant","content":"found main.go"},"finish_reason":"stop"}]}`
	fake := &fakeOpenAI{bodies: []string{toolCall, final}}
	srv := fake.start(t, "application/json")

	out, err := run(t, "", "chat", "--no-save", "--stream=false", "-p", "ollama", "--base-url", srv.URL, "--files", work, "which go files?")
	require.NoError(t, err)
	assert.Contains(t, out, `↳ glob {"pattern":"*.go"}`)
	assert.Contains(t, out, "main.go")
	assert.True(t, strings.HasSuffix(out, "found main.go\n\n"), out)

	require.EqualValues(t, 2, fake.calls.Load())
	defs, _ := fake.requests[0]["tools"].([]any)
	assert.Len(t, defs, 4)
	// user, assistant tool call, tool result
	assert.Len(t, fake.messages(1), 3)
}

func TestChat_SessionsRoundTrip(t *testing.T) {
	dir := isolate(t)
	sessDir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("provider: ollama\nsessions:\n  dir: "+sessDir+"\n"), 0o644))

	fake := &fakeOpenAI{bodies: []string{stopBody}}
	srv := fake.start(t, "application/json")
	t.Setenv("UNAI_BASE_URL", srv.URL)

	_, err := run(t, "", "chat", "--stream=false", "remember me")
	require.NoError(t, err)

	out, err := run(t, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, `"remember me"`)
	assert.Contains(t, out, "(2 messages, llama3)")

	out, err = run(t, "", "chat", "--stream=false", "--session", "last", "again")
	require.NoError(t, err)
	assert.Contains(t, out, "--- Conversation history ---")
	assert.Contains(t, out, `Resumed session: "remember me" (2 messages)`)
	resumed := fake.messages(1)
	require.Len(t, resumed, 3)
	assert.Equal(t, "remember me", resumed[0].(map[string]any)["content"])
	assert.Equal(t, "again", resumed[2].(map[string]any)["content"])

	out, err = run(t, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "(4 messages, llama3)")
	assert.Equal(t, 1, strings.Count(out, "messages, llama3)"))

	_, err = run(t, "", "sessions", "delete", "not-a-uuid")
	assert.Error(t, err)
}

func TestProvidersCmd(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "providers", "-p", "gemini")
	require.NoError(t, err)
	for _, name := range provider.Names() {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "→ gemini")
}

func TestProvidersCmd_InvalidConfig(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "providers", "-p", "nope")
	var verr *config.MultiValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provider", verr.Errors[0].Field)
}

func TestToolsCmd(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "tools", "--files", t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"glob", "grep", "list_files", "read_file"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "["+tools.FileToolsID+"]")

	_, err = run(t, "", "tools")
	assert.ErrorContains(t, err, "no tool servers configured")
}

func TestGlobalFlagsOverrides(t *testing.T) {
	g := &globalFlags{}
	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&g.model, "model", "", "")
	cmd.Flags().Float64Var(&g.temperature, "temperature", 0, "")
	cmd.Flags().IntVar(&g.maxTokens, "max-tokens", 0, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--model", "m", "--temperature", "0"}))

	o := g.overrides(cmd)
	assert.Equal(t, "m", o.Model)
	require.NotNil(t, o.Temperature)
	assert.Equal(t, 0.0, *o.Temperature)
	assert.Nil(t, o.MaxTokens)
}

type fakeUploader struct {
	mime string
	data []byte
	err  error
}

func (u *fakeUploader) UploadFile(_ context.Context, mimeType string, data []byte) (string, error) {
	u.mime, u.data = mimeType, data
	return "https://files.example/abc", u.err
}

func TestAttachment(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "pic.png")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG"), 0o644))
	unknown := filepath.Join(dir, "data.zzz")
	require.NoError(t, os.WriteFile(unknown, []byte("x"), 0o644))
	ctx := context.Background()

	m, err := attachment(ctx, png, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.MediaImage, m.Type)
	assert.Equal(t, "image/png", m.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("\x89PNG")), m.Data)
	assert.True(t, m.Finished)

	m, err = attachment(ctx, "https://example.com/cat.jpg", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cat.jpg", m.URI)
	assert.Equal(t, "image/jpeg", m.MIMEType)
	assert.Empty(t, m.Data)

	up := &fakeUploader{}
	m, err = attachment(ctx, png, up)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example/abc", m.URI)
	assert.Empty(t, m.Data)
	assert.Equal(t, "image/png", up.mime)

	_, err = attachment(ctx, png, &fakeUploader{err: errors.New("quota")})
	assert.ErrorContains(t, err, "quota")

	_, err = attachment(ctx, unknown, nil)
	assert.ErrorContains(t, err, "unknown file type")

	_, err = attachment(ctx, filepath.Join(dir, "missing.png"), nil)
	assert.Error(t, err)
}

func TestUserMessage(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(png, []byte("img"), 0o644))

	msg, err := userMessage(context.Background(), "look", []string{png}, nil)
	require.NoError(t, err)
	assert.Equal(t, llm.RoleUser, msg.Role())
	assert.Equal(t, "look", msg.Text())
	require.Len(t, msg.Parts, 2)
	_, ok := msg.Parts[1].(llm.Media)
	assert.True(t, ok)
}

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"file=main.go", "mode=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"file": "main.go", "mode": "a=b", "empty": ""}, got)

	_, err = parseKeyValues([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseKeyValues([]string{"=x"})
	assert.Error(t, err)
}

func TestDescribeContent(t *testing.T) {
	assert.Equal(t, "hello", describeContent(tools.ResourceContent{Text: "hello"}))
	blob := base64.StdEncoding.EncodeToString([]byte("12345"))
	assert.Equal(t, "[image image/png, 5 bytes]", describeContent(tools.ResourceContent{MIMEType: "image/png", Blob: blob}))
}

func TestWithoutField(t *testing.T) {
	only := &config.MultiValidationError{Errors: []config.ValidationError{{Field: "api_key", Message: "x"}}}
	assert.NoError(t, withoutField(only, "api_key"))

	mixed := &config.MultiValidationError{Errors: []config.ValidationError{
		{Field: "api_key", Message: "x"},
		{Field: "provider", Message: "y"},
	}}
	err := withoutField(mixed, "api_key")
	var verr *config.MultiValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "provider", verr.Errors[0].Field)
}

func TestFindServed(t *testing.T) {
	items := []tools.Served[tools.Prompt]{
		{ServerID: "a", Value: tools.Prompt{Name: "review"}},
		{ServerID: "b", Value: tools.Prompt{Name: "review"}},
	}
	got, ok := findServed(items, "review", func(p tools.Prompt) string { return p.Name })
	require.True(t, ok)
	assert.Equal(t, "a", got.ServerID)

	_, ok = findServed(items, "missing", func(p tools.Prompt) string { return p.Name })
	assert.False(t, ok)
}
