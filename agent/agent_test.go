package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/tools"
)

// mockClient replays scripted responses. Once the script is exhausted it
// answers "done".
type mockClient struct {
	responses []*llm.Response
	err       error
	callCount int32

	mu       sync.Mutex
	requests [][]llm.Message
	toolSets [][]llm.Tool
}

func (m *mockClient) Request(_ context.Context, messages []llm.Message, defs []llm.Tool) (*llm.Response, error) {
	idx := int(atomic.AddInt32(&m.callCount, 1)) - 1
	m.mu.Lock()
	m.requests = append(m.requests, append([]llm.Message(nil), messages...))
	m.toolSets = append(m.toolSets, defs)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if idx >= len(m.responses) {
		return &llm.Response{Data: []llm.Message{llm.AssistantText("done")}, Finish: llm.FinishStop}, nil
	}
	return m.responses[idx].Clone(), nil
}

func (m *mockClient) calls() int {
	return int(atomic.LoadInt32(&m.callCount))
}

// mockStreamingClient streams each scripted response as a text prefix
// snapshot followed by the full response.
type mockStreamingClient struct {
	mockClient
	closed int32
}

func (m *mockStreamingClient) RequestStream(ctx context.Context, messages []llm.Message, defs []llm.Tool) (*llm.Stream, error) {
	resp, err := m.Request(ctx, messages, defs)
	if err != nil {
		return nil, err
	}
	partial := &llm.Response{
		Data:   []llm.Message{llm.Assistant(llm.Text{Content: "…"})},
		Usage:  llm.Usage{PromptTokens: resp.Usage.PromptTokens},
		Finish: llm.FinishUnfinished,
	}
	snaps := []*llm.Response{partial, resp}
	i := 0
	return llm.NewStream(func() (*llm.Response, error) {
		if i >= len(snaps) {
			return nil, io.EOF
		}
		i++
		return snaps[i-1], nil
	}, func() error {
		atomic.AddInt32(&m.closed, 1)
		return nil
	}), nil
}

func toolCall(id, name, args string) llm.FunctionCall {
	return llm.FunctionCall{ID: id, Name: name, Arguments: json.RawMessage(args), Finished: true}
}

func callResponse(usage llm.Usage, calls ...llm.FunctionCall) *llm.Response {
	parts := make([]llm.Part, len(calls))
	for i, c := range calls {
		parts[i] = c
	}
	return &llm.Response{Data: []llm.Message{llm.Assistant(parts...)}, Usage: usage, Finish: llm.FinishToolCalls}
}

func textResponse(text string, usage llm.Usage) *llm.Response {
	return &llm.Response{Data: []llm.Message{llm.AssistantText(text)}, Usage: usage, Finish: llm.FinishStop}
}

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

func mathServer(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry("math")
	require.NoError(t, tools.RegisterFunc(r, "add", "Add two numbers", func(_ context.Context, in addInput) (map[string]int, error) {
		return map[string]int{"sum": in.A + in.B}, nil
	}))
	require.NoError(t, r.Register("fail", "Always fails", nil, func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	}))
	return r
}

func responsesOf(t *testing.T, m llm.Message) []llm.FunctionResponse {
	t.Helper()
	require.Equal(t, llm.RoleUser, m.Role())
	out := make([]llm.FunctionResponse, len(m.Parts))
	for i, p := range m.Parts {
		fr, ok := p.(llm.FunctionResponse)
		require.True(t, ok, "part %d is %T", i, p)
		out[i] = fr
	}
	return out
}

func TestChatSingleTurn(t *testing.T) {
	client := &mockClient{responses: []*llm.Response{textResponse("Hello!", llm.Usage{PromptTokens: 5, CompletionTokens: 2})}}
	a := New(client)

	resp, err := a.Chat(context.Background(), []llm.Message{llm.UserText("hi")})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls())
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Hello!", resp.Text())
	assert.Equal(t, llm.FinishStop, resp.Finish)
	assert.Equal(t, llm.Usage{PromptTokens: 5, CompletionTokens: 2}, resp.Usage)
	assert.Empty(t, client.toolSets[0], "no server means no tools")
}

func TestChatToolLoop(t *testing.T) {
	client := &mockClient{responses: []*llm.Response{
		callResponse(llm.Usage{PromptTokens: 10, CompletionTokens: 3}, toolCall("call_1", "add", `{"a":2,"b":3}`)),
		textResponse("The sum is 5.", llm.Usage{PromptTokens: 20, CompletionTokens: 4}),
	}}
	a := New(client, WithServer(mathServer(t)))

	history := []llm.Message{llm.UserText("add 2 and 3")}
	resp, err := a.Chat(context.Background(), history)
	require.NoError(t, err)

	require.Len(t, resp.Data, 3)
	assert.Equal(t, llm.RoleAssistant, resp.Data[0].Role())
	frs := responsesOf(t, resp.Data[1])
	require.Len(t, frs, 1)
	assert.Equal(t, "call_1", frs[0].ID)
	assert.Equal(t, "add", frs[0].Name)
	assert.True(t, frs[0].Finished)
	assert.JSONEq(t, `{"sum":5}`, string(frs[0].Response))
	assert.Equal(t, "The sum is 5.", resp.Data[2].Text())

	assert.Equal(t, llm.Usage{PromptTokens: 30, CompletionTokens: 7}, resp.Usage)
	assert.Equal(t, llm.FinishStop, resp.Finish)

	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[1], 3, "second request carries the call and its response")
	require.Len(t, client.toolSets[0], 2)
	assert.Equal(t, "add", client.toolSets[0][0].Name)
	assert.Len(t, history, 1, "history is not modified")
}

func TestChatToolErrorsAreReported(t *testing.T) {
	client := &mockClient{responses: []*llm.Response{
		callResponse(llm.Usage{}, toolCall("c1", "fail", `{}`), toolCall("c2", "missing", `{}`)),
	}}
	a := New(client, WithServer(mathServer(t)))

	resp, err := a.Chat(context.Background(), []llm.Message{llm.UserText("go")})
	require.NoError(t, err)
	frs := responsesOf(t, resp.Data[1])
	require.Len(t, frs, 2)
	assert.JSONEq(t, `{"error":"boom"}`, string(frs[0].Response))
	assert.Equal(t, "c1", frs[0].ID)

	var body map[string]string
	require.NoError(t, json.Unmarshal(frs[1].Response, &body))
	assert.Contains(t, body["error"], "not found")
	assert.Equal(t, "missing", frs[1].Name)
}

func TestChatNoServer(t *testing.T) {
	client := &mockClient{responses: []*llm.Response{callResponse(llm.Usage{}, toolCall("c1", "add", `{}`))}}

	_, err := New(client).Chat(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoServer)
	var cfgErr *llm.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "configuration error: No server configured", err.Error())
}

func TestChatMaxIterations(t *testing.T) {
	loop := callResponse(llm.Usage{}, toolCall("c", "add", `{"a":1,"b":1}`))
	client := &mockClient{responses: []*llm.Response{loop, loop, loop, loop, loop}}
	a := New(client, WithServer(mathServer(t)), WithMaxIterations(3))

	_, err := a.Chat(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Equal(t, 3, client.calls())
	assert.Equal(t, "configuration error: Max iterations reached", err.Error())
}

func TestChatDefaults(t *testing.T) {
	a := New(&mockClient{}, WithMaxIterations(0), WithToolConcurrency(-1))
	assert.Equal(t, DefaultMaxIterations, a.maxIterations)
	assert.Equal(t, DefaultToolConcurrency, a.concurrency)
}

type failingServer struct{ tools.Server }

func (failingServer) ListTools(context.Context) ([]tools.Served[llm.Tool], error) {
	return nil, errors.New("server down")
}

func TestChatListToolsError(t *testing.T) {
	client := &mockClient{}
	_, err := New(client, WithServer(failingServer{})).Chat(context.Background(), nil)

	var pe *llm.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Failed to list tools from MCP server: server down", pe.Message)
	assert.Equal(t, 0, client.calls(), "no request is sent")
}

func TestChatStreamListToolsErrorContinuesWithoutTools(t *testing.T) {
	client := &mockStreamingClient{mockClient: mockClient{responses: []*llm.Response{
		textResponse("no tools today", llm.Usage{CompletionTokens: 3}),
	}}}
	stream, err := New(client, WithServer(failingServer{})).ChatStream(context.Background(), []llm.Message{llm.UserText("hi")})
	require.NoError(t, err)

	last, err := llm.Collect(stream, nil)
	require.NoError(t, err)
	assert.Equal(t, "no tools today", last.Text())
	assert.Equal(t, 1, client.calls())
	require.Len(t, client.toolSets, 1)
	assert.Empty(t, client.toolSets[0])
}

func TestChatRequestError(t *testing.T) {
	want := &llm.ProviderError{Provider: "openai", StatusCode: 500, Body: "oops"}
	_, err := New(&mockClient{err: want}).Chat(context.Background(), nil)
	assert.Same(t, want, err)
}

func TestChatIgnoresUnfinishedCalls(t *testing.T) {
	unfinished := llm.FunctionCall{ID: "c", Name: "add", Arguments: json.RawMessage(`"{\"a\""`)}
	client := &mockClient{responses: []*llm.Response{{
		Data:   []llm.Message{llm.Assistant(unfinished)},
		Finish: llm.FinishOutputTokens,
	}}}

	resp, err := New(client).Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, llm.FinishOutputTokens, resp.Finish)
}

// slowServer records the peak number of concurrent calls.
type slowServer struct {
	*tools.Registry
	inFlight int32
	peak     int32
}

func newSlowServer(t *testing.T) *slowServer {
	s := &slowServer{Registry: tools.NewRegistry("slow")}
	require.NoError(t, s.Register("wait", "Sleeps", nil, func(_ context.Context, in json.RawMessage) (any, error) {
		n := atomic.AddInt32(&s.inFlight, 1)
		for {
			p := atomic.LoadInt32(&s.peak)
			if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
				break
			}
		}
		var args struct {
			Ms int    `json:"ms"`
			ID string `json:"id"`
		}
		_ = json.Unmarshal(in, &args)
		time.Sleep(time.Duration(args.Ms) * time.Millisecond)
		atomic.AddInt32(&s.inFlight, -1)
		return args.ID, nil
	}))
	return s
}

func TestChatConcurrentDispatchKeepsOrder(t *testing.T) {
	srv := newSlowServer(t)
	client := &mockClient{responses: []*llm.Response{callResponse(llm.Usage{},
		toolCall("c1", "wait", `{"ms":60,"id":"first"}`),
		toolCall("c2", "wait", `{"ms":10,"id":"second"}`),
		toolCall("c3", "wait", `{"ms":30,"id":"third"}`),
		toolCall("c4", "wait", `{"ms":5,"id":"fourth"}`),
	)}}
	a := New(client, WithServer(srv), WithToolConcurrency(2))

	resp, err := a.Chat(context.Background(), nil)
	require.NoError(t, err)

	frs := responsesOf(t, resp.Data[1])
	require.Len(t, frs, 4)
	for i, want := range []string{"first", "second", "third", "fourth"} {
		assert.Equal(t, []string{"c1", "c2", "c3", "c4"}[i], frs[i].ID)
		assert.JSONEq(t, `{"content":"`+want+`"}`, string(frs[i].Response))
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&srv.peak), int32(2))
}

func TestChatRoutesByServerID(t *testing.T) {
	a1 := tools.NewRegistry("a")
	b1 := tools.NewRegistry("b")
	require.NoError(t, a1.Register("who", "", nil, func(context.Context, json.RawMessage) (any, error) { return "a", nil }))
	require.NoError(t, b1.Register("only_b", "", nil, func(context.Context, json.RawMessage) (any, error) { return "b", nil }))
	multi, err := tools.NewMultiServer(a1, b1)
	require.NoError(t, err)

	client := &mockClient{responses: []*llm.Response{
		callResponse(llm.Usage{}, toolCall("1", "who", `{}`), toolCall("2", "only_b", `{}`)),
	}}
	resp, err := New(client, WithServer(multi)).Chat(context.Background(), nil)
	require.NoError(t, err)

	frs := responsesOf(t, resp.Data[1])
	assert.JSONEq(t, `{"content":"a"}`, string(frs[0].Response))
	assert.JSONEq(t, `{"content":"b"}`, string(frs[1].Response))
}

func TestChatLogsToolFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	client := &mockClient{responses: []*llm.Response{callResponse(llm.Usage{}, toolCall("c1", "fail", `{}`))}}

	_, err := New(client, WithServer(mathServer(t)), WithLogger(logger)).Chat(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "tool execution failed")
	assert.Contains(t, buf.String(), `"tool":"fail"`)
}

func TestChatStreamRequiresStreamingClient(t *testing.T) {
	_, err := New(&mockClient{}).ChatStream(context.Background(), nil)
	var cfgErr *llm.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestChatStreamSnapshots(t *testing.T) {
	client := &mockStreamingClient{mockClient: mockClient{responses: []*llm.Response{
		callResponse(llm.Usage{PromptTokens: 10, CompletionTokens: 3}, toolCall("call_1", "add", `{"a":2,"b":3}`)),
		textResponse("The sum is 5.", llm.Usage{PromptTokens: 20, CompletionTokens: 4}),
	}}}
	a := New(client, WithServer(mathServer(t)))

	stream, err := a.ChatStream(context.Background(), []llm.Message{llm.UserText("add")})
	require.NoError(t, err)

	var snaps []*llm.Response
	for snap, err := range stream.All() {
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}

	// partial, call, call+tool response, partial, final
	require.Len(t, snaps, 5)
	assert.Len(t, snaps[0].Data, 1)
	assert.Equal(t, llm.Usage{PromptTokens: 10}, snaps[0].Usage)
	assert.Len(t, snaps[1].Data, 1)
	assert.Equal(t, llm.FinishToolCalls, snaps[1].Finish)

	require.Len(t, snaps[2].Data, 2)
	frs := responsesOf(t, snaps[2].Data[1])
	assert.Equal(t, "call_1", frs[0].ID)

	assert.Len(t, snaps[3].Data, 3, "partial of the second turn replaces nothing before it")
	assert.Equal(t, llm.Usage{PromptTokens: 30, CompletionTokens: 3}, snaps[3].Usage)

	final := snaps[4]
	require.Len(t, final.Data, 3)
	assert.Equal(t, "The sum is 5.", final.Data[2].Text())
	assert.Equal(t, llm.Usage{PromptTokens: 30, CompletionTokens: 7}, final.Usage)
	assert.Equal(t, llm.FinishStop, final.Finish)

	assert.Equal(t, int32(2), atomic.LoadInt32(&client.closed))
	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[1], 3)
}

func TestChatStreamMatchesChat(t *testing.T) {
	script := func() []*llm.Response {
		return []*llm.Response{
			callResponse(llm.Usage{PromptTokens: 1, CompletionTokens: 1}, toolCall("a", "add", `{"a":1,"b":1}`)),
			callResponse(llm.Usage{PromptTokens: 2, CompletionTokens: 2}, toolCall("b", "fail", `{}`)),
			textResponse("ok", llm.Usage{PromptTokens: 3, CompletionTokens: 3}),
		}
	}
	server := mathServer(t)

	chat, err := New(&mockClient{responses: script()}, WithServer(server)).Chat(context.Background(), nil)
	require.NoError(t, err)

	stream, err := New(&mockStreamingClient{mockClient: mockClient{responses: script()}}, WithServer(server)).
		ChatStream(context.Background(), nil)
	require.NoError(t, err)
	last, err := llm.Collect(stream, nil)
	require.NoError(t, err)

	assert.Equal(t, chat.Usage, last.Usage)
	assert.Equal(t, chat.Finish, last.Finish)
	require.Len(t, last.Data, len(chat.Data))
	for i := range chat.Data {
		assert.Equal(t, chat.Data[i].Role(), last.Data[i].Role())
		assert.Equal(t, chat.Data[i].Parts, last.Data[i].Parts)
	}
}

func TestChatStreamMaxIterations(t *testing.T) {
	loop := callResponse(llm.Usage{}, toolCall("c", "add", `{"a":1,"b":1}`))
	client := &mockStreamingClient{mockClient: mockClient{responses: []*llm.Response{loop, loop, loop}}}
	a := New(client, WithServer(mathServer(t)), WithMaxIterations(2))

	stream, err := a.ChatStream(context.Background(), nil)
	require.NoError(t, err)

	var last *llm.Response
	for stream.Next() {
		last = stream.Current()
	}
	assert.ErrorIs(t, stream.Err(), ErrMaxIterations)
	require.NotNil(t, last)
	assert.Len(t, last.Data, 4, "the last tool response is emitted before the error")
	assert.Equal(t, 2, client.calls())
}

func TestChatStreamNoServer(t *testing.T) {
	client := &mockStreamingClient{mockClient: mockClient{responses: []*llm.Response{
		callResponse(llm.Usage{}, toolCall("c", "add", `{}`)),
	}}}
	stream, err := New(client).ChatStream(context.Background(), nil)
	require.NoError(t, err)

	_, err = llm.Collect(stream, nil)
	assert.ErrorIs(t, err, ErrNoServer)
}

func TestChatStreamRequestError(t *testing.T) {
	client := &mockStreamingClient{mockClient: mockClient{err: &llm.HTTPError{Op: "send request", Err: io.ErrUnexpectedEOF}}}
	stream, err := New(client).ChatStream(context.Background(), nil)
	require.NoError(t, err, "the first request is sent lazily")

	_, err = llm.Collect(stream, nil)
	var httpErr *llm.HTTPError
	assert.ErrorAs(t, err, &httpErr)
}

func TestChatStreamCloseClosesInner(t *testing.T) {
	client := &mockStreamingClient{mockClient: mockClient{responses: []*llm.Response{textResponse("hi", llm.Usage{})}}}
	stream, err := New(client).ChatStream(context.Background(), nil)
	require.NoError(t, err)

	require.True(t, stream.Next())
	require.NoError(t, stream.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.closed))
	assert.False(t, stream.Next())
}
