// Package agent implements the agentic loop that lets a model call tools
// until it produces a final answer.
package agent

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/tools"
)

const (
	// DefaultMaxIterations limits the number of model round-trips per Chat
	// call to prevent runaway tool-use loops.
	DefaultMaxIterations = 10

	// DefaultToolConcurrency bounds how many tool calls of one turn run at once.
	DefaultToolConcurrency = 4
)

var (
	// ErrMaxIterations is returned when the model still requests tools after
	// the last allowed iteration.
	ErrMaxIterations = &llm.ConfigError{Msg: "Max iterations reached"}

	// ErrNoServer is returned when the model calls a tool but no server is set.
	ErrNoServer = &llm.ConfigError{Msg: "No server configured"}
)

// Agent drives a Client through tool-calling turns. An Agent holds no
// conversation state and may be used concurrently.
type Agent struct {
	client        llm.Client
	server        tools.Server
	maxIterations int
	concurrency   int
	log           *zerolog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithServer sets the tool server.
func WithServer(s tools.Server) Option {
	return func(a *Agent) { a.server = s }
}

// WithMaxIterations sets the iteration limit. Values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithToolConcurrency sets how many tool calls run in parallel.
func WithToolConcurrency(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithLogger sets the agent logger. Without one, the logger attached to the
// request context is used.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Agent) { a.log = &l }
}

// New creates an agent around client.
func New(client llm.Client, opts ...Option) *Agent {
	a := &Agent{
		client:        client,
		maxIterations: DefaultMaxIterations,
		concurrency:   DefaultToolConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// withLogger returns ctx carrying the agent logger, so adapters and tool
// servers log through it.
func (a *Agent) withLogger(ctx context.Context) (context.Context, *zerolog.Logger) {
	if a.log != nil {
		return a.log.WithContext(ctx), a.log
	}
	return ctx, zerolog.Ctx(ctx)
}

// Chat runs the tool loop over history and returns every message produced:
// assistant turns and the tool response messages between them. history is
// not modified.
func (a *Agent) Chat(ctx context.Context, history []llm.Message) (*llm.Response, error) {
	ctx, log := a.withLogger(ctx)

	messages := append([]llm.Message(nil), history...)
	trace := &llm.Response{}

	for n := 0; n < a.maxIterations; n++ {
		log.Info().Int("iteration", n+1).Int("max", a.maxIterations).Msg("agent iteration")

		defs, routes, err := a.listTools(ctx)
		if err != nil {
			return nil, err
		}

		resp, err := a.client.Request(ctx, messages, defs)
		if err != nil {
			return nil, err
		}
		trace.Usage = trace.Usage.Add(resp.Usage)
		trace.Finish = resp.Finish

		messages = append(messages, resp.Data...)
		trace.Data = append(trace.Data, resp.Data...)

		calls := finishedCalls(resp.Data)
		if len(calls) == 0 {
			return trace, nil
		}
		if a.server == nil {
			return nil, ErrNoServer
		}

		toolMsg := a.dispatch(ctx, calls, routes)
		messages = append(messages, toolMsg)
		trace.Data = append(trace.Data, toolMsg)
	}

	log.Warn().Int("max", a.maxIterations).Msg("max iterations reached in agent loop")
	return nil, ErrMaxIterations
}

// ChatStream runs the same loop as Chat over a streaming client. Every
// snapshot holds the full trace so far: earlier turns, tool responses and
// the partial current turn.
func (a *Agent) ChatStream(ctx context.Context, history []llm.Message) (*llm.Stream, error) {
	sc, ok := a.client.(llm.StreamingClient)
	if !ok {
		return nil, &llm.ConfigError{Msg: "client does not support streaming"}
	}
	ctx, log := a.withLogger(ctx)

	s := &chatStream{
		agent:    a,
		client:   sc,
		ctx:      ctx,
		log:      log,
		messages: append([]llm.Message(nil), history...),
		trace:    &llm.Response{},
	}
	return llm.NewStream(s.next, s.close), nil
}

// chatStream is the state of one streaming run. Between turns inner is nil.
type chatStream struct {
	agent  *Agent
	client llm.StreamingClient
	ctx    context.Context
	log    *zerolog.Logger

	messages []llm.Message
	trace    *llm.Response

	inner     *llm.Stream
	routes    map[string]string
	baseLen   int
	baseUsage llm.Usage
	iteration int
	done      bool
	pending   error
}

func (s *chatStream) next() (*llm.Response, error) {
	for {
		if s.pending != nil {
			err := s.pending
			s.pending = nil
			s.done = true
			return nil, err
		}
		if s.done {
			return nil, io.EOF
		}

		if s.inner == nil {
			if err := s.startTurn(); err != nil {
				s.done = true
				return nil, err
			}
		}

		if s.inner.Next() {
			snap := s.inner.Current()
			s.trace.Data = append(s.trace.Data[:s.baseLen], snap.Data...)
			s.trace.Usage = s.baseUsage.Add(snap.Usage)
			s.trace.Finish = snap.Finish
			return s.trace.Clone(), nil
		}
		if err := s.inner.Err(); err != nil {
			s.inner = nil
			s.done = true
			return nil, err
		}
		s.inner = nil

		turn := s.trace.Data[s.baseLen:]
		s.messages = append(s.messages, turn...)

		calls := finishedCalls(turn)
		if len(calls) == 0 {
			s.done = true
			continue
		}
		if s.agent.server == nil {
			s.done = true
			return nil, ErrNoServer
		}

		toolMsg := s.agent.dispatch(s.ctx, calls, s.routes)
		s.messages = append(s.messages, toolMsg)
		s.trace.Data = append(s.trace.Data, toolMsg)

		if s.iteration >= s.agent.maxIterations {
			s.log.Warn().Int("max", s.agent.maxIterations).Msg("max iterations reached in streaming agent loop")
			s.pending = ErrMaxIterations
		}
		return s.trace.Clone(), nil
	}
}

func (s *chatStream) startTurn() error {
	s.iteration++
	s.log.Info().Int("iteration", s.iteration).Int("max", s.agent.maxIterations).Msg("agent streaming iteration")

	// A listing failure mid-stream degrades to a turn without tools.
	defs, routes, err := s.agent.listTools(s.ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("listing tools failed, continuing without tools")
		defs, routes = nil, nil
	}
	inner, err := s.client.RequestStream(s.ctx, s.messages, defs)
	if err != nil {
		return err
	}
	s.inner = inner
	s.routes = routes
	s.baseLen = len(s.trace.Data)
	s.baseUsage = s.trace.Usage
	return nil
}

func (s *chatStream) close() error {
	if s.inner != nil {
		return s.inner.Close()
	}
	return nil
}

// listTools returns the tool definitions and a name to server id map. The
// first server listing a name owns it.
func (a *Agent) listTools(ctx context.Context) ([]llm.Tool, map[string]string, error) {
	if a.server == nil {
		return nil, nil, nil
	}
	served, err := a.server.ListTools(ctx)
	if err != nil {
		return nil, nil, &llm.ProviderError{Provider: "tools", Code: "list_tools", Message: "Failed to list tools from MCP server: " + err.Error()}
	}
	defs := make([]llm.Tool, len(served))
	routes := make(map[string]string, len(served))
	for i, t := range served {
		defs[i] = t.Value
		if _, ok := routes[t.Value.Name]; !ok {
			routes[t.Value.Name] = t.ServerID
		}
	}
	return defs, routes, nil
}

func finishedCalls(msgs []llm.Message) []llm.FunctionCall {
	var calls []llm.FunctionCall
	for _, m := range msgs {
		for _, c := range m.FunctionCalls() {
			if c.Finished {
				calls = append(calls, c)
			}
		}
	}
	return calls
}

// dispatch runs calls concurrently and returns one User message holding the
// responses in call order. Tool failures are reported to the model as
// {"error": "..."} responses.
func (a *Agent) dispatch(ctx context.Context, calls []llm.FunctionCall, routes map[string]string) llm.Message {
	log := zerolog.Ctx(ctx)
	parts := make([]llm.Part, len(calls))

	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i, call := range calls {
		g.Go(func() error {
			log.Info().Str("tool", call.Name).Str("id", call.ID).Msg("tool call requested")
			log.Debug().RawJSON("arguments", rawOrEmpty(call.Arguments)).Str("tool", call.Name).Msg("tool arguments")

			resp, err := a.server.CallTool(ctx, call.Name, call.Arguments, routes[call.Name])
			if err != nil {
				log.Warn().Err(err).Str("tool", call.Name).Msg("tool execution failed")
				parts[i] = errorResponse(call, err)
				return nil
			}
			resp.ID = call.ID
			if resp.Name == "" {
				resp.Name = call.Name
			}
			resp.Finished = true
			parts[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	return llm.User(parts...)
}

func errorResponse(call llm.FunctionCall, err error) llm.FunctionResponse {
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	return llm.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: body,
		Finished: true,
	}
}

func rawOrEmpty(b json.RawMessage) []byte {
	if len(b) == 0 || !json.Valid(b) {
		return []byte("{}")
	}
	return b
}
