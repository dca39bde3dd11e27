package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lowkaihon/unai/agent"
	"github.com/lowkaihon/unai/config"
	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/logging"
	"github.com/lowkaihon/unai/provider"
	"github.com/lowkaihon/unai/session"
	"github.com/lowkaihon/unai/tools"
	"github.com/lowkaihon/unai/ui"
)

// app holds what a command run needs. Fields are filled on demand by the
// setup helpers.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	term    *ui.Terminal
	workDir string

	client llm.StreamingClient
	server *tools.MultiServer
	store  session.Store

	closers []func() error
}

// newApp loads and validates the configuration. When needKey is false a
// missing API key is not an error.
func newApp(cmd *cobra.Command, g *globalFlags, needKey bool) (*app, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: g.configFile,
		WorkDir:    workDir,
		Overrides:  g.overrides(cmd),
	})
	if err != nil {
		return nil, err
	}
	if g.fileTools != "" {
		cfg.FileTools = g.fileTools
	}

	a := &app{
		cfg:     cfg,
		term:    ui.NewTerminal(cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr()),
		workDir: workDir,
	}
	a.log = logging.NewWithComponent(logging.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty || ui.IsTerminal(os.Stderr),
		NoColor: !ui.IsTerminal(os.Stderr),
		Output:  cmd.ErrOrStderr(),
	}, "cli")

	if needKey && cfg.MissingKey() && a.term.Interactive() {
		key, err := config.PromptAPIKey(a.term.ReadSecret, cmd.OutOrStdout(), cfg.Provider)
		if err != nil {
			return nil, err
		}
		cfg.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		var verr *config.MultiValidationError
		if !needKey && errors.As(err, &verr) {
			err = withoutField(verr, "api_key")
		}
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// withoutField drops errors for field and returns nil when none remain.
func withoutField(verr *config.MultiValidationError, field string) error {
	var kept []config.ValidationError
	for _, e := range verr.Errors {
		if e.Field != field {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &config.MultiValidationError{Errors: kept}
}

// context returns ctx carrying the app logger.
func (a *app) context(ctx context.Context) context.Context {
	return a.log.WithContext(ctx)
}

// model is the configured model or the provider default.
func (a *app) model() string {
	if a.cfg.Model != "" {
		return a.cfg.Model
	}
	if info, ok := provider.Lookup(a.cfg.Provider); ok {
		return info.DefaultModel
	}
	return ""
}

func (a *app) setupClient() error {
	client, err := provider.NewClient(a.cfg.Provider, a.cfg.Settings(), a.cfg.TransportOptions())
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// setupTools starts the built-in file tools and every configured MCP
// server. A server that fails to start is reported and skipped.
func (a *app) setupTools(ctx context.Context) error {
	tools.ClientVersion = version
	var members []tools.Identified

	if a.cfg.FileTools != "" {
		files, err := tools.NewFileTools(a.cfg.FileTools)
		if err != nil {
			return fmt.Errorf("file tools: %w", err)
		}
		members = append(members, files)
	}

	for _, sc := range a.cfg.MCPServers {
		env := append(os.Environ(), sc.Environ()...)
		srv, err := tools.ConnectStdio(ctx, sc.ID, sc.Command, env, sc.Args...)
		if err != nil {
			a.log.Warn().Err(err).Str("server", sc.ID).Msg("mcp server unavailable")
			a.term.PrintWarning(fmt.Sprintf("MCP server %s unavailable: %v", sc.ID, err))
			continue
		}
		a.closers = append(a.closers, srv.Close)
		members = append(members, srv)
	}

	if len(members) == 0 {
		return nil
	}
	server, err := tools.NewMultiServer(members...)
	if err != nil {
		return err
	}
	a.server = server
	return nil
}

func (a *app) setupStore(ctx context.Context) error {
	switch a.cfg.Sessions.Backend {
	case config.BackendMongo:
		m := a.cfg.Sessions.Mongo
		store, err := session.OpenMongo(ctx, m.URI, m.Database, m.Collection)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Close(ctx)
		})
		a.store = store
	default:
		dir := a.cfg.Sessions.Dir
		if dir == "" {
			var err error
			if dir, err = session.DefaultDir(a.workDir); err != nil {
				return err
			}
		}
		a.store = session.NewFileStore(dir)
	}
	return nil
}

func (a *app) newAgent() *agent.Agent {
	opts := []agent.Option{
		agent.WithMaxIterations(a.cfg.MaxIterations),
		agent.WithLogger(a.log.With().Str("component", "agent").Logger()),
	}
	if a.server != nil {
		opts = append(opts, agent.WithServer(a.server))
	}
	return agent.New(a.client, opts...)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Debug().Err(err).Msg("close")
		}
	}
	a.closers = nil
}
