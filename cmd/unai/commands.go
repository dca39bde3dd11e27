package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/provider"
	"github.com/lowkaihon/unai/tools"
	"github.com/lowkaihon/unai/ui"
)

func newProvidersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported providers, default models and key variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, g, false)
			if err != nil {
				return err
			}
			a.term.PrintProviders(provider.List(), a.cfg.Provider)
			return nil
		},
	}
}

// toolApp builds an app with tools started and no model client.
func toolApp(cmd *cobra.Command, g *globalFlags) (*app, context.Context, error) {
	a, err := newApp(cmd, g, false)
	if err != nil {
		return nil, nil, err
	}
	ctx := a.context(cmd.Context())
	if err := a.setupTools(ctx); err != nil {
		a.Close()
		return nil, nil, err
	}
	if a.server == nil {
		a.Close()
		return nil, nil, errors.New("no tool servers configured (use --files or mcp_servers in the config file)")
	}
	return a, ctx, nil
}

func newToolsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "tools",
		Short:   "List tools from the file tools and MCP servers",
		Example: "  unai tools --files .",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := toolApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			items, err := toolItems(ctx, a.server)
			if err != nil {
				return err
			}
			a.term.PrintTools(items)
			return nil
		},
	}
}

func toolItems(ctx context.Context, server tools.Server) ([]ui.ToolListItem, error) {
	if server == nil {
		return nil, nil
	}
	served, err := server.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]ui.ToolListItem, len(served))
	for i, t := range served {
		items[i] = ui.ToolListItem{ServerID: t.ServerID, Name: t.Value.Name, Description: t.Value.Description}
	}
	return items, nil
}

func newPromptCmd(g *globalFlags) *cobra.Command {
	var send bool
	cmd := &cobra.Command{
		Use:   "prompt [name] [key=value...]",
		Short: "List MCP prompts, or render one",
		Example: `  unai prompt
  unai prompt review file=main.go
  unai prompt review file=main.go --send`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := toolApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			prompts, err := a.server.ListPrompts(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, p := range prompts {
					fmt.Fprintf(out, "%-20s [%s] %s\n", p.Value.Name, p.ServerID, p.Value.Description)
					for _, arg := range p.Value.Arguments {
						req := ""
						if arg.Required {
							req = " (required)"
						}
						fmt.Fprintf(out, "    %s%s: %s\n", arg.Name, req, arg.Description)
					}
				}
				return nil
			}

			prompt, ok := findServed(prompts, args[0], func(p tools.Prompt) string { return p.Name })
			if !ok {
				return &tools.NotFoundError{Kind: "prompt", Name: args[0]}
			}
			promptArgs, err := parseKeyValues(args[1:])
			if err != nil {
				return err
			}
			res, err := a.server.GetPrompt(ctx, prompt, promptArgs)
			if err != nil {
				return err
			}

			if !send {
				if res.Description != "" {
					fmt.Fprintln(out, res.Description)
				}
				a.term.PrintConversationHistory(res.Messages)
				return nil
			}

			if a.cfg.MissingKey() {
				return fmt.Errorf("%s requires an API key to send the prompt", a.cfg.Provider)
			}
			if err := a.setupClient(); err != nil {
				return err
			}
			resp, err := a.newAgent().Chat(ctx, res.Messages)
			if err != nil {
				return err
			}
			a.term.NewStreamPrinter().Print(resp)
			return nil
		},
	}
	cmd.Flags().BoolVar(&send, "send", false, "send the rendered prompt to the model")
	return cmd
}

func newResourceCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resource [uri]",
		Short: "List MCP resources, or read one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := toolApp(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			resources, err := a.server.ListResources(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, r := range resources {
					fmt.Fprintf(out, "%-40s [%s] %s %s\n", r.Value.URI, r.ServerID, r.Value.Name, r.Value.MIMEType)
				}
				return nil
			}

			res, ok := findServed(resources, args[0], func(r tools.Resource) string { return r.URI })
			if !ok {
				return &tools.NotFoundError{Kind: "resource", Name: args[0]}
			}
			result, err := a.server.ReadResource(ctx, res)
			if err != nil {
				return err
			}
			for _, c := range result.Contents {
				fmt.Fprintln(out, describeContent(c))
			}
			return nil
		},
	}
}

// describeContent returns text as is and summarizes binary content.
func describeContent(c tools.ResourceContent) string {
	if c.Text != "" || c.Blob == "" {
		return c.Text
	}
	n := base64.StdEncoding.DecodedLen(len(c.Blob))
	if b, err := base64.StdEncoding.DecodeString(c.Blob); err == nil {
		n = len(b)
	}
	return fmt.Sprintf("[%s %s, %d bytes]", llm.MediaTypeFromMIME(c.MIMEType), c.MIMEType, n)
}

func findServed[T any](items []tools.Served[T], key string, name func(T) string) (tools.Served[T], bool) {
	for _, it := range items {
		if name(it.Value) == key {
			return it, true
		}
	}
	return tools.Served[T]{}, false
}

// parseKeyValues parses key=value arguments.
func parseKeyValues(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid argument %q, want key=value", arg)
		}
		out[k] = v
	}
	return out, nil
}
