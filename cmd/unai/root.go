package main

import (
	"github.com/spf13/cobra"

	"github.com/lowkaihon/unai/config"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile    string
	provider      string
	model         string
	apiKey        string
	baseURL       string
	system        string
	logLevel      string
	maxIterations int
	temperature   float64
	maxTokens     int
	fileTools     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "unai",
		Short: "Chat with any LLM provider through one interface",
		Long: `unai sends conversations to OpenAI-compatible, Anthropic and Gemini
models through a single message format. Tools come from the built-in
read-only file tools and from MCP servers listed in the config file.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&g.configFile, "config", "", "config file (default $UNAI_CONFIG or ~/.config/unai/config.yaml)")
	f.StringVarP(&g.provider, "provider", "p", "", "provider name (see 'unai providers')")
	f.StringVarP(&g.model, "model", "m", "", "model name (default: provider default)")
	f.StringVar(&g.apiKey, "api-key", "", "API key (default: provider key variable)")
	f.StringVar(&g.baseURL, "base-url", "", "override the provider base URL")
	f.StringVar(&g.system, "system", "", "system prompt")
	f.StringVar(&g.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	f.IntVar(&g.maxIterations, "max-iterations", 0, "maximum model round-trips per message")
	f.Float64Var(&g.temperature, "temperature", 0, "sampling temperature")
	f.IntVar(&g.maxTokens, "max-tokens", 0, "maximum output tokens")
	f.StringVar(&g.fileTools, "files", "", "serve the read-only file tools rooted at this directory")

	root.AddCommand(
		newChatCmd(g),
		newProvidersCmd(g),
		newToolsCmd(g),
		newPromptCmd(g),
		newResourceCmd(g),
		newSessionsCmd(g),
	)
	return root
}

// overrides turns the flags the user actually set into config overrides.
func (g *globalFlags) overrides(cmd *cobra.Command) config.Overrides {
	o := config.Overrides{
		Provider:      g.provider,
		Model:         g.model,
		APIKey:        g.apiKey,
		BaseURL:       g.baseURL,
		System:        g.system,
		LogLevel:      g.logLevel,
		MaxIterations: g.maxIterations,
	}
	flags := cmd.Flags()
	if flags.Changed("temperature") {
		t := g.temperature
		o.Temperature = &t
	}
	if flags.Changed("max-tokens") {
		n := g.maxTokens
		o.MaxTokens = &n
	}
	return o
}
