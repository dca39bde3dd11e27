// Package config loads unai settings from defaults, a YAML file, env files,
// the environment and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lowkaihon/unai/internal/fsutil"
	"github.com/lowkaihon/unai/llm"
	"github.com/lowkaihon/unai/provider"
)

const (
	// DefaultProvider is used when nothing else selects a provider.
	DefaultProvider = "openai"

	envConfig   = "UNAI_CONFIG"
	envProvider = "UNAI_PROVIDER"
	envModel    = "UNAI_MODEL"
	envBaseURL  = "UNAI_BASE_URL"
	envLogLevel = "UNAI_LOG_LEVEL"

	envRefPrefix = "env://"
)

// Config is the resolved configuration.
type Config struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	System      string   `yaml:"system"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	MaxTokens   *int     `yaml:"max_tokens"`
	Reasoning   *bool    `yaml:"reasoning"`

	MaxIterations int `yaml:"max_iterations"`

	Transport  TransportConfig   `yaml:"transport"`
	Log        LogConfig         `yaml:"log"`
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
	// FileTools is a directory. When set, the built-in file tools are served
	// rooted there.
	FileTools string         `yaml:"file_tools"`
	Sessions  SessionsConfig `yaml:"sessions"`
}

type TransportConfig struct {
	Timeout time.Duration     `yaml:"timeout"`
	Proxy   string            `yaml:"proxy"`
	Headers map[string]string `yaml:"headers"`
	Retry   *RetryConfig      `yaml:"retry"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MCPServerConfig describes a stdio MCP server to spawn.
type MCPServerConfig struct {
	ID      string            `yaml:"id"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Environ returns Env as KEY=VALUE pairs for the child process.
func (m MCPServerConfig) Environ() []string {
	out := make([]string, 0, len(m.Env))
	for k, v := range m.Env {
		out = append(out, k+"="+v)
	}
	return out
}

const (
	BackendFile  = "file"
	BackendMongo = "mongo"
)

type SessionsConfig struct {
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`
	Mongo   MongoConfig `yaml:"mongo"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// Overrides carry command-line flags. Empty and nil values are ignored.
type Overrides struct {
	Provider      string
	Model         string
	APIKey        string
	BaseURL       string
	System        string
	LogLevel      string
	MaxIterations int
	Temperature   *float64
	MaxTokens     *int
}

// LoadOptions controls Load.
type LoadOptions struct {
	// ConfigFile overrides $UNAI_CONFIG and the XDG default.
	ConfigFile string
	// WorkDir is where .env is looked up. Empty means the current directory.
	WorkDir   string
	Overrides Overrides
}

// Defaults returns the configuration before any file or environment is read.
func Defaults() *Config {
	return &Config{
		Provider:      DefaultProvider,
		MaxIterations: 10,
		Transport: TransportConfig{
			Timeout: 5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
		Sessions: SessionsConfig{
			Backend: BackendFile,
			Mongo:   MongoConfig{Database: "unai", Collection: "sessions"},
		},
	}
}

// ConfigDir returns the XDG-compliant config directory for unai.
// Uses $XDG_CONFIG_HOME/unai if set, otherwise ~/.config/unai.
func ConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" && filepath.IsAbs(dir) {
		return filepath.Join(dir, "unai"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "unai"), nil
}

// Load builds the configuration. It does not validate it.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Defaults()

	path, explicit := opts.ConfigFile, opts.ConfigFile != ""
	if path == "" {
		if p := os.Getenv(envConfig); p != "" {
			path, explicit = p, true
		} else if dir, err := ConfigDir(); err == nil {
			path = filepath.Join(dir, "config.yaml")
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return nil, err
			}
		}
	}

	envFiles := []string{filepath.Join(opts.WorkDir, ".env")}
	if dir, err := ConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(dir, "credentials"))
	}
	for _, p := range envFiles {
		if err := loadEnvFile(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", p, err)
		}
	}

	cfg.applyEnv()
	cfg.applyOverrides(opts.Overrides)

	key, err := resolveRef(cfg.APIKey)
	if err != nil {
		return nil, err
	}
	cfg.APIKey = key
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envProvider); v != "" {
		c.Provider = v
	}
	if v := os.Getenv(envModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(envBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.Log.Level = v
	}
	if info, ok := provider.Lookup(c.Provider); ok {
		if v := os.Getenv(info.KeyEnv); v != "" {
			c.APIKey = v
		}
	}
}

func (c *Config) applyOverrides(o Overrides) {
	if o.Provider != "" && o.Provider != c.Provider {
		c.Provider = o.Provider
		// A key read for another provider does not carry over.
		c.APIKey = ""
		if info, ok := provider.Lookup(o.Provider); ok {
			c.APIKey = os.Getenv(info.KeyEnv)
		}
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.BaseURL != "" {
		c.BaseURL = o.BaseURL
	}
	if o.System != "" {
		c.System = o.System
	}
	if o.LogLevel != "" {
		c.Log.Level = o.LogLevel
	}
	if o.MaxIterations > 0 {
		c.MaxIterations = o.MaxIterations
	}
	if o.Temperature != nil {
		c.Temperature = o.Temperature
	}
	if o.MaxTokens != nil {
		c.MaxTokens = o.MaxTokens
	}
}

// resolveRef expands an env://NAME reference.
func resolveRef(value string) (string, error) {
	name, ok := strings.CutPrefix(value, envRefPrefix)
	if !ok {
		return value, nil
	}
	if name == "" {
		return "", fmt.Errorf("empty environment reference %q", value)
	}
	v, set := os.LookupEnv(name)
	if !set {
		return "", fmt.Errorf("environment variable %s referenced by api_key is not set", name)
	}
	return v, nil
}

// Settings returns the provider settings for c.
func (c *Config) Settings() provider.Settings {
	return provider.Settings{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		System:      c.System,
		Reasoning:   c.Reasoning,
		Temperature: c.Temperature,
		TopP:        c.TopP,
		MaxTokens:   c.MaxTokens,
	}
}

// TransportOptions returns the HTTP transport settings for c.
func (c *Config) TransportOptions() llm.TransportOptions {
	opts := llm.TransportOptions{
		Timeout: c.Transport.Timeout,
		Proxy:   c.Transport.Proxy,
		Headers: c.Transport.Headers,
	}
	if r := c.Transport.Retry; r != nil {
		policy := llm.DefaultRetryPolicy()
		if r.MaxRetries > 0 {
			policy.MaxRetries = r.MaxRetries
		}
		if r.BaseDelay > 0 {
			policy.BaseDelay = r.BaseDelay
		}
		if r.MaxDelay > 0 {
			policy.MaxDelay = r.MaxDelay
		}
		opts.Retry = policy
	}
	return opts
}

// SaveCredential stores key under the provider's key variable in the
// credentials file, replacing an earlier entry. It returns the file path.
func SaveCredential(providerName, key string) (string, error) {
	info, ok := provider.Lookup(providerName)
	if !ok {
		return "", fmt.Errorf("unknown provider %q", providerName)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(dir, "credentials")

	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if k, _, ok := strings.Cut(line, "="); ok && strings.TrimSpace(k) == info.KeyEnv {
				continue
			}
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	lines = append(lines, info.KeyEnv+"="+key)

	if err := fsutil.AtomicWrite(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// PromptAPIKey asks for the provider's API key with read and saves it with
// SaveCredential. Progress is reported on w.
func PromptAPIKey(read func(prompt string) (string, error), w io.Writer, providerName string) (string, error) {
	key, err := read(fmt.Sprintf("Enter your %s API key: ", providerName))
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("API key cannot be empty")
	}

	path, err := SaveCredential(providerName, key)
	if err != nil {
		fmt.Fprintf(w, "Warning: could not save API key: %v\n", err)
		return key, nil
	}
	fmt.Fprintf(w, "API key saved to %s\n", path)
	return key, nil
}

// loadEnvFile reads a .env file into the environment. A variable already
// set to a non-empty value is left alone.
func loadEnvFile(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return err
	}
	for k, v := range vars {
		if os.Getenv(k) == "" {
			os.Setenv(k, v)
		}
	}
	return nil
}
