// ABOUTME: Configuration loading and parsing for centinai-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/2389/centinai-gateway/internal/auth"
)

// Defaults applied to fields the file leaves empty.
const (
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultConversationTimeout = 120 * time.Minute
	DefaultSweepSchedule       = "@every 5m"
	DefaultAnalyzerTimeout     = 120 * time.Second
	DefaultMaxBodyBytes        = 1 << 20
	DefaultDedupeSize          = 100_000
	DefaultMaxAgentsPerAccount = 3
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	dbPathEnv                  = "CENTINAI_DB_PATH"
)

// Config represents the complete centinai-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Conversations ConversationsConfig `yaml:"conversations" toml:"conversations"`
	Analyzer      AnalyzerConfig      `yaml:"analyzer" toml:"analyzer"`
	Export        ExportConfig        `yaml:"export" toml:"export"`
	Webhook       WebhookConfig       `yaml:"webhook" toml:"webhook"`
	Agents        AgentsConfig        `yaml:"agents" toml:"agents"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve with tailnet certificates on :443
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose on the public internet (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds read API authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ConversationsConfig controls conversation expiry and the reaper
type ConversationsConfig struct {
	Timeout       time.Duration `yaml:"-" toml:"-"`
	SweepSchedule string        `yaml:"sweep_schedule" toml:"sweep_schedule"`

	// Raw string values for unmarshaling
	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// AnalyzerConfig points at the service that receives exported conversations
type AnalyzerConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// ExportConfig holds the file export destination
type ExportConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

// WebhookConfig holds limits for inbound webhook deliveries
type WebhookConfig struct {
	MaxBodyBytes int64         `yaml:"max_body_bytes" toml:"max_body_bytes"`
	DedupeWindow time.Duration `yaml:"-" toml:"-"` // zero disables duplicate suppression
	DedupeSize   int           `yaml:"dedupe_size" toml:"dedupe_size"`

	DedupeWindowRaw string `yaml:"dedupe_window" toml:"dedupe_window"`
}

// AgentsConfig holds agent registration limits
type AgentsConfig struct {
	MaxPerAccount int `yaml:"max_per_account" toml:"max_per_account"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data, formatFor(path))
}

// Format is a configuration file syntax
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes configuration data, applies defaults and environment
// overrides, and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()
	if envPath := os.Getenv(dbPathEnv); envPath != "" {
		cfg.Database.Path = envPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// envVarPattern matches ${VAR_NAME}
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Conversations.Timeout == 0 {
		c.Conversations.Timeout = DefaultConversationTimeout
	}
	if c.Conversations.SweepSchedule == "" {
		c.Conversations.SweepSchedule = DefaultSweepSchedule
	}
	if c.Analyzer.Timeout == 0 {
		c.Analyzer.Timeout = DefaultAnalyzerTimeout
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Webhook.DedupeSize == 0 {
		c.Webhook.DedupeSize = DefaultDedupeSize
	}
	if c.Agents.MaxPerAccount == 0 {
		c.Agents.MaxPerAccount = DefaultMaxAgentsPerAccount
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return errors.New("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	if c.Conversations.Timeout < 0 {
		return errors.New("conversations.timeout must be positive")
	}
	if schedule := c.Conversations.SweepSchedule; schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("conversations.sweep_schedule %q: %w", schedule, err)
		}
	}

	if c.Analyzer.URL != "" {
		u, err := url.Parse(c.Analyzer.URL)
		if err != nil {
			return fmt.Errorf("analyzer.url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("analyzer.url must use http or https scheme")
		}
	}

	if c.Webhook.MaxBodyBytes < 0 {
		return errors.New("webhook.max_body_bytes must be positive")
	}
	if c.Webhook.DedupeWindow < 0 {
		return errors.New("webhook.dedupe_window must not be negative")
	}

	if c.Agents.MaxPerAccount < 0 {
		return errors.New("agents.max_per_account must be positive")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"conversations.timeout", cfg.Conversations.TimeoutRaw, &cfg.Conversations.Timeout},
		{"analyzer.timeout", cfg.Analyzer.TimeoutRaw, &cfg.Analyzer.Timeout},
		{"webhook.dedupe_window", cfg.Webhook.DedupeWindowRaw, &cfg.Webhook.DedupeWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// DefaultPath returns the config file location.
// Priority: CENTINAI_CONFIG env var > XDG_CONFIG_HOME/centinai/gateway.yaml > ~/.config/centinai/gateway.yaml
func DefaultPath() string {
	if path := os.Getenv("CENTINAI_CONFIG"); path != "" {
		return path
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "centinai", "gateway.yaml")
}
