// Package config loads pmcrew settings from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/pmcrew/registry"
)

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Notion    NotionConfig    `yaml:"notion"`
	Registry  RegistryConfig  `yaml:"registry"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
}

// ServerConfig configures the web shell.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxUploadBytes caps a multipart form.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

// LoggingConfig selects level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LLMConfig selects the language model backend.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
}

// AgentConfig bounds agent execution.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
}

// NotionConfig configures the Notion client.
type NotionConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Version      string        `yaml:"version"`
	ParentPageID string        `yaml:"parent_page_id"`
	BatchSize    int           `yaml:"batch_size"`
	BatchDelay   time.Duration `yaml:"batch_delay"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RegistryConfig locates the client registry and the active client.
type RegistryConfig struct {
	Path     string         `yaml:"path"`
	ClientID string         `yaml:"client_id"`
	Defaults ClientDefaults `yaml:"defaults"`
}

// KnowledgeConfig points at reference material the agents may search.
type KnowledgeConfig struct {
	// StandardsPath is a plain text project management standards reference.
	StandardsPath string `yaml:"standards_path"`
}

// ClientDefaults seeds a client record on first use.
type ClientDefaults struct {
	ClientName         string `yaml:"client_name"`
	NotionPageEmoji    string `yaml:"notion_page_emoji"`
	NotionPageCoverURL string `yaml:"notion_page_cover_url"`
}

// Record converts the defaults to a registry record.
func (d ClientDefaults) Record() registry.Client {
	return registry.Client{
		ClientName:         d.ClientName,
		NotionPageEmoji:    d.NotionPageEmoji,
		NotionPageCoverURL: d.NotionPageCoverURL,
	}
}

// Load reads path (optional), expands ${VAR} references, applies defaults and
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}

		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Minute
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 10 << 20
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 15
	}

	if c.Notion.BaseURL == "" {
		c.Notion.BaseURL = "https://api.notion.com"
	}
	if c.Notion.Version == "" {
		c.Notion.Version = "2022-06-28"
	}
	if c.Notion.BatchSize == 0 {
		c.Notion.BatchSize = 50
	}
	if c.Notion.BatchDelay == 0 {
		c.Notion.BatchDelay = 500 * time.Millisecond
	}
	if c.Notion.Timeout == 0 {
		c.Notion.Timeout = 30 * time.Second
	}

	if c.Registry.Path == "" {
		c.Registry.Path = "clients.json"
	}
	if c.Registry.ClientID == "" {
		c.Registry.ClientID = registry.DefaultClientID
	}
	if c.Registry.Defaults.ClientName == "" {
		c.Registry.Defaults.ClientName = "New Client"
	}
	if c.Registry.Defaults.NotionPageEmoji == "" {
		c.Registry.Defaults.NotionPageEmoji = "📘"
	}
}

// ApplyEnv overrides settings from well-known environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.Server.Addr, "PMCREW_ADDR")
	setString(&c.Logging.Level, "PMCREW_LOG_LEVEL")
	setString(&c.Logging.Format, "PMCREW_LOG_FORMAT")
	setString(&c.LLM.Provider, "PMCREW_LLM_PROVIDER")
	setString(&c.LLM.Model, "PMCREW_LLM_MODEL")
	setString(&c.Notion.APIKey, "NOTION_API_KEY")
	setString(&c.Notion.ParentPageID, "NOTION_PARENT_PAGE_ID")
	setString(&c.Registry.Path, "PMCREW_REGISTRY_PATH")
	setString(&c.Registry.ClientID, "PMCREW_CLIENT_ID")
	setString(&c.Knowledge.StandardsPath, "PMCREW_STANDARDS_PATH")

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = ProviderAPIKey(c.LLM.Provider)
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	var errs []error

	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, c.LLM.Provider))
	}
	if c.LLM.APIKey == "" {
		errs = append(errs, fmt.Errorf("llm.api_key is required (or set %s)", providerEnv(c.LLM.Provider)))
	}
	if c.Agent.MaxIterations < 1 {
		errs = append(errs, errors.New("agent.max_iterations must be positive"))
	}
	if c.Notion.APIKey == "" {
		errs = append(errs, errors.New("notion.api_key is required (or set NOTION_API_KEY)"))
	}
	if c.Notion.ParentPageID == "" {
		errs = append(errs, errors.New("notion.parent_page_id is required (or set NOTION_PARENT_PAGE_ID)"))
	}
	if c.Notion.BatchSize < 1 || c.Notion.BatchSize > 50 {
		errs = append(errs, fmt.Errorf("notion.batch_size must be between 1 and 50, got %d", c.Notion.BatchSize))
	}
	if c.Notion.BatchDelay < 0 {
		errs = append(errs, errors.New("notion.batch_delay must not be negative"))
	}
	if p := c.Knowledge.StandardsPath; p != "" {
		if _, err := os.Stat(p); err != nil {
			errs = append(errs, fmt.Errorf("knowledge.standards_path: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ProviderAPIKey returns the conventional API key variable for provider.
func ProviderAPIKey(provider string) string {
	if name := providerEnv(provider); name != "" {
		return os.Getenv(name)
	}
	return ""
}

func providerEnv(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}
