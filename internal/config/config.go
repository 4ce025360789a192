package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the bicepmigrate configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Generation GenerationConfig `yaml:"generation"`
	Migration  MigrationConfig  `yaml:"migration"`
	Lock       LockConfig       `yaml:"lock"`
	Notify     NotifyConfig     `yaml:"notify"`
	Runs       RunsConfig       `yaml:"runs"`
}

// ServerConfig holds HTTP server settings for serve mode.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"` // json or console
	Dir           string `yaml:"dir"`    // per-run log files; empty disables them
	RetentionDays int    `yaml:"retention_days"`
}

// ProvidersConfig holds git provider configurations.
type ProvidersConfig struct {
	GitHub GitHubConfig `yaml:"github"`
	GitLab GitLabConfig `yaml:"gitlab"`
}

// GitHubConfig holds GitHub-specific settings.
type GitHubConfig struct {
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"base_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// GitLabConfig holds GitLab-specific settings.
type GitLabConfig struct {
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"base_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// GenerationConfig configures the model backend and the retry policy around it.
type GenerationConfig struct {
	Backend          string `yaml:"backend"`
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Model            string `yaml:"model"`
	MaxTokens        int    `yaml:"max_tokens"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	Retries          int    `yaml:"retries"`
	InitialBackoffMS int    `yaml:"initial_backoff_ms"`
	Concurrency      int    `yaml:"concurrency"`
	TemplatePath     string `yaml:"template_path"`
}

// Timeout returns the hard deadline for one generation call.
func (g GenerationConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutSeconds) * time.Second
}

// InitialBackoff returns the first retry delay.
func (g GenerationConfig) InitialBackoff() time.Duration {
	return time.Duration(g.InitialBackoffMS) * time.Millisecond
}

// MigrationConfig controls what gets published.
type MigrationConfig struct {
	BranchPrefix string   `yaml:"branch_prefix"`
	OutputDir    string   `yaml:"output_dir"`
	Labels       []string `yaml:"labels"`
	TargetBranch string   `yaml:"target_branch"` // overrides the repository default branch
}

// LockConfig selects the publish lock. An empty RedisURL means an in-process lock.
type LockConfig struct {
	RedisURL    string `yaml:"redis_url"`
	TTLSeconds  int    `yaml:"ttl_seconds"`
	WaitSeconds int    `yaml:"wait_seconds"`
}

// NotifyConfig configures run outcome notifications. An empty NATSURL disables them.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// RunsConfig bounds concurrent runs in serve mode.
type RunsConfig struct {
	MaxConcurrent   int `yaml:"max_concurrent"`
	QueueSize       int `yaml:"queue_size"`
	DebounceSeconds int `yaml:"debounce_seconds"`
}

// envVarPattern matches ${VAR_NAME} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 7000,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			RetentionDays: 30,
		},
		Generation: GenerationConfig{
			Backend:          "anthropic",
			Model:            "claude-sonnet-4-20250514",
			MaxTokens:        8192,
			TimeoutSeconds:   60,
			Retries:          2,
			InitialBackoffMS: 1000,
			Concurrency:      4,
		},
		Migration: MigrationConfig{
			BranchPrefix: "migrate-to-azure",
			OutputDir:    "azure",
			Labels:       []string{"azure-migration", "automated"},
		},
		Lock: LockConfig{
			TTLSeconds:  300,
			WaitSeconds: 120,
		},
		Notify: NotifyConfig{
			Subject: "bicepmigrate.runs",
		},
		Runs: RunsConfig{
			MaxConcurrent:   4,
			QueueSize:       20,
			DebounceSeconds: 10,
		},
	}
}

// Load reads and parses the config file at the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Substitute environment variables
	data = envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(varName)))
	})

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOptional is Load, but a missing file yields the defaults.
// CI runs usually configure everything through the environment.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// ApplyEnv fills unset credentials and endpoints from well-known CI variables.
func (c *Config) ApplyEnv() {
	c.Providers.GitLab.Token = coalesce(c.Providers.GitLab.Token, os.Getenv("GITLAB_API_TOKEN"))
	c.Providers.GitLab.BaseURL = coalesce(c.Providers.GitLab.BaseURL, os.Getenv("CI_SERVER_URL"))
	c.Providers.GitHub.Token = coalesce(c.Providers.GitHub.Token, os.Getenv("GITHUB_TOKEN"))
	c.Providers.GitHub.BaseURL = coalesce(c.Providers.GitHub.BaseURL, os.Getenv("GITHUB_API_URL"))

	switch c.Generation.Backend {
	case "anthropic":
		c.Generation.APIKey = coalesce(c.Generation.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
	case "duo":
		c.Generation.APIKey = coalesce(c.Generation.APIKey, c.Providers.GitLab.Token)
		c.Generation.Endpoint = coalesce(c.Generation.Endpoint, c.Providers.GitLab.BaseURL)
	}
}

// Validate checks settings the orchestrator cannot run without.
func (c *Config) Validate() error {
	if c.Generation.Retries < 0 {
		return fmt.Errorf("generation.retries must be >= 0, got %d", c.Generation.Retries)
	}
	if c.Generation.TimeoutSeconds <= 0 {
		return fmt.Errorf("generation.timeout_seconds must be > 0, got %d", c.Generation.TimeoutSeconds)
	}
	if c.Migration.BranchPrefix == "" {
		return errors.New("migration.branch_prefix must not be empty")
	}
	return nil
}
