// Package config loads and validates this module's runtime configuration
// from environment variables, with an optional YAML file providing
// defaults that environment variables then override — the same layering
// goadesign-goa-ai and vanducng-goclaw both use, adapted here from the
// JSON5-file-plus-env-overrides shape of vanducng-goclaw's own
// internal/config package. Each sub-config validates itself at
// construction, mirroring the __post_init__ validation of the original
// Python dataclasses this was ported from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EventLogConfig configures the Postgres-backed event log connection.
type EventLogConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func (c EventLogConfig) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("config: event log host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: event log port must be 1-65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("config: event log database cannot be empty")
	}
	if strings.TrimSpace(c.User) == "" {
		return fmt.Errorf("config: event log user cannot be empty")
	}
	if c.Password == "" {
		return fmt.Errorf("config: event log password cannot be empty")
	}
	return nil
}

// ModelConfig configures which provider and model the engine calls.
// Project/Location are only required by the cloud-hosted providers
// (gemini, bedrock); anthropic/openai read their credentials from their
// own SDK-standard environment variables instead.
type ModelConfig struct {
	Provider string `yaml:"provider"`
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	Name     string `yaml:"name"`
}

var validProviders = map[string]bool{"anthropic": true, "openai": true, "gemini": true, "bedrock": true}

var cloudHostedProviders = map[string]bool{"gemini": true, "bedrock": true}

func (c ModelConfig) validate() error {
	provider := strings.ToLower(c.Provider)
	if !validProviders[provider] {
		return fmt.Errorf("config: model provider must be one of anthropic|openai|gemini|bedrock, got %q", c.Provider)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("config: model name cannot be empty")
	}
	if cloudHostedProviders[provider] {
		if strings.TrimSpace(c.Project) == "" {
			return fmt.Errorf("config: model project cannot be empty for provider %q", c.Provider)
		}
		if strings.TrimSpace(c.Location) == "" {
			return fmt.Errorf("config: model location cannot be empty for provider %q", c.Provider)
		}
	}
	return nil
}

// ProcessingConfig bounds the engine's processing loop.
type ProcessingConfig struct {
	MaxIterations int  `yaml:"max_iterations"`
	MaxRetries    int  `yaml:"max_retries"`
	EnableTracing bool `yaml:"enable_tracing"`
}

func (c ProcessingConfig) validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("config: max_iterations must be > 0, got %d", c.MaxIterations)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be >= 0, got %d", c.MaxRetries)
	}
	return nil
}

// LoggingConfig configures the telemetry logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

var validLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true, "CRITICAL": true}
var validFormats = map[string]bool{"json": true, "text": true}

func (c LoggingConfig) validate() error {
	if !validLevels[strings.ToUpper(c.Level)] {
		return fmt.Errorf("config: log_level must be one of DEBUG|INFO|WARNING|ERROR|CRITICAL, got %q", c.Level)
	}
	if !validFormats[strings.ToLower(c.Format)] {
		return fmt.Errorf("config: log_format must be one of json|text, got %q", c.Format)
	}
	return nil
}

// Config is the complete runtime configuration.
type Config struct {
	EventLog   EventLogConfig   `yaml:"event_log"`
	Model      ModelConfig      `yaml:"model"`
	Processing ProcessingConfig `yaml:"processing"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Validate runs every sub-config's validation, returning the first error
// encountered.
func (c Config) Validate() error {
	if err := c.EventLog.validate(); err != nil {
		return err
	}
	if err := c.Model.validate(); err != nil {
		return err
	}
	if err := c.Processing.validate(); err != nil {
		return err
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	return nil
}

// Default returns a Config populated with this system's documented
// defaults, before any YAML file or environment overrides are applied.
func Default() Config {
	return Config{
		EventLog: EventLogConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "message_store",
		},
		Model: ModelConfig{
			Provider: "anthropic",
			Location: "us-central1",
			Name:     "claude-sonnet-4-5",
		},
		Processing: ProcessingConfig{
			MaxIterations: 100,
			MaxRetries:    2,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Load builds a Config starting from Default(), overlaid by yamlPath (if
// non-empty and the file exists) and finally by environment variables,
// which always take precedence. Validate is called before returning.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %q: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %q: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("DB_HOST", &cfg.EventLog.Host)
	envInt("DB_PORT", &cfg.EventLog.Port)
	envStr("DB_NAME", &cfg.EventLog.Database)
	envStr("DB_USER", &cfg.EventLog.User)
	envStr("DB_PASSWORD", &cfg.EventLog.Password)

	envStr("MODEL_PROVIDER", &cfg.Model.Provider)
	envStr("MODEL_PROJECT", &cfg.Model.Project)
	envStr("MODEL_LOCATION", &cfg.Model.Location)
	envStr("MODEL_NAME", &cfg.Model.Name)

	envInt("MAX_ITERATIONS", &cfg.Processing.MaxIterations)
	envInt("MAX_RETRIES", &cfg.Processing.MaxRetries)
	envBool("ENABLE_TRACING", &cfg.Processing.EnableTracing)

	envStr("LOG_LEVEL", &cfg.Logging.Level)
	envStr("LOG_FORMAT", &cfg.Logging.Format)

	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
}
