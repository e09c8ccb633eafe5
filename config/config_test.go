package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD",
		"MODEL_PROVIDER", "MODEL_PROJECT", "MODEL_LOCATION", "MODEL_NAME",
		"MAX_ITERATIONS", "MAX_RETRIES", "ENABLE_TRACING",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_DefaultsPlusRequiredEnvValidates(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.EventLog.Host)
	assert.Equal(t, 5432, cfg.EventLog.Port)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, 100, cfg.Processing.MaxIterations)
	assert.Equal(t, 2, cfg.Processing.MaxRetries)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_MissingRequiredFieldFailsValidation(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_EnvOverridesYAMLFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
event_log:
  host: db.example.com
  user: fromfile
  password: fromfile
model:
  provider: gemini
  name: gemini-2.5-pro
  project: my-project
  location: us-central1
`), 0o600))

	t.Setenv("DB_USER", "fromenv")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "db.example.com", cfg.EventLog.Host) // from file, no env override
	assert.Equal(t, "fromenv", cfg.EventLog.User)        // env takes precedence
	assert.Equal(t, "gemini", cfg.Model.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.Model.Name)
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")

	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
}

func TestModelConfig_RejectsUnknownProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("MODEL_PROVIDER", "not-a-real-provider")

	_, err := Load("")
	assert.Error(t, err)
}

func TestModelConfig_CloudHostedProviderRequiresProjectAndLocation(t *testing.T) {
	base := ModelConfig{Provider: "gemini", Name: "gemini-2.5-pro"}

	assert.Error(t, base.validate(), "gemini without project/location must fail validation")

	withProject := base
	withProject.Project = "my-project"
	assert.Error(t, withProject.validate(), "gemini with project but no location must still fail validation")

	withBoth := withProject
	withBoth.Location = "us-central1"
	assert.NoError(t, withBoth.validate())

	// Bedrock is also cloud-hosted and subject to the same rule.
	bedrock := ModelConfig{Provider: "bedrock", Name: "anthropic.claude-sonnet-4-5"}
	assert.Error(t, bedrock.validate())
}

func TestModelConfig_NonCloudProviderDoesNotRequireProjectOrLocation(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("MODEL_NAME", "gpt-5")

	_, err := Load("")
	assert.NoError(t, err)
}

func TestLoggingConfig_RejectsUnknownLevel(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "VERBOSE")

	_, err := Load("")
	assert.Error(t, err)
}

func TestProcessingConfig_RejectsNonPositiveMaxIterations(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_USER", "postgres")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("MAX_ITERATIONS", "0")

	_, err := Load("")
	assert.Error(t, err)
}
