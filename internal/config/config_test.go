package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fertiscan/internal/failure"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("AZURE_API_ENDPOINT", "https://di.example.com")
	t.Setenv("AZURE_API_KEY", "di-key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://openai.example.com")
	t.Setenv("AZURE_OPENAI_KEY", "openai-key")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o")
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "2024-06-01", cfg.LLMAPIVersion)
	assert.Equal(t, 12000, cfg.LLMMaxTokens)
	assert.Equal(t, "prompts/instruction.txt", cfg.PromptPath)
	assert.Equal(t, 2*time.Minute, cfg.RequestTimeout)
	assert.Contains(t, cfg.LLMJSONModeDeployments, "gpt-4o")
	assert.Empty(t, cfg.SchemaSpecPath)
	assert.Equal(t, "stderr", cfg.GetLoggerConfig().Output)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("AZURE_OPENAI_MAX_TOKENS", "4000")
	t.Setenv("AZURE_OPENAI_JSON_DEPLOYMENTS", "custom-a, custom-b")
	t.Setenv("REQUEST_TIMEOUT", "45s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.LLMMaxTokens)
	assert.Equal(t, []string{"custom-a", "custom-b"}, cfg.LLMJSONModeDeployments)
	assert.Equal(t, 45*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "debug", cfg.GetLoggerConfig().Level)

	llmCfg := cfg.LLMConfig()
	assert.Equal(t, "gpt-4o", llmCfg.Deployment)
	assert.Equal(t, 4000, llmCfg.MaxTokens)
}

func TestLoadConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "")

	path := filepath.Join(t.TempDir(), "fertiscan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("azure_openai_deployment: from-file\nprompt_path: custom.txt\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.LLMDeployment)
	assert.Equal(t, "custom.txt", cfg.PromptPath)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateReportsMissingSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("AZURE_OPENAI_KEY", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.NoError(t, cfg.ValidateOCR())

	err = cfg.Validate()
	assert.ErrorIs(t, err, failure.ErrConfiguration)
	assert.Contains(t, err.Error(), "AZURE_OPENAI_KEY")
}
