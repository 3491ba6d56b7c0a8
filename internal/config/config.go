package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fertiscan/internal/failure"
	"fertiscan/internal/llm"
	"fertiscan/internal/logger"
)

// Config holds every setting of the CLI. Values come from, in increasing
// precedence: defaults, the optional config file, environment variables.
type Config struct {
	// Azure AI Document Intelligence (OCR)
	OCREndpoint string
	OCRKey      string

	// Azure OpenAI (extraction)
	LLMEndpoint            string
	LLMKey                 string
	LLMDeployment          string
	LLMAPIVersion          string
	LLMMaxTokens           int
	LLMJSONModeDeployments []string

	// Prompt files
	PromptPath     string
	SchemaSpecPath string // empty means the embedded schema

	// Runtime
	TraceEndpoint  string
	RequestTimeout time.Duration
	ScratchDir     string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Setting keys. Each is also read from the environment variable of the same
// name in upper case.
const (
	keyOCREndpoint     = "azure_api_endpoint"
	keyOCRKey          = "azure_api_key"
	keyLLMEndpoint     = "azure_openai_endpoint"
	keyLLMKey          = "azure_openai_key"
	keyLLMDeployment   = "azure_openai_deployment"
	keyLLMAPIVersion   = "azure_openai_api_version"
	keyLLMMaxTokens    = "azure_openai_max_tokens"
	keyLLMJSONMode     = "azure_openai_json_deployments"
	keyPromptPath      = "prompt_path"
	keySchemaSpecPath  = "schema_spec_path"
	keyTraceEndpoint   = "otel_trace_endpoint"
	keyRequestTimeout  = "request_timeout"
	keyScratchDir      = "scratch_dir"
	keyLogLevel        = "log_level"
	keyLogFormat       = "log_format"
	keyLogTimeFormat   = "log_time_format"
	keyLogOutput       = "log_output"
	defaultPromptPath  = "prompts/instruction.txt"
	defaultTimeout     = 2 * time.Minute
	defaultLogTimeFmt  = time.RFC3339
	defaultConfigName  = "fertiscan"
	configPathEnvVar   = "FERTISCAN_CONFIG"
	jsonModeSeparators = ", "
)

// Load reads the configuration. path names an optional config file (YAML,
// TOML or JSON); when empty, FERTISCAN_CONFIG is consulted, then
// ./fertiscan.yaml if present. Load does not check required settings, see
// Validate.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault(keyLLMAPIVersion, llm.DefaultAPIVersion)
	v.SetDefault(keyLLMMaxTokens, llm.DefaultMaxTokens)
	v.SetDefault(keyLLMJSONMode, strings.Join(llm.DefaultJSONModeDeployments, ","))
	v.SetDefault(keyPromptPath, defaultPromptPath)
	v.SetDefault(keyRequestTimeout, defaultTimeout)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "console")
	v.SetDefault(keyLogTimeFormat, defaultLogTimeFmt)
	v.SetDefault(keyLogOutput, "stderr")

	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(configPathEnvVar)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(defaultConfigName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		OCREndpoint:            v.GetString(keyOCREndpoint),
		OCRKey:                 v.GetString(keyOCRKey),
		LLMEndpoint:            v.GetString(keyLLMEndpoint),
		LLMKey:                 v.GetString(keyLLMKey),
		LLMDeployment:          v.GetString(keyLLMDeployment),
		LLMAPIVersion:          v.GetString(keyLLMAPIVersion),
		LLMMaxTokens:           v.GetInt(keyLLMMaxTokens),
		LLMJSONModeDeployments: splitList(v.GetString(keyLLMJSONMode)),
		PromptPath:             v.GetString(keyPromptPath),
		SchemaSpecPath:         v.GetString(keySchemaSpecPath),
		TraceEndpoint:          v.GetString(keyTraceEndpoint),
		RequestTimeout:         v.GetDuration(keyRequestTimeout),
		ScratchDir:             v.GetString(keyScratchDir),
		LogLevel:               v.GetString(keyLogLevel),
		LogFormat:              v.GetString(keyLogFormat),
		LogTimeFormat:          v.GetString(keyLogTimeFormat),
		LogOutput:              v.GetString(keyLogOutput),
	}

	return cfg, nil
}

// Validate checks the settings needed for a full extraction.
func (c *Config) Validate() error {
	if err := c.ValidateOCR(); err != nil {
		return err
	}
	if err := c.ValidateLLM(); err != nil {
		return err
	}
	if c.PromptPath == "" {
		return missing("PROMPT_PATH")
	}
	if c.RequestTimeout < 0 {
		return failure.Configuration("config.Validate", "REQUEST_TIMEOUT must not be negative")
	}
	return nil
}

// ValidateOCR checks the OCR settings.
func (c *Config) ValidateOCR() error {
	if c.OCREndpoint == "" {
		return missing("AZURE_API_ENDPOINT")
	}
	if c.OCRKey == "" {
		return missing("AZURE_API_KEY")
	}
	return nil
}

// ValidateLLM checks the language model settings.
func (c *Config) ValidateLLM() error {
	if c.LLMEndpoint == "" {
		return missing("AZURE_OPENAI_ENDPOINT")
	}
	if c.LLMKey == "" {
		return missing("AZURE_OPENAI_KEY")
	}
	if c.LLMDeployment == "" {
		return missing("AZURE_OPENAI_DEPLOYMENT")
	}
	if c.LLMMaxTokens <= 0 {
		return failure.Configuration("config.Validate", "AZURE_OPENAI_MAX_TOKENS must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// LLMConfig returns the settings of the Azure OpenAI client.
func (c *Config) LLMConfig() llm.Config {
	return llm.Config{
		Endpoint:            c.LLMEndpoint,
		Key:                 c.LLMKey,
		Deployment:          c.LLMDeployment,
		APIVersion:          c.LLMAPIVersion,
		MaxTokens:           c.LLMMaxTokens,
		JSONModeDeployments: c.LLMJSONModeDeployments,
		TraceEndpoint:       c.TraceEndpoint,
	}
}

func missing(name string) error {
	return failure.Configuration("config.Validate", name+" is required")
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(jsonModeSeparators, r)
	})
	if len(fields) == 0 {
		return []string{}
	}
	return fields
}
