package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gte=0"`
}

// ShutdownTimeout returns the graceful shutdown bound for the HTTP server and running jobs.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	// Driver selects the job store backend.
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	// URL is a postgres connection URL or a sqlite file path.
	URL string `mapstructure:"url" validate:"required"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" validate:"required_if=Enabled true,omitempty,min=32"`
	// TokenLifetimeMinutes bounds tokens issued by the token command.
	TokenLifetimeMinutes int `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// TokenLifetime returns how long an issued access token stays valid.
func (c AuthConfig) TokenLifetime() time.Duration {
	return time.Duration(c.TokenLifetimeMinutes) * time.Minute
}

// LLMConfig contains all generation provider settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	GeminiModel  string `mapstructure:"gemini_model" validate:"required"`

	OpenRouterAPIKey  string `mapstructure:"openrouter_api_key"`
	OpenRouterModel   string `mapstructure:"openrouter_model" validate:"required"`
	OpenRouterBaseURL string `mapstructure:"openrouter_base_url" validate:"required,url"`

	// OllamaBaseURL enables the local provider when set.
	OllamaBaseURL string `mapstructure:"ollama_base_url" validate:"omitempty,url"`
	OllamaModel   string `mapstructure:"ollama_model" validate:"required"`

	// DefaultOrder is the provider priority used after the job's requested family.
	DefaultOrder []string `mapstructure:"default_order" validate:"required,min=1,dive,oneof=gemini openrouter local"`

	MaxRetries            int `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelayMS      int `mapstructure:"retry_base_delay_ms" validate:"gt=0"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds" validate:"gt=0"`
}

// RetryBaseDelay returns the first backoff delay applied on a rate limit.
func (c LLMConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-call timeout for provider requests.
func (c LLMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// WorkerConfig contains settings for the external extraction workers.
// Commands are shell-style strings; the launcher appends per-job arguments.
type WorkerConfig struct {
	PythonBin          string `mapstructure:"python_bin" validate:"required"`
	TranscribeCommand  string `mapstructure:"transcribe_command" validate:"required"`
	DownloadCommand    string `mapstructure:"download_command" validate:"required"`
	CaptionsCommand    string `mapstructure:"captions_command"`
	InfoCommand        string `mapstructure:"info_command"`
	WhisperModel       string `mapstructure:"whisper_model" validate:"required"`
	Device             string `mapstructure:"device" validate:"required,oneof=cpu cuda auto"`
	GracePeriodSeconds int    `mapstructure:"grace_period_seconds" validate:"gt=0"`
	WorkDir            string `mapstructure:"work_dir"`
	// MinFreeMemoryMB and MinFreeDiskMB refuse new workers when the host is
	// short on resources. Zero disables the check.
	MinFreeMemoryMB int `mapstructure:"min_free_memory_mb" validate:"gte=0"`
	MinFreeDiskMB   int `mapstructure:"min_free_disk_mb" validate:"gte=0"`
}

// GracePeriod returns how long a signalled worker may take to exit before it is killed.
func (c WorkerConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// PipelineConfig contains stage controller settings.
type PipelineConfig struct {
	DeterministicFallback bool   `mapstructure:"deterministic_fallback"`
	StoreRetryDelayMS     int    `mapstructure:"store_retry_delay_ms" validate:"gte=0"`
	PromptDir             string `mapstructure:"prompt_dir"`
}

// StoreRetryDelay returns the pause before a failed stage write is retried.
func (c PipelineConfig) StoreRetryDelay() time.Duration {
	return time.Duration(c.StoreRetryDelayMS) * time.Millisecond
}
