package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads.
const EnvPrefix = "STUDYKIT"

// ConfigPathEnv names an explicit config file to read instead of ./config.yaml.
const ConfigPathEnv = "STUDYKIT_CONFIG"

// setDefaults registers every key with a default so that environment
// variables bind during Unmarshal even when no config file exists.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout_seconds", 30)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "studykit.db")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.gemini_model", "gemini-2.0-flash")
	v.SetDefault("llm.openrouter_api_key", "")
	v.SetDefault("llm.openrouter_model", "google/gemini-2.0-flash-001")
	v.SetDefault("llm.openrouter_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.ollama_base_url", "")
	v.SetDefault("llm.ollama_model", "llama3.1")
	v.SetDefault("llm.default_order", []string{"gemini", "openrouter", "local"})
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_base_delay_ms", 2000)
	v.SetDefault("llm.request_timeout_seconds", 120)

	v.SetDefault("worker.python_bin", "python3")
	v.SetDefault("worker.transcribe_command", "{python} workers/transcribe_audio.py")
	v.SetDefault("worker.download_command", "{python} workers/download_youtube_audio.py")
	v.SetDefault("worker.captions_command", "{python} workers/get_transcript.py")
	v.SetDefault("worker.info_command", "{python} workers/get_video_info.py")
	v.SetDefault("worker.whisper_model", "base")
	v.SetDefault("worker.device", "cpu")
	v.SetDefault("worker.grace_period_seconds", 5)
	v.SetDefault("worker.work_dir", os.TempDir())
	v.SetDefault("worker.min_free_memory_mb", 512)
	v.SetDefault("worker.min_free_disk_mb", 256)

	v.SetDefault("pipeline.deterministic_fallback", true)
	v.SetDefault("pipeline.store_retry_delay_ms", 250)
	v.SetDefault("pipeline.prompt_dir", "")
}

// Load configuration from defaults, an optional config file and environment
// variables. Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(ConfigPathEnv); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
