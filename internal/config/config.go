package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Whisper Configuration:
// - WHISPER_API_KEY: API key for the speech backend (optional)
// - WHISPER_API_URL: API endpoint URL (default: https://api.openai.com/v1)
// - WHISPER_MODEL: Model name to use (default: whisper-1)
//
// LLM Configuration (chat-audio and vision backends):
// - LLM_API_KEY: API key for the multimodal provider (optional)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: Model name to use (default: openai/gpt-4o-mini)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.2)
// - LLM_TIMEOUT: Base request timeout in seconds (default: 60)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// Cache Configuration:
// - CACHE_DB_PATH: SQLite database path (default: /app/data/transcriptions.db)
// - CACHE_RETENTION_DAYS: Entry retention in days (default: 30)
// - CACHE_PRUNE_CRON: Prune schedule in daemon mode (default: "0 3 * * *")
//
// Router Configuration:
// - LONG_MEDIA_THRESHOLD_MINUTES: Where audio-first ordering is forced
//   and windowed processing starts (default: 30)
// - LONG_MEDIA_VISUAL_FALLBACK: Allow the visual fallback for long
//   media with an audio track (default: false)
// - MAX_RETRIES: Retry slots per provider attempt (default: 2)
// - RETRY_BASE_DELAY_SECONDS: First backoff delay (default: 2)
// - SAVE_INTERVAL_SECONDS: Partial persist interval (default: 5)
//
// Split Configuration:
// - SPLIT_WINDOW_MINUTES: Window length for long media (default: 3)
// - SPLIT_MAX_WINDOWS: Chunk count bound (default: 40)
// - SPLIT_CONCURRENCY: Window worker pool width (default: 3)
type Config struct {
	Whisper WhisperConfig `json:"whisper"`
	LLM     LLMConfig     `json:"llm"`
	Cache   CacheConfig   `json:"cache"`
	Router  RouterConfig  `json:"router"`
	Split   SplitConfig   `json:"split"`
}

// WhisperConfig holds the configuration for the speech transcription
// backend.
type WhisperConfig struct {
	APIKey string `json:"api_key"`
	APIURL string `json:"api_url"`
	Model  string `json:"model"`
}

// LLMConfig holds the configuration for the multimodal chat backend
// serving both the chat-audio adapter and the visual fallback.
type LLMConfig struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	AppName     string  `json:"app_name"`
}

type CacheConfig struct {
	DBPath    string        `json:"db_path"`
	Retention time.Duration `json:"retention"`
	PruneCron string        `json:"prune_cron"`
}

type RouterConfig struct {
	LongMediaThreshold      time.Duration `json:"long_media_threshold"`
	LongMediaVisualFallback bool          `json:"long_media_visual_fallback"`
	MaxRetries              int           `json:"max_retries"`
	RetryBaseDelay          time.Duration `json:"retry_base_delay"`
	SaveInterval            time.Duration `json:"save_interval"`
}

type SplitConfig struct {
	WindowLength time.Duration `json:"window_length"`
	MaxWindows   int           `json:"max_windows"`
	Concurrency  int           `json:"concurrency"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options.
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Whisper: WhisperConfig{
			APIKey: getEnvString("WHISPER_API_KEY", ""),
			APIURL: getEnvString("WHISPER_API_URL", "https://api.openai.com/v1"),
			Model:  getEnvString("WHISPER_MODEL", "whisper-1"),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:       getEnvString("LLM_MODEL", "openai/gpt-4o-mini"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Cache: CacheConfig{
			DBPath:    getEnvString("CACHE_DB_PATH", "/app/data/transcriptions.db"),
			Retention: time.Duration(getEnvInt("CACHE_RETENTION_DAYS", 30)) * 24 * time.Hour,
			PruneCron: getEnvString("CACHE_PRUNE_CRON", "0 3 * * *"),
		},
		Router: RouterConfig{
			LongMediaThreshold:      time.Duration(getEnvInt("LONG_MEDIA_THRESHOLD_MINUTES", 30)) * time.Minute,
			LongMediaVisualFallback: getEnvBool("LONG_MEDIA_VISUAL_FALLBACK", false),
			MaxRetries:              getEnvInt("MAX_RETRIES", 2),
			RetryBaseDelay:          time.Duration(getEnvInt("RETRY_BASE_DELAY_SECONDS", 2)) * time.Second,
			SaveInterval:            time.Duration(getEnvInt("SAVE_INTERVAL_SECONDS", 5)) * time.Second,
		},
		Split: SplitConfig{
			WindowLength: time.Duration(getEnvInt("SPLIT_WINDOW_MINUTES", 3)) * time.Minute,
			MaxWindows:   getEnvInt("SPLIT_MAX_WINDOWS", 40),
			Concurrency:  getEnvInt("SPLIT_CONCURRENCY", 3),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if at least one transcription backend is usable.
func (c *Config) validate() error {
	if c.Whisper.APIKey == "" && c.LLM.APIKey == "" {
		return fmt.Errorf("at least one of WHISPER_API_KEY or LLM_API_KEY is required")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
