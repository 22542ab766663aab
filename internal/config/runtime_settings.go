package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings is the deployment-editable subset of the
// configuration: which backends are enabled and when the cache is
// pruned. It answers the router's "which providers are configured and
// enabled" question without a process restart.
type RuntimeSettings struct {
	WhisperEnabled   bool   `json:"whisper_enabled"`
	ChatAudioEnabled bool   `json:"chat_audio_enabled"`
	VisionEnabled    bool   `json:"vision_enabled"`
	PruneCron        string `json:"prune_cron"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if !s.WhisperEnabled && !s.ChatAudioEnabled && !s.VisionEnabled {
		return fmt.Errorf("at least one backend must be enabled")
	}
	if strings.TrimSpace(s.PruneCron) == "" {
		return fmt.Errorf("prune_cron is required")
	}
	if _, err := cron.ParseStandard(s.PruneCron); err != nil {
		return fmt.Errorf("invalid prune_cron: %w", err)
	}
	return nil
}

// RuntimeSettings derives the editable settings from the loaded
// configuration: a backend is enabled when its key is configured.
func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		WhisperEnabled:   c.Whisper.APIKey != "",
		ChatAudioEnabled: c.LLM.APIKey != "",
		VisionEnabled:    c.LLM.APIKey != "",
		PruneCron:        c.Cache.PruneCron,
	}
}

// WithRuntimeSettings overrides the configuration with an edited
// settings file. Disabling a backend clears its key so the router never
// plans an attempt for it.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if !settings.WhisperEnabled {
			c.Whisper.APIKey = ""
		}
		if !settings.ChatAudioEnabled && !settings.VisionEnabled {
			c.LLM.APIKey = ""
		}
		if strings.TrimSpace(settings.PruneCron) != "" {
			c.Cache.PruneCron = settings.PruneCron
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
