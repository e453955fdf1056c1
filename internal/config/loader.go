// Package config loads drawd settings from a yaml, json or toml file, then
// overlays DRAWD_* environment variables (optionally read from .env files).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EngineConfig declares one engine backend. Web engines get one slot per
// credential; API engines get Slots parallel slots.
type EngineConfig struct {
	Kind             string   `json:"kind" yaml:"kind" toml:"kind"`
	BaseURL          string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	Path             string   `json:"path" yaml:"path" toml:"path"`
	APIKey           string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model            string   `json:"model" yaml:"model" toml:"model"`
	Credentials      []string `json:"credentials" yaml:"credentials" toml:"credentials"`
	CredentialHeader string   `json:"credential_header" yaml:"credential_header" toml:"credential_header"`
	Slots            int      `json:"slots" yaml:"slots" toml:"slots"`
	Cooldown         Duration `json:"cooldown" yaml:"cooldown" toml:"cooldown"`
	RequestTimeout   Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
	Disabled         bool     `json:"disabled" yaml:"disabled" toml:"disabled"`
}

// CollaboratorConfig selects the AI collaborator. An empty backend disables
// prompt optimization and template sessions.
type CollaboratorConfig struct {
	Backend string   `json:"backend" yaml:"backend" toml:"backend"`
	BaseURL string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey  string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Model   string   `json:"model" yaml:"model" toml:"model"`
	Timeout Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	// ModelPath is a gguf file or a directory of them (llama backend).
	ModelPath   string `json:"model_path" yaml:"model_path" toml:"model_path"`
	ContextSize int    `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads     int    `json:"threads" yaml:"threads" toml:"threads"`
}

// TemplatesConfig selects the template store.
type TemplatesConfig struct {
	Backend string `json:"backend" yaml:"backend" toml:"backend"`
	Path    string `json:"path" yaml:"path" toml:"path"`
}

// Config holds runtime parameters for the service.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	AppEnv     string `json:"app_env" yaml:"app_env" toml:"app_env"`
	AdminToken string `json:"admin_token" yaml:"admin_token" toml:"admin_token"`
	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	DefaultEngine      string   `json:"default_engine" yaml:"default_engine" toml:"default_engine"`
	DisableAPIEngine   bool     `json:"disable_api_engine" yaml:"disable_api_engine" toml:"disable_api_engine"`
	DefaultOptimize    bool     `json:"default_optimize" yaml:"default_optimize" toml:"default_optimize"`
	DrawCooldown       Duration `json:"draw_cooldown" yaml:"draw_cooldown" toml:"draw_cooldown"`
	SessionIdleTimeout Duration `json:"session_idle_timeout" yaml:"session_idle_timeout" toml:"session_idle_timeout"`

	MaxQueueDepth      int      `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxRetries         int      `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	EWMAAlpha          float64  `json:"ewma_alpha" yaml:"ewma_alpha" toml:"ewma_alpha"`
	InitialServiceTime Duration `json:"initial_service_time" yaml:"initial_service_time" toml:"initial_service_time"`
	CredentialCooldown Duration `json:"credential_cooldown" yaml:"credential_cooldown" toml:"credential_cooldown"`
	HealthInterval     Duration `json:"health_interval" yaml:"health_interval" toml:"health_interval"`
	ResultRetention    Duration `json:"result_retention" yaml:"result_retention" toml:"result_retention"`

	Engines      []EngineConfig     `json:"engines" yaml:"engines" toml:"engines"`
	Collaborator CollaboratorConfig `json:"collaborator" yaml:"collaborator" toml:"collaborator"`
	Templates    TemplatesConfig    `json:"templates" yaml:"templates" toml:"templates"`
}

// Default returns the settings used when neither file nor environment say otherwise.
func Default() Config {
	return Config{
		Addr:               ":8080",
		LogLevel:           "info",
		AppEnv:             "production",
		DefaultEngine:      "auto",
		DrawCooldown:       Duration(120 * time.Second),
		SessionIdleTimeout: Duration(5 * time.Minute),
		Templates:          TemplatesConfig{Backend: "file", Path: "~/.drawd/templates.toml"},
	}
}

// Load reads a configuration file based on its extension on top of Default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if len(c.Engines) == 0 {
		return errors.New("at least one engine is required")
	}
	for i, e := range c.Engines {
		switch strings.ToLower(e.Kind) {
		case "api", "web":
		default:
			return fmt.Errorf("engines[%d]: kind must be api or web, got %q", i, e.Kind)
		}
		if strings.TrimSpace(e.BaseURL) == "" {
			return fmt.Errorf("engines[%d]: base_url is required", i)
		}
		if e.Slots < 0 || e.Cooldown < 0 {
			return fmt.Errorf("engines[%d]: slots and cooldown must not be negative", i)
		}
	}
	if c.EWMAAlpha < 0 || c.EWMAAlpha > 1 {
		return fmt.Errorf("ewma_alpha must be within [0,1], got %v", c.EWMAAlpha)
	}
	if c.DrawCooldown < 0 || c.SessionIdleTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	switch c.Collaborator.Backend {
	case "", "openai", "llama":
	default:
		return fmt.Errorf("collaborator.backend must be openai or llama, got %q", c.Collaborator.Backend)
	}
	switch c.Templates.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("templates.backend must be file or sqlite, got %q", c.Templates.Backend)
	}
	return nil
}
