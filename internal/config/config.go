// Package config loads the pipeline configuration from a JSON file layered
// over defaults. Secrets (JWT signing key, Anthropic API key, MQTT password)
// can be supplied via environment variables instead of the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/skillpulse/skillpulse/internal/events"
	"github.com/skillpulse/skillpulse/internal/security"
)

// Config holds all pipeline configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Detector  DetectorConfig  `json:"detector"`
	Generator GeneratorConfig `json:"generator"`
	Catalog   CatalogConfig   `json:"catalog"`
	Events    EventsConfig    `json:"events"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

// AuthConfig configures operator authentication. An empty JWTSecret disables
// authentication (dev mode).
type AuthConfig struct {
	JWTSecret        string              `json:"jwtSecret,omitempty"`
	TokenExpiryHours int                 `json:"tokenExpiryHours"`
	Operators        []security.Operator `json:"operators"`
}

type DetectorConfig struct {
	Enabled        bool   `json:"enabled"`
	Schedule       string `json:"schedule"`
	SampleFeedback int    `json:"sampleFeedback"`
}

type GeneratorConfig struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	MaxTokens int    `json:"maxTokens"`
}

type CatalogConfig struct {
	LibraryDir string `json:"libraryDir"`
	StaticFile string `json:"staticFile"`
}

type EventsConfig struct {
	MQTT events.MQTTConfig `json:"mqtt"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8430,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Path: "./data/skillpulse.db",
		},
		Auth: AuthConfig{
			TokenExpiryHours: 12,
		},
		Detector: DetectorConfig{
			Enabled:        true,
			Schedule:       "0 * * * *", // hourly
			SampleFeedback: 5,
		},
		Generator: GeneratorConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Catalog: CatalogConfig{
			LibraryDir: "./skills",
			StaticFile: "./skills.toml",
		},
		Events: EventsConfig{
			MQTT: events.MQTTConfig{
				ClientID:    "skillpulse",
				TopicPrefix: "skillpulse/events",
			},
		},
	}
}

// Load reads config from a JSON file layered over defaults, then applies
// environment overrides and ensures the data directory exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return cfg, nil
}

// applyEnv lets secrets come from the environment rather than the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SKILLPULSE_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.Generator.APIKey == "" {
		c.Generator.APIKey = v
	}
	if v := os.Getenv("SKILLPULSE_MQTT_PASSWORD"); v != "" {
		c.Events.MQTT.Password = v
	}
}

// Save writes config to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}
