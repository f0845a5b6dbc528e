package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load(filepath.Join(dir, "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8430 {
		t.Errorf("Port = %d, want default 8430", cfg.Server.Port)
	}
	if cfg.Detector.Schedule != "0 * * * *" {
		t.Errorf("Schedule = %q", cfg.Detector.Schedule)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.json")
	err := os.WriteFile(path, []byte(`{
		"server": {"port": 9999, "dataDir": "./d", "logLevel": "debug"},
		"detector": {"enabled": false, "schedule": "*/5 * * * *", "sampleFeedback": 3}
	}`), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Detector.Schedule != "*/5 * * * *" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	// Untouched sections keep defaults.
	if cfg.Generator.MaxTokens != 4096 {
		t.Errorf("Generator.MaxTokens = %d, want default 4096", cfg.Generator.MaxTokens)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed JSON")
	}
}

func TestEnvSecretsOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("SKILLPULSE_JWT_SECRET", "env-secret")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	cfg, err := Load(filepath.Join(dir, "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Generator.APIKey != "env-key" {
		t.Errorf("APIKey = %q", cfg.Generator.APIKey)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "sub", "config.json")

	cfg := DefaultConfig()
	cfg.Server.Port = 1234
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Server.Port != 1234 {
		t.Errorf("Port = %d, want 1234", loaded.Server.Port)
	}
}
