package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_Valid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidate_BadBaseURL(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "ftp://example.com"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for non-http(s) base_url")
	}
}

func TestValidate_LapTimeOrdering(t *testing.T) {
	cfg := Default()
	cfg.Validation.MinLapTimeS = 300
	cfg.Validation.MaxLapTimeS = 30
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when min_lap_time_s >= max_lap_time_s")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
	if cfg.API.BatchSize != 100 {
		t.Fatalf("expected default batch size, got %v", cfg.API.BatchSize)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "api:\n  base_url: \"https://telemetry.example.com\"\n  batch_size: 50\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.BaseURL != "https://telemetry.example.com" {
		t.Fatalf("expected base_url override, got %q", cfg.API.BaseURL)
	}
	if cfg.API.BatchSize != 50 {
		t.Fatalf("expected batch_size override, got %v", cfg.API.BatchSize)
	}
	// Unset fields should retain defaults.
	if cfg.Validation.MinPoints != 100 {
		t.Fatalf("expected default min_points, got %v", cfg.Validation.MinPoints)
	}
}
