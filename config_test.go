package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DROVER_CONFIG", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Addr != ":8750" {
		t.Errorf("Expected default addr :8750, got %q", cfg.Addr)
	}
	if cfg.MatchThreshold != 0.7 {
		t.Errorf("Expected default threshold 0.7, got %v", cfg.MatchThreshold)
	}
	if cfg.KeystrokeDelayMs != 150 {
		t.Errorf("Expected default keystroke delay 150, got %d", cfg.KeystrokeDelayMs)
	}
	if cfg.PostLoginWaitSeconds != 4 {
		t.Errorf("Expected default post-login wait 4, got %d", cfg.PostLoginWaitSeconds)
	}
	if !cfg.Multiscale {
		t.Error("Multiscale should default to on")
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("DROVER_CONFIG", "")
	t.Setenv("DROVER_ADDR", ":9000")
	t.Setenv("DROVER_KEYSTROKE_DELAY_MS", "250")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Addr != ":9000" {
		t.Errorf("Expected env-overridden addr :9000, got %q", cfg.Addr)
	}
	if cfg.KeystrokeDelayMs != 250 {
		t.Errorf("Expected env-overridden delay 250, got %d", cfg.KeystrokeDelayMs)
	}
	// Untouched keys keep their defaults
	if cfg.MatchThreshold != 0.7 {
		t.Errorf("Expected untouched threshold 0.7, got %v", cfg.MatchThreshold)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drover.yaml")
	yaml := "addr: \":7999\"\nmatch_threshold: 0.85\napp_package: com.example.fleet\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("DROVER_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Addr != ":7999" || cfg.MatchThreshold != 0.85 || cfg.AppPackage != "com.example.fleet" {
		t.Errorf("File values not applied: %+v", cfg)
	}
}

func TestLoadConfigEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drover.yaml")
	if err := os.WriteFile(path, []byte("addr: \":7999\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("DROVER_CONFIG", path)
	t.Setenv("DROVER_ADDR", ":6000")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != ":6000" {
		t.Errorf("Env should override the file, got %q", cfg.Addr)
	}
}

func TestLoadConfigRejectsBadThreshold(t *testing.T) {
	t.Setenv("DROVER_CONFIG", "")
	t.Setenv("DROVER_MATCH_THRESHOLD", "1.5")

	if _, err := LoadConfig(); err == nil {
		t.Error("Expected error for threshold above 1")
	}
}

func TestConfigPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/drover"

	if got := cfg.DBPath(); got != filepath.Join("/var/lib/drover", "screen_control.db") {
		t.Errorf("Unexpected DB path: %q", got)
	}
	if got := cfg.KeyPath(); got != filepath.Join("/var/lib/drover", "credentials.key") {
		t.Errorf("Unexpected key path: %q", got)
	}
	if got := cfg.SnapshotsDir(); got != filepath.Join("/var/lib/drover", "snapshots") {
		t.Errorf("Unexpected snapshots dir: %q", got)
	}
}
