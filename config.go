package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config contains process configuration
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error
	LogLevel string `koanf:"log_level"`

	// Addr is the HTTP listen address, e.g. ":8750"
	Addr string `koanf:"addr"`

	// AdbPath is the adb binary, resolved from PATH when plain "adb"
	AdbPath string `koanf:"adb_path"`

	// DataDir holds the database, logs, fernet key and pulled snapshots
	DataDir string `koanf:"data_dir"`

	// TemplatesDir holds the reference screen images
	TemplatesDir string `koanf:"templates_dir"`

	// ScreenshotsDir holds captured screenshots, per device
	ScreenshotsDir string `koanf:"screenshots_dir"`

	// HooksDir holds the optional detection hook scripts
	HooksDir string `koanf:"hooks_dir"`

	// AppPackage is the tablet application driven by macros
	AppPackage string `koanf:"app_package"`

	// AppDBPath is the on-device path of the application database to pull
	AppDBPath string `koanf:"app_db_path"`

	// MatchThreshold is the fallback acceptance threshold for templates
	MatchThreshold float64 `koanf:"match_threshold"`

	// KeystrokeDelayMs is the default inter-character delay for text input
	KeystrokeDelayMs int `koanf:"keystroke_delay_ms"`

	// PostLoginWaitSeconds is the default settle wait after the login macro
	PostLoginWaitSeconds int `koanf:"post_login_wait_seconds"`

	// Multiscale enables multi-scale template matching
	Multiscale bool `koanf:"multiscale"`

	// AdbCmdsPerSecond rate-limits ADB invocations per device
	AdbCmdsPerSecond float64 `koanf:"adb_cmds_per_second"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":8750",
		AdbPath:              "adb",
		DataDir:              "data",
		TemplatesDir:         "screen_templates",
		ScreenshotsDir:       "screenshots",
		HooksDir:             "hooks",
		AppPackage:           "",
		AppDBPath:            "",
		MatchThreshold:       0.7,
		KeystrokeDelayMs:     150,
		PostLoginWaitSeconds: 4,
		Multiscale:           true,
		AdbCmdsPerSecond:     20,
	}
}

// LoadConfig builds a Config by layering defaults, optional file, and env.
// Order of precedence (low -> high):
//  1. defaults
//  2. YAML file named by DROVER_CONFIG, if set
//  3. env vars with prefix DROVER_ (DROVER_ADDR, DROVER_ADB_PATH, ...)
func LoadConfig() (*Config, error) {
	base := DefaultConfig()

	k := koanf.New(".")

	if path := os.Getenv("DROVER_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// Map DROVER_KEYSTROKE_DELAY_MS -> keystroke_delay_ms; underscores are
	// preserved to match the koanf tags on the struct.
	envProvider := env.Provider("DROVER_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "drover_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, err
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, err
	}

	if cfg.Addr == "" {
		return nil, errors.New("addr must not be empty")
	}
	if cfg.MatchThreshold < 0 || cfg.MatchThreshold > 1 {
		return nil, errors.New("match_threshold must be in [0,1]")
	}
	if cfg.KeystrokeDelayMs < 0 {
		return nil, errors.New("keystroke_delay_ms must not be negative")
	}
	return &cfg, nil
}

// DBPath returns the service database location under the data dir
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "screen_control.db")
}

// KeyPath returns the fernet key location under the data dir
func (c *Config) KeyPath() string {
	return filepath.Join(c.DataDir, "credentials.key")
}

// SnapshotsDir returns where pulled device databases are archived
func (c *Config) SnapshotsDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}
