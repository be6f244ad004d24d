// Package config provides configuration management for the module server
// using Viper for flexible configuration loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files and environment variable
// overrides with a MODSERVE_ prefix. The resulting ResolvedConfig is a
// fully-validated value; the serving core consumes it opaquely and never
// reads configuration sources itself.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ResolvedConfig is the fully-resolved settings object handed to the server.
type ResolvedConfig struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Root      string          `yaml:"root" mapstructure:"root"`
	Entries   []string        `yaml:"entries" mapstructure:"entries"`
	Optimizer OptimizerConfig `yaml:"optimizer" mapstructure:"optimizer"`
	Watch     WatchConfig     `yaml:"watch" mapstructure:"watch"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	Host           string   `yaml:"host" mapstructure:"host"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

type OptimizerConfig struct {
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	Disabled bool   `yaml:"disabled" mapstructure:"disabled"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
	Ignore   []string      `yaml:"ignore" mapstructure:"ignore"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load resolves configuration from viper's bound sources and applies
// defaults for anything unset.
func Load() (*ResolvedConfig, error) {
	var config ResolvedConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(config *ResolvedConfig) {
	if config.Root == "" {
		config.Root = "."
	}
	if config.Server.Port == 0 {
		config.Server.Port = 3000
	}
	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}
	if len(config.Entries) == 0 {
		config.Entries = []string{"index.html"}
	}
	if config.Optimizer.CacheDir == "" {
		config.Optimizer.CacheDir = filepath.Join("node_modules", ".modserve")
	}
	if config.Optimizer.Manifest == "" {
		config.Optimizer.Manifest = "package.json"
	}
	if config.Watch.Debounce == 0 {
		config.Watch.Debounce = 100 * time.Millisecond
	}
	if len(config.Watch.Ignore) == 0 {
		config.Watch.Ignore = []string{"node_modules", ".git"}
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}
}

// Validate checks resolved settings for values the server cannot run with.
func Validate(config *ResolvedConfig) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", config.Server.Port)
	}
	if len(config.Entries) == 0 {
		return fmt.Errorf("at least one entry point is required")
	}
	switch config.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", config.Log.Level)
	}
	return nil
}
