// Package config loads hub configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yksanjo/agent-identity-hub/internal/trust"
)

// Config is the full daemon configuration.
type Config struct {
	Port        string       `yaml:"port"`
	DataDir     string       `yaml:"data_dir"`
	AdminSecret string       `yaml:"admin_secret"`
	Trust       trust.Config `yaml:"trust"`

	// SweepIntervalMinutes is how often the background trust/anomaly sweep
	// runs over active agents.
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`

	// SweepRatePerSecond paces recalculations within a sweep.
	SweepRatePerSecond int `yaml:"sweep_rate_per_second"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:                 "8080",
		DataDir:              "data",
		Trust:                trust.DefaultConfig(),
		SweepIntervalMinutes: 5,
		SweepRatePerSecond:   20,
	}
}

// Load reads configuration from path (if non-empty), then applies
// environment overrides: PORT, HUB_DATA_DIR, HUB_ADMIN_SECRET.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("HUB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("HUB_ADMIN_SECRET"); v != "" {
		cfg.AdminSecret = v
	}
	return cfg, nil
}
