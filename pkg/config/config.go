// Package config loads the optional YAML overrides for rate limits,
// context budget, and turn timeout. Its load/resolve shape follows
// nexus-edge's cmd/nexus-edge/config.go: an env var names an explicit
// path, absence of a config file is not an error, and zero-valued fields
// in the loaded config leave the corresponding default untouched.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// envVar names the config file path override.
const envVar = "GEMINI_CONFIG_PATH"

// Config is the optional on-disk override for the controller's defaults.
type Config struct {
	// RPM overrides ratelimit.DefaultRPM per model name.
	RPM map[string]int `yaml:"rpm"`
	// DefaultTokenBudget is parsed from the file but not applied:
	// cmd/gshell does not read it, and contexts take their budget from
	// context.BudgetFor.
	DefaultTokenBudget int `yaml:"default_token_budget"`
	// TurnTimeoutSeconds overrides the controller's per-turn timeout.
	TurnTimeoutSeconds int `yaml:"turn_timeout_seconds"`
}

// Load resolves the config path ($GEMINI_CONFIG_PATH, else none) and
// parses it. A missing file — whether because the env var is unset or
// the named file doesn't exist — returns a zero Config and a nil error:
// config is optional, and the caller applies its own defaults for any
// field left at its zero value.
func Load() (Config, error) {
	path, ok := os.LookupEnv(envVar)
	if !ok || path == "" {
		return Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// MergeRPM layers override on top of base, returning a new map. Entries
// present in override take precedence; entries only in base are kept.
func MergeRPM(base map[string]int, override map[string]int) map[string]int {
	merged := make(map[string]int, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}
