// Package config loads host-harness settings: logging, cache behavior, and
// the boolean truth-state table. This is NOT the engine's Config data model
// (see package "config" at the repository root, §3) — the core never reads
// files itself; this package only serves cmd/synsensors.
package config

import (
	"encoding/json"
	"os"

	"synsensors/internal/logging"
)

// Config is the host-harness configuration.
type Config struct {
	// Logging contains logging configuration.
	Logging logging.Config `json:"logging"`

	// Cache contains result-cache tuning.
	Cache CacheConfig `json:"cache"`

	// BooleanStates lists additional true/false state-string pairs beyond
	// the built-in table (core/values.DefaultBooleanStates), e.g.
	// {"true_state": "armed", "false_state": "disarmed"}. It is loaded but
	// not passed to the engine; the demo harness takes extra pairs from the
	// sensors file's "truth_states" instead.
	BooleanStates []BooleanStatePair `json:"boolean_states,omitempty"`
}

// CacheConfig holds result-cache settings (core/cache).
type CacheConfig struct {
	// Enabled is loaded from the harness config but not passed to the
	// engine: the engine's result cache is always on, whatever its value.
	Enabled bool `json:"enabled"`
}

// BooleanStatePair is a user-declared true/false state-string pair.
type BooleanStatePair struct {
	TrueState  string `json:"true_state"`
	FalseState string `json:"false_state"`
}

// Default returns sensible defaults.
func Default() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Cache:   CacheConfig{Enabled: true},
	}
}

// Load loads configuration from a JSON file, falling back to Default if the
// file does not exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Global configuration instance, set by the host harness at startup.
var global = Default()

// Get returns the global configuration.
func Get() *Config {
	return global
}

// Set sets the global configuration.
func Set(cfg *Config) {
	global = cfg
}
