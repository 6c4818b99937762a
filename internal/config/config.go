package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pattern lattice configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Lattice, converter and interpretation search
	Engine EngineConfig `yaml:"engine"`

	// Parallel document processing
	Workers WorkersConfig `yaml:"workers"`

	// Suspension backend for idle lattice nodes
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Prometheus metrics
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig configures the lattice and the interpretation search.
type EngineConfig struct {
	MaxSearchNodes    int     `yaml:"max_search_nodes"`    // safety bound on the search node counter
	Mode              string  `yaml:"mode"`                // best, softmax
	SoftMaxCutoff     float64 `yaml:"softmax_cutoff"`      // skip subtrees this far below the best score
	Tolerance         float64 `yaml:"tolerance"`           // below this, weight updates and value changes are ignored
	MaxEvalIterations int     `yaml:"max_eval_iterations"` // fixpoint rounds per search decision; the last must move nothing

	MinFrequency      int  `yaml:"min_frequency"`       // discovered nodes below this are pruned and not grown
	Training          bool `yaml:"training"`            // count frequencies and discover patterns
	DiscoveryMaxLevel int  `yaml:"discovery_max_level"` // widest discovered conjunction

	Converter ConverterConfig `yaml:"converter"`
}

// ConverterConfig bounds the conjunction decomposition of a neuron.
type ConverterConfig struct {
	MaxConjunctionArity int `yaml:"max_conjunction_arity"`
	MaxMinimalSets      int `yaml:"max_minimal_sets"`
}

// StoreConfig selects the suspension backend.
type StoreConfig struct {
	Backend    string `yaml:"backend"` // memory, sqlite, badger
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// MetricsConfig configures engine metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// ValidModes lists the supported search modes.
var ValidModes = []string{"best", "softmax"}

// ValidBackends lists the supported suspension backends.
var ValidBackends = []string{"memory", "sqlite", "badger"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "patternlattice",
		Version: "0.3.0",

		Engine: EngineConfig{
			MaxSearchNodes:    100000,
			Mode:              "best",
			SoftMaxCutoff:     30,
			Tolerance:         1e-9,
			MaxEvalIterations: 50,
			MinFrequency:      2,
			DiscoveryMaxLevel: 3,
			Converter: ConverterConfig{
				MaxConjunctionArity: 8,
				MaxMinimalSets:      16,
			},
		},

		Workers: WorkersConfig{
			Documents:       4,
			DocumentTimeout: "30s",
		},

		Store: StoreConfig{
			Backend: "memory",
			Path:    "data/lattice.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "patternlattice",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if backend := os.Getenv("LATTICE_STORE_BACKEND"); backend != "" {
		c.Store.Backend = strings.ToLower(backend)
	}
	if path := os.Getenv("LATTICE_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if level := os.Getenv("LATTICE_LOG_LEVEL"); level != "" {
		c.Logging.Level = strings.ToLower(level)
		c.Logging.DebugMode = true
	}
	if mode := os.Getenv("LATTICE_SEARCH_MODE"); mode != "" {
		c.Engine.Mode = strings.ToLower(mode)
	}
}

// GetDocumentTimeout returns the per-document processing timeout.
func (c *Config) GetDocumentTimeout() time.Duration {
	d, err := time.ParseDuration(c.Workers.DocumentTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !contains(ValidModes, c.Engine.Mode) {
		return fmt.Errorf("invalid search mode: %s (valid: %v)", c.Engine.Mode, ValidModes)
	}
	if !contains(ValidBackends, c.Store.Backend) {
		return fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, ValidBackends)
	}
	if c.Store.Backend != "memory" && c.Store.Path == "" {
		return fmt.Errorf("store backend %s requires a path", c.Store.Backend)
	}
	if c.Engine.Tolerance < 0 {
		return fmt.Errorf("tolerance must be >= 0")
	}
	if c.Engine.SoftMaxCutoff <= 0 {
		return fmt.Errorf("softmax_cutoff must be > 0")
	}
	if c.Engine.Converter.MaxConjunctionArity < 1 {
		return fmt.Errorf("max_conjunction_arity must be >= 1")
	}
	if c.Engine.Converter.MaxMinimalSets < 1 {
		return fmt.Errorf("max_minimal_sets must be >= 1")
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	return c.ValidateLimits()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
