package config

import "fmt"

// WorkersConfig bounds parallel document processing.
type WorkersConfig struct {
	Documents       int    `yaml:"documents" json:"documents"`               // Max documents processed in parallel
	DocumentTimeout string `yaml:"document_timeout" json:"document_timeout"` // Per-document processing timeout
}

// ValidateLimits checks that resource limits are within acceptable ranges.
func (c *Config) ValidateLimits() error {
	if c.Workers.Documents < 1 {
		return fmt.Errorf("workers.documents must be >= 1")
	}
	if c.Engine.MaxSearchNodes < 1 {
		return fmt.Errorf("max_search_nodes must be >= 1")
	}
	if c.Engine.MaxEvalIterations < 2 {
		return fmt.Errorf("max_eval_iterations must be >= 2")
	}
	if c.Engine.Training && c.Engine.DiscoveryMaxLevel < 2 {
		return fmt.Errorf("discovery_max_level must be >= 2 in training mode")
	}
	return nil
}
