package config

import (
	"fmt"
	"sort"
)

// LoggingConfig selects the zap core behind the engine's category loggers.
// Nothing is logged unless DebugMode is set.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`
	Format     string          `yaml:"format" json:"format,omitempty"`
	File       string          `yaml:"file" json:"file,omitempty"` // stderr when empty
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"`
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // unlisted categories stay on
}

var (
	// ValidLogLevels lists the accepted zap levels.
	ValidLogLevels = []string{"debug", "info", "warn", "error"}
	// ValidLogFormats lists the accepted zap encodings.
	ValidLogFormats = []string{"json", "console"}
	// LogCategories lists the engine subsystems that can be toggled.
	LogCategories = []string{"boot", "lattice", "converter", "search", "document", "store", "export", "pool"}
)

// validate rejects levels, encodings and categories the logger cannot use.
func (c *LoggingConfig) validate() error {
	if !contains(ValidLogLevels, c.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Level, ValidLogLevels)
	}
	if !contains(ValidLogFormats, c.Format) {
		return fmt.Errorf("invalid log format: %s (valid: %v)", c.Format, ValidLogFormats)
	}
	var unknown []string
	for name := range c.Categories {
		if !contains(LogCategories, name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown log categories: %v (valid: %v)", unknown, LogCategories)
	}
	return nil
}

// DisabledCategories returns the categories switched off, sorted.
func (c *LoggingConfig) DisabledCategories() []string {
	var off []string
	for name, on := range c.Categories {
		if !on {
			off = append(off, name)
		}
	}
	sort.Strings(off)
	return off
}
