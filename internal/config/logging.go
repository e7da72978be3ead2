package config

import (
	"path/filepath"

	"tx/internal/logging"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level,omitempty"`      // debug, info, warn, error
	Format     string          `yaml:"format,omitempty"`     // console, json
	DebugMode  bool            `yaml:"debug_mode,omitempty"` // Master toggle - false = no logging
	Categories map[string]bool `yaml:"categories,omitempty"` // Per-category toggles
}

// Options converts the section into logging.Options writing under stateDir/logs.
func (c *LoggingConfig) Options(stateDir string) logging.Options {
	return logging.Options{
		Dir:        filepath.Join(stateDir, "logs"),
		Debug:      c.DebugMode,
		Level:      c.Level,
		JSON:       c.Format == "json",
		Categories: c.Categories,
	}
}
