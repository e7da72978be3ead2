package config

import (
	_ "embed"
)

//go:embed default.yaml
var defaultTemplate string

// DefaultTemplate is the commented starter config.yaml printed by
// "tx config default".
func DefaultTemplate() string { return defaultTemplate }

// ParseDefaultTemplate parses DefaultTemplate.
func ParseDefaultTemplate() (*Config, error) {
	return Parse([]byte(defaultTemplate))
}
