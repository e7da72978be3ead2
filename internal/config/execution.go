package config

import (
	"path/filepath"
	"time"
)

// DefaultCaptureLimit bounds the bytes buffered for a capture-arg provider.
const DefaultCaptureLimit int64 = 1 << 20

// Session store drivers.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3
)

// ExecutionConfig configures the plan executor.
type ExecutionConfig struct {
	// Shell runs snippet stages as "<shell> -c". Empty means $SHELL, then /bin/sh.
	Shell string `yaml:"shell,omitempty"`

	// CaptureLimit caps captured stdin in capture_arg mode, in bytes.
	CaptureLimit int64 `yaml:"capture_limit,omitempty"`

	// KillGrace is how long a cancelled stage gets between SIGTERM and SIGKILL.
	KillGrace string `yaml:"kill_grace,omitempty"`
}

// GetKillGrace parses KillGrace, defaulting to two seconds.
func (e ExecutionConfig) GetKillGrace() time.Duration {
	if d, err := time.ParseDuration(e.KillGrace); err == nil && d >= 0 {
		return d
	}
	return 2 * time.Second
}

// GetCaptureLimit returns CaptureLimit or DefaultCaptureLimit when unset.
func (e ExecutionConfig) GetCaptureLimit() int64 {
	if e.CaptureLimit > 0 {
		return e.CaptureLimit
	}
	return DefaultCaptureLimit
}

// StoreConfig configures the session snapshot store.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// GetPath returns Path or sessions.db under the state directory.
func (s StoreConfig) GetPath() string {
	if s.Path != "" {
		return s.Path
	}
	return filepath.Join(StateDir(), "sessions.db")
}

// GetDriver returns Driver or DriverModernc.
func (s StoreConfig) GetDriver() string {
	if s.Driver == "" {
		return DriverModernc
	}
	return s.Driver
}

// Features toggles optional integrations.
type Features struct {
	PA PAFeature `yaml:"pa,omitempty"`
}

// PAFeature configures the external prompt assembler.
type PAFeature struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace,omitempty"`
	Bin       string `yaml:"bin,omitempty"`
	TTL       string `yaml:"ttl,omitempty"`
}

// GetTTL parses TTL, defaulting to five minutes.
func (p PAFeature) GetTTL() time.Duration {
	if d, err := time.ParseDuration(p.TTL); err == nil && d > 0 {
		return d
	}
	return 5 * time.Minute
}
