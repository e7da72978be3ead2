package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"tx/internal/logging"
)

const (
	// FileName is the primary config file inside the config directory.
	FileName = "config.yaml"
	// DropInDir holds additional *.yaml files merged after FileName.
	DropInDir = "conf.d"
)

// File is the on-disk YAML shape. Every config file decodes into the same File
// value in order, so a later file replaces earlier entries key by key.
type File struct {
	Defaults     Defaults                 `yaml:"defaults,omitempty"`
	Providers    map[string]ProviderEntry `yaml:"providers,omitempty"`
	Snippets     SnippetsEntry            `yaml:"snippets,omitempty"`
	Wrappers     map[string]WrapperEntry  `yaml:"wrappers,omitempty"`
	Profiles     map[string]ProfileEntry  `yaml:"profiles,omitempty"`
	Features     Features                 `yaml:"features,omitempty"`
	Execution    ExecutionConfig          `yaml:"execution,omitempty"`
	SessionStore StoreConfig              `yaml:"session_store,omitempty"`
	Logging      LoggingConfig            `yaml:"logging,omitempty"`
}

// Defaults selects what runs when the command line names nothing.
type Defaults struct {
	Provider      string `yaml:"provider,omitempty"`
	Profile       string `yaml:"profile,omitempty"`
	TerminalTitle string `yaml:"terminal_title,omitempty"`
}

// ProviderEntry is a provider as written in YAML.
type ProviderEntry struct {
	Bin         string   `yaml:"bin"`
	Description string   `yaml:"description,omitempty"`
	Flags       []string `yaml:"flags,omitempty"`
	Env         []string `yaml:"env,omitempty"`
	StdinTo     string   `yaml:"stdin_to,omitempty"`
	StdinMode   string   `yaml:"stdin_mode,omitempty"`
}

// SnippetsEntry holds the pre and post snippet namespaces.
type SnippetsEntry struct {
	Pre  map[string]string `yaml:"pre,omitempty"`
	Post map[string]string `yaml:"post,omitempty"`
}

// ProfileEntry is a profile as written in YAML. A non-empty Prompt makes it a
// PromptProfile.
type ProfileEntry struct {
	Provider    string   `yaml:"provider,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Pre         []string `yaml:"pre,omitempty"`
	Post        []string `yaml:"post,omitempty"`
	Wrap        string   `yaml:"wrap,omitempty"`
	Prompt      string   `yaml:"prompt,omitempty"`
	PromptArgs  []string `yaml:"prompt_args,omitempty"`
}

// Config is the merged, resolved configuration. It is read-only after Load and
// serves as the pipeline's config view.
type Config struct {
	dir     string
	sources []string
	file    File

	providers    map[string]Provider
	preSnippets  map[string]Snippet
	postSnippets map[string]Snippet
	wrappers     map[string]Wrapper
	profiles     map[string]Profile

	// unset records provider env entries that referenced unset variables.
	unset []Diagnostic
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg, err := build("", nil, defaultFile())
	if err != nil {
		// defaultFile carries no user input
		panic(err)
	}
	return cfg
}

func defaultFile() File {
	return File{
		Defaults: Defaults{
			TerminalTitle: "tx: {{provider}}",
		},
		Features: Features{
			PA: PAFeature{
				Enabled:   false,
				Namespace: "pa",
				Bin:       "pa",
				TTL:       "5m",
			},
		},
		Execution: ExecutionConfig{
			Shell:        "",
			CaptureLimit: DefaultCaptureLimit,
			KillGrace:    "2s",
		},
		SessionStore: StoreConfig{
			Driver: DriverModernc,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Locate returns the config directory: override, then TX_CONFIG_DIR, then
// $XDG_CONFIG_HOME/tx, then ~/.config/tx.
func Locate(override string) string {
	if override != "" {
		return override
	}
	if dir := os.Getenv("TX_CONFIG_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tx")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tx")
	}
	return filepath.Join(home, ".config", "tx")
}

// StateDir returns where tx keeps its session database and logs:
// TX_STATE_DIR, then $XDG_STATE_HOME/tx, then ~/.local/state/tx.
func StateDir() string {
	if dir := os.Getenv("TX_STATE_DIR"); dir != "" {
		return dir
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "tx")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".tx", "state")
	}
	return filepath.Join(home, ".local", "state", "tx")
}

// Sources lists the files in dir that Load reads, in merge order.
func Sources(dir string) ([]string, error) {
	var paths []string
	primary := filepath.Join(dir, FileName)
	if _, err := os.Stat(primary); err == nil {
		paths = append(paths, primary)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	dropIns, err := filepath.Glob(filepath.Join(dir, DropInDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", DropInDir, err)
	}
	sort.Strings(dropIns)
	return append(paths, dropIns...), nil
}

// Load reads config.yaml and conf.d/*.yaml from dir. A missing directory yields
// the defaults.
func Load(dir string) (*Config, error) {
	timer := logging.StartTimer(logging.CategoryConfig, "config.Load")
	defer timer.Stop()

	paths, err := Sources(dir)
	if err != nil {
		return nil, err
	}

	f := defaultFile()
	for _, path := range paths {
		if err := decodeInto(path, &f); err != nil {
			return nil, err
		}
	}
	f.applyEnvOverrides()

	cfg, err := build(dir, paths, f)
	if err != nil {
		return nil, err
	}
	logging.Config("loaded %d config file(s) from %s: %d providers, %d profiles",
		len(paths), dir, len(cfg.providers), len(cfg.profiles))
	return cfg, nil
}

// Parse builds a Config from YAML bytes.
func Parse(data []byte) (*Config, error) {
	f := defaultFile()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return build("", nil, f)
}

func decodeInto(path string, f *File) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	logging.ConfigDebug("merged %s", path)
	return nil
}

// Dump renders the merged configuration as YAML.
func (c *Config) Dump() ([]byte, error) {
	data, err := yaml.Marshal(c.file)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// Dir is the directory the config was loaded from.
func (c *Config) Dir() string { return c.dir }

// Files lists the files merged into this config.
func (c *Config) Files() []string { return append([]string(nil), c.sources...) }

// File returns a copy of the merged YAML model.
func (c *Config) File() File { return c.file }

// applyEnvOverrides applies environment variable overrides.
func (f *File) applyEnvOverrides() {
	if p := os.Getenv("TX_DEFAULT_PROVIDER"); p != "" {
		f.Defaults.Provider = p
	}
	if p := os.Getenv("TX_DEFAULT_PROFILE"); p != "" {
		f.Defaults.Profile = p
	}
	if os.Getenv("TX_DEBUG") == "1" {
		f.Logging.DebugMode = true
	}
	if bin := os.Getenv("TX_PA_BIN"); bin != "" {
		f.Features.PA.Bin = bin
	}
	if path := os.Getenv("TX_SESSION_DB"); path != "" {
		f.SessionStore.Path = path
	}
}
