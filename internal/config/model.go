package config

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// StdinMode selects how a provider receives the output of its pre stages.
type StdinMode string

const (
	// StdinPipe connects the previous stage's stdout to the provider's stdin.
	StdinPipe StdinMode = "pipe"
	// StdinCaptureArg buffers the previous stage's stdout and passes it as an argument.
	StdinCaptureArg StdinMode = "capture_arg"
)

// ParseStdinMode accepts pipe, capture_arg and capture-arg. The empty string
// parses to the empty mode, meaning unspecified.
func ParseStdinMode(s string) (StdinMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "pipe":
		return StdinPipe, nil
	case "capture_arg", "capture-arg":
		return StdinCaptureArg, nil
	default:
		return "", fmt.Errorf("unknown stdin mode %q (want pipe or capture_arg)", s)
	}
}

// EnvVar is one KEY=VALUE entry after ${env:NAME} expansion.
type EnvVar struct {
	Key   string
	Value string
}

// String renders the entry as KEY=VALUE.
func (e EnvVar) String() string { return e.Key + "=" + e.Value }

// Provider is a resolved provider definition.
type Provider struct {
	Name        string
	Bin         string
	Description string
	Flags       []string
	Env         []EnvVar
	// StdinTo is the unparsed shell-word template for the stdin argument slot.
	StdinTo   string
	StdinMode StdinMode
}

// Snippet is a named shell command run as a pre or post stage.
type Snippet struct {
	Name    string
	Command string
}

// Wrapper wraps the composed pipeline in another process. Shell wrappers carry
// a Command run via sh -c; exec wrappers carry Argv.
type Wrapper struct {
	Name    string
	Shell   bool
	Command string
	Argv    []string
}

// Profile is either a StaticProfile or a PromptProfile.
type Profile interface {
	ProfileName() string
	Static() StaticProfile
	isProfile()
}

// StaticProfile bundles a provider with snippets and a wrapper.
type StaticProfile struct {
	Name        string
	Provider    string
	Description string
	Pre         []string
	Post        []string
	Wrap        string
}

func (p StaticProfile) ProfileName() string   { return p.Name }
func (p StaticProfile) Static() StaticProfile { return p }
func (StaticProfile) isProfile()              {}

// PromptProfile additionally feeds an external prompt into the pipeline.
type PromptProfile struct {
	StaticProfile
	Prompt     string
	PromptArgs []string
}

func (p PromptProfile) Static() StaticProfile { return p.StaticProfile }

// WrapperEntry is a wrapper as written in YAML.
type WrapperEntry struct {
	Shell bool       `yaml:"shell"`
	Cmd   WrapperCmd `yaml:"cmd"`
}

// WrapperCmd is either a single string or a list of strings.
type WrapperCmd struct {
	Line string
	List []string
	// IsList records which form was decoded.
	IsList bool
}

// UnmarshalYAML accepts a scalar or a sequence.
func (w *WrapperCmd) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		w.IsList = false
		w.List = nil
		return node.Decode(&w.Line)
	case yaml.SequenceNode:
		w.IsList = true
		w.Line = ""
		return node.Decode(&w.List)
	default:
		return fmt.Errorf("line %d: wrapper cmd must be a string or a list", node.Line)
	}
}

// MarshalYAML emits the decoded form.
func (w WrapperCmd) MarshalYAML() (interface{}, error) {
	if w.IsList {
		return w.List, nil
	}
	return w.Line, nil
}

func build(dir string, sources []string, f File) (*Config, error) {
	c := &Config{
		dir:          dir,
		sources:      sources,
		file:         f,
		providers:    make(map[string]Provider, len(f.Providers)),
		preSnippets:  make(map[string]Snippet, len(f.Snippets.Pre)),
		postSnippets: make(map[string]Snippet, len(f.Snippets.Post)),
		wrappers:     make(map[string]Wrapper, len(f.Wrappers)),
		profiles:     make(map[string]Profile, len(f.Profiles)),
	}

	for _, name := range sortedKeys(f.Providers) {
		e := f.Providers[name]
		mode, err := ParseStdinMode(e.StdinMode)
		if err != nil {
			return nil, fmt.Errorf("providers.%s.stdin_mode: %w", name, err)
		}
		env := make([]EnvVar, 0, len(e.Env))
		for i, raw := range e.Env {
			key, value, ok := strings.Cut(raw, "=")
			if !ok || key == "" {
				return nil, fmt.Errorf("providers.%s.env[%d]: expected KEY=VALUE, got %q", name, i, raw)
			}
			expanded, missing := ExpandEnv(value, os.LookupEnv)
			for _, m := range missing {
				c.unset = append(c.unset, Diagnostic{
					Severity: SeverityWarning,
					Field:    fmt.Sprintf("providers.%s.env[%d]", name, i),
					Message:  fmt.Sprintf("environment variable %s is not set", m),
				})
			}
			env = append(env, EnvVar{Key: key, Value: expanded})
		}
		c.providers[name] = Provider{
			Name:        name,
			Bin:         e.Bin,
			Description: e.Description,
			Flags:       slices.Clone(e.Flags),
			Env:         env,
			StdinTo:     e.StdinTo,
			StdinMode:   mode,
		}
	}

	for name, cmd := range f.Snippets.Pre {
		c.preSnippets[name] = Snippet{Name: name, Command: cmd}
	}
	for name, cmd := range f.Snippets.Post {
		c.postSnippets[name] = Snippet{Name: name, Command: cmd}
	}

	for _, name := range sortedKeys(f.Wrappers) {
		e := f.Wrappers[name]
		w := Wrapper{Name: name, Shell: e.Shell}
		switch {
		case e.Shell && e.Cmd.IsList:
			return nil, fmt.Errorf("wrappers.%s.cmd: shell wrapper requires a string command", name)
		case !e.Shell && !e.Cmd.IsList:
			return nil, fmt.Errorf("wrappers.%s.cmd: exec wrapper requires a list command", name)
		case e.Shell:
			w.Command = e.Cmd.Line
		default:
			w.Argv = slices.Clone(e.Cmd.List)
		}
		c.wrappers[name] = w
	}

	for name, e := range f.Profiles {
		static := StaticProfile{
			Name:        name,
			Provider:    e.Provider,
			Description: e.Description,
			Pre:         slices.Clone(e.Pre),
			Post:        slices.Clone(e.Post),
			Wrap:        e.Wrap,
		}
		if e.Prompt != "" {
			c.profiles[name] = PromptProfile{
				StaticProfile: static,
				Prompt:        e.Prompt,
				PromptArgs:    slices.Clone(e.PromptArgs),
			}
			continue
		}
		c.profiles[name] = static
	}
	return c, nil
}

// ExpandEnv replaces ${env:NAME} with the value from lookup. Unset variables
// expand to the empty string and are reported in missing.
func ExpandEnv(s string, lookup func(string) (string, bool)) (string, []string) {
	const open = "${env:"
	var b strings.Builder
	var missing []string
	for {
		i := strings.Index(s, open)
		if i < 0 {
			b.WriteString(s)
			break
		}
		end := strings.IndexByte(s[i+len(open):], '}')
		if end < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		name := s[i+len(open) : i+len(open)+end]
		if v, ok := lookup(name); ok {
			b.WriteString(v)
		} else {
			missing = append(missing, name)
		}
		s = s[i+len(open)+end+1:]
	}
	return b.String(), missing
}

// =============================================================================
// READ-ONLY VIEW
// =============================================================================

// Provider returns the named provider.
func (c *Config) Provider(name string) (Provider, bool) {
	p, ok := c.providers[name]
	if !ok {
		return Provider{}, false
	}
	p.Flags = slices.Clone(p.Flags)
	p.Env = slices.Clone(p.Env)
	return p, true
}

// Profile returns the named profile.
func (c *Config) Profile(name string) (Profile, bool) {
	p, ok := c.profiles[name]
	return p, ok
}

// PreSnippet returns the named pre snippet.
func (c *Config) PreSnippet(name string) (Snippet, bool) {
	s, ok := c.preSnippets[name]
	return s, ok
}

// PostSnippet returns the named post snippet.
func (c *Config) PostSnippet(name string) (Snippet, bool) {
	s, ok := c.postSnippets[name]
	return s, ok
}

// Wrapper returns the named wrapper.
func (c *Config) Wrapper(name string) (Wrapper, bool) {
	w, ok := c.wrappers[name]
	if !ok {
		return Wrapper{}, false
	}
	w.Argv = slices.Clone(w.Argv)
	return w, true
}

func (c *Config) DefaultProvider() string { return c.file.Defaults.Provider }
func (c *Config) DefaultProfile() string  { return c.file.Defaults.Profile }
func (c *Config) TerminalTitle() string   { return c.file.Defaults.TerminalTitle }

func (c *Config) Features() Features         { return c.file.Features }
func (c *Config) Execution() ExecutionConfig { return c.file.Execution }
func (c *Config) Logging() LoggingConfig     { return c.file.Logging }
func (c *Config) SessionStore() StoreConfig  { return c.file.SessionStore }

func (c *Config) ProviderNames() []string    { return sortedKeys(c.providers) }
func (c *Config) ProfileNames() []string     { return sortedKeys(c.profiles) }
func (c *Config) WrapperNames() []string     { return sortedKeys(c.wrappers) }
func (c *Config) PreSnippetNames() []string  { return sortedKeys(c.preSnippets) }
func (c *Config) PostSnippetNames() []string { return sortedKeys(c.postSnippets) }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
