package pipeline

import (
	"tx/internal/config"
	"tx/internal/prompts"
	"tx/internal/shellquote"
)

// ConfigView is the read-only configuration the compiler consults.
type ConfigView interface {
	Provider(name string) (config.Provider, bool)
	Profile(name string) (config.Profile, bool)
	PreSnippet(name string) (config.Snippet, bool)
	PostSnippet(name string) (config.Snippet, bool)
	Wrapper(name string) (config.Wrapper, bool)
	DefaultProvider() string
	DefaultProfile() string
}

// TitleSource is optionally implemented by a ConfigView that carries a
// terminal title template.
type TitleSource interface {
	TerminalTitle() string
}

// PromptCatalog resolves external prompts by name.
type PromptCatalog interface {
	Prompt(name string) (prompts.Prompt, bool)
}

// Request is everything a caller can ask of the compiler.
type Request struct {
	Provider  string
	Profile   string
	Pre       []string // appended after profile pre snippets
	Post      []string // appended after profile post snippets
	InlinePre []string // raw commands run after named pre snippets
	// RecordedPre and RecordedPost are a replayed session's names. They run
	// before the profile's names so a resume keeps the recorded order.
	RecordedPre  []string
	RecordedPost []string
	Wrap         string
	// ProviderArgs follow the provider's flags and stdin arguments. They are
	// passed through without template resolution.
	ProviderArgs []string
	Vars         map[string]string
	Session      SessionContext
	Cwd          string
	StdinMode    config.StdinMode
	Prompt       string
	PromptArgs   []string
	// HelperPath is the tx executable used to render capture-arg pipelines.
	HelperPath string
	// LockedProvider is set on replay; any other provider is a conflict.
	LockedProvider string
	// StdinIsTerminal disables capture of the caller's stdin when there are no
	// pre stages to capture from.
	StdinIsTerminal bool
}

// StageKind classifies a stage.
type StageKind string

const (
	StagePre      StageKind = "pre"
	StageProvider StageKind = "provider"
	StagePost     StageKind = "post"
	StageWrapper  StageKind = "wrapper"
)

// StdinSource says where a stage reads from.
type StdinSource string

const (
	StdinInherit StdinSource = "inherit" // the caller's stdin
	StdinPiped   StdinSource = "pipe"    // the previous stage's stdout
	StdinCapture StdinSource = "capture" // none; previous output arrives as an argument
)

// Stage is one process. Exactly one of Command (run by the shell) and Argv
// (executed directly) is set.
type Stage struct {
	Kind    StageKind   `json:"kind"`
	Name    string      `json:"name,omitempty"`
	Command string      `json:"command,omitempty"`
	Argv    []string    `json:"argv,omitempty"`
	Stdin   StdinSource `json:"stdin"`
}

// Text renders the stage as shell text.
func (s Stage) Text() string {
	if s.Argv != nil {
		return shellquote.Join(s.Argv)
	}
	return s.Command
}

// Invocation is the single command a plan reduces to: a shell string or an argv.
type Invocation struct {
	Shell   bool     `json:"shell"`
	Command string   `json:"command,omitempty"`
	Argv    []string `json:"argv,omitempty"`
}

// Recipe is the resolved request a session records. Replaying it through
// Compile rebuilds the plan from names, not from frozen command text.
type Recipe struct {
	Provider     string            `json:"provider"`
	Profile      string            `json:"profile,omitempty"`
	Pre          []string          `json:"pre,omitempty"`
	Post         []string          `json:"post,omitempty"`
	InlinePre    []string          `json:"inline_pre,omitempty"`
	Wrap         string            `json:"wrap,omitempty"`
	Vars         map[string]string `json:"vars,omitempty"`
	ProviderArgs []string          `json:"provider_args,omitempty"`
	StdinMode    config.StdinMode  `json:"stdin_mode,omitempty"`
	Prompt       string            `json:"prompt,omitempty"`
	PromptArgs   []string          `json:"prompt_args,omitempty"`
	Cwd          string            `json:"cwd,omitempty"`
}

// Plan is the compiled, fully resolved pipeline.
type Plan struct {
	Provider string
	Profile  string
	Wrapper  string
	// StdinMode is the effective mode after overrides and terminal detection.
	StdinMode             config.StdinMode
	CaptureHasPreCommands bool
	PreSnippets           []string
	PostSnippets          []string

	// Stages is what the executor runs. A wrapped plan has one wrapper stage;
	// Inner always holds the unwrapped pre, provider and post stages.
	Stages []Stage
	Inner  []Stage

	// Pipeline is Inner rendered as "stage1 | stage2 | ...". In capture_arg
	// mode the pre and provider stages render as one capture-arg helper call.
	Pipeline        string
	Display         string
	FriendlyDisplay string
	Invocation      Invocation

	Env   []config.EnvVar
	Cwd   string
	Title string

	Recipe Recipe
}

// ProviderStage returns the provider stage of the unwrapped pipeline and its index.
func (p *Plan) ProviderStage() (Stage, int) {
	for i, s := range p.Inner {
		if s.Kind == StageProvider {
			return s, i
		}
	}
	return Stage{}, -1
}

// Wrapped reports whether the plan runs through a wrapper.
func (p *Plan) Wrapped() bool { return p.Wrapper != "" }

// Environ renders Env as KEY=VALUE strings.
func (p *Plan) Environ() []string {
	out := make([]string, 0, len(p.Env))
	for _, e := range p.Env {
		out = append(out, e.String())
	}
	return out
}
