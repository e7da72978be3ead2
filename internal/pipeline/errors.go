package pipeline

import (
	"errors"
	"fmt"
)

// Compilation errors.
var (
	// ErrNoProvider is returned when neither the request, a profile, nor the
	// defaults name a provider.
	ErrNoProvider = errors.New("no provider selected; specify --profile or <provider>")
)

// Reference kinds used by ConfigReferenceError.
const (
	KindProvider    = "provider"
	KindProfile     = "profile"
	KindPreSnippet  = "pre snippet"
	KindPostSnippet = "post snippet"
	KindWrapper     = "wrapper"
)

// ConfigReferenceError reports a name that the configuration does not define.
type ConfigReferenceError struct {
	Kind  string
	Name  string
	Field string // where the reference was made, e.g. profiles.review.pre[1]
}

func (e *ConfigReferenceError) Error() string {
	var msg string
	switch e.Kind {
	case KindProvider:
		msg = fmt.Sprintf("provider '%s' not defined", e.Name)
	case KindPreSnippet, KindPostSnippet:
		msg = fmt.Sprintf("unknown %s '%s'", e.Kind, e.Name)
	default:
		msg = fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
	}
	if e.Field != "" {
		msg += " (referenced by " + e.Field + ")"
	}
	return msg
}

// PromptNotFoundError reports an external prompt missing from the catalog.
type PromptNotFoundError struct {
	Name   string
	Source string
}

func (e *PromptNotFoundError) Error() string {
	msg := fmt.Sprintf("prompt '%s' not found in prompt catalog", e.Name)
	if e.Source != "" {
		msg += " (referenced by " + e.Source + ")"
	}
	return msg
}

// PromptArgsError reports a prompt used with fewer positional arguments than
// its {N} placeholders need.
type PromptArgsError struct {
	Name   string
	Source string
	Args   []string // the arguments that were given
	Want   int
}

func (e *PromptArgsError) Error() string {
	msg := fmt.Sprintf("prompt '%s' needs %d argument(s), got %d; missing {%d}", e.Name, e.Want, len(e.Args), len(e.Args))
	if e.Source != "" {
		msg += " (referenced by " + e.Source + ")"
	}
	return msg
}

// ProviderConflictError rejects a replay that would change the recorded provider.
type ProviderConflictError struct {
	Session   string
	Recorded  string
	Requested string
}

func (e *ProviderConflictError) Error() string {
	return fmt.Sprintf("provider mismatch: session %s was recorded with '%s', requested '%s'",
		e.Session, e.Recorded, e.Requested)
}

// QuotingParseError wraps a shell-word parse failure with the field it came from.
type QuotingParseError struct {
	Field string
	Err   error
}

func (e *QuotingParseError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *QuotingParseError) Unwrap() error { return e.Err }

// TemplateError reports an unknown token or a missing variable.
type TemplateError struct {
	Token  string
	Field  string
	Reason string
}

func (e *TemplateError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "unknown template placeholder"
	}
	return fmt.Sprintf("%s: %s '{{%s}}'", e.Field, reason, e.Token)
}

// Exit codes shared by the CLI.
const (
	ExitOK       = 0
	ExitInvalid  = 1
	ExitConflict = 2
	ExitNotFound = 127
)

// ExitCode maps an error to the process exit status. Errors that carry their
// own status (stage failures) report it through an ExitCode method. A
// partially failed pipeline reports its terminal stage status through
// TerminalStatus, which can be 0.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var conflict *ProviderConflictError
	if errors.As(err, &conflict) {
		return ExitConflict
	}
	var partial interface{ TerminalStatus() int }
	if errors.As(err, &partial) {
		return partial.TerminalStatus()
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		if code := coded.ExitCode(); code > 0 {
			return code
		}
	}
	return ExitInvalid
}
