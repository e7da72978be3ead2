package pipeline

import (
	"encoding/json"
	"strings"

	"tx/internal/shellquote"
)

// friendlyCapture renders a capture_arg plan the way a person would type it:
// the pre pipeline becomes a command substitution at the {prompt} slot.
func friendlyCapture(bin string, pre, post []Stage, args []string) string {
	var sub string
	if len(pre) > 0 {
		sub = strings.Join(stageCommands(pre), " | ")
	}

	parts := []string{shellquote.QuoteArg(bin)}
	for _, arg := range args {
		switch {
		case arg == PromptPlaceholder:
			if sub != "" {
				parts = append(parts, `"$(`+escapeDouble(sub)+`)"`)
			}
		case strings.Contains(arg, PromptPlaceholder) && sub != "":
			replaced := strings.ReplaceAll(arg, PromptPlaceholder, "$("+sub+")")
			if strings.ContainsAny(arg, " \"") {
				parts = append(parts, `"`+escapeDouble(replaced)+`"`)
			} else {
				parts = append(parts, replaced)
			}
		case strings.Contains(arg, PromptPlaceholder):
			parts = append(parts, shellquote.QuoteArg(strings.ReplaceAll(arg, PromptPlaceholder, "<prompt>")))
		default:
			parts = append(parts, shellquote.QuoteArg(arg))
		}
	}

	stages := []string{strings.Join(parts, " ")}
	stages = append(stages, stageCommands(post)...)
	return strings.Join(stages, " | ")
}

func escapeDouble(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Description is the JSON form of a plan emitted by --emit-json.
type Description struct {
	Command               string            `json:"command"`
	FriendlyCommand       string            `json:"friendly_command"`
	Env                   map[string]string `json:"env"`
	Provider              string            `json:"provider"`
	Profile               string            `json:"profile,omitempty"`
	Wrapper               string            `json:"wrapper,omitempty"`
	StdinMode             string            `json:"stdin_mode"`
	CaptureHasPreCommands bool              `json:"capture_has_pre_commands"`
	PreSnippets           []string          `json:"pre_snippets"`
	PostSnippets          []string          `json:"post_snippets"`
	Pipeline              string            `json:"pipeline"`
	Invocation            Invocation        `json:"invocation"`
	Stages                []Stage           `json:"stages"`
	Cwd                   string            `json:"cwd,omitempty"`
	Title                 string            `json:"title,omitempty"`
}

// Describe builds the JSON description without spawning anything.
func (p *Plan) Describe() Description {
	env := make(map[string]string, len(p.Env))
	for _, e := range p.Env {
		env[e.Key] = e.Value
	}
	d := Description{
		Command:               p.Display,
		FriendlyCommand:       p.FriendlyDisplay,
		Env:                   env,
		Provider:              p.Provider,
		Profile:               p.Profile,
		Wrapper:               p.Wrapper,
		StdinMode:             string(p.StdinMode),
		CaptureHasPreCommands: p.CaptureHasPreCommands,
		PreSnippets:           nonNil(p.PreSnippets),
		PostSnippets:          nonNil(p.PostSnippets),
		Pipeline:              p.Pipeline,
		Invocation:            p.Invocation,
		Stages:                p.Stages,
		Cwd:                   p.Cwd,
		Title:                 p.Title,
	}
	return d
}

// MarshalDescription renders Describe as indented JSON.
func (p *Plan) MarshalDescription() ([]byte, error) {
	return json.MarshalIndent(p.Describe(), "", "  ")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
