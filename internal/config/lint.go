package config

import (
	"fmt"
	"sort"
	"strings"

	"tx/internal/shellquote"
)

// Severity grades a lint finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one lint finding against a config field.
type Diagnostic struct {
	Severity Severity
	Field    string
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Field, d.Message)
}

const cmdToken = "{{CMD}}"

// Lint checks cross references and shapes the loader accepts but the pipeline
// would reject. Results are sorted by field.
func (c *Config) Lint() []Diagnostic {
	var out []Diagnostic
	add := func(sev Severity, field, format string, args ...interface{}) {
		out = append(out, Diagnostic{Severity: sev, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if name := c.DefaultProvider(); name != "" {
		if _, ok := c.providers[name]; !ok {
			add(SeverityError, "defaults.provider", "provider '%s' not defined", name)
		}
	}
	if name := c.DefaultProfile(); name != "" {
		if _, ok := c.profiles[name]; !ok {
			add(SeverityError, "defaults.profile", "profile '%s' not found", name)
		}
	}
	if len(c.providers) == 0 {
		add(SeverityWarning, "providers", "no providers defined")
	}

	for name, p := range c.providers {
		field := "providers." + name
		if strings.TrimSpace(p.Bin) == "" {
			add(SeverityError, field+".bin", "bin is required")
		}
		if p.StdinTo != "" {
			if _, err := shellquote.Split(p.StdinTo); err != nil {
				add(SeverityError, field+".stdin_to", "%v", err)
			}
		}
	}
	out = append(out, c.unset...)

	for name, s := range c.preSnippets {
		if _, err := shellquote.Split(s.Command); err != nil {
			add(SeverityError, "snippets.pre."+name, "%v", err)
		}
	}
	for name, s := range c.postSnippets {
		if _, err := shellquote.Split(s.Command); err != nil {
			add(SeverityError, "snippets.post."+name, "%v", err)
		}
	}

	for name, w := range c.wrappers {
		field := "wrappers." + name + ".cmd"
		if w.Shell {
			if !strings.Contains(w.Command, cmdToken) {
				add(SeverityError, field, "shell wrapper must contain %s", cmdToken)
			}
			continue
		}
		n := 0
		for _, arg := range w.Argv {
			if strings.Contains(arg, cmdToken) {
				n++
			}
		}
		if n != 1 {
			add(SeverityError, field, "exec wrapper needs exactly one element containing %s, found %d", cmdToken, n)
		}
	}

	paEnabled := c.file.Features.PA.Enabled
	for name, p := range c.profiles {
		field := "profiles." + name
		s := p.Static()
		if s.Provider != "" {
			if _, ok := c.providers[s.Provider]; !ok {
				add(SeverityError, field+".provider", "provider '%s' not defined", s.Provider)
			}
		}
		for i, pre := range s.Pre {
			if _, ok := c.preSnippets[pre]; !ok {
				add(SeverityError, fmt.Sprintf("%s.pre[%d]", field, i), "unknown pre snippet '%s'", pre)
			}
		}
		for i, post := range s.Post {
			if _, ok := c.postSnippets[post]; !ok {
				add(SeverityError, fmt.Sprintf("%s.post[%d]", field, i), "unknown post snippet '%s'", post)
			}
		}
		if s.Wrap != "" {
			if _, ok := c.wrappers[s.Wrap]; !ok {
				add(SeverityError, field+".wrap", "wrapper '%s' not found", s.Wrap)
			}
		}
		if _, ok := p.(PromptProfile); ok && !paEnabled {
			add(SeverityWarning, field+".prompt", "prompt profiles need features.pa.enabled")
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Field != out[j].Field {
			return out[i].Field < out[j].Field
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// HasErrors reports whether any diagnostic is an error.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
