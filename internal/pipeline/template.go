package pipeline

import (
	"strings"

	"tx/internal/shellquote"
)

// Mode selects how substituted values are inserted.
type Mode int

const (
	// ModeShell inserts every value as shell-safe text, for commands run by sh -c.
	ModeShell Mode = iota
	// ModeRaw inserts values verbatim, for single argv elements.
	ModeRaw
)

// SessionContext identifies the session a plan runs for.
type SessionContext struct {
	ID          string `json:"id,omitempty"`
	Label       string `json:"label,omitempty"`
	Path        string `json:"path,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
}

// TemplateContext holds the values {{...}} tokens resolve to.
type TemplateContext struct {
	Provider string
	Session  SessionContext
	Cwd      string
	Vars     map[string]string

	cmd    string
	hasCmd bool
}

// WithCmd returns a copy in which {{CMD}} resolves to inner.
func (c TemplateContext) WithCmd(inner string) TemplateContext {
	c.cmd = inner
	c.hasCmd = true
	return c
}

// quoteState is the shell quoting context at a position in a template.
type quoteState int

const (
	unquoted quoteState = iota
	inSingle
	inDouble
)

// Resolve substitutes every {{token}} in input in one left-to-right pass.
// Substituted text is never rescanned. An opening {{ with no closing }} is
// literal text. field names the config key input came from, for errors.
//
// In ModeShell each value is escaped for the quoting context the token sits
// in, so that sh reads it back as one literal word or word fragment.
func (c TemplateContext) Resolve(input, field string, mode Mode) (string, error) {
	if !strings.Contains(input, "{{") {
		return input, nil
	}
	var b strings.Builder
	state := unquoted
	for i := 0; i < len(input); {
		if strings.HasPrefix(input[i:], "{{") {
			if end := strings.Index(input[i+2:], "}}"); end >= 0 {
				key := input[i+2 : i+2+end]
				value, err := c.lookup(key, field)
				if err != nil {
					return "", err
				}
				b.WriteString(insert(value, key == "CMD", mode, state))
				i += 2 + end + 2
				continue
			}
		}
		ch := input[i]
		b.WriteByte(ch)
		i++
		if mode != ModeShell {
			continue
		}
		switch state {
		case unquoted:
			switch ch {
			case '\\':
				if i < len(input) {
					b.WriteByte(input[i])
					i++
				}
			case '\'':
				state = inSingle
			case '"':
				state = inDouble
			}
		case inSingle:
			if ch == '\'' {
				state = unquoted
			}
		case inDouble:
			switch ch {
			case '\\':
				if i < len(input) {
					b.WriteByte(input[i])
					i++
				}
			case '"':
				state = unquoted
			}
		}
	}
	return b.String(), nil
}

// insert escapes value for the quoting state it is substituted into.
func insert(value string, cmd bool, mode Mode, state quoteState) string {
	if mode != ModeShell {
		return value
	}
	switch state {
	case inSingle:
		return shellquote.EscapeSingle(value)
	case inDouble:
		return shellquote.EscapeDouble(value)
	}
	if cmd {
		return shellquote.Quote(value)
	}
	return shellquote.QuoteArg(value)
}

func (c TemplateContext) lookup(key, field string) (string, error) {
	var value string
	switch key {
	case "CMD":
		if !c.hasCmd {
			return "", &TemplateError{Token: key, Field: field, Reason: "placeholder only valid in wrapper commands"}
		}
		return c.cmd, nil
	case "provider":
		value = c.Provider
	case "session.id":
		value = c.Session.ID
	case "session.label":
		value = c.Session.Label
	case "session.path":
		value = c.Session.Path
	case "session.resume_token":
		value = c.Session.ResumeToken
	case "cwd":
		value = c.Cwd
	default:
		name, ok := strings.CutPrefix(key, "var:")
		if !ok {
			return "", &TemplateError{Token: key, Field: field}
		}
		v, found := c.Vars[name]
		if !found {
			return "", &TemplateError{Token: key, Field: field, Reason: "missing value for variable"}
		}
		value = v
	}
	return value, nil
}
