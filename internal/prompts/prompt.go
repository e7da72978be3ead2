// Package prompts exposes the external prompt assembler (pa) as a read-only
// catalog. Prompts are fetched with "pa list --json" and "pa show --json <name>"
// and cached behind an explicit TTL.
package prompts

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Prompt is one catalog entry.
type Prompt struct {
	// Key is "<namespace>/<name>", the virtual profile name shown in pickers.
	Key            string   `json:"key"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	StdinSupported bool     `json:"stdin_supported"`
	Lines          []string `json:"lines,omitempty"`
}

// Text joins the prompt body with a trailing newline.
func (p Prompt) Text() string {
	if len(p.Lines) == 0 {
		return ""
	}
	return strings.Join(p.Lines, "\n") + "\n"
}

var argToken = regexp.MustCompile(`\{(\d+)\}`)

// RequiredArgs is one more than the highest {N} placeholder in the body, or 0
// when the body has none.
func (p Prompt) RequiredArgs() int {
	n := 0
	for _, m := range argToken.FindAllStringSubmatch(p.Text(), -1) {
		i, err := strconv.Atoi(m[1])
		if err == nil && i+1 > n {
			n = i + 1
		}
	}
	return n
}

// Render substitutes positional arguments into the body. {0} is the first
// argument. Placeholders without a matching argument are left as written.
func (p Prompt) Render(args []string) string {
	text := p.Text()
	if len(args) == 0 {
		return text
	}
	return argToken.ReplaceAllStringFunc(text, func(tok string) string {
		i, err := strconv.Atoi(tok[1 : len(tok)-1])
		if err != nil || i >= len(args) {
			return tok
		}
		return args[i]
	})
}

// Snapshot is an immutable view of the catalog at one refresh.
type Snapshot struct {
	namespace string
	byName    map[string]Prompt
	order     []string
}

// NewSnapshot indexes prompts by name. Later duplicates win.
func NewSnapshot(namespace string, prompts []Prompt) Snapshot {
	s := Snapshot{namespace: namespace, byName: make(map[string]Prompt, len(prompts))}
	for _, p := range prompts {
		if p.Key == "" {
			p.Key = namespace + "/" + p.Name
		}
		if _, dup := s.byName[p.Name]; !dup {
			s.order = append(s.order, p.Name)
		}
		s.byName[p.Name] = p
	}
	return s
}

// Prompt looks up a prompt by bare name or by its namespaced key.
func (s Snapshot) Prompt(name string) (Prompt, bool) {
	if s.namespace != "" {
		name = strings.TrimPrefix(name, s.namespace+"/")
	}
	p, ok := s.byName[name]
	return p, ok
}

// Prompts returns every prompt in catalog order.
func (s Snapshot) Prompts() []Prompt {
	out := make([]Prompt, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// Keys returns the namespaced keys sorted.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.byName))
	for _, p := range s.byName {
		keys = append(keys, p.Key)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of prompts.
func (s Snapshot) Len() int { return len(s.byName) }

// Namespace is the virtual profile prefix.
func (s Snapshot) Namespace() string { return s.namespace }
