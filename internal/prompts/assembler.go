package prompts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"tx/internal/logging"
)

// ErrUnexpectedShape is returned when "pa list --json" is neither an array nor
// an object with a prompts array.
var ErrUnexpectedShape = errors.New("unexpected JSON shape from pa; expected an array or object with 'prompts'")

// Runner executes the assembler binary and returns its stdout.
type Runner func(ctx context.Context, bin string, args ...string) ([]byte, error)

// Assembler fetches prompts from the pa binary.
type Assembler struct {
	Bin       string
	Namespace string
	// Workers bounds concurrent "pa show" calls. Zero means 4.
	Workers int
	run     Runner
}

// NewAssembler returns an Assembler that executes bin.
func NewAssembler(bin, namespace string) *Assembler {
	if bin == "" {
		bin = "pa"
	}
	return &Assembler{Bin: bin, Namespace: namespace, run: execRunner}
}

// WithRunner replaces process execution, for tests.
func (a *Assembler) WithRunner(r Runner) *Assembler {
	a.run = r
	return a
}

func execRunner(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return nil, fmt.Errorf("%s exited with status %d: %s", bin, exitErr.ExitCode(), msg)
			}
			return nil, fmt.Errorf("%s exited with status %d", bin, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("failed to execute '%s %s': %w", bin, strings.Join(args, " "), err)
	}
	return out, nil
}

type listEntry struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Summary        string   `json:"summary"`
	Tags           []string `json:"tags"`
	StdinSupported *bool    `json:"stdin_supported"`
}

type detail struct {
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	StdinSupported *bool    `json:"stdin_supported"`
	Profile        struct {
		Content *string `json:"content"`
		Parts   []struct {
			Content string `json:"content"`
		} `json:"parts"`
	} `json:"profile"`
}

// List fetches every prompt. Details are loaded concurrently; the result keeps
// list order. Entries without a name are skipped.
func (a *Assembler) List(ctx context.Context) ([]Prompt, error) {
	timer := logging.StartTimer(logging.CategoryPrompts, "pa list")
	defer timer.Stop()

	out, err := a.run(ctx, a.Bin, "list", "--json")
	if err != nil {
		return nil, err
	}
	entries, err := parseList(out)
	if err != nil {
		return nil, err
	}

	prompts := make([]Prompt, len(entries))
	workers := a.Workers
	if workers <= 0 {
		workers = 4
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, e := range entries {
		eg.Go(func() error {
			d, err := a.show(egCtx, e.Name)
			if err != nil {
				return err
			}
			prompts[i] = merge(a.Namespace, e, d)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	logging.Prompts("pa returned %d prompts", len(prompts))
	return prompts, nil
}

func (a *Assembler) show(ctx context.Context, name string) (detail, error) {
	var d detail
	out, err := a.run(ctx, a.Bin, "show", "--json", name)
	if err != nil {
		return d, fmt.Errorf("loading prompt '%s': %w", name, err)
	}
	if err := json.Unmarshal(out, &d); err != nil {
		return d, fmt.Errorf("failed to parse JSON output from 'pa show --json %s': %w", name, err)
	}
	return d, nil
}

func parseList(data []byte) ([]listEntry, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON output from pa: %w", err)
	}

	var entries []listEntry
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) > 0 && trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse JSON output from pa: %w", err)
		}
	case len(trimmed) > 0 && trimmed[0] == '{':
		var wrapped struct {
			Prompts *[]listEntry `json:"prompts"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to parse JSON output from pa: %w", err)
		}
		if wrapped.Prompts == nil {
			return nil, ErrUnexpectedShape
		}
		entries = *wrapped.Prompts
	default:
		return nil, ErrUnexpectedShape
	}

	named := entries[:0]
	for _, e := range entries {
		if e.Name != "" {
			named = append(named, e)
		}
	}
	return named, nil
}

func merge(namespace string, e listEntry, d detail) Prompt {
	p := Prompt{
		Key:         namespace + "/" + e.Name,
		Name:        e.Name,
		Description: strings.TrimSpace(e.Description),
		Tags:        e.Tags,
	}
	if p.Description == "" {
		p.Description = strings.TrimSpace(e.Summary)
	}
	if p.Description == "" {
		p.Description = strings.TrimSpace(d.Description)
	}
	if len(p.Tags) == 0 {
		p.Tags = d.Tags
	}
	if e.StdinSupported != nil {
		p.StdinSupported = *e.StdinSupported
	}
	if d.StdinSupported != nil {
		p.StdinSupported = *d.StdinSupported
	}
	p.Lines = extractLines(d)
	return p
}

func extractLines(d detail) []string {
	if d.Profile.Content != nil {
		return splitLines(*d.Profile.Content)
	}
	var lines []string
	for _, part := range d.Profile.Parts {
		lines = append(lines, splitLines(part.Content)...)
	}
	return lines
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
