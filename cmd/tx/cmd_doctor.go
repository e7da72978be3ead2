package main

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"tx/internal/config"
	"tx/internal/executor"
	"tx/internal/prompts"
	"tx/internal/session"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check provider binaries, environment, session store and prompt assembler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		runDoctor(cmd, cfg, exec.LookPath)
		return nil
	},
}

func check(w io.Writer, ok bool, format string, args ...any) {
	mark := "✔"
	if !ok {
		mark = "✘"
	}
	fmt.Fprintf(w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// runDoctor reports problems without failing; every check is independent.
func runDoctor(cmd *cobra.Command, c *config.Config, lookPath func(string) (string, error)) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "tx doctor")
	fmt.Fprintln(out, "=========")

	diags := c.Lint()
	for _, name := range c.ProviderNames() {
		p, _ := c.Provider(name)
		if path, err := lookPath(p.Bin); err == nil {
			check(out, true, "provider %s binary found at %s", name, path)
		} else {
			check(out, false, "provider %s binary '%s' not found on PATH", name, p.Bin)
		}
		prefix := "providers." + name + ".env"
		for _, d := range diags {
			if strings.HasPrefix(d.Field, prefix) {
				fmt.Fprintf(out, "  ✘ %s\n", d.Message)
			}
		}
	}

	shell := executor.NewFromConfig(c.Execution(), "").Shell()
	if _, err := lookPath(shell); err == nil {
		check(out, true, "shell %s", shell)
	} else {
		check(out, false, "shell %s not found", shell)
	}

	if config.HasErrors(diags) {
		check(out, false, "configuration has errors; run tx config lint")
	} else {
		check(out, true, "configuration references resolve")
	}

	store, err := session.Open(c.SessionStore())
	if err != nil {
		check(out, false, "session store: %v", err)
	} else {
		snaps, err := store.List(cmd.Context(), session.ListOptions{})
		if err != nil {
			check(out, false, "session store %s: %v", store.Path(), err)
		} else {
			check(out, true, "session store %s (%d sessions)", store.Path(), len(snaps))
		}
		store.Close()
	}

	if c.Features().PA.Enabled {
		cache := newPromptCache(c)
		_, _ = cache.Refresh(cmd.Context())
		switch st := cache.Status(); st.State {
		case prompts.StateReady:
			check(out, true, "prompt assembler responded (%d prompts)", st.Count)
		default:
			check(out, false, "%s", st.Message)
		}
	}
}
