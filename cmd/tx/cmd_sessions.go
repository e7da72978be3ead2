package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tx/internal/pipeline"
	"tx/internal/session"
)

var (
	sessionsProvider string
	sessionsLimit    int
	sessionsJSON     bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage recorded sessions",
	Long: `List, inspect and remove recorded sessions.

Subcommands:
  list   - List sessions, most recent first
  show   - Show a session and the command a resume would run
  rm     - Delete a session
  token  - Record the provider's resume token for a session`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRmCmd = &cobra.Command{
	Use:     "rm <session-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE:    runSessionsRm,
}

var sessionsTokenCmd = &cobra.Command{
	Use:   "token <session-id> <token>",
	Short: "Record the provider's resume token for a session",
	Args:  cobra.ExactArgs(2),
	RunE:  runSessionsToken,
}

func init() {
	for _, c := range []*cobra.Command{sessionsCmd, sessionsListCmd} {
		c.Flags().StringVar(&sessionsProvider, "provider", "", "Only sessions of this provider")
		c.Flags().IntVar(&sessionsLimit, "limit", 0, "Maximum number of sessions")
		c.Flags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	}
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print JSON")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsRmCmd, sessionsTokenCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := session.Open(cfg.SessionStore())
	if err != nil {
		return err
	}
	defer store.Close()

	snaps, err := store.List(cmd.Context(), session.ListOptions{Provider: sessionsProvider, Limit: sessionsLimit})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if sessionsJSON {
		return writeJSON(out, nonNilSnapshots(snaps))
	}
	if len(snaps) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}
	return renderMarkdown(out, sessionsTable(snaps))
}

func nonNilSnapshots(s []session.Snapshot) []session.Snapshot {
	if s == nil {
		return []session.Snapshot{}
	}
	return s
}

func sessionsTable(snaps []session.Snapshot) string {
	var b strings.Builder
	b.WriteString("| ID | Label | Provider | Profile | Updated |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, s := range snaps {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			s.ShortID(), cell(s.Label), s.Provider(), cell(s.Recipe.Profile), s.UpdatedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(&b, "\n%d session(s). Resume with `tx resume <id>`.\n", len(snaps))
	return b.String()
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", `\|`)
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := session.Open(cfg.SessionStore())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if sessionsJSON {
		return writeJSON(cmd.OutOrStdout(), snap)
	}
	catalog := promptCatalog(cmd.Context(), cfg, pipeline.ReplayRequest(snap.Recipe, snap.Context(), pipeline.Request{}))
	return renderMarkdown(cmd.OutOrStdout(), sessionMarkdown(snap, catalog))
}

// sessionMarkdown describes a session, including what resuming it would run
// against the current configuration.
func sessionMarkdown(s session.Snapshot, catalog pipeline.PromptCatalog) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", s.DisplayLabel())
	fmt.Fprintf(&b, "- **ID:** `%s`\n", s.ID)
	fmt.Fprintf(&b, "- **Provider:** %s\n", s.Provider())
	r := s.Recipe
	if r.Profile != "" {
		fmt.Fprintf(&b, "- **Profile:** %s\n", r.Profile)
	}
	if len(r.Pre) > 0 {
		fmt.Fprintf(&b, "- **Pre:** %s\n", strings.Join(r.Pre, ", "))
	}
	if len(r.Post) > 0 {
		fmt.Fprintf(&b, "- **Post:** %s\n", strings.Join(r.Post, ", "))
	}
	if r.Wrap != "" {
		fmt.Fprintf(&b, "- **Wrapper:** %s\n", r.Wrap)
	}
	if r.Prompt != "" {
		fmt.Fprintf(&b, "- **Prompt:** %s %s\n", r.Prompt, strings.Join(r.PromptArgs, " "))
	}
	for _, k := range sortedVarKeys(r.Vars) {
		fmt.Fprintf(&b, "- **var %s:** %s\n", k, r.Vars[k])
	}
	if s.ResumeToken != "" {
		fmt.Fprintf(&b, "- **Resume token:** `%s`\n", s.ResumeToken)
	}
	if s.Path != "" {
		fmt.Fprintf(&b, "- **Directory:** %s\n", s.Path)
	}
	fmt.Fprintf(&b, "- **Created:** %s\n", s.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(&b, "- **Updated:** %s\n", s.UpdatedAt.Local().Format(time.DateTime))

	b.WriteString("\n## Resume command\n\n")
	plan, err := pipeline.Replay(cfg, catalog, s.Recipe, s.Context(), pipeline.Request{HelperPath: helperPath()})
	if err != nil {
		fmt.Fprintf(&b, "Cannot resume with the current configuration: %v\n", err)
	} else {
		fmt.Fprintf(&b, "```sh\n%s\n```\n", plan.Display)
	}
	return b.String()
}

func sortedVarKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

func runSessionsRm(cmd *cobra.Command, args []string) error {
	store, err := session.Open(cfg.SessionStore())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if err := store.Delete(cmd.Context(), snap.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", snap.ID)
	return nil
}

func runSessionsToken(cmd *cobra.Command, args []string) error {
	store, err := session.Open(cfg.SessionStore())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return store.Touch(cmd.Context(), snap.ID, args[1])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderMarkdown renders md with glamour on a terminal and writes it verbatim
// otherwise.
func renderMarkdown(w io.Writer, md string) error {
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		if out, err := styledMarkdown(md); err == nil {
			md = out
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

func styledMarkdown(md string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
