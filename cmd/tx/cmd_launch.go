package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"tx/internal/config"
	"tx/internal/executor"
	"tx/internal/logging"
	"tx/internal/pipeline"
	"tx/internal/prompts"
	"tx/internal/session"
)

var errEmitJSON = errors.New("--emit-json requires --dry-run or --emit-command")

// runFlags are shared by launch and resume.
type runFlags struct {
	profile     string
	pre         []string
	post        []string
	preCmd      []string
	wrap        string
	vars        []string
	stdinMode   string
	prompt      string
	promptArgs  []string
	label       string
	dryRun      bool
	emitCommand bool
	emitJSON    bool
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	fs := cmd.Flags()
	fs.StringVar(&f.profile, "profile", "", "Profile to apply")
	fs.StringArrayVar(&f.pre, "pre", nil, "Append a pre snippet by name (repeatable)")
	fs.StringArrayVar(&f.post, "post", nil, "Append a post snippet by name (repeatable)")
	fs.StringArrayVar(&f.preCmd, "pre-cmd", nil, "Append a raw pre command (repeatable)")
	fs.StringVar(&f.wrap, "wrap", "", "Wrapper to run the pipeline in")
	fs.StringArrayVar(&f.vars, "var", nil, "Template variable KEY=VALUE (repeatable)")
	fs.StringVar(&f.stdinMode, "stdin-mode", "", "Override stdin delivery: pipe or capture_arg")
	fs.StringVar(&f.prompt, "prompt", "", "External prompt to feed the provider")
	fs.StringArrayVar(&f.promptArgs, "prompt-arg", nil, "Positional argument for --prompt (repeatable)")
	fs.StringVar(&f.label, "label", "", "Label for the recorded session")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Print the command instead of running it")
	fs.BoolVar(&f.emitCommand, "emit-command", false, "Print the exact command for scripting")
	fs.BoolVar(&f.emitJSON, "emit-json", false, "With --dry-run or --emit-command, print the plan as JSON")
}

func (f *runFlags) reset() { *f = runFlags{} }

// emits reports whether the plan is printed rather than run.
func (f *runFlags) emits() bool { return f.dryRun || f.emitCommand }

// request builds the compiler request shared by launch and resume.
func (f *runFlags) request(provider string, providerArgs []string) (pipeline.Request, error) {
	if f.emitJSON && !f.emits() {
		return pipeline.Request{}, errEmitJSON
	}
	vars, err := parseVars(f.vars)
	if err != nil {
		return pipeline.Request{}, err
	}
	mode, err := config.ParseStdinMode(f.stdinMode)
	if err != nil {
		return pipeline.Request{}, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("failed to get working directory: %w", err)
	}
	return pipeline.Request{
		Provider:        provider,
		Profile:         f.profile,
		Pre:             f.pre,
		Post:            f.post,
		InlinePre:       f.preCmd,
		Wrap:            f.wrap,
		ProviderArgs:    providerArgs,
		Vars:            vars,
		Cwd:             cwd,
		StdinMode:       mode,
		Prompt:          f.prompt,
		PromptArgs:      f.promptArgs,
		HelperPath:      helperPath(),
		StdinIsTerminal: isatty.IsTerminal(os.Stdin.Fd()),
	}, nil
}

// parseVars splits KEY=VALUE entries. Later entries win.
func parseVars(entries []string) (map[string]string, error) {
	vars := make(map[string]string, len(entries))
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid var '%s', expected KEY=VALUE", e)
		}
		vars[key] = value
	}
	return vars, nil
}

func helperPath() string {
	exe, err := os.Executable()
	if err != nil {
		return pipeline.DefaultHelper
	}
	return exe
}

// splitArgs separates positional arguments from provider arguments after "--".
func splitArgs(cmd *cobra.Command, args []string) (positional, providerArgs []string) {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		return args[:dash], args[dash:]
	}
	return args, nil
}

var launchFlags runFlags

var launchCmd = &cobra.Command{
	Use:   "launch [provider] [-- provider-args...]",
	Short: "Compile and run a provider pipeline",
	Long: `Compile a provider (or --profile) with its pre and post snippets and
wrapper into a pipeline and run it. The run is recorded as a session.

Snippets given with --pre and --post run after the profile's own snippets.`,
	Example: `  tx launch codex --pre status --var model=o3 -- --full-auto
  tx launch --profile review --emit-command
  tx launch claude --dry-run --emit-json`,
	RunE: runLaunch,
}

func init() {
	addRunFlags(launchCmd, &launchFlags)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	positional, providerArgs := splitArgs(cmd, args)
	if len(positional) > 1 {
		return fmt.Errorf("launch takes at most one provider, got %d arguments before --", len(positional))
	}
	var provider string
	if len(positional) == 1 {
		provider = positional[0]
	}

	req, err := launchFlags.request(provider, providerArgs)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	req.Session = pipeline.SessionContext{ID: uuid.NewString(), Label: launchFlags.label}

	plan, err := compileAsking(cmd, promptCatalog(ctx, cfg, req), req)
	if err != nil {
		return err
	}
	if launchFlags.emits() {
		return emitPlan(cmd.OutOrStdout(), plan, &launchFlags)
	}

	recordSession(ctx, req.Session, plan)
	return runPlan(cmd, plan, req.Session.ID)
}

// compileAsking compiles req. When stdin is a terminal, arguments a prompt is
// missing are read from it and compilation is retried.
func compileAsking(cmd *cobra.Command, catalog pipeline.PromptCatalog, req pipeline.Request) (*pipeline.Plan, error) {
	for {
		plan, err := pipeline.Compile(cfg, catalog, req)
		var argsErr *pipeline.PromptArgsError
		if err == nil || !req.StdinIsTerminal || !errors.As(err, &argsErr) {
			return plan, err
		}
		args, err := askPromptArgs(cmd.InOrStdin(), cmd.ErrOrStderr(), argsErr)
		if err != nil {
			return nil, err
		}
		req.Prompt, req.PromptArgs = argsErr.Name, args
	}
}

// askPromptArgs reads one line per missing placeholder and returns the full
// argument list.
func askPromptArgs(r io.Reader, w io.Writer, e *pipeline.PromptArgsError) ([]string, error) {
	args := slices.Clone(e.Args)
	br := bufio.NewReader(r)
	for i := len(args); i < e.Want; i++ {
		fmt.Fprintf(w, "tx: prompt '%s' requires a value for placeholder {%d}\n> ", e.Name, i)
		line, err := br.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return nil, fmt.Errorf("failed to read prompt argument {%d}: %w", i, err)
		}
		args = append(args, strings.TrimRight(line, "\r\n"))
	}
	return args, nil
}

// recordSession saves the plan's recipe. Failing to record does not stop the launch.
func recordSession(ctx context.Context, sc pipeline.SessionContext, plan *pipeline.Plan) {
	store, err := session.Open(cfg.SessionStore())
	if err != nil {
		logging.SessionWarn("session not recorded: %v", err)
		return
	}
	defer store.Close()
	sc.Path = plan.Cwd
	snap, err := store.Record(ctx, sc, plan.Recipe)
	if err != nil {
		logging.SessionWarn("session not recorded: %v", err)
		return
	}
	logging.Session("recorded session %s (provider=%s)", snap.ID, snap.Provider())
}

var (
	resumeFlags    runFlags
	resumeProvider string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id> [-- provider-args...]",
	Short: "Replay a recorded session",
	Long: `Rebuild a recorded session's pipeline from its recipe against the current
configuration. The recorded provider is locked: requesting another provider,
directly or through --profile, fails with exit status 2.

A unique prefix of the session id is accepted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResume,
}

func init() {
	addRunFlags(resumeCmd, &resumeFlags)
	resumeCmd.Flags().StringVar(&resumeProvider, "provider", "", "Provider to require; must match the recorded one")
}

func runResume(cmd *cobra.Command, args []string) error {
	positional, providerArgs := splitArgs(cmd, args)
	if len(positional) != 1 {
		return fmt.Errorf("resume takes exactly one session id")
	}
	extra, err := resumeFlags.request(resumeProvider, providerArgs)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	store, err := session.Open(cfg.SessionStore())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Get(ctx, positional[0])
	if err != nil {
		return err
	}
	if resumeFlags.label != "" {
		snap.Label = resumeFlags.label
	}

	catalogReq := pipeline.ReplayRequest(snap.Recipe, snap.Context(), extra)
	plan, err := pipeline.Replay(cfg, promptCatalog(ctx, cfg, catalogReq), snap.Recipe, snap.Context(), extra)
	if err != nil {
		return err
	}
	if resumeFlags.emits() {
		return emitPlan(cmd.OutOrStdout(), plan, &resumeFlags)
	}

	if resumeFlags.label != "" {
		if err := store.Save(ctx, &snap); err != nil {
			return err
		}
	}
	if err := store.Touch(ctx, snap.ID, ""); err != nil {
		logging.SessionWarn("failed to touch session %s: %v", snap.ID, err)
	}
	return runPlan(cmd, plan, snap.ID)
}

// promptCatalog returns the prompt catalog when req references a prompt, and
// nil otherwise so that no assembler process is started needlessly.
func promptCatalog(ctx context.Context, c *config.Config, req pipeline.Request) pipeline.PromptCatalog {
	needed := req.Prompt != ""
	if !needed && req.Profile != "" {
		if p, ok := c.Profile(req.Profile); ok {
			_, needed = p.(config.PromptProfile)
		}
	}
	if !needed && req.Profile == "" && req.Provider == "" && req.LockedProvider == "" {
		if p, ok := c.Profile(c.DefaultProfile()); ok {
			_, needed = p.(config.PromptProfile)
		}
	}
	if !needed {
		return nil
	}
	cache := newPromptCache(c)
	snap, err := cache.Snapshot(ctx)
	if err != nil {
		logging.PromptsWarn("prompt catalog unavailable: %v", err)
	}
	return snap
}

func newPromptCache(c *config.Config) *prompts.Cache {
	pa := c.Features().PA
	if !pa.Enabled {
		return prompts.NewCache(nil, pa.Namespace, pa.GetTTL(), nil)
	}
	return prompts.NewCache(prompts.NewAssembler(pa.Bin, pa.Namespace), pa.Namespace, pa.GetTTL(), nil)
}

// emitPlan prints a plan for --dry-run and --emit-command.
func emitPlan(w io.Writer, plan *pipeline.Plan, f *runFlags) error {
	if f.emitJSON {
		data, err := plan.MarshalDescription()
		if err != nil {
			return fmt.Errorf("failed to encode plan: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	if _, err := fmt.Fprintln(w, plan.Display); err != nil {
		return err
	}
	if f.dryRun && plan.FriendlyDisplay != plan.Display {
		_, err := fmt.Fprintf(w, "# %s\n", plan.FriendlyDisplay)
		return err
	}
	return nil
}

// runPlan executes plan with the command's streams.
func runPlan(cmd *cobra.Command, plan *pipeline.Plan, sessionID string) error {
	streams := executor.Streams{
		Stdin:  cmd.InOrStdin(),
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
	}
	if plan.CaptureHasPreCommands && !isatty.IsTerminal(os.Stdin.Fd()) {
		logging.ExecWarn("stdin feeds the pre commands; %s receives their output as an argument", plan.Provider)
	}
	setTitle(streams.Stderr, plan.Title)

	ex := executor.NewFromConfig(cfg.Execution(), sessionID)
	res, err := ex.Run(cmd.Context(), plan, streams)
	if res != nil {
		logging.Exec("session %s finished with status %d in %s", sessionID, res.ExitCode, res.Duration)
	}
	return err
}

// setTitle sets the terminal title when w is a terminal.
func setTitle(w io.Writer, title string) {
	f, ok := w.(*os.File)
	title = sanitizeTitle(title)
	if title == "" || !ok || !isatty.IsTerminal(f.Fd()) {
		return
	}
	fmt.Fprintf(f, "\x1b]0;%s\x07", title)
}

// sanitizeTitle drops control characters so a title cannot end the OSC
// sequence early or carry escapes of its own.
func sanitizeTitle(title string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0) {
			return -1
		}
		return r
	}, title)
}
