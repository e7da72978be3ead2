package pipeline

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx/internal/config"
	"tx/internal/prompts"
	"tx/internal/shellquote"
)

const testConfig = `
defaults:
  provider: claude
  terminal_title: "tx {{provider}} {{session.label}}"
providers:
  codex:
    bin: codex
    flags: ["--search"]
    env: ["CODEX_MODE=fast"]
    stdin_to: "{prompt}"
    stdin_mode: capture_arg
  tagged:
    bin: codex
    stdin_to: "exec 'codex:{prompt}'"
    stdin_mode: capture_arg
  claude:
    bin: claude
    flags: ["--model", "{{var:model}}"]
  plain:
    bin: cat
  echo:
    bin: printf
    flags: ["%s", "{{var:msg}}"]
  reader:
    bin: claude
    stdin_to: "-p"
snippets:
  pre:
    status: "git status --short"
    diff: "git diff"
    label: "echo {{session.label}}"
    broken: "echo 'unterminated"
    cmdtoken: "echo {{CMD}}"
    unknown: "echo {{nope}}"
  post:
    log: "tee -a {{cwd}}/tx.log"
    upper: "tr a-z A-Z"
wrappers:
  tmux:
    shell: true
    cmd: "tmux new-session -A -s {{session.label}} {{CMD}}"
  sh:
    shell: true
    cmd: "sh -c {{CMD}}"
  box:
    cmd: ["docker", "run", "--rm", "img", "sh", "-c", "{{CMD}}"]
profiles:
  review:
    provider: codex
    pre: [status, diff]
    post: [log]
  boxed:
    provider: plain
    wrap: box
  coding:
    provider: claude
    wrap: tmux
  checklist:
    prompt: review-checklist
    prompt_args: [go]
  orphan:
    prompt: missing-prompt
  badpre:
    provider: plain
    pre: [status, ghost]
`

func testView(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	return cfg
}

// viewWithDefaultProfile is testView with defaults.profile set.
func viewWithDefaultProfile(t *testing.T, profile string) *config.Config {
	t.Helper()
	data := strings.Replace(testConfig, "defaults:\n", "defaults:\n  profile: "+profile+"\n", 1)
	cfg, err := config.Parse([]byte(data))
	require.NoError(t, err)
	require.Equal(t, profile, cfg.DefaultProfile())
	return cfg
}

func testCatalog() prompts.Snapshot {
	return prompts.NewSnapshot("pa", []prompts.Prompt{
		{Name: "review-checklist", Lines: []string{"Review {0} code", "Be strict"}},
	})
}

func TestCompile_PipePlan(t *testing.T) {
	view := testView(t)
	plan, err := Compile(view, nil, Request{
		Provider: "plain",
		Pre:      []string{"status"},
		Post:     []string{"upper"},
		Cwd:      "/work",
	})
	require.NoError(t, err)

	assert.Equal(t, "plain", plan.Provider)
	assert.Equal(t, config.StdinPipe, plan.StdinMode)
	assert.False(t, plan.CaptureHasPreCommands)
	assert.Equal(t, "git status --short | cat | tr a-z A-Z", plan.Pipeline)
	assert.Equal(t, plan.Pipeline, plan.Display)
	assert.Equal(t, plan.Display, plan.FriendlyDisplay)
	assert.True(t, plan.Invocation.Shell)

	require.Len(t, plan.Stages, 3)
	assert.Equal(t, Stage{Kind: StagePre, Name: "status", Command: "git status --short", Stdin: StdinInherit}, plan.Stages[0])
	assert.Equal(t, Stage{Kind: StageProvider, Name: "plain", Argv: []string{"cat"}, Stdin: StdinPiped}, plan.Stages[1])
	assert.Equal(t, Stage{Kind: StagePost, Name: "upper", Command: "tr a-z A-Z", Stdin: StdinPiped}, plan.Stages[2])
	assert.Equal(t, plan.Stages, plan.Inner)
}

func TestCompile_Deterministic(t *testing.T) {
	view := testView(t)
	req := Request{
		Profile:      "review",
		Pre:          []string{"label"},
		Post:         []string{"upper"},
		Vars:         map[string]string{"a": "1", "b": "2", "c": "3"},
		Session:      SessionContext{ID: "s1", Label: "my session"},
		Cwd:          "/work dir",
		ProviderArgs: []string{"--flag"},
		HelperPath:   "/usr/bin/tx",
	}
	first, err := Compile(view, nil, req)
	require.NoError(t, err)
	second, err := Compile(view, nil, req)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("plans differ (-first +second):\n%s", diff)
	}
}

func TestCompile_AppendsRequestNamesAfterProfile(t *testing.T) {
	plan, err := Compile(testView(t), nil, Request{
		Profile: "review",
		Pre:     []string{"label"},
		Post:    []string{"upper"},
		Session: SessionContext{Label: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "diff", "label"}, plan.PreSnippets)
	assert.Equal(t, []string{"log", "upper"}, plan.PostSnippets)

	var names []string
	for _, s := range plan.Inner {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"status", "diff", "label", "codex", "log", "upper"}, names)
}

func TestCompile_ReferenceErrors(t *testing.T) {
	view := testView(t)
	tests := []struct {
		name  string
		req   Request
		kind  string
		ref   string
		field string
	}{
		{"missing profile", Request{Profile: "nope"}, KindProfile, "nope", "--profile"},
		{"missing provider", Request{Provider: "ghost"}, KindProvider, "ghost", "provider"},
		{"missing pre from request", Request{Provider: "plain", Pre: []string{"status", "ghost"}}, KindPreSnippet, "ghost", "--pre[1]"},
		{"missing pre from profile", Request{Profile: "badpre"}, KindPreSnippet, "ghost", "profiles.badpre.pre[1]"},
		{"missing post", Request{Provider: "plain", Post: []string{"ghost"}}, KindPostSnippet, "ghost", "--post[0]"},
		{"missing wrapper", Request{Provider: "plain", Wrap: "ghost"}, KindWrapper, "ghost", "--wrap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(view, nil, tt.req)
			var refErr *ConfigReferenceError
			require.ErrorAs(t, err, &refErr)
			assert.Equal(t, tt.kind, refErr.Kind)
			assert.Equal(t, tt.ref, refErr.Name)
			assert.Equal(t, tt.field, refErr.Field)
			assert.Equal(t, ExitInvalid, ExitCode(err))
		})
	}
}

func TestCompile_ErrorMessages(t *testing.T) {
	assert.Equal(t, "profile 'x' not found (referenced by --profile)",
		(&ConfigReferenceError{Kind: KindProfile, Name: "x", Field: "--profile"}).Error())
	assert.Equal(t, "provider 'x' not defined",
		(&ConfigReferenceError{Kind: KindProvider, Name: "x"}).Error())
	assert.Equal(t, "unknown pre snippet 'x'",
		(&ConfigReferenceError{Kind: KindPreSnippet, Name: "x"}).Error())
	assert.Equal(t, "wrapper 'x' not found",
		(&ConfigReferenceError{Kind: KindWrapper, Name: "x"}).Error())
}

func TestCompile_DefaultsAndNoProvider(t *testing.T) {
	view := testView(t)
	plan, err := Compile(view, nil, Request{Vars: map[string]string{"model": "opus"}})
	require.NoError(t, err)
	assert.Equal(t, "claude", plan.Provider)
	assert.Equal(t, "claude --model opus", plan.Display)

	empty, err := config.Parse([]byte("providers:\n  x:\n    bin: x\n"))
	require.NoError(t, err)
	_, err = Compile(empty, nil, Request{})
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Equal(t, ExitInvalid, ExitCode(err))
}

func TestCompile_DefaultProfileOnlyWithoutExplicitProvider(t *testing.T) {
	view := viewWithDefaultProfile(t, "review")

	plan, err := Compile(view, nil, Request{})
	require.NoError(t, err)
	assert.Equal(t, "review", plan.Profile)
	assert.Equal(t, "codex", plan.Provider)

	plan, err = Compile(view, nil, Request{Provider: "plain"})
	require.NoError(t, err)
	assert.Empty(t, plan.Profile)
	assert.Equal(t, "plain", plan.Provider)
}

func TestCompile_ProfileProviderWinsOverRequest(t *testing.T) {
	plan, err := Compile(testView(t), nil, Request{Profile: "review", Provider: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "codex", plan.Provider)
}

func TestCompile_CaptureArg(t *testing.T) {
	view := testView(t)
	plan, err := Compile(view, nil, Request{
		Provider:   "tagged",
		InlinePre:  []string{"printf 'hello world\\n'"},
		HelperPath: "/opt/tx",
	})
	require.NoError(t, err)

	assert.Equal(t, config.StdinCaptureArg, plan.StdinMode)
	assert.True(t, plan.CaptureHasPreCommands)

	stage, idx := plan.ProviderStage()
	require.Equal(t, 1, idx)
	assert.Equal(t, []string{"codex", "exec", "codex:{prompt}"}, stage.Argv)
	assert.Equal(t, StdinCapture, stage.Stdin)

	want := CaptureHelperArgv("/opt/tx", "tagged", "codex", []string{"printf 'hello world\\n'"}, []string{"exec", "codex:{prompt}"})
	got, err := shellquote.Split(plan.Display)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, `codex exec codex:$(printf 'hello world\n')`, plan.FriendlyDisplay)
}

func TestCompile_FriendlyDisplay(t *testing.T) {
	plan, err := Compile(testView(t), nil, Request{
		Provider:  "codex",
		InlinePre: []string{"pa hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, `codex --search "$(pa hello)"`, plan.FriendlyDisplay)
	assert.Contains(t, plan.Display, "internal capture-arg")
	assert.Equal(t, []config.EnvVar{{Key: "CODEX_MODE", Value: "fast"}}, plan.Env)
	assert.Equal(t, []string{"CODEX_MODE=fast"}, plan.Environ())
}

func TestCompile_CaptureWithoutPre(t *testing.T) {
	view := testView(t)

	t.Run("piped stdin is captured", func(t *testing.T) {
		plan, err := Compile(view, nil, Request{Provider: "codex"})
		require.NoError(t, err)
		assert.Equal(t, config.StdinCaptureArg, plan.StdinMode)
		assert.False(t, plan.CaptureHasPreCommands)
		stage, _ := plan.ProviderStage()
		assert.Equal(t, []string{"codex", "--search", "{prompt}"}, stage.Argv)
		assert.Equal(t, "codex --search", plan.FriendlyDisplay)
	})

	t.Run("terminal stdin launches directly", func(t *testing.T) {
		plan, err := Compile(view, nil, Request{Provider: "codex", StdinIsTerminal: true})
		require.NoError(t, err)
		assert.Equal(t, config.StdinPipe, plan.StdinMode)
		stage, _ := plan.ProviderStage()
		assert.Equal(t, []string{"codex", "--search"}, stage.Argv)
		assert.Equal(t, StdinInherit, stage.Stdin)
		assert.Equal(t, "codex --search", plan.Display)
	})

	t.Run("pipe provider keeps stdin args", func(t *testing.T) {
		plan, err := Compile(view, nil, Request{Provider: "reader", StdinIsTerminal: true})
		require.NoError(t, err)
		assert.Equal(t, "claude -p", plan.Display)
	})

	t.Run("request override forces capture", func(t *testing.T) {
		plan, err := Compile(view, nil, Request{Provider: "plain", StdinMode: config.StdinCaptureArg, InlinePre: []string{"date"}})
		require.NoError(t, err)
		assert.Equal(t, config.StdinCaptureArg, plan.StdinMode)
		assert.Equal(t, config.StdinCaptureArg, plan.Recipe.StdinMode)
	})
}

func TestCompile_RenderedPlanReparses(t *testing.T) {
	plan, err := Compile(testView(t), nil, Request{
		Provider:     "claude",
		Vars:         map[string]string{"model": "it's \"big\""},
		ProviderArgs: []string{"say $HOME", "", "a\\b"},
	})
	require.NoError(t, err)
	stage, _ := plan.ProviderStage()
	got, err := shellquote.Split(plan.Display)
	require.NoError(t, err)
	assert.Equal(t, stage.Argv, got)
	assert.Equal(t, []string{"claude", "--model", "it's \"big\"", "say $HOME", "", "a\\b"}, got)
}

func TestCompile_ShellWrapperEscaping(t *testing.T) {
	plan, err := Compile(testView(t), nil, Request{
		Profile: "coding",
		Vars:    map[string]string{"model": "o'neil"},
		Session: SessionContext{Label: "my label"},
	})
	require.NoError(t, err)

	require.Len(t, plan.Stages, 1)
	assert.Equal(t, StageWrapper, plan.Stages[0].Kind)
	assert.True(t, plan.Invocation.Shell)

	words, err := shellquote.Split(plan.Display)
	require.NoError(t, err)
	require.Len(t, words, 6)
	assert.Equal(t, []string{"tmux", "new-session", "-A", "-s", "my label"}, words[:5])
	assert.Equal(t, plan.Pipeline, words[5])

	inner, err := shellquote.Split(words[5])
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "--model", "o'neil"}, inner)
	assert.Equal(t, "tx claude my label", plan.Title)
}

func TestCompile_ShellWrapperRunsUnderSh(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	msg := `it's "quoted" $HOME; echo pwned`
	plan, err := Compile(testView(t), nil, Request{
		Provider: "echo",
		Wrap:     "sh",
		Vars:     map[string]string{"msg": msg},
	})
	require.NoError(t, err)
	out, err := exec.Command("sh", "-c", plan.Display).Output()
	require.NoError(t, err)
	assert.Equal(t, msg, string(out))
}

func TestCompile_ExecWrapper(t *testing.T) {
	plan, err := Compile(testView(t), nil, Request{Profile: "boxed", Pre: []string{"status"}})
	require.NoError(t, err)
	assert.False(t, plan.Invocation.Shell)
	assert.Equal(t, []string{"docker", "run", "--rm", "img", "sh", "-c", "git status --short | cat"}, plan.Invocation.Argv)
	assert.Equal(t, plan.Invocation.Argv, plan.Stages[0].Argv)

	words, err := shellquote.Split(plan.Display)
	require.NoError(t, err)
	assert.Equal(t, plan.Invocation.Argv, words)
	assert.Equal(t, "box", plan.Wrapper)
	assert.Len(t, plan.Inner, 2)
}

func TestCompile_TemplateErrors(t *testing.T) {
	view := testView(t)
	tests := []struct {
		name  string
		req   Request
		token string
		field string
	}{
		{"unknown token", Request{Provider: "plain", Pre: []string{"unknown"}}, "nope", "snippets.pre.unknown"},
		{"cmd outside wrapper", Request{Provider: "plain", Pre: []string{"cmdtoken"}}, "CMD", "snippets.pre.cmdtoken"},
		{"missing variable", Request{Provider: "claude"}, "var:model", "providers.claude.flags[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(view, nil, tt.req)
			var tmplErr *TemplateError
			require.ErrorAs(t, err, &tmplErr)
			assert.Equal(t, tt.token, tmplErr.Token)
			assert.Equal(t, tt.field, tmplErr.Field)
			assert.Equal(t, ExitInvalid, ExitCode(err))
		})
	}
}

func TestCompile_QuotingErrors(t *testing.T) {
	view := testView(t)

	_, err := Compile(view, nil, Request{Provider: "plain", Pre: []string{"broken"}})
	var qErr *QuotingParseError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "snippets.pre.broken", qErr.Field)
	var parseErr *shellquote.ParseError
	assert.ErrorAs(t, err, &parseErr)

	_, err = Compile(view, nil, Request{Provider: "plain", InlinePre: []string{`echo "open`}})
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "inline_pre[0]", qErr.Field)
	assert.Equal(t, ExitInvalid, ExitCode(err))

	bad, err := config.Parse([]byte("providers:\n  x:\n    bin: x\n    stdin_to: \"'open\"\n"))
	require.NoError(t, err)
	_, err = Compile(bad, nil, Request{Provider: "x"})
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, "providers.x.stdin_to", qErr.Field)
}

func TestCompile_PromptProfile(t *testing.T) {
	view := testView(t)
	catalog := testCatalog()

	plan, err := Compile(view, catalog, Request{
		Profile: "checklist",
		Pre:     []string{"status"},
		Vars:    map[string]string{"model": "m"},
	})
	require.NoError(t, err)
	assert.Equal(t, "claude", plan.Provider, "prompt profile without provider uses the default")
	require.GreaterOrEqual(t, len(plan.Inner), 3)
	first := plan.Inner[0]
	assert.Equal(t, "prompt:review-checklist", first.Name)
	assert.Equal(t, StdinInherit, first.Stdin)

	words, err := shellquote.Split(first.Command)
	require.NoError(t, err)
	assert.Equal(t, []string{"printf", "%s", "Review go code\nBe strict\n"}, words)
	assert.Equal(t, "status", plan.Inner[1].Name)
	assert.Equal(t, "review-checklist", plan.Recipe.Prompt)
	assert.Equal(t, []string{"go"}, plan.Recipe.PromptArgs)
}

func TestCompile_PromptNotFound(t *testing.T) {
	view := testView(t)

	_, err := Compile(view, testCatalog(), Request{Profile: "orphan"})
	var pErr *PromptNotFoundError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "missing-prompt", pErr.Name)
	assert.Equal(t, "profiles.orphan.prompt", pErr.Source)
	assert.Equal(t, ExitInvalid, ExitCode(err))

	_, err = Compile(view, nil, Request{Provider: "plain", Prompt: "review-checklist"})
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "--prompt", pErr.Source)

	// The prompt is checked before the provider.
	_, err = Compile(view, testCatalog(), Request{Provider: "ghost", Prompt: "nope"})
	require.ErrorAs(t, err, &pErr)

	plan, err := Compile(view, testCatalog(), Request{Provider: "plain", Prompt: "pa/review-checklist", PromptArgs: []string{"go"}})
	require.NoError(t, err)
	assert.Equal(t, "prompt:pa/review-checklist", plan.Inner[0].Name)
}

func TestCompile_PromptMissingArgs(t *testing.T) {
	view := testView(t)
	catalog := prompts.NewSnapshot("pa", []prompts.Prompt{
		{Name: "pair", Lines: []string{"Compare {0} with {1}"}},
	})

	_, err := Compile(view, catalog, Request{Provider: "plain", Prompt: "pair", PromptArgs: []string{"a"}})
	var aErr *PromptArgsError
	require.ErrorAs(t, err, &aErr)
	assert.Equal(t, "pair", aErr.Name)
	assert.Equal(t, "--prompt", aErr.Source)
	assert.Equal(t, []string{"a"}, aErr.Args)
	assert.Equal(t, 2, aErr.Want)
	assert.Contains(t, err.Error(), "missing {1}")
	assert.Equal(t, ExitInvalid, ExitCode(err))

	plan, err := Compile(view, catalog, Request{Provider: "plain", Prompt: "pair", PromptArgs: []string{"a", "b", "extra"}})
	require.NoError(t, err)
	words, err := shellquote.Split(plan.Inner[0].Command)
	require.NoError(t, err)
	assert.Equal(t, []string{"printf", "%s", "Compare a with b\n"}, words)
}

func TestCompile_DoesNotMutateRequest(t *testing.T) {
	pre := []string{"label"}
	vars := map[string]string{"model": "m"}
	req := Request{Profile: "review", Pre: pre, Vars: vars, Session: SessionContext{Label: "l"}}
	plan, err := Compile(testView(t), nil, req)
	require.NoError(t, err)
	plan.Recipe.Vars["model"] = "changed"
	plan.Recipe.Pre[0] = "changed"
	assert.Equal(t, "m", vars["model"])
	assert.Equal(t, []string{"label"}, pre)
}

type codedErr struct{ code int }

func (e codedErr) Error() string { return "coded" }
func (e codedErr) ExitCode() int { return e.code }

type partialErr struct{ status int }

func (e partialErr) Error() string       { return "partial" }
func (e partialErr) TerminalStatus() int { return e.status }

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitInvalid, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitConflict, ExitCode(&ProviderConflictError{}))
	assert.Equal(t, 42, ExitCode(codedErr{42}))
	assert.Equal(t, ExitNotFound, ExitCode(codedErr{127}))
	assert.Equal(t, ExitInvalid, ExitCode(codedErr{0}))
	assert.Equal(t, 0, ExitCode(partialErr{0}))
	assert.Equal(t, 3, ExitCode(fmt.Errorf("run: %w", partialErr{3})))
}

func TestDescribe(t *testing.T) {
	plan, err := Compile(testView(t), nil, Request{Provider: "codex", InlinePre: []string{"pa hello"}})
	require.NoError(t, err)
	d := plan.Describe()
	assert.Equal(t, plan.Display, d.Command)
	assert.Equal(t, `codex --search "$(pa hello)"`, d.FriendlyCommand)
	assert.Equal(t, map[string]string{"CODEX_MODE": "fast"}, d.Env)
	assert.Equal(t, "capture_arg", d.StdinMode)
	assert.True(t, d.CaptureHasPreCommands)
	assert.NotNil(t, d.PreSnippets)

	data, err := plan.MarshalDescription()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"command":`)
	assert.Contains(t, string(data), `"stages":`)
}
