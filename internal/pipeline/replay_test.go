package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tx/internal/config"
)

func TestResumeArgs(t *testing.T) {
	assert.Equal(t, []string{"resume", "abc"}, ResumeArgs("codex", "abc"))
	assert.Equal(t, []string{"--resume", "abc"}, ResumeArgs("claude", "abc"))
	assert.Nil(t, ResumeArgs("plain", "abc"))
	assert.Nil(t, ResumeArgs("codex", ""))
}

func TestReplayRequest(t *testing.T) {
	recipe := Recipe{
		Provider:     "codex",
		Pre:          []string{"status"},
		Post:         []string{"log"},
		Vars:         map[string]string{"a": "1", "b": "2"},
		ProviderArgs: []string{"--old"},
		Wrap:         "tmux",
		Cwd:          "/recorded",
	}
	extra := Request{
		Pre:          []string{"diff"},
		Vars:         map[string]string{"b": "override"},
		ProviderArgs: []string{"--new"},
		Cwd:          "/elsewhere",
	}

	req := ReplayRequest(recipe, SessionContext{ID: "s1"}, extra)
	assert.Equal(t, "codex", req.LockedProvider)
	assert.Equal(t, []string{"status"}, req.RecordedPre)
	assert.Equal(t, []string{"diff"}, req.Pre)
	assert.Equal(t, []string{"log"}, req.RecordedPost)
	assert.Empty(t, req.Post)
	assert.Equal(t, map[string]string{"a": "1", "b": "override"}, req.Vars)
	assert.Equal(t, []string{"--old", "--new"}, req.ProviderArgs)
	assert.Equal(t, "tmux", req.Wrap)
	assert.Equal(t, "/recorded", req.Cwd)
	assert.Equal(t, "1", recipe.Vars["a"])
	assert.Equal(t, "2", recipe.Vars["b"], "recipe must not be modified")

	req = ReplayRequest(recipe, SessionContext{ID: "s1", ResumeToken: "tok"}, Request{Wrap: "box"})
	assert.Equal(t, []string{"resume", "tok"}, req.ProviderArgs)
	assert.Equal(t, "box", req.Wrap)
}

func TestReplay_UsesCurrentConfigForRecordedProvider(t *testing.T) {
	recipe := Recipe{Provider: "codex", Pre: []string{"status"}}

	before, err := Replay(testView(t), nil, recipe, SessionContext{ID: "s1"}, Request{})
	require.NoError(t, err)
	stage, _ := before.ProviderStage()
	assert.Equal(t, "codex", stage.Argv[0])

	changed, err := config.Parse([]byte(`
providers:
  codex:
    bin: /opt/codex-next
  claude:
    bin: claude
snippets:
  pre:
    status: "git status"
`))
	require.NoError(t, err)
	after, err := Replay(changed, nil, recipe, SessionContext{ID: "s1", ResumeToken: "tok"}, Request{})
	require.NoError(t, err)
	assert.Equal(t, "codex", after.Provider)
	stage, _ = after.ProviderStage()
	assert.Equal(t, []string{"/opt/codex-next", "resume", "tok"}, stage.Argv)
	assert.Equal(t, "git status | /opt/codex-next resume tok", after.Display)
}

func TestReplay_ProviderConflict(t *testing.T) {
	view := testView(t)
	recipe := Recipe{Provider: "codex"}

	_, err := Replay(view, nil, recipe, SessionContext{ID: "s1"}, Request{Provider: "claude"})
	var conflict *ProviderConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "codex", conflict.Recorded)
	assert.Equal(t, "claude", conflict.Requested)
	assert.Equal(t, ExitConflict, ExitCode(err))
	assert.Equal(t, "provider mismatch: session s1 was recorded with 'codex', requested 'claude'", err.Error())

	// A profile bound to another provider is a conflict as well.
	_, err = Replay(view, nil, recipe, SessionContext{ID: "s1"}, Request{Profile: "coding"})
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "claude", conflict.Requested)

	// Naming the recorded provider again is allowed.
	_, err = Replay(view, nil, recipe, SessionContext{ID: "s1"}, Request{Provider: "codex", StdinIsTerminal: true})
	require.NoError(t, err)
}

func TestReplay_MissingRecordedName(t *testing.T) {
	recipe := Recipe{Provider: "plain", Pre: []string{"removed"}}
	_, err := Replay(testView(t), nil, recipe, SessionContext{ID: "s1"}, Request{})
	var refErr *ConfigReferenceError
	require.ErrorAs(t, err, &refErr)
	assert.Equal(t, "removed", refErr.Name)
	assert.Equal(t, "session.pre[0]", refErr.Field)
}

func TestReplay_ProfileNamesFollowRecordedNames(t *testing.T) {
	recipe := Recipe{Provider: "codex", Pre: []string{"label"}, Post: []string{"upper"}}
	plan, err := Replay(testView(t), nil, recipe, SessionContext{ID: "s1", Label: "x"},
		Request{Profile: "review", Pre: []string{"diff"}, Post: []string{"upper"}, StdinIsTerminal: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"label", "status", "diff", "diff"}, plan.Recipe.Pre)
	assert.Equal(t, []string{"upper", "log", "upper"}, plan.Recipe.Post)
	var pre []string
	for _, s := range plan.Stages {
		if s.Kind == StagePre {
			pre = append(pre, s.Name)
		}
	}
	assert.Equal(t, []string{"label", "status", "diff", "diff"}, pre)

	// Replaying the new recipe reproduces the same pipeline.
	again, err := Replay(testView(t), nil, plan.Recipe, SessionContext{ID: "s1", Label: "x"}, Request{StdinIsTerminal: true})
	require.NoError(t, err)
	assert.Equal(t, plan.Display, again.Display)
}

func TestReplay_DefaultProfileIgnored(t *testing.T) {
	view := viewWithDefaultProfile(t, "review")
	plan, err := Replay(view, nil, Recipe{Provider: "plain"}, SessionContext{ID: "s1"}, Request{})
	require.NoError(t, err)
	assert.Empty(t, plan.Profile)
	assert.Equal(t, "cat", plan.Display)
}
