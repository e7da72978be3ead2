package pipeline

import (
	"maps"
	"slices"

	"tx/internal/logging"
)

// ResumeArgs returns the provider arguments that reopen a provider-side
// conversation, or nil when the provider has no resume form.
func ResumeArgs(provider, token string) []string {
	if token == "" {
		return nil
	}
	switch provider {
	case "codex":
		return []string{"resume", token}
	case "claude":
		return []string{"--resume", token}
	default:
		return nil
	}
}

// ReplayRequest rebuilds a request from a recorded recipe. The provider is
// locked to the recorded one. Names from extra, including those of
// extra.Profile, are appended after the recorded names, extra variables
// override recorded ones, and extra.Wrap replaces the recorded wrapper. When the session has a resume token the
// provider's resume arguments replace the recorded provider arguments.
func ReplayRequest(recipe Recipe, session SessionContext, extra Request) Request {
	vars := maps.Clone(recipe.Vars)
	if vars == nil {
		vars = make(map[string]string, len(extra.Vars))
	}
	maps.Copy(vars, extra.Vars)

	providerArgs := slices.Clone(recipe.ProviderArgs)
	if resume := ResumeArgs(recipe.Provider, session.ResumeToken); resume != nil {
		providerArgs = resume
	}
	providerArgs = append(providerArgs, extra.ProviderArgs...)

	req := Request{
		Provider:        extra.Provider,
		Profile:         extra.Profile,
		Pre:             slices.Clone(extra.Pre),
		Post:            slices.Clone(extra.Post),
		RecordedPre:     slices.Clone(recipe.Pre),
		RecordedPost:    slices.Clone(recipe.Post),
		InlinePre:       concat(recipe.InlinePre, extra.InlinePre),
		Wrap:            recipe.Wrap,
		ProviderArgs:    providerArgs,
		Vars:            vars,
		Session:         session,
		Cwd:             recipe.Cwd,
		StdinMode:       recipe.StdinMode,
		Prompt:          recipe.Prompt,
		PromptArgs:      slices.Clone(recipe.PromptArgs),
		HelperPath:      extra.HelperPath,
		LockedProvider:  recipe.Provider,
		StdinIsTerminal: extra.StdinIsTerminal,
	}
	if extra.Wrap != "" {
		req.Wrap = extra.Wrap
	}
	if extra.Cwd != "" && req.Cwd == "" {
		req.Cwd = extra.Cwd
	}
	if extra.StdinMode != "" {
		req.StdinMode = extra.StdinMode
	}
	return req
}

// Replay compiles a recorded recipe against the current configuration. A
// recorded name that no longer exists fails the replay.
func Replay(view ConfigView, catalog PromptCatalog, recipe Recipe, session SessionContext, extra Request) (*Plan, error) {
	req := ReplayRequest(recipe, session, extra)
	plan, err := Compile(view, catalog, req)
	if err != nil {
		return nil, err
	}
	logging.Session("replayed session %s with provider %s", session.ID, plan.Provider)
	return plan, nil
}
