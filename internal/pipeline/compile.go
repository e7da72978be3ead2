package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"tx/internal/config"
	"tx/internal/logging"
	"tx/internal/shellquote"
)

// PromptPlaceholder marks where captured output lands in provider arguments.
const PromptPlaceholder = "{prompt}"

// DefaultHelper is used for capture-arg rendering when Request.HelperPath is empty.
const DefaultHelper = "tx"

// Compile turns a request into a plan. It performs no process or filesystem
// I/O and never mutates view or catalog; the same inputs always yield an
// identical plan. catalog may be nil when no prompt is requested.
func Compile(view ConfigView, catalog PromptCatalog, req Request) (*Plan, error) {
	c := &compiler{view: view, catalog: catalog, req: req}
	plan, err := c.compile()
	if err != nil {
		logging.PipelineDebug("compile failed: %v", err)
		return nil, err
	}
	logging.PipelineDebug("compiled %d stage(s) for provider %s (mode=%s wrapped=%v)",
		len(plan.Stages), plan.Provider, plan.StdinMode, plan.Wrapped())
	return plan, nil
}

type compiler struct {
	view    ConfigView
	catalog PromptCatalog
	req     Request
}

type promptRef struct {
	name   string
	args   []string
	source string
}

func (c *compiler) compile() (*Plan, error) {
	req := c.req

	profile, profileName, err := c.resolveProfile()
	if err != nil {
		return nil, err
	}
	static := config.StaticProfile{}
	if profile != nil {
		static = profile.Static()
	}

	// External prompts are validated before anything else is compiled.
	ref := c.promptRef(profile, profileName)
	var promptText string
	if ref != nil {
		text, err := c.renderPrompt(*ref)
		if err != nil {
			return nil, err
		}
		promptText = text
	}

	provider, err := c.resolveProvider(static, profileName)
	if err != nil {
		return nil, err
	}

	wrapper, wrapName, err := c.resolveWrapper(static, profileName)
	if err != nil {
		return nil, err
	}

	preNames := concat(req.RecordedPre, static.Pre, req.Pre)
	postNames := concat(req.RecordedPost, static.Post, req.Post)
	preFields := refFields(profileName, "pre", len(req.RecordedPre), len(static.Pre), len(req.Pre))
	postFields := refFields(profileName, "post", len(req.RecordedPost), len(static.Post), len(req.Post))

	ctx := TemplateContext{
		Provider: provider.Name,
		Session:  req.Session,
		Cwd:      req.Cwd,
		Vars:     req.Vars,
	}

	var pre []Stage
	if ref != nil {
		pre = append(pre, Stage{
			Kind:    StagePre,
			Name:    "prompt:" + ref.name,
			Command: "printf '%s' " + shellquote.Quote(promptText),
		})
	}
	for i, name := range preNames {
		snippet, ok := c.view.PreSnippet(name)
		if !ok {
			return nil, &ConfigReferenceError{Kind: KindPreSnippet, Name: name, Field: preFields[i]}
		}
		cmd, err := resolveShell(ctx, snippet.Command, "snippets.pre."+name)
		if err != nil {
			return nil, err
		}
		pre = append(pre, Stage{Kind: StagePre, Name: name, Command: cmd})
	}
	for i, raw := range req.InlinePre {
		cmd, err := resolveShell(ctx, raw, fmt.Sprintf("inline_pre[%d]", i))
		if err != nil {
			return nil, err
		}
		pre = append(pre, Stage{Kind: StagePre, Name: "inline", Command: cmd})
	}

	var post []Stage
	for i, name := range postNames {
		snippet, ok := c.view.PostSnippet(name)
		if !ok {
			return nil, &ConfigReferenceError{Kind: KindPostSnippet, Name: name, Field: postFields[i]}
		}
		cmd, err := resolveShell(ctx, snippet.Command, "snippets.post."+name)
		if err != nil {
			return nil, err
		}
		post = append(post, Stage{Kind: StagePost, Name: name, Command: cmd})
	}

	mode := req.StdinMode
	if mode == "" {
		mode = provider.StdinMode
	}
	if mode == "" {
		mode = config.StdinPipe
	}
	// Capturing an interactive terminal would block until EOF, so with nothing
	// upstream the provider is launched directly instead.
	if mode == config.StdinCaptureArg && len(pre) == 0 && req.StdinIsTerminal {
		mode = config.StdinPipe
		logging.PipelineDebug("capture_arg with terminal stdin and no pre stages; launching %s directly", provider.Name)
	}

	args, err := c.providerArgs(ctx, provider, mode)
	if err != nil {
		return nil, err
	}

	for i := range pre {
		pre[i].Stdin = StdinPiped
	}
	if len(pre) > 0 {
		pre[0].Stdin = StdinInherit
	}
	providerStage := Stage{
		Kind:  StageProvider,
		Name:  provider.Name,
		Argv:  append([]string{provider.Bin}, args...),
		Stdin: StdinPiped,
	}
	switch {
	case mode == config.StdinCaptureArg:
		providerStage.Stdin = StdinCapture
	case len(pre) == 0:
		providerStage.Stdin = StdinInherit
	}
	for i := range post {
		post[i].Stdin = StdinPiped
	}

	inner := make([]Stage, 0, len(pre)+1+len(post))
	inner = append(inner, pre...)
	inner = append(inner, providerStage)
	inner = append(inner, post...)

	plan := &Plan{
		Provider:              provider.Name,
		Profile:               profileName,
		Wrapper:               wrapName,
		StdinMode:             mode,
		CaptureHasPreCommands: mode == config.StdinCaptureArg && len(pre) > 0,
		PreSnippets:           preNames,
		PostSnippets:          postNames,
		Inner:                 inner,
		Env:                   slices.Clone(provider.Env),
		Cwd:                   req.Cwd,
	}

	plan.Pipeline = renderPipeline(plan, provider, pre, post, args, helperPath(req.HelperPath))

	if wrapper != nil {
		inv, stage, err := composeWrapper(*wrapper, ctx, plan.Pipeline)
		if err != nil {
			return nil, err
		}
		plan.Invocation = inv
		plan.Stages = []Stage{stage}
	} else {
		plan.Invocation = Invocation{Shell: true, Command: plan.Pipeline}
		plan.Stages = slices.Clone(inner)
	}
	plan.Display = renderInvocation(plan.Invocation)
	plan.FriendlyDisplay = plan.Display
	if wrapper == nil && mode == config.StdinCaptureArg {
		plan.FriendlyDisplay = friendlyCapture(provider.Bin, pre, post, args)
	}

	if ts, ok := c.view.(TitleSource); ok && ts.TerminalTitle() != "" {
		title, err := ctx.Resolve(ts.TerminalTitle(), "defaults.terminal_title", ModeRaw)
		if err != nil {
			return nil, err
		}
		plan.Title = title
	}

	plan.Recipe = Recipe{
		Provider:     provider.Name,
		Profile:      profileName,
		Pre:          slices.Clone(preNames),
		Post:         slices.Clone(postNames),
		InlinePre:    slices.Clone(req.InlinePre),
		Wrap:         wrapName,
		Vars:         maps.Clone(req.Vars),
		ProviderArgs: slices.Clone(req.ProviderArgs),
		StdinMode:    req.StdinMode,
		Cwd:          req.Cwd,
	}
	if ref != nil {
		plan.Recipe.Prompt = ref.name
		plan.Recipe.PromptArgs = slices.Clone(ref.args)
	}
	return plan, nil
}

func (c *compiler) resolveProfile() (config.Profile, string, error) {
	name, field := c.req.Profile, "--profile"
	if name == "" && c.req.Provider == "" && c.req.LockedProvider == "" {
		name, field = c.view.DefaultProfile(), "defaults.profile"
	}
	if name == "" {
		return nil, "", nil
	}
	p, ok := c.view.Profile(name)
	if !ok {
		return nil, "", &ConfigReferenceError{Kind: KindProfile, Name: name, Field: field}
	}
	return p, name, nil
}

func (c *compiler) promptRef(profile config.Profile, profileName string) *promptRef {
	if c.req.Prompt != "" {
		return &promptRef{name: c.req.Prompt, args: c.req.PromptArgs, source: "--prompt"}
	}
	switch p := profile.(type) {
	case config.PromptProfile:
		return &promptRef{name: p.Prompt, args: p.PromptArgs, source: "profiles." + profileName + ".prompt"}
	case config.StaticProfile, nil:
		return nil
	default:
		panic(fmt.Sprintf("pipeline: unhandled profile type %T", profile))
	}
}

func (c *compiler) renderPrompt(ref promptRef) (string, error) {
	if c.catalog == nil {
		return "", &PromptNotFoundError{Name: ref.name, Source: ref.source}
	}
	p, ok := c.catalog.Prompt(ref.name)
	if !ok {
		return "", &PromptNotFoundError{Name: ref.name, Source: ref.source}
	}
	if want := p.RequiredArgs(); len(ref.args) < want {
		return "", &PromptArgsError{Name: ref.name, Source: ref.source, Args: ref.args, Want: want}
	}
	return p.Render(ref.args), nil
}

func (c *compiler) resolveProvider(profile config.StaticProfile, profileName string) (config.Provider, error) {
	req := c.req
	var name, field string
	switch {
	case req.LockedProvider != "":
		if profile.Provider != "" && profile.Provider != req.LockedProvider {
			return config.Provider{}, &ProviderConflictError{Session: req.Session.ID, Recorded: req.LockedProvider, Requested: profile.Provider}
		}
		if req.Provider != "" && req.Provider != req.LockedProvider {
			return config.Provider{}, &ProviderConflictError{Session: req.Session.ID, Recorded: req.LockedProvider, Requested: req.Provider}
		}
		name, field = req.LockedProvider, "session.provider"
	case profile.Provider != "":
		name, field = profile.Provider, "profiles."+profileName+".provider"
	case req.Provider != "":
		name, field = req.Provider, "provider"
	default:
		name, field = c.view.DefaultProvider(), "defaults.provider"
	}
	if name == "" {
		return config.Provider{}, ErrNoProvider
	}
	p, ok := c.view.Provider(name)
	if !ok {
		return config.Provider{}, &ConfigReferenceError{Kind: KindProvider, Name: name, Field: field}
	}
	return p, nil
}

func (c *compiler) resolveWrapper(profile config.StaticProfile, profileName string) (*config.Wrapper, string, error) {
	name, field := c.req.Wrap, "--wrap"
	if name == "" {
		name, field = profile.Wrap, "profiles."+profileName+".wrap"
	}
	if name == "" {
		return nil, "", nil
	}
	w, ok := c.view.Wrapper(name)
	if !ok {
		return nil, "", &ConfigReferenceError{Kind: KindWrapper, Name: name, Field: field}
	}
	return &w, name, nil
}

// providerArgs is flags, then stdin arguments, then request arguments. The
// stdin arguments of a capture_arg provider are dropped when the plan runs in
// pipe mode.
func (c *compiler) providerArgs(ctx TemplateContext, p config.Provider, mode config.StdinMode) ([]string, error) {
	var args []string
	for i, flag := range p.Flags {
		v, err := ctx.Resolve(flag, fmt.Sprintf("providers.%s.flags[%d]", p.Name, i), ModeRaw)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	includeStdin := p.StdinTo != "" && (mode == config.StdinCaptureArg || p.StdinMode != config.StdinCaptureArg)
	if includeStdin {
		field := fmt.Sprintf("providers.%s.stdin_to", p.Name)
		words, err := shellquote.Split(p.StdinTo)
		if err != nil {
			return nil, &QuotingParseError{Field: field, Err: err}
		}
		for _, w := range words {
			v, err := ctx.Resolve(w, field, ModeRaw)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
	}

	return append(args, c.req.ProviderArgs...), nil
}

func resolveShell(ctx TemplateContext, command, field string) (string, error) {
	if _, err := shellquote.Split(command); err != nil {
		return "", &QuotingParseError{Field: field, Err: err}
	}
	return ctx.Resolve(command, field, ModeShell)
}

func refFields(profile, kind string, recorded, fromProfile, fromRequest int) []string {
	fields := make([]string, 0, recorded+fromProfile+fromRequest)
	for i := 0; i < recorded; i++ {
		fields = append(fields, fmt.Sprintf("session.%s[%d]", kind, i))
	}
	for i := 0; i < fromProfile; i++ {
		fields = append(fields, fmt.Sprintf("profiles.%s.%s[%d]", profile, kind, i))
	}
	for i := 0; i < fromRequest; i++ {
		fields = append(fields, fmt.Sprintf("--%s[%d]", kind, i))
	}
	return fields
}

func concat(lists ...[]string) []string {
	n := 0
	for _, l := range lists {
		n += len(l)
	}
	out := make([]string, 0, n)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func helperPath(p string) string {
	if strings.TrimSpace(p) == "" {
		return DefaultHelper
	}
	return p
}
