package pipeline

import (
	"fmt"
	"strings"

	"tx/internal/config"
	"tx/internal/shellquote"
)

// composeWrapper renders w around inner. A shell wrapper receives inner as one
// single-quoted literal; an exec wrapper receives it verbatim inside the
// argv element holding {{CMD}}. The result is the plan's only runnable stage.
func composeWrapper(w config.Wrapper, ctx TemplateContext, inner string) (Invocation, Stage, error) {
	ctx = ctx.WithCmd(inner)
	field := "wrappers." + w.Name + ".cmd"

	if w.Shell {
		cmd, err := ctx.Resolve(w.Command, field, ModeShell)
		if err != nil {
			return Invocation{}, Stage{}, err
		}
		return Invocation{Shell: true, Command: cmd},
			Stage{Kind: StageWrapper, Name: w.Name, Command: cmd, Stdin: StdinInherit}, nil
	}

	if len(w.Argv) == 0 {
		return Invocation{}, Stage{}, &QuotingParseError{Field: field, Err: fmt.Errorf("empty command")}
	}
	argv := make([]string, 0, len(w.Argv))
	for i, arg := range w.Argv {
		v, err := ctx.Resolve(arg, fmt.Sprintf("%s[%d]", field, i), ModeRaw)
		if err != nil {
			return Invocation{}, Stage{}, err
		}
		argv = append(argv, v)
	}
	return Invocation{Argv: argv},
		Stage{Kind: StageWrapper, Name: w.Name, Argv: argv, Stdin: StdinInherit}, nil
}

// renderInvocation is the runnable shell text for an invocation.
func renderInvocation(inv Invocation) string {
	if inv.Shell {
		return inv.Command
	}
	return shellquote.Join(inv.Argv)
}

// renderPipeline joins the unwrapped stages with pipes. A capture_arg plan
// renders its pre stages and provider as one call to the capture-arg helper,
// which runs them and substitutes the captured text.
func renderPipeline(plan *Plan, p config.Provider, pre, post []Stage, args []string, helper string) string {
	var parts []string
	if plan.StdinMode == config.StdinCaptureArg {
		parts = append(parts, shellquote.Join(CaptureHelperArgv(helper, p.Name, p.Bin, stageCommands(pre), args)))
	} else {
		for _, s := range pre {
			parts = append(parts, s.Text())
		}
		parts = append(parts, shellquote.Join(append([]string{p.Bin}, args...)))
	}
	for _, s := range post {
		parts = append(parts, s.Text())
	}
	return strings.Join(parts, " | ")
}

// CaptureHelperArgv builds "<helper> internal capture-arg --provider P --bin B
// [--pre CMD]... [--arg A]...".
func CaptureHelperArgv(helper, provider, bin string, pre, args []string) []string {
	argv := []string{helper, "internal", "capture-arg", "--provider", provider, "--bin", bin}
	for _, cmd := range pre {
		argv = append(argv, "--pre", cmd)
	}
	for _, a := range args {
		argv = append(argv, "--arg", a)
	}
	return argv
}

func stageCommands(stages []Stage) []string {
	out := make([]string, 0, len(stages))
	for _, s := range stages {
		out = append(out, s.Text())
	}
	return out
}
