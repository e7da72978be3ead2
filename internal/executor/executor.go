// Package executor runs compiled plans as live process pipelines.
//
// Stages are started in declared order and connected with OS pipes. In
// capture_arg mode the pre stages run first and their output is buffered and
// substituted into the provider's arguments before the provider starts.
// Cancellation terminates every started stage and reaps it.
package executor

import (
	"context"
	"io"
	"os"
	"slices"
	"time"

	"github.com/mattn/go-isatty"

	"tx/internal/config"
	"tx/internal/logging"
	"tx/internal/pipeline"
)

// DefaultShell runs snippet stages when neither Options.Shell nor $SHELL is set.
const DefaultShell = "/bin/sh"

// Streams are the caller's standard streams. A nil Stdin reads from the null
// device and a nil Stdout or Stderr discards output.
type Streams struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// StdStreams returns the process's own streams.
func StdStreams() Streams {
	return Streams{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Options configures an Executor.
type Options struct {
	// Shell runs command stages as "<shell> -c <command>".
	Shell string
	// CaptureLimit bounds captured output in capture_arg mode.
	CaptureLimit int64
	// KillGrace is the delay between SIGTERM and SIGKILL.
	KillGrace time.Duration
	// Env is the base environment; nil means os.Environ(). Plan env entries
	// are appended and win.
	Env []string
	// SessionID tags audit events.
	SessionID string
	// Audit receives stage lifecycle events in addition to the audit log.
	Audit func(logging.AuditEvent)
}

// Executor spawns plans. It holds no per-run state and is safe for
// concurrent use.
type Executor struct {
	opts Options
}

// New creates an executor. Zero options take their defaults.
func New(opts Options) *Executor {
	if opts.CaptureLimit <= 0 {
		opts.CaptureLimit = config.DefaultCaptureLimit
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = 2 * time.Second
	}
	if opts.Shell == "" {
		opts.Shell = os.Getenv("SHELL")
	}
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	logging.ExecDebug("executor ready: shell=%s capture_limit=%d kill_grace=%s",
		opts.Shell, opts.CaptureLimit, opts.KillGrace)
	return &Executor{opts: opts}
}

// NewFromConfig creates an executor from the execution section of the config.
func NewFromConfig(ec config.ExecutionConfig, sessionID string) *Executor {
	return New(Options{
		Shell:        ec.Shell,
		CaptureLimit: ec.GetCaptureLimit(),
		KillGrace:    ec.GetKillGrace(),
		SessionID:    sessionID,
	})
}

// Shell is the shell used for command stages.
func (e *Executor) Shell() string { return e.opts.Shell }

// Run executes plan and waits for every stage to exit.
func (e *Executor) Run(ctx context.Context, plan *pipeline.Plan, streams Streams) (*Result, error) {
	r, err := e.Start(ctx, plan, streams)
	if err != nil {
		return nil, err
	}
	return r.Wait()
}

// Start begins executing plan and returns a handle to the running stages.
// Errors from spawning or from the stages themselves are reported by Wait.
func (e *Executor) Start(ctx context.Context, plan *pipeline.Plan, streams Streams) (*Running, error) {
	if plan == nil || len(plan.Stages) == 0 {
		return nil, ErrEmptyPlan
	}
	logging.Exec("running %s (%d stage(s), mode=%s)", plan.Provider, len(plan.Stages), plan.StdinMode)
	j := job{
		stages: cloneStages(plan.Stages),
		env:    plan.Environ(),
		dir:    plan.Cwd,
		tty:    terminal(streams.Stdin),
	}
	return e.start(ctx, j, streams), nil
}

// job is the stage list a Running executes.
type job struct {
	stages []pipeline.Stage
	env    []string
	dir    string
	// tty is the caller's terminal, inherited by a capture_arg provider.
	tty *os.File
}

func (e *Executor) start(ctx context.Context, j job, streams Streams) *Running {
	r := &Running{
		exec:    e,
		job:     j,
		streams: streams,
		isolate: j.tty == nil,
		done:    make(chan struct{}),
		halt:    make(chan struct{}),
	}
	go r.drive()
	go func() {
		select {
		case <-ctx.Done():
			r.interrupt(context.Cause(ctx))
		case <-r.done:
		}
	}()
	return r
}

func (e *Executor) environ(extra []string) []string {
	base := e.opts.Env
	if base == nil {
		base = os.Environ()
	}
	return append(slices.Clone(base), extra...)
}

func (e *Executor) audit(ev logging.AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.SessionID = e.opts.SessionID
	logging.Audit(ev)
	if e.opts.Audit != nil {
		e.opts.Audit(ev)
	}
}

// terminal returns r as a file when it is an interactive terminal.
func terminal(r io.Reader) *os.File {
	f, ok := r.(*os.File)
	if !ok || f == nil {
		return nil
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return f
	}
	return nil
}

func cloneStages(stages []pipeline.Stage) []pipeline.Stage {
	out := make([]pipeline.Stage, len(stages))
	for i, s := range stages {
		s.Argv = slices.Clone(s.Argv)
		out[i] = s
	}
	return out
}
