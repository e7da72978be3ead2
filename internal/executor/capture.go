package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"tx/internal/logging"
	"tx/internal/pipeline"
)

// CaptureEnv supplies capture input to the capture-arg helper instead of stdin.
const CaptureEnv = "TX_CAPTURE_STDIN_DATA"

// captureIndex returns the index of the stage that takes captured output as
// an argument, or -1 for a plain pipe plan.
func captureIndex(stages []pipeline.Stage) int {
	for i, s := range stages {
		if s.Stdin == pipeline.StdinCapture {
			return i
		}
	}
	return -1
}

// runCapture runs the stages before provider, buffers their output, and then
// starts the provider with the captured text substituted into its arguments.
func (r *Running) runCapture(provider int) error {
	var data []byte
	if provider == 0 {
		var err error
		data, err = r.readStdin()
		if err != nil {
			return err
		}
	} else {
		rd, wr, err := os.Pipe()
		if err != nil {
			return fmt.Errorf("failed to create capture pipe: %w", err)
		}
		err = r.spawnChain(0, provider, r.streams.Stdin, wr)
		wr.Close()
		if err != nil {
			rd.Close()
			return err
		}
		data, err = readCapture(rd, r.exec.opts.CaptureLimit)
		rd.Close()
		if err != nil {
			return err
		}
		r.reap()
		if err := r.preFailure(provider); err != nil {
			return err
		}
	}

	prompt, err := capturedText(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.captured = len(prompt)
	r.mu.Unlock()

	stage := &r.job.stages[provider]
	stage.Argv = SubstituteArgs(stage.Argv, prompt)
	logging.ExecDebug("captured %d bytes for %s", len(prompt), stage.Name)
	r.exec.audit(logging.AuditEvent{
		Type:  logging.AuditCaptureComplete,
		Stage: string(stage.Kind),
		Index: provider,
		Bytes: len(prompt),
	})

	var stdin io.Reader
	if r.job.tty != nil {
		stdin = r.job.tty
	}
	return r.spawnChain(provider, len(r.job.stages), stdin, r.streams.Stdout)
}

// preFailure reports a non-zero exit of the last pre stage, which decides
// the status of the pre pipeline. The provider is not started on output from
// a failed pipeline.
func (r *Running) preFailure(provider int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.procs {
		if p.index != provider-1 {
			continue
		}
		if code := p.exitCode(); code != 0 {
			return &ExitError{Stage: p.stage.Kind, Name: p.stage.Name, Index: p.index, Code: code}
		}
	}
	return nil
}

// errCaptureStopped ends a stdin capture cut short by Kill or cancellation.
var errCaptureStopped = errors.New("stdin capture stopped")

// readStdin captures the caller's stdin. No process owns that read, so it
// runs in its own goroutine and is abandoned when the run is stopped.
func (r *Running) readStdin() ([]byte, error) {
	type read struct {
		data []byte
		err  error
	}
	ch := make(chan read, 1)
	go func() {
		data, err := readCapture(r.streams.Stdin, r.exec.opts.CaptureLimit)
		ch <- read{data, err}
	}()
	select {
	case res := <-ch:
		return res.data, res.err
	case <-r.halt:
		if f, ok := r.streams.Stdin.(*os.File); ok {
			// Unblocks the reader for pipes and other pollable files.
			_ = f.SetReadDeadline(time.Now())
		}
		return nil, errCaptureStopped
	}
}

// readCapture reads all of rd, failing once more than limit bytes arrive.
func readCapture(rd io.Reader, limit int64) ([]byte, error) {
	if rd == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(rd, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read captured output: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, captureLimitError(limit)
	}
	return data, nil
}

// capturedText trims one trailing newline and requires valid UTF-8.
func capturedText(data []byte) (string, error) {
	data = bytes.TrimSuffix(data, []byte("\n"))
	if !utf8.Valid(data) {
		return "", errors.New("captured prompt is not valid UTF-8")
	}
	return string(data), nil
}

// SubstituteArgs replaces {prompt} in every argument that contains it. When
// no argument contains it, prompt is appended. argv[0] is never substituted.
func SubstituteArgs(argv []string, prompt string) []string {
	if len(argv) == 0 {
		return argv
	}
	out := make([]string, 0, len(argv)+1)
	out = append(out, argv[0])
	replaced := false
	for _, arg := range argv[1:] {
		if strings.Contains(arg, pipeline.PromptPlaceholder) {
			arg = strings.ReplaceAll(arg, pipeline.PromptPlaceholder, prompt)
			replaced = true
		}
		out = append(out, arg)
	}
	if !replaced {
		out = append(out, prompt)
	}
	return out
}

// CaptureRequest is the input of the capture-arg helper.
type CaptureRequest struct {
	Provider string
	Bin      string
	Pre      []string
	Args     []string
	// Input replaces the caller's stdin as capture input when non-nil.
	Input *string
}

// CaptureArg runs the pre commands, captures their output (or the input when
// there are none) and launches the provider with it as an argument. It is what
// a rendered capture_arg pipeline invokes.
func (e *Executor) CaptureArg(ctx context.Context, req CaptureRequest, streams Streams) (*Result, error) {
	if req.Bin == "" {
		return nil, errors.New("capture-arg requires --bin")
	}
	stages := make([]pipeline.Stage, 0, len(req.Pre)+1)
	for _, cmd := range req.Pre {
		stages = append(stages, pipeline.Stage{Kind: pipeline.StagePre, Name: "pre", Command: cmd, Stdin: pipeline.StdinPiped})
	}
	if len(stages) > 0 {
		stages[0].Stdin = pipeline.StdinInherit
	}
	name := req.Provider
	if name == "" {
		name = req.Bin
	}
	stages = append(stages, pipeline.Stage{
		Kind:  pipeline.StageProvider,
		Name:  name,
		Argv:  append([]string{req.Bin}, req.Args...),
		Stdin: pipeline.StdinCapture,
	})

	j := job{stages: stages, tty: terminal(streams.Stdin)}
	if req.Input != nil {
		if int64(len(*req.Input)) > e.opts.CaptureLimit {
			return nil, captureLimitError(e.opts.CaptureLimit)
		}
		streams.Stdin = strings.NewReader(*req.Input)
	}
	logging.Exec("capture-arg for %s with %d pre command(s)", name, len(req.Pre))
	return e.start(ctx, j, streams).Wait()
}
