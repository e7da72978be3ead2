package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"tx/internal/logging"
	"tx/internal/pipeline"
)

// StageInfo describes one started stage.
type StageInfo struct {
	Index   int
	Stage   pipeline.Stage
	PID     int
	Running bool
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Index    int
	Kind     pipeline.StageKind
	Name     string
	PID      int
	ExitCode int
	Duration time.Duration
	Killed   bool
}

// Result is the outcome of a run. ExitCode is the terminal stage's status.
type Result struct {
	Stages        []StageResult
	ExitCode      int
	CapturedBytes int
	Duration      time.Duration
}

// Running is a plan in flight.
type Running struct {
	exec    *Executor
	job     job
	streams Streams
	// isolate puts each stage in its own process group. Interactive runs
	// stay in the caller's group so the terminal keeps job control.
	isolate bool

	mu          sync.Mutex
	procs       []*proc
	stopped     bool
	interrupted error

	started  time.Time
	captured int

	// halt is closed by stop.
	halt   chan struct{}
	done   chan struct{}
	result *Result
	err    error
}

type proc struct {
	index   int
	stage   pipeline.Stage
	cmd     *exec.Cmd
	started time.Time
	ended   time.Time
	killed  bool // guarded by Running.mu
	done    chan struct{}
	waitErr error
}

// Stages returns the stages started so far.
func (r *Running) Stages() []StageInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageInfo, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, StageInfo{
			Index:   p.index,
			Stage:   p.stage,
			PID:     p.cmd.Process.Pid,
			Running: !p.exited(),
		})
	}
	return out
}

// Kill terminates every running stage and prevents further stages from
// starting. It is safe to call at any time and more than once.
func (r *Running) Kill() {
	r.interrupt(ErrKilled)
}

// Done is closed when every started stage has been reaped.
func (r *Running) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes.
func (r *Running) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}

func (r *Running) interrupt(cause error) {
	r.mu.Lock()
	if r.interrupted == nil {
		r.interrupted = cause
	}
	r.mu.Unlock()
	r.stop()
}

// stop blocks further spawns and terminates every live stage.
func (r *Running) stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.halt)
	procs := append([]*proc(nil), r.procs...)
	for _, p := range procs {
		if !p.exited() {
			p.killed = true
		}
	}
	r.mu.Unlock()

	for _, p := range procs {
		r.terminate(p)
	}
}

// terminate sends SIGTERM, then SIGKILL if the stage outlives the grace period.
func (r *Running) terminate(p *proc) {
	if p.exited() {
		return
	}
	pid := p.cmd.Process.Pid
	logging.ExecDebug("terminating stage %d (%s) pid=%d", p.index, p.stage.Name, pid)
	_ = signalStage(p.cmd.Process, r.isolate, syscall.SIGTERM)
	r.exec.audit(logging.AuditEvent{
		Type:    logging.AuditStageKilled,
		Stage:   string(p.stage.Kind),
		Index:   p.index,
		Command: p.stage.Text(),
		PID:     pid,
	})
	go func() {
		t := time.NewTimer(r.exec.opts.KillGrace)
		defer t.Stop()
		select {
		case <-p.done:
		case <-t.C:
			logging.ExecWarn("stage %d (%s) ignored SIGTERM; killing", p.index, p.stage.Name)
			_ = signalStage(p.cmd.Process, r.isolate, syscall.SIGKILL)
		}
	}()
}

func (r *Running) drive() {
	defer close(r.done)
	r.started = time.Now()
	timer := logging.StartTimer(logging.CategoryExec, "pipeline run")
	defer timer.Stop()

	var err error
	if capture := captureIndex(r.job.stages); capture >= 0 {
		err = r.runCapture(capture)
	} else {
		err = r.spawnChain(0, len(r.job.stages), r.streams.Stdin, r.streams.Stdout)
	}
	if err != nil {
		r.stop()
		r.reap()
		if cause := r.interruptCause(); cause != nil {
			err = &InterruptedError{Cause: cause}
		}
		r.finish(r.collect(), err)
		return
	}

	r.reap()
	result := r.collect()
	r.finish(result, r.outcome(result))
}

func (r *Running) finish(result *Result, err error) {
	result.Duration = time.Since(r.started)
	r.result, r.err = result, err
	if err != nil {
		logging.ExecWarn("pipeline finished with error after %s: %v", result.Duration, err)
		return
	}
	logging.Exec("pipeline finished after %s (exit=%d)", result.Duration, result.ExitCode)
}

// spawnChain starts stages [from, to) in order. Each stage's stdout feeds the
// next stage's stdin through a pipe whose ends the parent closes as soon as
// both children hold them.
func (r *Running) spawnChain(from, to int, stdin io.Reader, stdout io.Writer) error {
	in := stdin
	var pending *os.File
	defer func() {
		if pending != nil {
			pending.Close()
		}
	}()

	for i := from; i < to; i++ {
		out := stdout
		var rd, wr *os.File
		if i < to-1 {
			var err error
			rd, wr, err = os.Pipe()
			if err != nil {
				return fmt.Errorf("failed to create pipe: %w", err)
			}
			out = wr
		}
		err := r.spawn(i, in, out)
		if wr != nil {
			wr.Close()
		}
		if pending != nil {
			pending.Close()
			pending = nil
		}
		if err != nil {
			if rd != nil {
				rd.Close()
			}
			return err
		}
		if rd != nil {
			in, pending = rd, rd
		}
	}
	return nil
}

func (r *Running) spawn(i int, stdin io.Reader, stdout io.Writer) error {
	stage := r.job.stages[i]
	cmd, err := r.exec.command(stage)
	if err != nil {
		return &StageExecutionError{Stage: stage.Kind, Name: stage.Name, Index: i, Err: err}
	}
	cmd.Dir = r.job.dir
	cmd.Env = r.exec.environ(r.job.env)
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if r.streams.Stderr != nil {
		cmd.Stderr = r.streams.Stderr
	}
	cmd.WaitDelay = r.exec.opts.KillGrace
	configureProcess(cmd, r.isolate)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errors.New("pipeline stopped before stage could start")
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		logging.ExecError("failed to start stage %d (%s): %v", i, stage.Name, err)
		r.exec.audit(logging.AuditEvent{
			Type:    logging.AuditStageError,
			Stage:   string(stage.Kind),
			Index:   i,
			Command: stage.Text(),
			Error:   err.Error(),
		})
		return &StageExecutionError{Stage: stage.Kind, Name: stage.Name, Index: i, Err: err}
	}
	p := &proc{index: i, stage: stage, cmd: cmd, started: time.Now(), done: make(chan struct{})}
	r.procs = append(r.procs, p)
	r.mu.Unlock()

	go p.wait()
	logging.ExecDebug("started stage %d (%s %s) pid=%d", i, stage.Kind, stage.Name, cmd.Process.Pid)
	r.exec.audit(logging.AuditEvent{
		Type:    logging.AuditStageStart,
		Stage:   string(stage.Kind),
		Index:   i,
		Command: stage.Text(),
		PID:     cmd.Process.Pid,
	})
	return nil
}

func (e *Executor) command(s pipeline.Stage) (*exec.Cmd, error) {
	if s.Argv != nil {
		if len(s.Argv) == 0 || s.Argv[0] == "" {
			return nil, errors.New("empty argv")
		}
		return exec.Command(s.Argv[0], s.Argv[1:]...), nil
	}
	return exec.Command(e.opts.Shell, "-c", s.Command), nil
}

func (p *proc) wait() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	p.ended = time.Now()
	close(p.done)
}

func (p *proc) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *proc) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return exitStatus(p.cmd.ProcessState)
}

// reap waits for every started stage.
func (r *Running) reap() {
	r.mu.Lock()
	procs := append([]*proc(nil), r.procs...)
	r.mu.Unlock()
	for _, p := range procs {
		<-p.done
		if p.waitErr != nil {
			logging.ExecWarn("stage %d (%s): %v", p.index, p.stage.Name, p.waitErr)
		}
	}
}

func (r *Running) collect() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := &Result{CapturedBytes: r.captured, ExitCode: -1}
	for _, p := range r.procs {
		sr := StageResult{
			Index:    p.index,
			Kind:     p.stage.Kind,
			Name:     p.stage.Name,
			PID:      p.cmd.Process.Pid,
			ExitCode: p.exitCode(),
			Duration: p.ended.Sub(p.started),
			Killed:   p.killed,
		}
		res.Stages = append(res.Stages, sr)
		r.exec.audit(logging.AuditEvent{
			Type:     logging.AuditStageExit,
			Stage:    string(sr.Kind),
			Index:    sr.Index,
			PID:      sr.PID,
			ExitCode: sr.ExitCode,
			Duration: sr.Duration,
		})
	}
	if n := len(res.Stages); n > 0 {
		res.ExitCode = res.Stages[n-1].ExitCode
	}
	return res
}

// outcome applies pipeline semantics: the terminal stage decides the status
// and earlier failures surface as a partial failure.
func (r *Running) outcome(res *Result) error {
	if cause := r.interruptCause(); cause != nil {
		return &InterruptedError{Cause: cause}
	}
	n := len(res.Stages)
	if n == 0 {
		return nil
	}
	var failures []*ExitError
	for _, s := range res.Stages[:n-1] {
		if s.ExitCode != 0 {
			failures = append(failures, &ExitError{Stage: s.Kind, Name: s.Name, Index: s.Index, Code: s.ExitCode})
		}
	}
	if len(failures) > 0 {
		return &PartialFailureError{Failures: failures, ExitCode: res.ExitCode}
	}
	last := res.Stages[n-1]
	if last.ExitCode != 0 {
		return &ExitError{Stage: last.Kind, Name: last.Name, Index: last.Index, Code: last.ExitCode}
	}
	return nil
}

func (r *Running) interruptCause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interrupted
}
