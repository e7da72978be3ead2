//go:build !windows

package executor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureProcess puts the stage in its own process group so a kill reaches
// the shell's children as well.
func configureProcess(cmd *exec.Cmd, isolate bool) {
	if !isolate {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalStage signals the stage's process group, or the process alone when it
// shares the caller's group. A process that already exited is not an error.
func signalStage(proc *os.Process, isolate bool, sig syscall.Signal) error {
	if isolate {
		err := syscall.Kill(-proc.Pid, sig)
		if err == nil || errors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// exitStatus follows the shell convention of 128+N for a stage killed by signal N.
func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
