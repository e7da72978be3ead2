//go:build windows

package executor

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func configureProcess(cmd *exec.Cmd, isolate bool) {}

// signalStage kills the process. Windows has no SIGTERM delivery for
// console processes, so every signal is a kill.
func signalStage(proc *os.Process, isolate bool, sig syscall.Signal) error {
	err := proc.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}
