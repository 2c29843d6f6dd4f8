//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup configures the command to run in its own process group so
// cargo and every compiler or test process it spawns die together on timeout
// or interrupt.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the entire process group (negative PID).
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
}
