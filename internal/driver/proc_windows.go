//go:build windows

package driver

import (
	"fmt"
	"os/exec"
	"syscall"
)

// setupProcessGroup hides the console window; process-tree cleanup on
// Windows goes through taskkill instead of process groups.
func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}

// killProcessGroup kills the process tree via taskkill.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	killCmd := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", cmd.Process.Pid))
	killCmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	if err := killCmd.Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}
