//go:build windows

package mcpbridge

import (
	"fmt"
	"os/exec"
	"time"
)

// configureProcessGroup is a no-op on Windows; taskkill /T walks the child
// tree instead.
func configureProcessGroup(cmd *exec.Cmd) {}

func terminateProcessGroup(pid int, grace time.Duration) error {
	if pid <= 0 {
		return nil
	}
	_ = grace
	return exec.Command("taskkill", "/PID", fmt.Sprint(pid), "/T", "/F").Run()
}
