//go:build !windows

package mcpbridge

import (
	"os/exec"
	"syscall"
	"testing"
	"time"
)

func TestConfigureProcessGroupSetsPgid(t *testing.T) {
	t.Parallel()

	cmd := exec.Command("sh", "-c", "true")
	configureProcessGroup(cmd)
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("Setpgid not configured: %+v", cmd.SysProcAttr)
	}
}

func TestTerminateProcessGroupStopsTheTree(t *testing.T) {
	t.Parallel()

	// A shell that ignores nothing; SIGTERM should be enough.
	cmd := exec.Command("sh", "-c", "sleep 60")
	configureProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid

	if err := terminateProcessGroup(pid, 2*time.Second); err != nil {
		t.Fatalf("terminateProcessGroup: %v", err)
	}
	_ = cmd.Wait()

	// Signal 0 probes for existence; the group leader must be gone.
	if err := syscall.Kill(-pid, 0); err == nil {
		t.Fatalf("process group %d still alive", pid)
	}
}

func TestTerminateProcessGroupMissingProcess(t *testing.T) {
	t.Parallel()

	// A wildly unlikely pid; an already-gone group is not an error.
	if err := terminateProcessGroup(1<<22-1, 100*time.Millisecond); err != nil {
		t.Fatalf("terminateProcessGroup on absent group: %v", err)
	}
}
