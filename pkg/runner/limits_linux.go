//go:build linux

package runner

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureIsolation moves the process into fresh user and network
// namespaces when network isolation is requested. The current user is
// mapped to root inside the namespace.
func configureIsolation(cmd *exec.Cmd, l Limits) {
	if !l.IsolateNetwork {
		return
	}
	cmd.SysProcAttr.Cloneflags |= unix.CLONE_NEWUSER | unix.CLONE_NEWNET
	cmd.SysProcAttr.UidMappings = []syscall.SysProcIDMap{
		{ContainerID: 0, HostID: os.Getuid(), Size: 1},
	}
	cmd.SysProcAttr.GidMappings = []syscall.SysProcIDMap{
		{ContainerID: 0, HostID: os.Getgid(), Size: 1},
	}
}

type rlimitEntry struct {
	resource int
	value    uint64
}

// applyLimits sets rlimits on the process pid, or on the calling process
// when pid is 0. For an unconfined start there is a short window between
// exec and prlimit where the interpreter runs unbounded; it is spent in
// interpreter startup, before any user code. The confinement helper applies
// them to itself before exec, which closes the window.
func applyLimits(pid int, l Limits) error {
	entries := []rlimitEntry{
		{unix.RLIMIT_AS, l.MemoryBytes},
		{unix.RLIMIT_CPU, l.CPUSeconds},
		{unix.RLIMIT_FSIZE, l.FileSizeBytes},
		{unix.RLIMIT_NPROC, l.MaxProcesses},
		{unix.RLIMIT_CORE, 0},
	}
	for _, e := range entries {
		if e.value == 0 && e.resource != unix.RLIMIT_CORE {
			continue
		}
		rl := unix.Rlimit{Cur: e.value, Max: e.value}
		if err := unix.Prlimit(pid, e.resource, &rl, nil); err != nil {
			if err == unix.ESRCH {
				return nil
			}
			return fmt.Errorf("prlimit resource %d: %w", e.resource, err)
		}
	}
	return nil
}
