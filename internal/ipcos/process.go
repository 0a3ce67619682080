package ipcos

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ProcessAlive reports whether pid identifies a process currently running
// on this host. Sending signal 0 performs no action but still fails with
// ESRCH if the process does not exist, which is the standard liveness
// check on Unix.
func ProcessAlive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(int(pid), 0)
	// EPERM means the process exists but belongs to another user.
	return err == nil || errors.Is(err, unix.EPERM)
}

// ProcessName formats the sweep target argument the recovery sweeper
// expects: "pid=<N>".
func ProcessName(pid int32) string {
	return fmt.Sprintf("pid=%d", pid)
}

// ParseProcessName parses a sweep target argument back into a pid.
func ParseProcessName(name string) (int32, error) {
	rest, ok := strings.CutPrefix(name, "pid=")
	if !ok {
		return 0, fmt.Errorf("ipcos: malformed process name %q, want \"pid=<N>\"", name)
	}

	pid, err := strconv.ParseInt(rest, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("ipcos: malformed process name %q: %w", name, err)
	}

	return int32(pid), nil
}

// MappingUsers lists the pids of processes that currently hold path open,
// the Go-native equivalent of shelling out to fuser(1): it scans
// /proc/*/fd for symlinks that resolve to path.
func MappingUsers(path string) ([]int32, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("ipcos: resolving %s: %w", path, err)
	}

	procs, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("ipcos: reading /proc: %w", err)
	}

	var users []int32

	for _, proc := range procs {
		pid, err := strconv.Atoi(proc.Name())
		if err != nil {
			continue // not a pid directory (self, curproc, etc.)
		}

		fdDir := filepath.Join("/proc", proc.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue // process exited or we lack permission; not a fatal error
		}

		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if target == abs {
				users = append(users, int32(pid))
				break
			}
		}
	}

	return users, nil
}
