// Package pidlock guards against concurrent sync runs with a PID file.
// Concurrent runs would race on the staging tree and the watermark, so a
// second invocation must exit cleanly without doing any work.
package pidlock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"syscall"
)

const filePerm = 0o640

// ErrHeld indicates another live process holds the lock.
var ErrHeld = errors.New("another sync run is in progress")

// Lock is a held PID file.
type Lock struct {
	path string
}

// Acquire takes the lock at path. A PID file naming a live process yields
// ErrHeld; a stale file from a dead process is replaced.
func Acquire(path string) (*Lock, error) {
	raw, err := os.ReadFile(path)

	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read pid file %s: %w", path, err)
	default:
		pid, parseErr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if parseErr == nil && alive(pid) {
			return nil, fmt.Errorf("%w: pid %d", ErrHeld, pid)
		}
	}

	writeErr := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), filePerm)
	if writeErr != nil {
		return nil, fmt.Errorf("write pid file %s: %w", path, writeErr)
	}

	return &Lock{path: path}, nil
}

// Release removes the PID file.
func (l *Lock) Release() error {
	err := os.Remove(l.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pid file %s: %w", l.path, err)
	}

	return nil
}

// alive probes the process with signal 0. EPERM still means the process
// exists, just owned by someone else.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	sigErr := proc.Signal(syscall.Signal(0))
	if sigErr == nil {
		return true
	}

	return errors.Is(sigErr, syscall.EPERM)
}
