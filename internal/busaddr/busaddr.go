// Package busaddr derives the daemon's per-project socket and PID file
// paths and detects whether an existing socket install is stale.
package busaddr

import (
	"crypto/md5" //nolint:gosec // non-cryptographic path hasher, see spec.
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// SocketPath derives the deterministic Unix socket path for a project
// root: different roots map to different sockets, and a given root
// always maps to the same socket.
func SocketPath(projectRoot string) string {
	sum := md5.Sum([]byte(projectRoot)) //nolint:gosec
	return fmt.Sprintf("/tmp/claude-bus-%s.sock", hex.EncodeToString(sum[:])[:8])
}

// PIDPath returns the PID file path that accompanies a socket path.
func PIDPath(socketPath string) string {
	return socketPath + ".pid"
}

// IsStale reports whether the socket install at socketPath is stale: its
// PID file is absent, unparseable, or names a process that is no longer
// alive. A live process answers a signal-0 probe with either no error or
// EPERM (owned by another user but alive); any other error means dead.
func IsStale(socketPath string) bool {
	pid, ok := readPID(PIDPath(socketPath))
	if !ok {
		return true
	}
	return !processAlive(pid)
}

// readPID parses the PID file, returning ok=false if it is absent or
// does not contain a positive integer.
func readPID(pidPath string) (int, bool) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// processAlive sends signal 0 to pid; any error other than EPERM means
// the process does not exist.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}

// Cleanup removes a stale socket install's socket and PID files,
// ignoring not-exist errors on either.
func Cleanup(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("busaddr: remove socket: %w", err)
	}
	pidPath := PIDPath(socketPath)
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("busaddr: remove pid file: %w", err)
	}
	return nil
}

// WritePID writes the current process's PID to pidPath.
func WritePID(pidPath string) error {
	content := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(pidPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("busaddr: write pid file: %w", err)
	}
	return nil
}

// RemovePID removes the PID file, ignoring a not-exist error.
func RemovePID(pidPath string) error {
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("busaddr: remove pid file: %w", err)
	}
	return nil
}
