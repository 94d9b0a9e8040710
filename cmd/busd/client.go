package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coven/busd/internal/busaddr"
	"github.com/coven/busd/internal/wire"
	"github.com/google/uuid"
)

// probeDaemon reports whether a daemon is already answering socketPath.
func probeDaemon(socketPath string) bool {
	conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isAddrInUse reports whether err is the race-loser case the CLI
// wrapper should degrade to client mode on, rather than surfacing as a
// fatal error: either Daemon.Run's pre-bind "already serving" check, or
// a genuine EADDRINUSE surfacing from the socket bind itself because a
// competing daemon won the race between the pre-check and Listen.
func isAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "already serving") || errors.Is(err, syscall.EADDRINUSE)
}

// dialAndCall issues a single request over socketPath and returns the
// raw JSON response line.
func dialAndCall(socketPath, tool string, params any) ([]byte, error) {
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, err
		}
	}

	req := wire.Request{ID: uuid.New().String(), Tool: tool, Params: raw}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	resp, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// requestShutdown reads the daemon's PID file for socketPath and sends
// SIGTERM, the daemon's graceful-shutdown trigger — there is no RPC
// tool for shutdown, since signal handling owns it.
func requestShutdown(socketPath string) error {
	pidPath := busaddr.PIDPath(socketPath)
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid file %s", pidPath)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(syscall.SIGTERM)
}
