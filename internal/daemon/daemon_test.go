package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesStateDir(t *testing.T) {
	dir := t.TempDir()

	d, err := New(dir, "test")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, ".busd"))
	assert.NoError(t, statErr)
	assert.NotEmpty(t, d.SocketPath())
}

func TestRunServesRegisterWorkerAndShutdown(t *testing.T) {
	dir := t.TempDir()
	d, err := New(dir, "test")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()
	waitForSocket(t, d.SocketPath())

	conn, err := net.Dial("unix", d.SocketPath())
	require.NoError(t, err)

	_, err = conn.Write([]byte(`{"id":"r1","tool":"register_worker","params":{"name":"w1"}}` + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
		Data    struct {
			Worker  string `json:"worker"`
			Success bool   `json:"success"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "w1", resp.Data.Worker)
	conn.Close()

	d.Shutdown()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}

func TestRunRejectsSecondInstance(t *testing.T) {
	dir := t.TempDir()

	first, err := New(dir, "test")
	require.NoError(t, err)
	errCh := make(chan error, 1)
	go func() { errCh <- first.Run(context.Background()) }()
	waitForSocket(t, first.SocketPath())
	defer func() {
		first.Shutdown()
		<-errCh
	}()

	second, err := New(dir, "test")
	require.NoError(t, err)
	assert.Error(t, second.Run(context.Background()))
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never came up", path)
}
