package connserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/coven/busd/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, req wire.Request) wire.Response {
	return wire.Ok(req.ID, map[string]string{"echo": req.Tool})
}

func startTestServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "busd.sock")
	srv := New(path, h, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		_ = srv.Stop(context.Background(), time.Second)
	})
	return srv, path
}

func TestRequestResponseRoundTrip(t *testing.T) {
	_, path := startTestServer(t, echoHandler)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"id":"r1","tool":"poll_task"}` + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp wire.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.Equal(t, "r1", resp.ID)
	assert.True(t, resp.Success)
}

func TestPipelinedRequestsAnsweredInOrder(t *testing.T) {
	_, path := startTestServer(t, echoHandler)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(
		`{"id":"r1","tool":"a"}` + "\n" +
			`{"id":"r2","tool":"b"}` + "\n" +
			`{"id":"r3","tool":"c"}` + "\n",
	))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	var ids []string
	for i := 0; i < 3; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		var resp wire.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp))
		ids = append(ids, resp.ID)
	}
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
}

func TestMalformedFrameGetsInvalidParamsResponse(t *testing.T) {
	_, path := startTestServer(t, echoHandler)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"id":"r1","tool":}` + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var resp wire.Response
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, wire.ErrInvalidParams, resp.Error)
}

func TestStopBroadcastsShutdownFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busd.sock")
	srv := New(path, echoHandler, nil)
	require.NoError(t, srv.Start())

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	// Give the accept loop a moment to register the connection.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, srv.Stop(context.Background(), time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)

	var frame wire.ShutdownFrame
	require.NoError(t, json.Unmarshal([]byte(line), &frame))
	assert.Equal(t, "shutdown", frame.Type)
}

func TestStartDoesNotStealALiveSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busd.sock")
	first := New(path, echoHandler, nil)
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Stop(context.Background(), time.Second) })

	second := New(path, echoHandler, nil)
	err := second.Start()
	require.Error(t, err)
	assert.True(t, first.IsRunning())

	conn, dialErr := net.Dial("unix", path)
	require.NoError(t, dialErr)
	conn.Close()
}

func TestIsRunningReflectsLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busd.sock")
	srv := New(path, echoHandler, nil)
	assert.False(t, srv.IsRunning())

	require.NoError(t, srv.Start())
	assert.True(t, srv.IsRunning())

	require.NoError(t, srv.Stop(context.Background(), time.Second))
	assert.False(t, srv.IsRunning())
}
