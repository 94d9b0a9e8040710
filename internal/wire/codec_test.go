package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderReadFrame(t *testing.T) {
	input := "{\"id\":\"1\"}\n\n{\"id\":\"2\"}\n"
	d := NewDecoder(strings.NewReader(input))

	f1, err := d.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(f1))

	f2, err := d.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"id":"2"}`, string(f2))

	_, err = d.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderPreservesPartialLineAcrossReads(t *testing.T) {
	pr, pw := io.Pipe()
	d := NewDecoder(pr)

	results := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		frame, err := d.ReadFrame()
		results <- frame
		errs <- err
	}()

	// Write the frame in two partial chunks with no newline yet.
	_, _ = pw.Write([]byte(`{"id":"a","to`))
	_, _ = pw.Write([]byte("ol\":\"poll_task\"}\n"))

	frame := <-results
	require.NoError(t, <-errs)
	assert.JSONEq(t, `{"id":"a","tool":"poll_task"}`, string(frame))
	pw.Close()
}

func TestDecoderRejectsOversizeFrame(t *testing.T) {
	huge := strings.Repeat("x", 64) + "\n"
	d := NewDecoderSize(strings.NewReader(huge), 16)
	_, err := d.ReadFrame()
	assert.Error(t, err)
}

func TestParseRequestValid(t *testing.T) {
	req, errResp := ParseRequest([]byte(`{"id":"r1","tool":"submit_task","params":{"bead_id":"b-1"}}`))
	require.Nil(t, errResp)
	assert.Equal(t, "r1", req.ID)
	assert.Equal(t, "submit_task", req.Tool)
}

func TestParseRequestMalformedJSONUnknownID(t *testing.T) {
	_, errResp := ParseRequest([]byte(`not json at all`))
	require.NotNil(t, errResp)
	assert.Equal(t, UnknownRequestID, errResp.ID)
	assert.Equal(t, ErrInvalidParams, errResp.Error)
	assert.False(t, errResp.Success)
}

func TestParseRequestMalformedJSONRecoversID(t *testing.T) {
	_, errResp := ParseRequest([]byte(`{"id":"r2","tool":123}`))
	require.NotNil(t, errResp)
	assert.Equal(t, "r2", errResp.ID)
	assert.Equal(t, ErrInvalidParams, errResp.Error)
}

func TestParseRequestMissingID(t *testing.T) {
	_, errResp := ParseRequest([]byte(`{"tool":"poll_task"}`))
	require.NotNil(t, errResp)
	assert.Equal(t, UnknownRequestID, errResp.ID)
}

func TestParseRequestMissingTool(t *testing.T) {
	_, errResp := ParseRequest([]byte(`{"id":"r3"}`))
	require.NotNil(t, errResp)
	assert.Equal(t, "r3", errResp.ID)
	assert.Equal(t, ErrInvalidParams, errResp.Error)
}

func TestEncoderWritesNewlineDelimitedJSON(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(Ok("1", map[string]string{"a": "b"})))
	require.NoError(t, enc.Encode(NewShutdownFrame()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"id":"1","success":true,"data":{"a":"b"}}`, lines[0])
	assert.JSONEq(t, `{"type":"shutdown"}`, lines[1])
}
