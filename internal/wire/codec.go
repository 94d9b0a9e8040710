package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxFrameSize bounds a single NDJSON line's memory footprint: a
// defensive cap on an otherwise unbounded accumulate-until-newline loop.
const DefaultMaxFrameSize = 1 << 20 // 1 MiB

// Decoder is a streaming NDJSON frame reader. It accumulates bytes across
// reads, splits on '\n', tolerates blank lines between frames, and
// preserves a trailing partial line across read boundaries — all for
// free, via bufio.Scanner's line-splitting, buffered on an
// caller-controlled maximum frame size.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r with the default maximum frame size.
func NewDecoder(r io.Reader) *Decoder {
	return NewDecoderSize(r, DefaultMaxFrameSize)
}

// NewDecoderSize wraps r, rejecting any single frame larger than maxFrame.
func NewDecoderSize(r io.Reader, maxFrame int) *Decoder {
	initial := 4096
	if maxFrame < initial {
		initial = maxFrame
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, initial), maxFrame)
	s.Split(bufio.ScanLines)
	return &Decoder{scanner: s}
}

// ReadFrame returns the next non-empty line, or io.EOF when the
// connection is closed cleanly. A line that exceeds the configured
// maximum frame size is returned as an error.
func (d *Decoder) ReadFrame() ([]byte, error) {
	for d.scanner.Scan() {
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue // tolerate blank lines between frames
		}
		// Scanner reuses its buffer; callers hold the frame across a
		// decode step so it must be copied out.
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// ParseRequest decodes a single frame into a Request. On malformed JSON
// it returns a ready-made INVALID_PARAMS response: with id "unknown" if
// the id field could not be recovered, or the frame's own id otherwise.
// A request missing "tool" similarly yields INVALID_PARAMS carrying the
// request's id.
func ParseRequest(frame []byte) (Request, *Response) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		id := recoverID(frame)
		return Request{}, errPtr(Fail(id, ErrInvalidParams, fmt.Sprintf("malformed JSON: %v", err)))
	}
	if req.ID == "" {
		return Request{}, errPtr(Fail(UnknownRequestID, ErrInvalidParams, "request missing required field \"id\""))
	}
	if req.Tool == "" {
		return Request{}, errPtr(Fail(req.ID, ErrInvalidParams, "request missing required field \"tool\""))
	}
	return req, nil
}

// recoverID best-efforts extraction of an "id" string field from a frame
// that failed to unmarshal as a well-formed Request, so a parse-error
// response can still correlate where possible.
func recoverID(frame []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(frame, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return UnknownRequestID
}

func errPtr(r Response) *Response { return &r }

// Encoder writes newline-delimited JSON frames to an underlying writer,
// serializing concurrent writers — a dispatch resolution running on a
// different goroutine than the connection's own read loop may need to
// write a response or a shutdown frame at the same time.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it followed by a single newline.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.w.Write(data)
	return err
}
