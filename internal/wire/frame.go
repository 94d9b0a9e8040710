// Package wire implements the daemon's NDJSON request/response protocol:
// one JSON value per line, no length prefix, pipelined requests answered
// in arrival order.
package wire

import "encoding/json"

// ErrorCode is the closed set of transport-level error codes.
type ErrorCode string

const (
	ErrUnknownTool    ErrorCode = "UNKNOWN_TOOL"
	ErrInvalidParams  ErrorCode = "INVALID_PARAMS"
	ErrInternal       ErrorCode = "INTERNAL"
	ErrTimeout        ErrorCode = "TIMEOUT"
	UnknownRequestID            = "unknown"
)

// Request is a single incoming frame.
type Request struct {
	ID     string          `json:"id"`
	Tool   string          `json:"tool"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a single outgoing frame answering a Request.
type Response struct {
	ID      string    `json:"id"`
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   ErrorCode `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
}

// ShutdownFrame is broadcast to every connected client on graceful shutdown.
// It is not a response to any request and carries no id.
type ShutdownFrame struct {
	Type string `json:"type"`
}

// NewShutdownFrame returns the canonical shutdown-notification frame.
func NewShutdownFrame() ShutdownFrame {
	return ShutdownFrame{Type: "shutdown"}
}

// Ok builds a success response.
func Ok(id string, data any) Response {
	return Response{ID: id, Success: true, Data: data}
}

// Fail builds a transport-level error response.
func Fail(id string, code ErrorCode, message string) Response {
	return Response{ID: id, Success: false, Error: code, Message: message}
}
