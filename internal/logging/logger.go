// Package logging wraps log/slog behind the small, stable API the rest
// of the daemon calls through: Debug/Info/Warn/Error plus FilePath,
// writing structured JSON lines via slog.NewJSONHandler.
package logging

import (
	"log/slog"
	"os"
)

// Logger is a structured, leveled logger writing JSON lines to a file.
type Logger struct {
	slog     *slog.Logger
	level    *slog.LevelVar
	filePath string
	file     *os.File
}

// New opens filePath for append and returns a Logger writing to it.
func New(filePath string) (*Logger, error) {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	level := &slog.LevelVar{}
	level.Set(slog.LevelInfo)

	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return &Logger{
		slog:     slog.New(handler),
		level:    level,
		filePath: filePath,
		file:     file,
	}, nil
}

// NewDiscard returns a Logger that discards everything (tests).
func NewDiscard() *Logger {
	level := &slog.LevelVar{}
	return &Logger{slog: slog.New(slog.NewJSONHandler(discardWriter{}, &slog.HandlerOptions{Level: level})), level: level}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// SetLevel sets the minimum level logged, given as one of
// "debug", "info", "warn", "error".
func (l *Logger) SetLevel(level string) {
	switch level {
	case "debug":
		l.level.Set(slog.LevelDebug)
	case "warn":
		l.level.Set(slog.LevelWarn)
	case "error":
		l.level.Set(slog.LevelError)
	default:
		l.level.Set(slog.LevelInfo)
	}
}

// Slog exposes the underlying *slog.Logger for components (dispatch.Engine)
// that take one directly rather than this package's wrapper API.
func (l *Logger) Slog() *slog.Logger { return l.slog }

// Debug logs a debug message with key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) { l.slog.Debug(msg, keyvals...) }

// Info logs an info message with key/value pairs.
func (l *Logger) Info(msg string, keyvals ...any) { l.slog.Info(msg, keyvals...) }

// Warn logs a warning message with key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) { l.slog.Warn(msg, keyvals...) }

// Error logs an error message with key/value pairs.
func (l *Logger) Error(msg string, keyvals ...any) { l.slog.Error(msg, keyvals...) }

// FilePath returns the path of the log file, or "" for NewDiscard loggers.
func (l *Logger) FilePath() string { return l.filePath }

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
