// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Warn(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// NewStdLogger adapts a standard library logger to the Logger interface.
// A nil argument falls back to the process-wide default logger.
func NewStdLogger(l *log.Logger) Logger {
	if l == nil {
		l = log.Default()
	}
	return &stdLogger{l: l}
}

type stdLogger struct {
	l *log.Logger
}

func (s *stdLogger) Debug(msg string, fields ...Field) { s.print("DEBUG", msg, fields) }
func (s *stdLogger) Info(msg string, fields ...Field)  { s.print("INFO", msg, fields) }
func (s *stdLogger) Warn(msg string, fields ...Field)  { s.print("WARN", msg, fields) }
func (s *stdLogger) Error(msg string, fields ...Field) { s.print("ERROR", msg, fields) }

func (s *stdLogger) print(level, msg string, fields []Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range fields {
		b.WriteString(" ")
		b.WriteString(f.Key)
		b.WriteString("=")
		fmt.Fprintf(&b, "%v", f.Value)
	}
	s.l.Print(b.String())
}
