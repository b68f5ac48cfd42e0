// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package audit emits the pipeline's structured event stream. Components
// receive a Logger at construction; there is no process-wide logger.
//
// Events carry a bracketed kind tag so the log is greppable by concern:
//
//	2026-02-13 18:20:05 | INFO  | validator | [API] UniProt | 200 | 1.23s | 1 hits
//	2026-02-13 18:20:06 | INFO  | pipeline  | [HANDOFF] retrieved -> generated | run=3f2a...
package audit

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Event kinds used across the pipeline.
const (
	KindHandoff    = "HANDOFF"
	KindAPI        = "API"
	KindGeneration = "GENERATION"
	KindValidation = "VALIDATION"
)

// Logger is the minimal logging surface components depend on.
type Logger interface {
	// Event records a tagged pipeline event at info level.
	Event(kind, format string, args ...any)

	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// WriterLogger renders events as pipe-delimited lines to an io.Writer.
// Safe for concurrent use.
type WriterLogger struct {
	mu        sync.Mutex
	w         io.Writer
	component string

	// now is replaceable in tests for stable timestamps.
	now func() time.Time
}

// NewWriterLogger returns a Logger tagged with the given component name.
func NewWriterLogger(w io.Writer, component string) *WriterLogger {
	return &WriterLogger{w: w, component: component, now: time.Now}
}

// WithComponent returns a logger writing to the same destination under a
// different component tag.
func (l *WriterLogger) WithComponent(component string) *WriterLogger {
	return &WriterLogger{w: l.w, component: component, now: l.now}
}

func (l *WriterLogger) Event(kind, format string, args ...any) {
	l.emit("INFO", fmt.Sprintf("[%s] ", kind)+format, args...)
}

func (l *WriterLogger) Info(format string, args ...any)  { l.emit("INFO", format, args...) }
func (l *WriterLogger) Warn(format string, args ...any)  { l.emit("WARN", format, args...) }
func (l *WriterLogger) Error(format string, args ...any) { l.emit("ERROR", format, args...) }

func (l *WriterLogger) emit(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s | %-5s | %-10s | %s\n",
		l.now().Format("2006-01-02 15:04:05"), level, l.component,
		fmt.Sprintf(format, args...))
}

// Nop is a Logger that discards everything. Used by tests and as the
// fallback when a caller passes nil.
type Nop struct{}

func (Nop) Event(string, string, ...any) {}
func (Nop) Info(string, ...any)          {}
func (Nop) Warn(string, ...any)          {}
func (Nop) Error(string, ...any)         {}

// OrNop returns l, or a Nop logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}
