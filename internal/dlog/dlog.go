// Package dlog is the tiny diagnostic-logging shim shared by the storage
// core. It mirrors the teacher's habit of printing operational one-liners
// at cache hits/misses/evictions rather than reaching for a structured
// logging library — no such library appears anywhere in the pack for a
// component at this layer.
package dlog

import (
	"log"
	"os"
)

// Logger prefixes every line with a component tag, e.g. "[BufferPool]".
type Logger struct {
	inner *log.Logger
}

// New returns a Logger tagging every line with component.
func New(component string) *Logger {
	return &Logger{inner: log.New(os.Stderr, "["+component+"] ", 0)}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	l.inner.Printf(format, args...)
}
