// Package logstream gives each engine package three leveled log streams:
// ops for events an operator acts on, diag for state transitions and trace
// for per-fix values. A stream without a writer costs one atomic load.
package logstream

import (
	"io"
	"log"
	"sync/atomic"
)

// Streams is one package's set of log streams.
type Streams struct {
	prefix string

	ops, diag, trace atomic.Pointer[log.Logger]
}

// New returns streams that prefix every line with [name]. All streams
// start disabled.
func New(name string) *Streams {
	return &Streams{prefix: "[" + name + "] "}
}

// SetWriters points the streams at ops, diag and trace. A nil writer
// disables its stream.
func (s *Streams) SetWriters(ops, diag, trace io.Writer) {
	s.ops.Store(s.logger(ops))
	s.diag.Store(s.logger(diag))
	s.trace.Store(s.logger(trace))
}

func (s *Streams) logger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, s.prefix, log.LstdFlags|log.Lmicroseconds)
}

func (s *Streams) Opsf(format string, args ...any)   { printf(&s.ops, format, args) }
func (s *Streams) Diagf(format string, args ...any)  { printf(&s.diag, format, args) }
func (s *Streams) Tracef(format string, args ...any) { printf(&s.trace, format, args) }

func printf(l *atomic.Pointer[log.Logger], format string, args []any) {
	if lg := l.Load(); lg != nil {
		lg.Printf(format, args...)
	}
}
