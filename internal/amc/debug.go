package amc

import (
	"io"

	"github.com/banshee-data/collar.amc/internal/monitoring/logstream"
)

// Ops: cache timeouts, rejected pastures and dropped work.
// Diag: fence swaps and task flow.
// Trace: per-fix distance and trend values.
var logs = logstream.New("amc")

// SetLogWriters configures the amc log streams. A nil writer disables that
// stream.
func SetLogWriters(ops, diag, trace io.Writer) { logs.SetWriters(ops, diag, trace) }

func opsf(format string, args ...any)   { logs.Opsf(format, args...) }
func diagf(format string, args ...any)  { logs.Diagf(format, args...) }
func tracef(format string, args ...any) { logs.Tracef(format, args...) }
