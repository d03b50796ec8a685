package states

import (
	"io"

	"github.com/banshee-data/collar.amc/internal/monitoring/logstream"
)

// Ops: escapes and invalid fences. Diag: status transitions. Trace: per-cycle inputs.
var logs = logstream.New("states")

// SetLogWriters configures the states log streams. A nil writer disables that
// stream.
func SetLogWriters(ops, diag, trace io.Writer) { logs.SetWriters(ops, diag, trace) }

func opsf(format string, args ...any)   { logs.Opsf(format, args...) }
func diagf(format string, args ...any)  { logs.Diagf(format, args...) }
func tracef(format string, args ...any) { logs.Tracef(format, args...) }
