package correction

import (
	"io"

	"github.com/banshee-data/collar.amc/internal/monitoring/logstream"
)

// Ops: pulses and persistence failures.
// Diag: warning starts, pauses and stops.
// Trace: tone steps.
var logs = logstream.New("correction")

// SetLogWriters configures the correction log streams. A nil writer disables that
// stream.
func SetLogWriters(ops, diag, trace io.Writer) { logs.SetWriters(ops, diag, trace) }

func opsf(format string, args ...any)   { logs.Opsf(format, args...) }
func diagf(format string, args ...any)  { logs.Diagf(format, args...) }
func tracef(format string, args ...any) { logs.Tracef(format, args...) }
