package gnssfix

import (
	"io"

	"github.com/banshee-data/collar.amc/internal/monitoring/logstream"
)

// Ops: tier timeouts. Diag: tier changes. Trace: per-record quality.
var logs = logstream.New("gnssfix")

// SetLogWriters configures the gnssfix log streams. A nil writer disables that
// stream.
func SetLogWriters(ops, diag, trace io.Writer) { logs.SetWriters(ops, diag, trace) }

func opsf(format string, args ...any)   { logs.Opsf(format, args...) }
func diagf(format string, args ...any)  { logs.Diagf(format, args...) }
func tracef(format string, args ...any) { logs.Tracef(format, args...) }
