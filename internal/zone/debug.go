package zone

import (
	"io"

	"github.com/banshee-data/collar.amc/internal/monitoring/logstream"
)

// Ops: rejected updates. Diag: zone transitions. Trace: per-update distances.
var logs = logstream.New("zone")

// SetLogWriters configures the zone log streams. A nil writer disables that
// stream.
func SetLogWriters(ops, diag, trace io.Writer) { logs.SetWriters(ops, diag, trace) }

func opsf(format string, args ...any)   { logs.Opsf(format, args...) }
func diagf(format string, args ...any)  { logs.Diagf(format, args...) }
func tracef(format string, args ...any) { logs.Tracef(format, args...) }
