// Package monitoring carries the process-wide operational logger and the
// Prometheus collector fed by the monitor's events.
package monitoring

import "log"

// Logf receives the daemon's operational log lines. It starts as
// log.Printf.
var Logf = log.Printf

// Discard drops every line.
func Discard(string, ...any) {}

// SetLogger installs f as Logf, or Discard when f is nil.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		f = Discard
	}
	Logf = f
}
