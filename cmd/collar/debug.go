package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/collar.amc/internal/amc"
	"github.com/banshee-data/collar.amc/internal/correction"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/httputil"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/zone"
)

// setLogLevel enables the engine log streams up to level on w.
func setLogLevel(level string, w io.Writer) error {
	var ops, diag, trace io.Writer
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "none":
	case "ops", "":
		ops = w
	case "diag":
		ops, diag = w, w
	case "trace":
		ops, diag, trace = w, w, w
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	amc.SetLogWriters(ops, diag, trace)
	correction.SetLogWriters(ops, diag, trace)
	gnssfix.SetLogWriters(ops, diag, trace)
	states.SetLogWriters(ops, diag, trace)
	zone.SetLogWriters(ops, diag, trace)
	return nil
}

// Controller is the part of the monitor the debug pages drive.
type Controller interface {
	Snapshot() amc.Snapshot
	PostMode(states.Mode)
	PostTurnOffFence()
}

// DropCounter reports events a fan-out could not deliver.
type DropCounter interface {
	Dropped() uint64
}

// BridgeConfig exposes the configuration the bridge has echoed.
type BridgeConfig interface {
	Config() map[string]any
}

func parseMode(s string) (states.Mode, error) {
	for m := states.ModeTeach; m <= states.ModeTrace; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return states.ModeUnknown, fmt.Errorf("unknown mode %q", s)
}

// attachMonitorRoutes mounts the engine state pages on mux under /debug/.
func attachMonitorRoutes(mux *http.ServeMux, c Controller, drops DropCounter, bridge BridgeConfig) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Zone", func() any {
		s := c.Snapshot()
		if !s.HasDistance {
			return s.Zone.String()
		}
		return fmt.Sprintf("%s (%d dm)", s.Zone, s.Distance)
	})
	debug.KVFunc("Fix tier", func() any { return c.Snapshot().Tier.String() })
	debug.KVFunc("Status", func() any {
		s := c.Snapshot().Status
		return fmt.Sprintf("mode=%s fence=%s collar=%s receiver=%s", s.Mode, s.Fence, s.Collar, s.Receiver)
	})
	debug.KVFunc("Correction", func() any {
		s := c.Snapshot()
		return fmt.Sprintf("%s tone=%dHz warns=%d zaps=%d", s.Correction, s.ToneHz, s.Counters.WarnCount, s.Counters.ZapCount)
	})
	debug.KVFunc("Pasture", func() any {
		s := c.Snapshot()
		if !s.HasPasture {
			return "none"
		}
		return s.PastureVersion
	})
	if drops != nil {
		debug.KVFunc("Dropped events", func() any { return drops.Dropped() })
	}

	debug.HandleFunc("monitor", "Engine state snapshot", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, c.Snapshot())
	})

	if bridge != nil {
		debug.HandleFunc("bridge-config", "Configuration echoed by the sensor bridge", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteJSONOK(w, bridge.Config())
		})
	}

	// POST mode=teach|fence|trace|off
	debug.HandleSilentFunc("mode", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		name := strings.TrimSpace(r.FormValue("mode"))
		if strings.EqualFold(name, "off") {
			c.PostTurnOffFence()
			io.WriteString(w, "fence turned off")
			return
		}
		m, err := parseMode(name)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		c.PostMode(m)
		fmt.Fprintf(w, "mode set to %s", m)
	})
}
