package serialmux

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/monitoring"
	"github.com/banshee-data/collar.amc/internal/states"
)

// Target receives decoded bridge lines. *amc.Monitor satisfies it.
type Target interface {
	PostFix(ctx context.Context, f gnssfix.Fix) error
	PostFixTimeout(ctx context.Context) error
	PostNewFence(version uint32)
	PostBeacon(b states.Beacon)
	PostPower(p states.Power)
	PostMovement(mv states.Movement)
	PostSoundStatus(s states.Sound)
	PostReceiverMode(r gnssfix.ReceiverMode)
}

// PastureSaver stores a pasture received over the bridge.
type PastureSaver interface {
	SavePasture(ctx context.Context, p *fence.Pasture) error
}

// Handler routes bridge lines to a Target.
type Handler struct {
	Target   Target
	Pastures PastureSaver     // Optional: pasture lines are dropped when nil
	Now      func() time.Time // Optional: stamps fixes without a timestamp

	mu     sync.Mutex
	config map[string]any
}

// Config returns a copy of the configuration values the bridge has echoed.
func (h *Handler) Config() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return maps.Clone(h.config)
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// HandleConfigResponse merges a configuration echo into Config.
func (h *Handler) HandleConfigResponse(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %v", err)
	}
	h.mu.Lock()
	if h.config == nil {
		h.config = make(map[string]any)
	}
	for k, v := range values {
		h.config[k] = v
	}
	h.mu.Unlock()
	monitoring.Logf("Config Line: %+v", payload)
	return nil
}

// HandleEvent decodes one bridge line and posts it to the Target.
func (h *Handler) HandleEvent(ctx context.Context, payload string) error {
	kind := ClassifyPayload(payload)
	switch kind {
	case EventTypeUnknown:
		monitoring.Logf("unknown event type: %s", payload)
		return nil
	case EventTypeConfig:
		return h.HandleConfigResponse(payload)
	}

	l, err := ParseLine(payload)
	if err != nil {
		return err
	}
	switch kind {
	case EventTypeFix:
		f := *l.Fix
		if f.UpdatedAt.IsZero() {
			f.UpdatedAt = h.now()
		}
		return h.Target.PostFix(ctx, f)
	case EventTypeTimeout:
		return h.Target.PostFixTimeout(ctx)
	case EventTypeReceiverMode:
		m, err := ParseReceiverMode(l.Mode)
		if err != nil {
			return err
		}
		h.Target.PostReceiverMode(m)
	case EventTypePower:
		p, err := ParsePower(l.Level)
		if err != nil {
			return err
		}
		h.Target.PostPower(p)
	case EventTypeMovement:
		mv, err := ParseMovement(l.Level)
		if err != nil {
			return err
		}
		h.Target.PostMovement(mv)
	case EventTypeSound:
		s, err := ParseSound(l.Level)
		if err != nil {
			return err
		}
		h.Target.PostSoundStatus(s)
	case EventTypeBeacon:
		b := states.BeaconNone
		if l.Near {
			b = states.BeaconNear
		}
		h.Target.PostBeacon(b)
	case EventTypePasture:
		if h.Pastures == nil {
			monitoring.Logf("pasture %d dropped: no store", l.Pasture.Version)
			return nil
		}
		if err := h.Pastures.SavePasture(ctx, l.Pasture); err != nil {
			return fmt.Errorf("failed to store pasture: %w", err)
		}
		h.Target.PostNewFence(l.Pasture.Version)
	case EventTypeFence:
		h.Target.PostNewFence(l.Version)
	}
	return nil
}

// Run feeds every line of mux to HandleEvent until ctx is done or the
// subscription is closed. Line errors are logged and skipped.
func (h *Handler) Run(ctx context.Context, mux SerialMuxInterface) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := h.HandleEvent(ctx, line); err != nil {
				monitoring.Logf("bridge line: %v", err)
			}
		}
	}
}

// Command returns the bridge command line for an engine command. ok is
// false for notifications, which are not sent to the bridge.
func Command(ev events.Event) (cmd string, ok bool) {
	switch e := ev.(type) {
	case events.SetToneFrequency:
		return fmt.Sprintf("TONE FREQ %d", e.Hz), true
	case events.ToneOn:
		return "TONE ON", true
	case events.ToneOff:
		return "TONE OFF", true
	case events.ZapNow:
		return "ZAP", true
	case events.SetReceiverMode:
		return fmt.Sprintf("GNSS MODE %s", e.Mode), true
	case events.StartBeaconScan:
		return "BLE SCAN", true
	case events.ForceFix:
		return "GNSS FORCE", true
	}
	return "", false
}

// Commander writes one command line to the bridge.
type Commander interface {
	SendCommand(string) error
}

// CommandWriter is an events.Sink that queues the bridge command of every
// engine command. Publish never blocks and never drops; Run writes the
// queue to the bridge in order.
type CommandWriter struct {
	c Commander

	mu      sync.Mutex
	pending []string
	notify  chan struct{}
}

// NewCommandWriter returns a writer sending to c.
func NewCommandWriter(c Commander) *CommandWriter {
	return &CommandWriter{c: c, notify: make(chan struct{}, 1)}
}

// Publish queues the command for ev. Notifications are ignored.
func (w *CommandWriter) Publish(ev events.Event) {
	cmd, ok := Command(ev)
	if !ok {
		return
	}
	w.mu.Lock()
	w.pending = append(w.pending, cmd)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued commands.
func (w *CommandWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes every queued command and returns how many the bridge
// accepted. Failed writes are logged and not retried.
func (w *CommandWriter) Flush() int {
	w.mu.Lock()
	cmds := w.pending
	w.pending = nil
	w.mu.Unlock()

	sent := 0
	for _, cmd := range cmds {
		if err := w.c.SendCommand(cmd); err != nil {
			monitoring.Logf("failed to send %q: %v", cmd, err)
			continue
		}
		sent++
	}
	return sent
}

// Run writes queued commands until ctx is done, then flushes what is left.
func (w *CommandWriter) Run(ctx context.Context) {
	for {
		w.Flush()
		select {
		case <-ctx.Done():
			w.Flush()
			return
		case <-w.notify:
		}
	}
}
