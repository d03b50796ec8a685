// Package events defines the closed set of commands and status
// notifications the monitor engine emits, and a fan-out bus that delivers
// them to collaborators.
package events

import (
	"fmt"
	"time"

	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/states"
	"github.com/banshee-data/collar.amc/internal/zone"
)

// Event is implemented by every command and notification.
type Event interface {
	// Kind is a stable lower-case name, used in logs and metrics labels.
	Kind() string
	event()
}

// Sink receives events. Publish must not block the caller for long; the
// engine calls it from the calculation queue.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Commands to the sound, pulse, receiver and BLE collaborators.

// SetToneFrequency asks the buzzer for a warning tone at Hz.
type SetToneFrequency struct{ Hz uint16 }

// ToneOn starts the warning sound.
type ToneOn struct{}

// ToneOff stops the warning sound.
type ToneOff struct{}

// ZapNow releases one electric pulse.
type ZapNow struct{ Episode string }

// SetReceiverMode asks the GNSS driver for an acquisition mode.
type SetReceiverMode struct{ Mode gnssfix.ReceiverMode }

// StartBeaconScan asks the BLE collaborator to look for a beacon.
type StartBeaconScan struct{}

// ForceFix asks the GNSS driver to restart fix acquisition.
type ForceFix struct{}

func (SetToneFrequency) Kind() string { return "set_tone_frequency" }
func (ToneOn) Kind() string           { return "tone_on" }
func (ToneOff) Kind() string          { return "tone_off" }
func (ZapNow) Kind() string           { return "zap_now" }
func (SetReceiverMode) Kind() string  { return "set_receiver_mode" }
func (StartBeaconScan) Kind() string  { return "start_beacon_scan" }
func (ForceFix) Kind() string         { return "force_fix" }

func (SetToneFrequency) event() {}
func (ToneOn) event()           {}
func (ToneOff) event()          {}
func (ZapNow) event()           {}
func (SetReceiverMode) event()  {}
func (StartBeaconScan) event()  {}
func (ForceFix) event()         {}

// Status notifications.

// ZoneChanged reports a zone transition.
type ZoneChanged struct {
	From, To zone.Zone
	Distance int16
	At       time.Time
}

// FenceStatusChanged reports a fence status transition.
type FenceStatusChanged struct{ From, To states.FenceStatus }

// CollarStatusChanged reports a collar status transition.
type CollarStatusChanged struct{ From, To states.CollarStatus }

// ModeChanged reports an operating mode transition.
type ModeChanged struct{ From, To states.Mode }

// CorrectionStarted reports the warning becoming active.
type CorrectionStarted struct {
	Episode   string
	Resumed   bool
	MeanDist  int16
	WarnCount uint32
}

// CorrectionPaused reports the warning going silent without ending.
type CorrectionPaused struct {
	Episode  string
	Reason   string
	MeanDist int16
}

// CorrectionEnded reports the end of a correction episode.
type CorrectionEnded struct {
	Episode string
	Reason  string
}

// Zapped reports a released pulse with the updated counters.
type Zapped struct {
	Episode string
	Total   uint32
	Today   uint32
	Pain    int
}

// FenceVersion reports the version of the active pasture.
type FenceVersion struct{ Version uint32 }

// Position reports the latest projected position and fence distance.
type Position struct {
	X, Y     int16
	Distance int16
	Zone     zone.Zone
}

func (ZoneChanged) Kind() string         { return "zone_changed" }
func (FenceStatusChanged) Kind() string  { return "fence_status_changed" }
func (CollarStatusChanged) Kind() string { return "collar_status_changed" }
func (ModeChanged) Kind() string         { return "mode_changed" }
func (CorrectionStarted) Kind() string   { return "correction_started" }
func (CorrectionPaused) Kind() string    { return "correction_paused" }
func (CorrectionEnded) Kind() string     { return "correction_ended" }
func (Zapped) Kind() string              { return "zapped" }
func (FenceVersion) Kind() string        { return "fence_version" }
func (Position) Kind() string            { return "position" }

func (ZoneChanged) event()         {}
func (FenceStatusChanged) event()  {}
func (CollarStatusChanged) event() {}
func (ModeChanged) event()         {}
func (CorrectionStarted) event()   {}
func (CorrectionPaused) event()    {}
func (CorrectionEnded) event()     {}
func (Zapped) event()              {}
func (FenceVersion) event()        {}
func (Position) event()            {}

// ErrorKind classifies an Error notification.
type ErrorKind uint8

const (
	ErrCacheTimeout ErrorKind = iota + 1
	ErrInvalidPasture
	ErrChecksumMismatch
	ErrPersistFailed
	ErrZoneTooSoon
)

func (k ErrorKind) String() string {
	switch k {
	case ErrCacheTimeout:
		return "cache_timeout"
	case ErrInvalidPasture:
		return "invalid_pasture"
	case ErrChecksumMismatch:
		return "checksum_mismatch"
	case ErrPersistFailed:
		return "persist_failed"
	case ErrZoneTooSoon:
		return "zone_too_soon"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error reports a degraded or rejected condition. The engine keeps running.
type Error struct {
	ErrKind ErrorKind
	Err     error
}

func (Error) Kind() string { return "error" }
func (Error) event()       {}

func (e Error) String() string {
	return fmt.Sprintf("%s: %v", e.ErrKind, e.Err)
}
