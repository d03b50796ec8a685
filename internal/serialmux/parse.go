package serialmux

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/states"
)

const (
	EventTypeFix          = "fix"
	EventTypeTimeout      = "timeout"
	EventTypeReceiverMode = "receiver_mode"
	EventTypePower        = "power"
	EventTypeMovement     = "movement"
	EventTypeBeacon       = "beacon"
	EventTypeSound        = "sound"
	EventTypePasture      = "pasture"
	EventTypeFence        = "fence"
	EventTypeConfig       = "config"
	EventTypeUnknown      = "unknown"
)

// ErrMalformedLine is returned for a line that cannot be decoded.
var ErrMalformedLine = errors.New("malformed bridge line")

// Line is one JSON object emitted by the sensor bridge. Type selects which
// of the other fields is meaningful.
type Line struct {
	Type    string          `json:"type"`
	Fix     *gnssfix.Fix    `json:"fix,omitempty"`
	Pasture *fence.Pasture  `json:"pasture,omitempty"`
	Mode    string          `json:"mode,omitempty"`
	Level   string          `json:"level,omitempty"`
	Near    bool            `json:"near,omitempty"`
	Version uint32          `json:"version,omitempty"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// ClassifyPayload returns the event type of a bridge line without fully
// decoding it. Lines that are JSON objects without a known type are
// treated as configuration echoes.
func ClassifyPayload(payload string) string {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, "{") {
		return EventTypeUnknown
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return EventTypeUnknown
	}
	switch head.Type {
	case EventTypeFix, EventTypeTimeout, EventTypeReceiverMode, EventTypePower,
		EventTypeMovement, EventTypeBeacon, EventTypeSound, EventTypePasture, EventTypeFence:
		return head.Type
	default:
		return EventTypeConfig
	}
}

// ParseLine decodes a bridge line.
func ParseLine(payload string) (Line, error) {
	var l Line
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &l); err != nil {
		return Line{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	switch l.Type {
	case EventTypeFix:
		if l.Fix == nil {
			return Line{}, fmt.Errorf("%w: fix line without fix", ErrMalformedLine)
		}
	case EventTypePasture:
		if l.Pasture == nil {
			return Line{}, fmt.Errorf("%w: pasture line without pasture", ErrMalformedLine)
		}
	}
	return l, nil
}

// ParseReceiverMode maps a bridge mode name to a ReceiverMode.
func ParseReceiverMode(s string) (gnssfix.ReceiverMode, error) {
	for m := gnssfix.NoMode; m <= gnssfix.Max; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return gnssfix.NoMode, fmt.Errorf("%w: receiver mode %q", ErrMalformedLine, s)
}

// ParsePower maps a bridge battery level name to a Power.
func ParsePower(s string) (states.Power, error) {
	switch strings.ToLower(s) {
	case "normal":
		return states.PowerNormal, nil
	case "low":
		return states.PowerLow, nil
	case "critical":
		return states.PowerCritical, nil
	}
	return states.PowerNormal, fmt.Errorf("%w: power level %q", ErrMalformedLine, s)
}

// ParseMovement maps a bridge activity name to a Movement.
func ParseMovement(s string) (states.Movement, error) {
	switch strings.ToLower(s) {
	case "normal":
		return states.MovementNormal, nil
	case "sleep":
		return states.MovementSleep, nil
	case "inactive":
		return states.MovementInactive, nil
	}
	return states.MovementUnknown, fmt.Errorf("%w: movement %q", ErrMalformedLine, s)
}

// ParseSound maps a bridge buzzer state name to a Sound.
func ParseSound(s string) (states.Sound, error) {
	for v := states.SoundOff; v <= states.SoundMax; v++ {
		if strings.EqualFold(s, v.String()) {
			return v, nil
		}
	}
	return states.SoundOff, fmt.Errorf("%w: sound %q", ErrMalformedLine, s)
}
