// Package correction runs the warning state machine: it decides when the
// acoustic warning starts, how its pitch follows the animal, when it pauses
// or ends, and when a pulse is released.
package correction

import "fmt"

// Reason explains why a correction paused or ended.
type Reason uint8

// Pause reasons keep the episode alive; stop reasons end it.
const (
	ReasonCompass Reason = iota + 1
	ReasonAcc
	ReasonMoveBack
	ReasonMoveBackNoDist
	ReasonNoDist
	ReasonBadFix
	ReasonMissingGNSSData
	ReasonZap

	stopReasons

	ReasonInside
	ReasonMoveBackInside
	ReasonEscaped
	ReasonMode
)

// IsStop reports whether r ends the correction episode.
func (r Reason) IsStop() bool { return r > stopReasons }

func (r Reason) String() string {
	switch r {
	case ReasonCompass:
		return "compass"
	case ReasonAcc:
		return "acc"
	case ReasonMoveBack:
		return "moveback"
	case ReasonMoveBackNoDist:
		return "moveback_nodist"
	case ReasonNoDist:
		return "nodist"
	case ReasonBadFix:
		return "badfix"
	case ReasonMissingGNSSData:
		return "missing_gnss_data"
	case ReasonZap:
		return "zap"
	case ReasonInside:
		return "inside"
	case ReasonMoveBackInside:
		return "moveback_inside"
	case ReasonEscaped:
		return "escaped"
	case ReasonMode:
		return "mode"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// offset is how far outward from the pause point (dm) the animal must move
// before the warning may resume.
func (c Config) offset(r Reason) int {
	switch {
	case r.IsStop():
		return 1
	case r == ReasonBadFix:
		return c.BadFixOffsetDM
	case r == ReasonZap:
		return c.ZapOffsetDM
	case r == ReasonMissingGNSSData:
		return 0
	default:
		return c.LastDistAddDM
	}
}

// State is the correction state. Its numeric value is the published status.
type State uint8

const (
	Idle State = iota
	Paused
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Paused:
		return "paused"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
