// Package states tracks the collar-level status the warning engine depends
// on: the operating mode, the fence status, the collar status and the
// receiver acquisition mode the collar should be running in.
package states

import "fmt"

// Mode is the operating mode of the collar. It is owned by the messaging
// layer and only promoted from Teach to Fence here.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeTeach
	ModeFence
	ModeTrace
)

func (m Mode) String() string {
	switch m {
	case ModeUnknown:
		return "unknown"
	case ModeTeach:
		return "teach"
	case ModeFence:
		return "fence"
	case ModeTrace:
		return "trace"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Correcting reports whether the mode drives warnings.
func (m Mode) Correcting() bool { return m == ModeTeach || m == ModeFence }

// FenceStatus describes the animal's relationship to the installed fence.
type FenceStatus uint8

const (
	FenceUnknown FenceStatus = iota
	FenceNotStarted
	FenceNormal
	FenceMaybeOut
	FenceEscaped
	FenceBeaconContact
	FenceInvalid
	FenceTurnedOff
)

func (s FenceStatus) String() string {
	switch s {
	case FenceUnknown:
		return "unknown"
	case FenceNotStarted:
		return "notstarted"
	case FenceNormal:
		return "normal"
	case FenceMaybeOut:
		return "maybeoutoffence"
	case FenceEscaped:
		return "escaped"
	case FenceBeaconContact:
		return "beaconcontact"
	case FenceInvalid:
		return "invalid"
	case FenceTurnedOff:
		return "turnedoff"
	default:
		return fmt.Sprintf("FenceStatus(%d)", uint8(s))
	}
}

// CollarStatus describes the physical state of the collar.
type CollarStatus uint8

const (
	CollarUnknown CollarStatus = iota
	CollarNormal
	CollarSleep
	CollarOffAnimal
	CollarPowerOff
)

func (s CollarStatus) String() string {
	switch s {
	case CollarUnknown:
		return "unknown"
	case CollarNormal:
		return "normal"
	case CollarSleep:
		return "sleep"
	case CollarOffAnimal:
		return "offanimal"
	case CollarPowerOff:
		return "poweroff"
	default:
		return fmt.Sprintf("CollarStatus(%d)", uint8(s))
	}
}

// Movement is the activity level reported by the accelerometer
// collaborator.
type Movement uint8

const (
	MovementUnknown Movement = iota
	MovementNormal
	MovementSleep
	MovementInactive
)

// Power is the battery level reported by the power collaborator.
type Power uint8

const (
	PowerNormal Power = iota
	PowerLow
	PowerCritical
)

// Beacon is the BLE beacon proximity.
type Beacon uint8

const (
	BeaconNone Beacon = iota
	BeaconNear
)

// Sound is the buzzer state reported by the sound collaborator.
type Sound uint8

const (
	SoundOff Sound = iota
	SoundWarn
	SoundMax
)

func (s Sound) String() string {
	switch s {
	case SoundOff:
		return "off"
	case SoundWarn:
		return "warn"
	case SoundMax:
		return "max"
	default:
		return fmt.Sprintf("Sound(%d)", uint8(s))
	}
}
