package states

import (
	"time"

	"github.com/banshee-data/collar.amc/internal/config"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
	"github.com/banshee-data/collar.amc/internal/zone"
)

// Config holds the state-machine thresholds.
type Config struct {
	// TeachWarnsToFence is the number of warnings in Teach mode after
	// which the collar is promoted to Fence mode.
	TeachWarnsToFence int
	// MaxZapsPerEpisode is the number of pulses in one correction after
	// which the animal is considered escaped.
	MaxZapsPerEpisode int
	// MaybeOutDelay is how long the collar may sit in Warn with a silent
	// buzzer before the status becomes MaybeOut.
	MaybeOutDelay time.Duration
	// EscapeDelay is how long MaybeOut may last before Escaped.
	EscapeDelay time.Duration
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		TeachWarnsToFence: cfg.GetTeachWarnsToFence(),
		MaxZapsPerEpisode: cfg.GetMaxZapsPerEpisode(),
		MaybeOutDelay:     cfg.GetMaybeOutDelay(),
		EscapeDelay:       cfg.GetEscapeDelay(),
	}
}

// Inputs are the per-cycle values the tracker reads from the rest of the
// engine.
type Inputs struct {
	Zone       zone.Zone
	Sound      Sound
	WarnCount  uint32
	ZapPain    int
	HasEasyFix bool
	Now        time.Time
}

// Status is the published view of the tracker.
type Status struct {
	Mode     Mode
	Fence    FenceStatus
	Collar   CollarStatus
	Receiver gnssfix.ReceiverMode
}

// Tracker owns the collar-level state. It is driven from the calculation
// queue and is not safe for concurrent use.
type Tracker struct {
	cfg Config

	mode     Mode
	fence    FenceStatus
	collar   CollarStatus
	receiver gnssfix.ReceiverMode

	movement Movement
	power    Power
	beacon   Beacon

	maybeOutSince time.Time
	teachWarnBase uint32
}

// NewTracker returns a tracker with every status unknown.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Status returns the current published state.
func (t *Tracker) Status() Status {
	return Status{Mode: t.mode, Fence: t.fence, Collar: t.collar, Receiver: t.receiver}
}

// SetMode sets the operating mode. warnCount is the current warn counter
// and becomes the baseline for Teach promotion.
func (t *Tracker) SetMode(m Mode, warnCount uint32) {
	if m != t.mode {
		diagf("mode %s -> %s", t.mode, m)
	}
	t.mode = m
	if m == ModeTeach {
		t.teachWarnBase = warnCount
	}
}

// SetFenceStatus forces the fence status, used when a fence is installed,
// rejected or turned off.
func (t *Tracker) SetFenceStatus(s FenceStatus, now time.Time) {
	if s != t.fence {
		diagf("fence status %s -> %s (forced)", t.fence, s)
	}
	t.fence = s
	t.maybeOutSince = now
}

// SetMovement records the accelerometer activity level.
func (t *Tracker) SetMovement(m Movement) {
	t.movement = m
	t.collar = t.calcCollar()
}

// SetPower records the battery level.
func (t *Tracker) SetPower(p Power) {
	t.power = p
	t.collar = t.calcCollar()
}

// SetBeacon records the BLE beacon proximity.
func (t *Tracker) SetBeacon(b Beacon) {
	t.beacon = b
}

// Update recomputes mode, fence status and receiver mode from in.
func (t *Tracker) Update(in Inputs) Status {
	tracef("zone=%s sound=%s warns=%d pain=%d easy=%t", in.Zone, in.Sound, in.WarnCount, in.ZapPain, in.HasEasyFix)

	if in.Zone != zone.Warn || in.Sound != SoundOff ||
		t.fence == FenceNotStarted || t.fence == FenceEscaped {
		t.maybeOutSince = in.Now
	}

	if next := t.calcFence(in); next != t.fence {
		if next == FenceEscaped {
			opsf("fence status %s -> escaped (zap pain %d)", t.fence, in.ZapPain)
		} else {
			diagf("fence status %s -> %s", t.fence, next)
		}
		t.fence = next
	}

	if t.mode == ModeTeach && t.fence != FenceEscaped && in.WarnCount >= t.teachWarnBase &&
		int(in.WarnCount-t.teachWarnBase) >= t.cfg.TeachWarnsToFence {
		diagf("teach complete after %d warnings, mode -> fence", in.WarnCount-t.teachWarnBase)
		t.mode = ModeFence
	}

	t.receiver = t.recommendReceiver(in)
	return t.Status()
}

func (t *Tracker) calcCollar() CollarStatus {
	if t.power == PowerCritical {
		return CollarPowerOff
	}
	switch t.movement {
	case MovementNormal:
		return CollarNormal
	case MovementSleep:
		return CollarSleep
	case MovementInactive:
		// Inactivity only means off-animal after the collar went to sleep.
		if t.collar == CollarSleep || t.collar == CollarOffAnimal {
			return CollarOffAnimal
		}
		if t.collar == CollarPowerOff {
			return CollarNormal
		}
	}
	return t.collar
}

func insideZone(z zone.Zone) bool { return z == zone.PSM || z == zone.Caution }

func (t *Tracker) calcFence(in Inputs) FenceStatus {
	escaped := t.cfg.MaxZapsPerEpisode > 0 && in.ZapPain >= t.cfg.MaxZapsPerEpisode
	inWarn := in.Now.Sub(t.maybeOutSince)

	switch t.fence {
	case FenceUnknown, FenceInvalid, FenceTurnedOff:
		return t.fence
	case FenceBeaconContact:
		if t.beacon != BeaconNear {
			return FenceNotStarted
		}
		return t.fence
	}

	if t.beacon == BeaconNear {
		return FenceBeaconContact
	}

	switch t.fence {
	case FenceNotStarted:
		if insideZone(in.Zone) {
			return FenceNormal
		}
	case FenceNormal:
		if escaped {
			return FenceEscaped
		}
		if inWarn >= t.cfg.MaybeOutDelay {
			return FenceMaybeOut
		}
	case FenceMaybeOut:
		if insideZone(in.Zone) || in.Zone == zone.Prewarn {
			return FenceNormal
		}
		if escaped || inWarn >= t.cfg.MaybeOutDelay+t.cfg.EscapeDelay {
			return FenceEscaped
		}
	case FenceEscaped:
		if insideZone(in.Zone) {
			return FenceNormal
		}
	}
	return t.fence
}

func (t *Tracker) recommendReceiver(in Inputs) gnssfix.ReceiverMode {
	switch t.collar {
	case CollarSleep, CollarOffAnimal, CollarPowerOff:
		return gnssfix.Inactive
	}
	switch t.fence {
	case FenceEscaped, FenceInvalid, FenceTurnedOff:
		return gnssfix.PSM
	}
	if !in.HasEasyFix {
		return gnssfix.Caution
	}
	if !t.mode.Correcting() {
		return gnssfix.PSM
	}
	switch in.Zone {
	case zone.Warn, zone.Prewarn:
		return gnssfix.Max
	case zone.PSM:
		return gnssfix.PSM
	default:
		return gnssfix.Caution
	}
}
