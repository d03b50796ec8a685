// Package zone maps signed fence distance to a discrete zone with
// hysteresis, so a noisy distance near a boundary does not chatter
// between zones.
package zone

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/collar.amc/internal/config"
)

var (
	// ErrTooSoon is returned when PSM would jump directly to Warn before
	// the PSM dwell has elapsed. The zone is left unchanged.
	ErrTooSoon = errors.New("zone change too soon after entering PSM")

	// ErrInvalidZone is returned by Set for values outside the enum.
	ErrInvalidZone = errors.New("invalid zone")
)

// Zone is the coarse position relative to the fence. PSM is deep inside
// the pasture, Warn is at or beyond the boundary.
type Zone uint8

const (
	NoZone Zone = iota
	PSM
	Caution
	Prewarn
	Warn
)

// Valid reports whether z is one of the defined zones.
func (z Zone) Valid() bool { return z <= Warn }

func (z Zone) String() string {
	switch z {
	case NoZone:
		return "nozone"
	case PSM:
		return "psm"
	case Caution:
		return "caution"
	case Prewarn:
		return "prewarn"
	case Warn:
		return "warn"
	default:
		return fmt.Sprintf("Zone(%d)", uint8(z))
	}
}

// Band is the lower distance bound of a zone and the extra margin the
// distance must fall below that bound before the zone is left downward.
type Band struct {
	Min        int16
	Hysteresis int16
}

// Config holds the zone bands, ordered Warn > Prewarn > Caution. PSM is
// everything below Caution.
type Config struct {
	Warn     Band
	Prewarn  Band
	Caution  Band
	PSMDwell time.Duration
}

// DefaultConfig returns the built-in bands.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Warn:     Band{Min: int16(cfg.GetZoneWarnMinDM()), Hysteresis: int16(cfg.GetZoneWarnHysteresisDM())},
		Prewarn:  Band{Min: int16(cfg.GetZonePrewarnMinDM()), Hysteresis: int16(cfg.GetZonePrewarnHysteresisDM())},
		Caution:  Band{Min: int16(cfg.GetZoneCautionMinDM()), Hysteresis: int16(cfg.GetZoneCautionHysteresisDM())},
		PSMDwell: cfg.GetPSMDwell(),
	}
}

func (c Config) band(z Zone) Band {
	switch z {
	case Warn:
		return c.Warn
	case Prewarn:
		return c.Prewarn
	default:
		return c.Caution
	}
}

// enterAt is the distance at which z is entered from below.
func (c Config) enterAt(z Zone) int32 { return int32(c.band(z).Min) }

// leaveBelow is the distance below which z is left downward.
func (c Config) leaveBelow(z Zone) int32 {
	b := c.band(z)
	return int32(b.Min) - int32(b.Hysteresis)
}

// Classifier holds the current zone. It is owned by the calculation queue
// and is not safe for concurrent use.
type Classifier struct {
	cfg        Config
	zone       Zone
	enteredAt  time.Time
	lastUpdate time.Time
}

// NewClassifier returns a classifier in NoZone.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// Zone returns the current zone.
func (c *Classifier) Zone() Zone { return c.zone }

// EnteredAt returns when the current zone was entered.
func (c *Classifier) EnteredAt() time.Time { return c.enteredAt }

// LastUpdate returns the time of the last Update or Set.
func (c *Classifier) LastUpdate() time.Time { return c.lastUpdate }

// Update classifies dist at now and returns the resulting zone.
//
// From NoZone the zone is assigned directly. Otherwise the classifier steps
// one band at a time, up while dist reaches the next band's bound and down
// while dist is below the current band's bound minus its margin, so a
// large excursion crosses every intermediate band in one call.
func (c *Classifier) Update(dist int16, now time.Time) (Zone, error) {
	c.lastUpdate = now

	var target Zone
	if c.zone == NoZone {
		target = c.classify(dist)
	} else {
		target = c.walk(c.zone, dist)
	}

	if c.zone == PSM && target == Warn && now.Sub(c.enteredAt) < c.cfg.PSMDwell {
		opsf("psm -> warn at %ddm rejected, %s in psm", dist, now.Sub(c.enteredAt))
		return c.zone, ErrTooSoon
	}

	tracef("dist=%d zone=%s -> %s", dist, c.zone, target)
	c.transition(target, now)
	return c.zone, nil
}

// Set forces the zone, bypassing hysteresis and dwell. It is idempotent
// and always resets the last-update clock.
func (c *Classifier) Set(z Zone, now time.Time) error {
	if !z.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidZone, uint8(z))
	}
	c.lastUpdate = now
	c.transition(z, now)
	return nil
}

func (c *Classifier) transition(z Zone, now time.Time) {
	if z == c.zone {
		return
	}
	diagf("zone %s -> %s", c.zone, z)
	c.zone = z
	c.enteredAt = now
}

func (c *Classifier) classify(dist int16) Zone {
	d := int32(dist)
	switch {
	case d >= c.cfg.enterAt(Warn):
		return Warn
	case d >= c.cfg.enterAt(Prewarn):
		return Prewarn
	case d >= c.cfg.enterAt(Caution):
		return Caution
	default:
		return PSM
	}
}

func (c *Classifier) walk(from Zone, dist int16) Zone {
	d := int32(dist)
	z := from
	for z < Warn && d >= c.cfg.enterAt(z+1) {
		z++
	}
	if z != from {
		return z
	}
	for z > PSM && d < c.cfg.leaveBelow(z) {
		z--
	}
	return z
}
