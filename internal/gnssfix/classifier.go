package gnssfix

import (
	"fmt"
	"time"

	"github.com/banshee-data/collar.amc/internal/config"
)

// Tier is the fix-quality level. Tiers are nested: AcceptedFix implies
// EasyFix implies PlainFix.
type Tier uint8

const (
	NoFix Tier = iota
	PlainFix
	EasyFix
	AcceptedFix
)

const tierCount = int(AcceptedFix) + 1

func (t Tier) String() string {
	switch t {
	case NoFix:
		return "nofix"
	case PlainFix:
		return "fix"
	case EasyFix:
		return "easyfix"
	case AcceptedFix:
		return "acceptedfix"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// Config holds the quality thresholds and per-tier timeouts.
type Config struct {
	EasyMinSV     uint8
	EasyMaxHDOP   uint16
	EasyMaxHAccDM uint16

	AcceptedMinSV     uint8
	AcceptedMaxHDOP   uint16
	AcceptedMaxHAccDM uint16

	FixTimeout         time.Duration
	EasyFixTimeout     time.Duration
	AcceptedFixTimeout time.Duration
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		EasyMinSV:          uint8(cfg.GetEasyMinSV()),
		EasyMaxHDOP:        uint16(cfg.GetEasyMaxHDOP()),
		EasyMaxHAccDM:      uint16(cfg.GetEasyMaxHAccDM()),
		AcceptedMinSV:      uint8(cfg.GetAcceptedMinSV()),
		AcceptedMaxHDOP:    uint16(cfg.GetAcceptedMaxHDOP()),
		AcceptedMaxHAccDM:  uint16(cfg.GetAcceptedMaxHAccDM()),
		FixTimeout:         cfg.GetFixTimeout(),
		EasyFixTimeout:     cfg.GetEasyFixTimeout(),
		AcceptedFixTimeout: cfg.GetAcceptedFixTimeout(),
	}
}

func (c Config) timeout(t Tier) time.Duration {
	switch t {
	case PlainFix:
		return c.FixTimeout
	case EasyFix:
		return c.EasyFixTimeout
	case AcceptedFix:
		return c.AcceptedFixTimeout
	default:
		return 0
	}
}

// Classifier tracks the current fix tier. Each record sets the tier to
// exactly what it qualifies for; between records, each tier expires on its
// own deadline, higher tiers first.
//
// A Classifier is owned by the calculation queue and is not safe for
// concurrent use.
type Classifier struct {
	cfg       Config
	tier      Tier
	deadlines [tierCount]time.Time
	last      Fix
	hasLast   bool
	onTimeout func(lost Tier)
}

// NewClassifier returns a classifier in NoFix.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// OnTimeout registers fn to be called once for every tier lost through a
// timeout. Passing nil removes the handler.
func (c *Classifier) OnTimeout(fn func(lost Tier)) {
	c.onTimeout = fn
}

// Qualify returns the tier f qualifies for, without changing state.
func (c *Classifier) Qualify(f Fix) Tier {
	if !f.Valid() {
		return NoFix
	}
	if f.NumSV < c.cfg.EasyMinSV || f.HDOP > c.cfg.EasyMaxHDOP || f.HAccDM > c.cfg.EasyMaxHAccDM {
		return PlainFix
	}
	if f.NumSV < c.cfg.AcceptedMinSV || f.HDOP > c.cfg.AcceptedMaxHDOP || f.HAccDM > c.cfg.AcceptedMaxHAccDM {
		return EasyFix
	}
	return AcceptedFix
}

// Update classifies a new record received at now and returns the new tier.
// Deadlines of every tier the record qualifies for are refreshed; the
// others are cleared, so a weaker record demotes immediately.
func (c *Classifier) Update(f Fix, now time.Time) Tier {
	q := c.Qualify(f)
	c.last = f
	c.hasLast = true
	for t := PlainFix; t <= AcceptedFix; t++ {
		if t <= q {
			c.deadlines[t] = now.Add(c.cfg.timeout(t))
		} else {
			c.deadlines[t] = time.Time{}
		}
	}
	if q != c.tier {
		diagf("fix tier %s -> %s (sv=%d hdop=%d hacc=%ddm)", c.tier, q, f.NumSV, f.HDOP, f.HAccDM)
	}
	c.tier = q
	return q
}

// Expire demotes the tier past every deadline that has elapsed at now,
// invoking the timeout handler once per lost tier.
func (c *Classifier) Expire(now time.Time) Tier {
	for c.tier > NoFix && !now.Before(c.deadlines[c.tier]) {
		c.demote()
	}
	return c.tier
}

// Timeout handles an explicit receiver timeout: every tier is lost.
func (c *Classifier) Timeout() Tier {
	for c.tier > NoFix {
		c.demote()
	}
	return c.tier
}

func (c *Classifier) demote() {
	lost := c.tier
	c.deadlines[lost] = time.Time{}
	c.tier--
	opsf("fix tier %s timed out, now %s", lost, c.tier)
	if c.onTimeout != nil {
		c.onTimeout(lost)
	}
}

// Tier returns the current tier.
func (c *Classifier) Tier() Tier { return c.tier }

func (c *Classifier) HasFix() bool         { return c.tier >= PlainFix }
func (c *Classifier) HasEasyFix() bool     { return c.tier >= EasyFix }
func (c *Classifier) HasAcceptedFix() bool { return c.tier >= AcceptedFix }

// HasWarnFix reports an accepted fix acquired in Max receiver mode, the
// precondition for starting a warning.
func (c *Classifier) HasWarnFix() bool {
	return c.tier == AcceptedFix && c.hasLast && c.last.Mode == Max
}

// Last returns the most recent record, if any.
func (c *Classifier) Last() (Fix, bool) {
	return c.last, c.hasLast
}
