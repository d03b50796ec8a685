package trend

import (
	"github.com/banshee-data/collar.amc/internal/config"
)

// Config sizes the rings of a Set.
type Config struct {
	// Samples is the capacity of the distance, accuracy and height rings.
	Samples int
	// Horizon is the capacity of the ring of distance means.
	Horizon int

	Fence Limits
	Teach Limits
}

// Limits bound how steady the trend must be before a fix may start or
// resume a warning.
type Limits struct {
	// A distance slope steeper than JumpSlope, in either direction, is a
	// position jump unless at least MinRun consecutive samples moved the
	// same way.
	JumpSlope int
	MinRun    int
	// SustainedSlope lets an outward drift on the ring of means vouch for
	// a steep outward slope with a short run.
	SustainedSlope int

	MaxAccDeltaDM    int
	MaxHeightDeltaDM int
}

// DefaultConfig returns the default ring sizes.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from the tuning file.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Samples: cfg.GetTrendSamples(),
		Horizon: cfg.GetTrendHorizon(),
		Fence:   Limits{
			JumpSlope:        cfg.GetFenceJumpSlope(),
			MinRun:           cfg.GetFenceJumpMinRun(),
			SustainedSlope:   cfg.GetSustainedSlope(),
			MaxAccDeltaDM:    cfg.GetWarnMaxAccDeltaDM(),
			MaxHeightDeltaDM: cfg.GetWarnMaxHeightDeltaDM(),
		},
		Teach: Limits{
			JumpSlope:        cfg.GetTeachJumpSlope(),
			MinRun:           cfg.GetTeachJumpMinRun(),
			SustainedSlope:   cfg.GetSustainedSlope(),
			MaxAccDeltaDM:    cfg.GetWarnMaxAccDeltaDM(),
			MaxHeightDeltaDM: cfg.GetWarnMaxHeightDeltaDM(),
		},
	}
}

// LimitsFor returns the Teach limits when teach is set, else the Fence
// limits.
func (c Config) LimitsFor(teach bool) Limits {
	if teach {
		return c.Teach
	}
	return c.Fence
}

// Snapshot is the set of derived values consumed once per accepted fix.
type Snapshot struct {
	// Ready is set once the distance ring has filled since the last reset.
	Ready bool

	MeanDist       int16
	DistSlope      int16
	DistRisingRun  int
	DistFallingRun int
	AccDelta       int16
	HeightDelta    int16

	// SustainedReady is set once the ring of means has filled.
	SustainedReady bool
	SustainedSlope int16
}

// Set groups the rings fed on every accepted fix.
type Set struct {
	dist   *Ring
	acc    *Ring
	height *Ring
	means  *Ring

	sinceMean int
}

// NewSet allocates every ring.
func NewSet(cfg Config) *Set {
	return &Set{
		dist:   NewRing(cfg.Samples),
		acc:    NewRing(cfg.Samples),
		height: NewRing(cfg.Samples),
		means:  NewRing(cfg.Horizon),
	}
}

// Push records one accepted fix. Each time the distance ring has taken a
// full refill, its mean is pushed onto the long-horizon ring.
func (s *Set) Push(dist, acc, height int16) {
	s.dist.Push(dist)
	s.acc.Push(acc)
	s.height.Push(height)

	s.sinceMean++
	if s.sinceMean >= s.dist.Cap() {
		s.means.Push(s.dist.Mean())
		s.sinceMean = 0
	}
}

// Reset clears every ring.
func (s *Set) Reset() {
	s.dist.Reset()
	s.acc.Reset()
	s.height.Reset()
	s.means.Reset()
	s.sinceMean = 0
}

// Ready reports whether the distance ring has filled.
func (s *Set) Ready() bool { return s.means.Len() > 0 }

// Snapshot derives the current trend values.
func (s *Set) Snapshot() Snapshot {
	snap := Snapshot{Ready: s.Ready()}
	if !snap.Ready {
		return snap
	}
	snap.MeanDist = s.dist.Mean()
	snap.DistSlope = s.dist.Slope()
	snap.DistRisingRun = s.dist.RisingRun()
	snap.DistFallingRun = s.dist.FallingRun()
	snap.AccDelta = s.acc.Delta()
	snap.HeightDelta = s.height.Delta()
	if s.means.Full() {
		snap.SustainedReady = true
		snap.SustainedSlope = s.means.Slope()
	}
	return snap
}

// Steady reports whether the snapshot is trustworthy enough to warn on:
// the rings are ready, accuracy and height have not swung beyond lim, and
// the distance has not jumped.
func (s Snapshot) Steady(lim Limits) bool {
	if !s.Ready {
		return false
	}
	if int(s.AccDelta) > lim.MaxAccDeltaDM || int(s.HeightDelta) > lim.MaxHeightDeltaDM {
		return false
	}
	switch slope := int(s.DistSlope); {
	case slope > lim.JumpSlope && s.DistRisingRun < lim.MinRun:
		return s.SustainedReady && int(s.SustainedSlope) >= lim.SustainedSlope
	case slope < -lim.JumpSlope && s.DistFallingRun < lim.MinRun:
		return false
	}
	return true
}
