package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/amc.defaults.json"

// TuningConfig holds every threshold of the monitor engine. All fields are
// optional; the Get* accessors fall back to the built-in defaults, so a
// partial file only overrides what it names.
//
// Distances are decimeters, HDOP is in hundredths, durations are strings
// accepted by time.ParseDuration.
type TuningConfig struct {
	// Zone bands
	ZoneWarnMinDM           *int    `json:"zone_warn_min_dm,omitempty"`
	ZoneWarnHysteresisDM    *int    `json:"zone_warn_hysteresis_dm,omitempty"`
	ZonePrewarnMinDM        *int    `json:"zone_prewarn_min_dm,omitempty"`
	ZonePrewarnHysteresisDM *int    `json:"zone_prewarn_hysteresis_dm,omitempty"`
	ZoneCautionMinDM        *int    `json:"zone_caution_min_dm,omitempty"`
	ZoneCautionHysteresisDM *int    `json:"zone_caution_hysteresis_dm,omitempty"`
	PSMDwell                *string `json:"psm_dwell,omitempty"`

	// GNSS fix tiers
	EasyMinSV          *int    `json:"easy_min_sv,omitempty"`
	EasyMaxHDOP        *int    `json:"easy_max_hdop,omitempty"`
	EasyMaxHAccDM      *int    `json:"easy_max_hacc_dm,omitempty"`
	AcceptedMinSV      *int    `json:"accepted_min_sv,omitempty"`
	AcceptedMaxHDOP    *int    `json:"accepted_max_hdop,omitempty"`
	AcceptedMaxHAccDM  *int    `json:"accepted_max_hacc_dm,omitempty"`
	FixTimeout         *string `json:"fix_timeout,omitempty"`
	EasyFixTimeout     *string `json:"easy_fix_timeout,omitempty"`
	AcceptedFixTimeout *string `json:"accepted_fix_timeout,omitempty"`

	// Trend rings
	TrendSamples *int `json:"trend_samples,omitempty"`
	TrendHorizon *int `json:"trend_horizon,omitempty"`

	// Warn fix steadiness
	FenceJumpSlope     *int `json:"fence_jump_slope,omitempty"`
	FenceJumpMinRun    *int `json:"fence_jump_min_run,omitempty"`
	TeachJumpSlope     *int `json:"teach_jump_slope,omitempty"`
	TeachJumpMinRun    *int `json:"teach_jump_min_run,omitempty"`
	SustainedSlope     *int `json:"sustained_slope,omitempty"`
	WarnMaxAccDeltaDM  *int `json:"warn_max_acc_delta_dm,omitempty"`
	WarnMaxHeightDelta *int `json:"warn_max_height_delta_dm,omitempty"`

	// Correction
	ToneInitHz         *int    `json:"tone_init_hz,omitempty"`
	ToneMaxHz          *int    `json:"tone_max_hz,omitempty"`
	ToneStepHz         *int    `json:"tone_step_hz,omitempty"`
	ToneStepInterval   *string `json:"tone_step_interval,omitempty"`
	MaxToneHold        *string `json:"max_tone_hold,omitempty"`
	ZapCooldown        *string `json:"zap_cooldown,omitempty"`
	PauseMinTime       *string `json:"pause_min_time,omitempty"`
	LastDistAddDM      *int    `json:"last_dist_add_dm,omitempty"`
	BadFixOffsetDM     *int    `json:"bad_fix_offset_dm,omitempty"`
	ZapOffsetDM        *int    `json:"zap_offset_dm,omitempty"`
	WarnFloorDM        *int    `json:"warn_floor_dm,omitempty"`
	FencePauseDistDM   *int    `json:"fence_pause_dist_dm,omitempty"`
	TeachPauseDistDM   *int    `json:"teach_pause_dist_dm,omitempty"`
	TeachRetreatSlope  *int    `json:"teach_retreat_slope,omitempty"`
	FenceToneIncSlope  *int    `json:"fence_tone_inc_slope,omitempty"`
	FenceToneDecSlope  *int    `json:"fence_tone_dec_slope,omitempty"`
	TeachToneIncSlope  *int    `json:"teach_tone_inc_slope,omitempty"`
	TeachToneDecSlope  *int    `json:"teach_tone_dec_slope,omitempty"`

	// Collar states
	TeachWarnsToFence *int    `json:"teach_warns_to_fence,omitempty"`
	MaxZapsPerEpisode *int    `json:"max_zaps_per_episode,omitempty"`
	MaybeOutDelay     *string `json:"maybe_out_delay,omitempty"`
	EscapeDelay       *string `json:"escape_delay,omitempty"`

	// Pipeline
	PastureCacheTimeout *string `json:"pasture_cache_timeout,omitempty"`
	FixCacheTimeout     *string `json:"fix_cache_timeout,omitempty"`
	TickInterval        *string `json:"tick_interval,omitempty"`
}

// Helper functions to create pointers
func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil, so
// every accessor yields its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	dur := func(d time.Duration) *string { return ptrString(d.String()) }
	return &TuningConfig{
		ZoneWarnMinDM:           ptrInt(e.GetZoneWarnMinDM()),
		ZoneWarnHysteresisDM:    ptrInt(e.GetZoneWarnHysteresisDM()),
		ZonePrewarnMinDM:        ptrInt(e.GetZonePrewarnMinDM()),
		ZonePrewarnHysteresisDM: ptrInt(e.GetZonePrewarnHysteresisDM()),
		ZoneCautionMinDM:        ptrInt(e.GetZoneCautionMinDM()),
		ZoneCautionHysteresisDM: ptrInt(e.GetZoneCautionHysteresisDM()),
		PSMDwell:                dur(e.GetPSMDwell()),
		EasyMinSV:               ptrInt(e.GetEasyMinSV()),
		EasyMaxHDOP:             ptrInt(e.GetEasyMaxHDOP()),
		EasyMaxHAccDM:           ptrInt(e.GetEasyMaxHAccDM()),
		AcceptedMinSV:           ptrInt(e.GetAcceptedMinSV()),
		AcceptedMaxHDOP:         ptrInt(e.GetAcceptedMaxHDOP()),
		AcceptedMaxHAccDM:       ptrInt(e.GetAcceptedMaxHAccDM()),
		FixTimeout:              dur(e.GetFixTimeout()),
		EasyFixTimeout:          dur(e.GetEasyFixTimeout()),
		AcceptedFixTimeout:      dur(e.GetAcceptedFixTimeout()),
		TrendSamples:            ptrInt(e.GetTrendSamples()),
		TrendHorizon:            ptrInt(e.GetTrendHorizon()),
		FenceJumpSlope:          ptrInt(e.GetFenceJumpSlope()),
		FenceJumpMinRun:         ptrInt(e.GetFenceJumpMinRun()),
		TeachJumpSlope:          ptrInt(e.GetTeachJumpSlope()),
		TeachJumpMinRun:         ptrInt(e.GetTeachJumpMinRun()),
		SustainedSlope:          ptrInt(e.GetSustainedSlope()),
		WarnMaxAccDeltaDM:       ptrInt(e.GetWarnMaxAccDeltaDM()),
		WarnMaxHeightDelta:      ptrInt(e.GetWarnMaxHeightDeltaDM()),
		ToneInitHz:              ptrInt(e.GetToneInitHz()),
		ToneMaxHz:               ptrInt(e.GetToneMaxHz()),
		ToneStepHz:              ptrInt(e.GetToneStepHz()),
		ToneStepInterval:        dur(e.GetToneStepInterval()),
		MaxToneHold:             dur(e.GetMaxToneHold()),
		ZapCooldown:             dur(e.GetZapCooldown()),
		PauseMinTime:            dur(e.GetPauseMinTime()),
		LastDistAddDM:           ptrInt(e.GetLastDistAddDM()),
		BadFixOffsetDM:          ptrInt(e.GetBadFixOffsetDM()),
		ZapOffsetDM:             ptrInt(e.GetZapOffsetDM()),
		WarnFloorDM:             ptrInt(e.GetWarnFloorDM()),
		FencePauseDistDM:        ptrInt(e.GetFencePauseDistDM()),
		TeachPauseDistDM:        ptrInt(e.GetTeachPauseDistDM()),
		TeachRetreatSlope:       ptrInt(e.GetTeachRetreatSlope()),
		FenceToneIncSlope:       ptrInt(e.GetFenceToneIncSlope()),
		FenceToneDecSlope:       ptrInt(e.GetFenceToneDecSlope()),
		TeachToneIncSlope:       ptrInt(e.GetTeachToneIncSlope()),
		TeachToneDecSlope:       ptrInt(e.GetTeachToneDecSlope()),
		TeachWarnsToFence:       ptrInt(e.GetTeachWarnsToFence()),
		MaxZapsPerEpisode:       ptrInt(e.GetMaxZapsPerEpisode()),
		MaybeOutDelay:           dur(e.GetMaybeOutDelay()),
		EscapeDelay:             dur(e.GetEscapeDelay()),
		PastureCacheTimeout:     dur(e.GetPastureCacheTimeout()),
		FixCacheTimeout:         dur(e.GetFixCacheTimeout()),
		TickInterval:            dur(e.GetTickInterval()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath, searching the current directory and its parents.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/fence-replay/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are consistent.
func (c *TuningConfig) Validate() error {
	durations := map[string]*string{
		"psm_dwell":             c.PSMDwell,
		"fix_timeout":           c.FixTimeout,
		"easy_fix_timeout":      c.EasyFixTimeout,
		"accepted_fix_timeout":  c.AcceptedFixTimeout,
		"tone_step_interval":    c.ToneStepInterval,
		"max_tone_hold":         c.MaxToneHold,
		"zap_cooldown":          c.ZapCooldown,
		"pause_min_time":        c.PauseMinTime,
		"maybe_out_delay":       c.MaybeOutDelay,
		"escape_delay":          c.EscapeDelay,
		"pasture_cache_timeout": c.PastureCacheTimeout,
		"fix_cache_timeout":     c.FixCacheTimeout,
		"tick_interval":         c.TickInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}

	warn, prewarn, caution := c.GetZoneWarnMinDM(), c.GetZonePrewarnMinDM(), c.GetZoneCautionMinDM()
	if !(warn > prewarn && prewarn > caution) {
		return fmt.Errorf("zone bounds must decrease warn > prewarn > caution, got %d, %d, %d", warn, prewarn, caution)
	}
	for name, h := range map[string]int{
		"zone_warn_hysteresis_dm":    c.GetZoneWarnHysteresisDM(),
		"zone_prewarn_hysteresis_dm": c.GetZonePrewarnHysteresisDM(),
		"zone_caution_hysteresis_dm": c.GetZoneCautionHysteresisDM(),
	} {
		if h < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, h)
		}
	}

	if !(c.GetAcceptedFixTimeout() <= c.GetEasyFixTimeout() && c.GetEasyFixTimeout() <= c.GetFixTimeout()) {
		return fmt.Errorf("fix timeouts must satisfy accepted <= easy <= fix, got %s, %s, %s",
			c.GetAcceptedFixTimeout(), c.GetEasyFixTimeout(), c.GetFixTimeout())
	}

	if c.GetToneInitHz() <= 0 || c.GetToneInitHz() >= c.GetToneMaxHz() {
		return fmt.Errorf("tone_init_hz must be positive and below tone_max_hz, got %d and %d", c.GetToneInitHz(), c.GetToneMaxHz())
	}
	if c.GetToneStepHz() <= 0 {
		return fmt.Errorf("tone_step_hz must be positive, got %d", c.GetToneStepHz())
	}

	if c.GetTrendSamples() < 1 || c.GetTrendHorizon() < 1 {
		return fmt.Errorf("trend_samples and trend_horizon must be at least 1, got %d and %d", c.GetTrendSamples(), c.GetTrendHorizon())
	}
	if c.GetFenceJumpMinRun() < 0 || c.GetTeachJumpMinRun() < 0 {
		return fmt.Errorf("jump min runs must not be negative, got %d and %d", c.GetFenceJumpMinRun(), c.GetTeachJumpMinRun())
	}
	if c.GetWarnMaxAccDeltaDM() < 0 || c.GetWarnMaxHeightDeltaDM() < 0 {
		return fmt.Errorf("warn_max_acc_delta_dm and warn_max_height_delta_dm must not be negative, got %d and %d",
			c.GetWarnMaxAccDeltaDM(), c.GetWarnMaxHeightDeltaDM())
	}
	if c.GetMaxZapsPerEpisode() < 1 {
		return fmt.Errorf("max_zaps_per_episode must be at least 1, got %d", c.GetMaxZapsPerEpisode())
	}

	return nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// durationOr parses v, returning def when v is unset or unparseable.
func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetZoneWarnMinDM returns the lower bound of the Warn band.
func (c *TuningConfig) GetZoneWarnMinDM() int { return intOr(c.ZoneWarnMinDM, 0) }

// GetZoneWarnHysteresisDM returns the margin below the Warn bound before leaving Warn.
func (c *TuningConfig) GetZoneWarnHysteresisDM() int { return intOr(c.ZoneWarnHysteresisDM, 0) }

// GetZonePrewarnMinDM returns the lower bound of the Prewarn band.
func (c *TuningConfig) GetZonePrewarnMinDM() int { return intOr(c.ZonePrewarnMinDM, -50) }

// GetZonePrewarnHysteresisDM returns the margin below the Prewarn bound before leaving Prewarn.
func (c *TuningConfig) GetZonePrewarnHysteresisDM() int { return intOr(c.ZonePrewarnHysteresisDM, 20) }

// GetZoneCautionMinDM returns the lower bound of the Caution band.
func (c *TuningConfig) GetZoneCautionMinDM() int { return intOr(c.ZoneCautionMinDM, -150) }

// GetZoneCautionHysteresisDM returns the margin below the Caution bound before leaving Caution.
func (c *TuningConfig) GetZoneCautionHysteresisDM() int { return intOr(c.ZoneCautionHysteresisDM, 30) }

// GetPSMDwell returns the minimum time in PSM before a direct jump to Warn is honoured.
func (c *TuningConfig) GetPSMDwell() time.Duration { return durationOr(c.PSMDwell, 5*time.Second) }

func (c *TuningConfig) GetEasyMinSV() int         { return intOr(c.EasyMinSV, 5) }
func (c *TuningConfig) GetEasyMaxHDOP() int       { return intOr(c.EasyMaxHDOP, 200) }
func (c *TuningConfig) GetEasyMaxHAccDM() int     { return intOr(c.EasyMaxHAccDM, 70) }
func (c *TuningConfig) GetAcceptedMinSV() int     { return intOr(c.AcceptedMinSV, 6) }
func (c *TuningConfig) GetAcceptedMaxHDOP() int   { return intOr(c.AcceptedMaxHDOP, 150) }
func (c *TuningConfig) GetAcceptedMaxHAccDM() int { return intOr(c.AcceptedMaxHAccDM, 35) }

// GetFixTimeout returns how long a plain fix stays valid without a new record.
func (c *TuningConfig) GetFixTimeout() time.Duration {
	return durationOr(c.FixTimeout, 5*time.Second)
}

// GetEasyFixTimeout returns how long an easy fix stays valid without a new record.
func (c *TuningConfig) GetEasyFixTimeout() time.Duration {
	return durationOr(c.EasyFixTimeout, 2500*time.Millisecond)
}

// GetAcceptedFixTimeout returns how long an accepted fix stays valid without a new record.
func (c *TuningConfig) GetAcceptedFixTimeout() time.Duration {
	return durationOr(c.AcceptedFixTimeout, 1500*time.Millisecond)
}

func (c *TuningConfig) GetTrendSamples() int { return intOr(c.TrendSamples, 10) }
func (c *TuningConfig) GetTrendHorizon() int { return intOr(c.TrendHorizon, 4) }

// A distance slope steeper than the jump slope only counts as movement when
// backed by a run of at least the min run consecutive steps.
func (c *TuningConfig) GetFenceJumpSlope() int  { return intOr(c.FenceJumpSlope, 30) }
func (c *TuningConfig) GetFenceJumpMinRun() int { return intOr(c.FenceJumpMinRun, 3) }
func (c *TuningConfig) GetTeachJumpSlope() int  { return intOr(c.TeachJumpSlope, 20) }
func (c *TuningConfig) GetTeachJumpMinRun() int { return intOr(c.TeachJumpMinRun, 2) }
func (c *TuningConfig) GetSustainedSlope() int  { return intOr(c.SustainedSlope, 10) }

func (c *TuningConfig) GetWarnMaxAccDeltaDM() int    { return intOr(c.WarnMaxAccDeltaDM, 30) }
func (c *TuningConfig) GetWarnMaxHeightDeltaDM() int { return intOr(c.WarnMaxHeightDelta, 50) }

func (c *TuningConfig) GetToneInitHz() int { return intOr(c.ToneInitHz, 2150) }
func (c *TuningConfig) GetToneMaxHz() int  { return intOr(c.ToneMaxHz, 4200) }
func (c *TuningConfig) GetToneStepHz() int { return intOr(c.ToneStepHz, 20) }

// GetToneStepInterval returns the cadence of tone adjustments while warning.
func (c *TuningConfig) GetToneStepInterval() time.Duration {
	return durationOr(c.ToneStepInterval, 250*time.Millisecond)
}

// GetMaxToneHold returns how long the tone must sit at maximum before a pulse.
func (c *TuningConfig) GetMaxToneHold() time.Duration {
	return durationOr(c.MaxToneHold, 5*time.Second)
}

// GetZapCooldown returns the evaluation window after a pulse.
func (c *TuningConfig) GetZapCooldown() time.Duration {
	return durationOr(c.ZapCooldown, 6*time.Second)
}

// GetPauseMinTime returns the minimum pause before a warning may resume.
func (c *TuningConfig) GetPauseMinTime() time.Duration {
	return durationOr(c.PauseMinTime, 3*time.Second)
}

func (c *TuningConfig) GetLastDistAddDM() int     { return intOr(c.LastDistAddDM, 10) }
func (c *TuningConfig) GetBadFixOffsetDM() int    { return intOr(c.BadFixOffsetDM, 20) }
func (c *TuningConfig) GetZapOffsetDM() int       { return intOr(c.ZapOffsetDM, 30) }
func (c *TuningConfig) GetWarnFloorDM() int       { return intOr(c.WarnFloorDM, -100) }
func (c *TuningConfig) GetFencePauseDistDM() int  { return intOr(c.FencePauseDistDM, -20) }
func (c *TuningConfig) GetTeachPauseDistDM() int  { return intOr(c.TeachPauseDistDM, -10) }
func (c *TuningConfig) GetTeachRetreatSlope() int { return intOr(c.TeachRetreatSlope, -6) }
func (c *TuningConfig) GetFenceToneIncSlope() int { return intOr(c.FenceToneIncSlope, -1) }
func (c *TuningConfig) GetFenceToneDecSlope() int { return intOr(c.FenceToneDecSlope, -8) }
func (c *TuningConfig) GetTeachToneIncSlope() int { return intOr(c.TeachToneIncSlope, 1) }
func (c *TuningConfig) GetTeachToneDecSlope() int { return intOr(c.TeachToneDecSlope, -4) }

func (c *TuningConfig) GetTeachWarnsToFence() int { return intOr(c.TeachWarnsToFence, 20) }
func (c *TuningConfig) GetMaxZapsPerEpisode() int { return intOr(c.MaxZapsPerEpisode, 3) }

// GetMaybeOutDelay returns how long the collar may sit in Warn without a
// running tone before the fence status becomes MaybeOutOfFence.
func (c *TuningConfig) GetMaybeOutDelay() time.Duration {
	return durationOr(c.MaybeOutDelay, 30*time.Second)
}

// GetEscapeDelay returns how long MaybeOutOfFence may last before Escaped.
func (c *TuningConfig) GetEscapeDelay() time.Duration {
	return durationOr(c.EscapeDelay, 5*time.Minute)
}

// GetPastureCacheTimeout returns the bounded wait for the pasture cache.
func (c *TuningConfig) GetPastureCacheTimeout() time.Duration {
	return durationOr(c.PastureCacheTimeout, 2*time.Second)
}

// GetFixCacheTimeout returns the bounded wait for the GNSS fix cache.
func (c *TuningConfig) GetFixCacheTimeout() time.Duration {
	return durationOr(c.FixCacheTimeout, 50*time.Millisecond)
}

// GetTickInterval returns the period of the expiry/cadence tick.
func (c *TuningConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 250*time.Millisecond)
}
