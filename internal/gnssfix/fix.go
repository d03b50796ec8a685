// Package gnssfix holds the GNSS fix record delivered by the receiver
// driver and the tiered fix-quality classifier.
package gnssfix

import (
	"fmt"
	"time"
)

// ReceiverMode is the acquisition mode the receiver was in when it produced
// a fix, ordered from least to most precise.
type ReceiverMode uint8

const (
	NoMode ReceiverMode = iota
	Inactive
	PSM
	Caution
	Max
)

func (m ReceiverMode) String() string {
	switch m {
	case NoMode:
		return "nomode"
	case Inactive:
		return "inactive"
	case PSM:
		return "psm"
	case Caution:
		return "caution"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("ReceiverMode(%d)", uint8(m))
	}
}

// PVTFlagFixOK is bit 0 of Fix.PVTFlags, set by the receiver when the
// navigation solution is within its accuracy mask.
const PVTFlagFixOK = 0x01

// Fix is one navigation solution. It is a value type and is never mutated
// after it has been published to the fix cache.
type Fix struct {
	Lat int32 `json:"lat"` // 1e-7 degrees
	Lon int32 `json:"lon"` // 1e-7 degrees

	// X and Y are the position in the pasture frame, decimeters.
	X int16 `json:"x"`
	Y int16 `json:"y"`
	// Overflow is set when the projected position does not fit X/Y.
	Overflow bool `json:"overflow"`

	Height   int16  `json:"height"`    // dm
	Speed    int16  `json:"speed"`     // cm/s
	HeadVeh  int32  `json:"head_veh"`  // 1e-5 degrees
	HeadAcc  uint32 `json:"head_acc"`  // 1e-5 degrees
	HDOP     uint16 `json:"hdop"`      // 0.01
	HAccDM   uint16 `json:"h_acc_dm"`  // dm
	VAccDM   uint16 `json:"v_acc_dm"`  // dm
	NumSV    uint8  `json:"num_sv"`    // satellites used
	PVTFlags uint8  `json:"pvt_flags"` // see PVTFlagFixOK
	PVTValid uint8  `json:"pvt_valid"`
	FixOK    bool   `json:"fix_ok"`

	Mode      ReceiverMode `json:"mode"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Valid reports whether the receiver flagged the record as a usable fix.
// Both the fix-ok flag and PVT bit 0 are required.
func (f Fix) Valid() bool {
	return f.FixOK && f.PVTFlags&PVTFlagFixOK != 0
}
