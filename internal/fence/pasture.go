package fence

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Limits on a pasture definition. They bound the work done by Distance
// on every GNSS fix.
const (
	MaxFences         = 10
	MaxPointsPerFence = 40
)

var (
	// ErrInvalidPasture is returned for a nil pasture, a pasture without
	// fences, or one that fails structural validation.
	ErrInvalidPasture = errors.New("invalid pasture")

	// ErrChecksumMismatch is returned when the stored checksum does not
	// match the pasture contents.
	ErrChecksumMismatch = errors.New("pasture checksum mismatch")
)

// FenceType selects which side of a ring is considered inside the pasture.
type FenceType uint8

const (
	// Normal rings enclose grazing area.
	Normal FenceType = iota
	// Inverted rings are holes (exclusion zones) within a Normal ring.
	Inverted
)

func (t FenceType) String() string {
	switch t {
	case Normal:
		return "normal"
	case Inverted:
		return "inverted"
	default:
		return fmt.Sprintf("FenceType(%d)", uint8(t))
	}
}

// Coordinate is a point in the pasture's local frame, in decimeters
// relative to the pasture origin.
type Coordinate struct {
	X int16 `json:"x" cbor:"1,keyasint"`
	Y int16 `json:"y" cbor:"2,keyasint"`
}

// Fence is one ring of the pasture. The ring is closed: if the last point
// differs from the first, a closing edge is implied.
type Fence struct {
	ID     uint16       `json:"id" cbor:"1,keyasint"`
	Type   FenceType    `json:"type" cbor:"2,keyasint"`
	Points []Coordinate `json:"points" cbor:"3,keyasint"`
}

// Pasture is a complete fence definition. A Pasture is replaced wholesale
// when a new definition arrives and is never mutated once installed.
type Pasture struct {
	OriginLat int32   `json:"origin_lat" cbor:"1,keyasint"`
	OriginLon int32   `json:"origin_lon" cbor:"2,keyasint"`
	KLat      uint16  `json:"k_lat" cbor:"3,keyasint"`
	KLon      uint16  `json:"k_lon" cbor:"4,keyasint"`
	Version   uint32  `json:"version" cbor:"5,keyasint"`
	Checksum  uint32  `json:"checksum" cbor:"6,keyasint"`
	Fences    []Fence `json:"fences" cbor:"7,keyasint"`
}

// closed reports whether the point list already repeats its first point.
func (f *Fence) closed() bool {
	n := len(f.Points)
	return n > 1 && f.Points[0] == f.Points[n-1]
}

// edgeCount is the number of directed edges in the ring.
func (f *Fence) edgeCount() int {
	n := len(f.Points)
	if n < 2 {
		return 0
	}
	if f.closed() {
		return n - 1
	}
	return n
}

// edge returns the endpoints of edge i (1-based). Edge i ends at point i,
// and for open rings edge n ends back at point 0.
func (f *Fence) edge(i int) (Coordinate, Coordinate) {
	if i == len(f.Points) {
		return f.Points[i-1], f.Points[0]
	}
	return f.Points[i-1], f.Points[i]
}

// Validate checks the ring has a known type and at least three distinct
// points.
func (f *Fence) Validate() error {
	if f.Type != Normal && f.Type != Inverted {
		return fmt.Errorf("%w: fence %d has unknown type %d", ErrInvalidPasture, f.ID, f.Type)
	}
	if len(f.Points) > MaxPointsPerFence+1 {
		return fmt.Errorf("%w: fence %d has %d points (max %d)", ErrInvalidPasture, f.ID, len(f.Points), MaxPointsPerFence)
	}
	distinct := make(map[Coordinate]struct{}, len(f.Points))
	for _, p := range f.Points {
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("%w: fence %d has %d distinct points", ErrInvalidPasture, f.ID, len(distinct))
	}
	return nil
}

// Validate checks every fence of the pasture.
func (p *Pasture) Validate() error {
	if p == nil {
		return ErrInvalidPasture
	}
	if len(p.Fences) == 0 {
		return fmt.Errorf("%w: no fences", ErrInvalidPasture)
	}
	if len(p.Fences) > MaxFences {
		return fmt.Errorf("%w: %d fences (max %d)", ErrInvalidPasture, len(p.Fences), MaxFences)
	}
	for i := range p.Fences {
		if err := p.Fences[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ComputeChecksum returns the CRC-32 (IEEE) of the origin, the projection
// scale and every coordinate, little-endian, in fence order.
func (p *Pasture) ComputeChecksum() uint32 {
	h := crc32.NewIEEE()
	var buf [12]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(p.OriginLat))
	binary.LittleEndian.PutUint32(buf[4:], uint32(p.OriginLon))
	binary.LittleEndian.PutUint16(buf[8:], p.KLat)
	binary.LittleEndian.PutUint16(buf[10:], p.KLon)
	h.Write(buf[:])
	for _, f := range p.Fences {
		for _, c := range f.Points {
			binary.LittleEndian.PutUint16(buf[0:], uint16(c.X))
			binary.LittleEndian.PutUint16(buf[2:], uint16(c.Y))
			h.Write(buf[:4])
		}
	}
	return h.Sum32()
}

// Seal stores the computed checksum on the pasture.
func (p *Pasture) Seal() {
	p.Checksum = p.ComputeChecksum()
}

// VerifyChecksum validates the structure and the stored checksum.
func (p *Pasture) VerifyChecksum() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if got := p.ComputeChecksum(); got != p.Checksum {
		return fmt.Errorf("%w: stored %08x, computed %08x", ErrChecksumMismatch, p.Checksum, got)
	}
	return nil
}
