package fence

import (
	"math"
)

// roundingSlack absorbs float error so exact integer distances stay exact
// after rounding up.
const roundingSlack = 1e-6

// Result is the output of Distance.
type Result struct {
	// Distance is the signed distance in decimeters. Negative values are
	// inside the grazing area, positive values are outside it, and zero is
	// on the boundary.
	Distance int16
	// FenceIndex is the index into Pasture.Fences of the nearest ring.
	FenceIndex int
	// EdgeIndex is the nearest edge of that ring, numbered by its end
	// vertex (1-based).
	EdgeIndex int
}

// Distance computes the signed distance from p to the nearest fence edge of
// the pasture.
//
// Every edge of every ring is scanned; the smallest magnitude wins and
// ties keep the earlier ring, then the earlier edge. The sign comes from the
// ring that owns the nearest edge: inside a Normal ring or outside an
// Inverted ring is negative. The magnitude is rounded up to the next whole
// decimeter and saturates at the int16 limits.
func Distance(p Coordinate, pasture *Pasture) (Result, error) {
	if pasture == nil || len(pasture.Fences) == 0 {
		return Result{}, ErrInvalidPasture
	}

	best := math.Inf(1)
	var res Result
	for fi := range pasture.Fences {
		f := &pasture.Fences[fi]
		edges := f.edgeCount()
		for i := 1; i <= edges; i++ {
			a, b := f.edge(i)
			if d := segmentDistance(p, a, b); d < best {
				best = d
				res.FenceIndex = fi
				res.EdgeIndex = i
			}
		}
	}
	if math.IsInf(best, 1) {
		return Result{}, ErrInvalidPasture
	}

	mag := int64(math.Ceil(best - roundingSlack))
	if mag <= 0 {
		res.Distance = 0
		return res, nil
	}

	nearest := &pasture.Fences[res.FenceIndex]
	negative := nearest.Contains(p)
	if nearest.Type == Inverted {
		negative = !negative
	}
	if negative {
		mag = -mag
	}
	res.Distance = saturate(mag)
	return res, nil
}

// Contains reports whether p lies inside the ring using the even-odd rule.
// Points on the boundary may report either side.
func (f *Fence) Contains(p Coordinate) bool {
	inside := false
	px, py := int64(p.X), int64(p.Y)
	edges := f.edgeCount()
	for i := 1; i <= edges; i++ {
		a, b := f.edge(i)
		ax, ay := int64(a.X), int64(a.Y)
		bx, by := int64(b.X), int64(b.Y)
		if (ay > py) == (by > py) {
			continue
		}
		// p is left of the crossing iff (px-ax)*(by-ay) < (bx-ax)*(py-ay),
		// with the comparison flipped when the edge points down.
		lhs := (px - ax) * (by - ay)
		rhs := (bx - ax) * (py - ay)
		if (by > ay && lhs < rhs) || (by < ay && lhs > rhs) {
			inside = !inside
		}
	}
	return inside
}

// segmentDistance is the Euclidean distance from p to segment ab. Products
// are taken in int64 so no input can overflow.
func segmentDistance(p, a, b Coordinate) float64 {
	dx := int64(b.X) - int64(a.X)
	dy := int64(b.Y) - int64(a.Y)
	px := int64(p.X) - int64(a.X)
	py := int64(p.Y) - int64(a.Y)

	len2 := dx*dx + dy*dy
	if len2 == 0 {
		return hypot(px, py)
	}
	t := px*dx + py*dy
	if t <= 0 {
		return hypot(px, py)
	}
	if t >= len2 {
		return hypot(int64(p.X)-int64(b.X), int64(p.Y)-int64(b.Y))
	}
	cross := dx*py - dy*px
	return math.Abs(float64(cross)) / math.Sqrt(float64(len2))
}

func hypot(x, y int64) float64 {
	return math.Sqrt(float64(x*x + y*y))
}

func saturate(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
