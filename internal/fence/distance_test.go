package fence

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge numbering for squares listed counter-clockwise from the lower right
// corner: (h,-h), (h,h), (-h,h), (-h,-h), (h,-h).
const (
	edgeRight  = 1
	edgeTop    = 2
	edgeLeft   = 3
	edgeBottom = 4
)

func square(id uint16, t FenceType, h int16) Fence {
	return Fence{
		ID:   id,
		Type: t,
		Points: []Coordinate{
			{X: h, Y: -h}, {X: h, Y: h}, {X: -h, Y: h}, {X: -h, Y: -h}, {X: h, Y: -h},
		},
	}
}

func squareWithHole() *Pasture {
	p := &Pasture{
		KLat: 1, KLon: 1,
		Fences: []Fence{
			square(0, Normal, 20),
			square(1, Inverted, 10),
		},
	}
	p.Seal()
	return p
}

func TestDistance_SquareWithHole(t *testing.T) {
	t.Parallel()

	pasture := squareWithHole()

	tests := []struct {
		name      string
		y         int16
		wantDist  int16
		wantFence int
		wantEdge  int
	}{
		{name: "centre of the hole", y: 0, wantDist: 10, wantFence: 1, wantEdge: edgeRight},
		{name: "on the hole edge", y: 10, wantDist: 0, wantFence: 1, wantEdge: edgeTop},
		{name: "near the hole", y: 14, wantDist: -4, wantFence: 1, wantEdge: edgeTop},
		{name: "near the outer ring", y: 16, wantDist: -4, wantFence: 0, wantEdge: edgeTop},
		{name: "on the outer edge", y: 20, wantDist: 0, wantFence: 0, wantEdge: edgeTop},
		{name: "outside", y: 25, wantDist: 5, wantFence: 0, wantEdge: edgeTop},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Distance(Coordinate{X: 0, Y: tt.y}, pasture)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDist, res.Distance)
			assert.Equal(t, tt.wantFence, res.FenceIndex)
			assert.Equal(t, tt.wantEdge, res.EdgeIndex)
		})
	}
}

func TestDistance_TieKeepsEarlierFence(t *testing.T) {
	t.Parallel()

	res, err := Distance(Coordinate{X: 0, Y: 15}, squareWithHole())
	require.NoError(t, err)
	assert.Equal(t, int16(-5), res.Distance)
	assert.Equal(t, 0, res.FenceIndex)
}

func TestDistance_VertexTieKeepsEarlierEdge(t *testing.T) {
	t.Parallel()

	pasture := &Pasture{Fences: []Fence{square(0, Normal, 10)}}

	// (10,20) is equidistant from the right and top edges via the
	// shared corner.
	res, err := Distance(Coordinate{X: 10, Y: 20}, pasture)
	require.NoError(t, err)
	assert.Equal(t, int16(10), res.Distance)
	assert.Equal(t, edgeRight, res.EdgeIndex)

	res, err = Distance(Coordinate{X: -30, Y: 0}, pasture)
	require.NoError(t, err)
	assert.Equal(t, int16(20), res.Distance)
	assert.Equal(t, edgeLeft, res.EdgeIndex)

	res, err = Distance(Coordinate{X: 0, Y: -7}, pasture)
	require.NoError(t, err)
	assert.Equal(t, int16(-3), res.Distance)
	assert.Equal(t, edgeBottom, res.EdgeIndex)
}

func TestDistance_SignConvention(t *testing.T) {
	t.Parallel()

	// Concave L-shaped pasture.
	pasture := &Pasture{Fences: []Fence{{
		Type: Normal,
		Points: []Coordinate{
			{0, 0}, {100, 0}, {100, 40}, {40, 40}, {40, 100}, {0, 100}, {0, 0},
		},
	}}}

	inside := []Coordinate{{10, 10}, {90, 20}, {20, 90}, {39, 39}}
	outside := []Coordinate{{60, 60}, {-5, 50}, {200, 200}, {41, 41}}
	boundary := []Coordinate{{0, 50}, {100, 20}, {40, 70}, {70, 40}, {0, 0}}

	for _, p := range inside {
		res, err := Distance(p, pasture)
		require.NoError(t, err)
		assert.Less(t, res.Distance, int16(0), "point %v should be inside", p)
	}
	for _, p := range outside {
		res, err := Distance(p, pasture)
		require.NoError(t, err)
		assert.Greater(t, res.Distance, int16(0), "point %v should be outside", p)
	}
	for _, p := range boundary {
		res, err := Distance(p, pasture)
		require.NoError(t, err)
		assert.Equal(t, int16(0), res.Distance, "point %v should be on the boundary", p)
	}
}

func TestDistance_OpenRingIsClosedImplicitly(t *testing.T) {
	t.Parallel()

	open := &Pasture{Fences: []Fence{{
		Type:   Normal,
		Points: []Coordinate{{10, -10}, {10, 10}, {-10, 10}, {-10, -10}},
	}}}

	res, err := Distance(Coordinate{X: 0, Y: -15}, open)
	require.NoError(t, err)
	assert.Equal(t, int16(5), res.Distance)
	assert.Equal(t, edgeBottom, res.EdgeIndex)
}

func TestDistance_DiagonalEdgeRoundsAwayFromZero(t *testing.T) {
	t.Parallel()

	triangle := &Pasture{Fences: []Fence{{
		Type:   Normal,
		Points: []Coordinate{{0, 0}, {10, 0}, {0, 10}, {0, 0}},
	}}}

	// (5,6) is 0.707 dm outside the hypotenuse.
	res, err := Distance(Coordinate{X: 5, Y: 6}, triangle)
	require.NoError(t, err)
	assert.Equal(t, int16(1), res.Distance)

	// (4,6) lies exactly on it.
	res, err = Distance(Coordinate{X: 4, Y: 6}, triangle)
	require.NoError(t, err)
	assert.Equal(t, int16(0), res.Distance)
}

func TestDistance_Saturates(t *testing.T) {
	t.Parallel()

	corner := &Pasture{Fences: []Fence{{
		Type: Normal,
		Points: []Coordinate{
			{math.MinInt16, math.MinInt16}, {math.MinInt16 + 10, math.MinInt16},
			{math.MinInt16 + 10, math.MinInt16 + 10}, {math.MinInt16, math.MinInt16},
		},
	}}}

	res, err := Distance(Coordinate{X: math.MaxInt16, Y: math.MaxInt16}, corner)
	require.NoError(t, err)
	assert.Equal(t, int16(math.MaxInt16), res.Distance)

	big := &Pasture{Fences: []Fence{{
		Type: Inverted,
		Points: []Coordinate{
			{math.MinInt16, math.MinInt16}, {math.MaxInt16, math.MinInt16},
			{math.MaxInt16, math.MaxInt16}, {math.MinInt16, math.MaxInt16},
		},
	}}}
	res, err = Distance(Coordinate{X: 0, Y: 0}, big)
	require.NoError(t, err)
	assert.Equal(t, int16(math.MaxInt16), res.Distance)
}

func TestDistance_InvalidPasture(t *testing.T) {
	t.Parallel()

	_, err := Distance(Coordinate{}, nil)
	assert.ErrorIs(t, err, ErrInvalidPasture)

	_, err = Distance(Coordinate{}, &Pasture{})
	assert.ErrorIs(t, err, ErrInvalidPasture)

	_, err = Distance(Coordinate{}, &Pasture{Fences: []Fence{{Points: []Coordinate{{1, 1}}}}})
	assert.ErrorIs(t, err, ErrInvalidPasture)
}

func TestContains_Hole(t *testing.T) {
	t.Parallel()

	hole := square(1, Inverted, 10)
	assert.True(t, hole.Contains(Coordinate{0, 0}))
	assert.False(t, hole.Contains(Coordinate{0, 15}))
	assert.False(t, hole.Contains(Coordinate{-11, 0}))
}
