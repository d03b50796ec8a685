// Package testutil provides shared test fixtures: reference pastures, fix
// builders and small HTTP helpers for the debug routes.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/gnssfix"
)

// Square returns a closed square ring of half-width h centred on the
// origin, listed counter-clockwise from the lower right corner.
func Square(id uint16, t fence.FenceType, h int16) fence.Fence {
	return fence.Fence{
		ID:   id,
		Type: t,
		Points: []fence.Coordinate{
			{X: h, Y: -h}, {X: h, Y: h}, {X: -h, Y: h}, {X: -h, Y: -h}, {X: h, Y: -h},
		},
	}
}

// SquareWithHole returns a sealed pasture made of a 40 dm square grazing
// area with a 20 dm square exclusion hole in the middle.
func SquareWithHole(version uint32) *fence.Pasture {
	p := &fence.Pasture{
		OriginLat: 633_000_000,
		OriginLon: 103_000_000,
		KLat:      1,
		KLon:      1,
		Version:   version,
		Fences: []fence.Fence{
			Square(0, fence.Normal, 20),
			Square(1, fence.Inverted, 10),
		},
	}
	p.Seal()
	return p
}

// BigSquare returns a sealed single-ring pasture of half-width h.
func BigSquare(version uint32, h int16) *fence.Pasture {
	p := &fence.Pasture{
		KLat:    1,
		KLon:    1,
		Version: version,
		Fences:  []fence.Fence{Square(0, fence.Normal, h)},
	}
	p.Seal()
	return p
}

// AcceptedFix returns a fix at (x, y) that qualifies for the accepted
// tier in Max receiver mode.
func AcceptedFix(x, y int16, at time.Time) gnssfix.Fix {
	return gnssfix.Fix{
		X:         x,
		Y:         y,
		Height:    1200,
		HDOP:      90,
		HAccDM:    15,
		VAccDM:    25,
		NumSV:     12,
		PVTFlags:  gnssfix.PVTFlagFixOK,
		PVTValid:  0x07,
		FixOK:     true,
		Mode:      gnssfix.Max,
		UpdatedAt: at,
	}
}

// EasyFix returns a fix at (x, y) that only qualifies for the easy tier.
func EasyFix(x, y int16, at time.Time) gnssfix.Fix {
	f := AcceptedFix(x, y, at)
	f.HAccDM = 50
	f.HDOP = 180
	return f
}

// NoFix returns a record the receiver did not flag as a fix.
func NoFix(at time.Time) gnssfix.Fix {
	return gnssfix.Fix{Mode: gnssfix.Max, UpdatedAt: at}
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
