package fence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasture_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pasture *Pasture
		wantErr bool
	}{
		{name: "nil", pasture: nil, wantErr: true},
		{name: "no fences", pasture: &Pasture{}, wantErr: true},
		{name: "square with hole", pasture: squareWithHole()},
		{
			name: "two distinct points",
			pasture: &Pasture{Fences: []Fence{{
				Points: []Coordinate{{0, 0}, {5, 5}, {0, 0}},
			}}},
			wantErr: true,
		},
		{
			name: "unknown fence type",
			pasture: &Pasture{Fences: []Fence{{
				Type:   FenceType(7),
				Points: square(0, Normal, 5).Points,
			}}},
			wantErr: true,
		},
		{
			name: "too many fences",
			pasture: func() *Pasture {
				p := &Pasture{}
				for i := 0; i <= MaxFences; i++ {
					p.Fences = append(p.Fences, square(uint16(i), Normal, 5))
				}
				return p
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.pasture.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPasture)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPasture_Checksum(t *testing.T) {
	t.Parallel()

	t.Run("sealed pasture verifies", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, squareWithHole().VerifyChecksum())
	})

	t.Run("moved coordinate is detected", func(t *testing.T) {
		t.Parallel()
		p := squareWithHole()
		p.Fences[1].Points[2].X++
		assert.ErrorIs(t, p.VerifyChecksum(), ErrChecksumMismatch)
	})

	t.Run("origin change is detected", func(t *testing.T) {
		t.Parallel()
		p := squareWithHole()
		p.OriginLat = 633_000_000
		assert.ErrorIs(t, p.VerifyChecksum(), ErrChecksumMismatch)
	})

	t.Run("scale change is detected", func(t *testing.T) {
		t.Parallel()
		p := squareWithHole()
		p.KLon = 2
		assert.ErrorIs(t, p.VerifyChecksum(), ErrChecksumMismatch)
	})

	t.Run("version is not covered", func(t *testing.T) {
		t.Parallel()
		p := squareWithHole()
		p.Version = 42
		assert.NoError(t, p.VerifyChecksum())
	})
}
