package serialmux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collar.amc/internal/gnssfix"
)

func TestClassifyPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		payload string
		want    string
	}{
		{fixLine, EventTypeFix},
		{`{"type":"timeout"}`, EventTypeTimeout},
		{` {"type":"receiver_mode","mode":"max"}`, EventTypeReceiverMode},
		{`{"type":"power","level":"low"}`, EventTypePower},
		{`{"type":"movement","level":"normal"}`, EventTypeMovement},
		{`{"type":"beacon","near":true}`, EventTypeBeacon},
		{`{"type":"sound","level":"off"}`, EventTypeSound},
		{`{"type":"pasture","pasture":{}}`, EventTypePasture},
		{`{"type":"fence","version":1}`, EventTypeFence},
		{`{"firmware":"1.0"}`, EventTypeConfig},
		{`{"type":"selftest"}`, EventTypeConfig},
		{`{broken`, EventTypeUnknown},
		{`OK`, EventTypeUnknown},
		{``, EventTypeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPayload(tt.payload), "payload %q", tt.payload)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	l, err := ParseLine(fixLine)
	require.NoError(t, err)
	require.NotNil(t, l.Fix)
	assert.Equal(t, uint8(12), l.Fix.NumSV)
	assert.Equal(t, uint16(15), l.Fix.HAccDM)

	_, err = ParseLine(`{"type":"pasture"}`)
	assert.ErrorIs(t, err, ErrMalformedLine)
	_, err = ParseLine(`nope`)
	assert.ErrorIs(t, err, ErrMalformedLine)
}

func TestParseReceiverMode(t *testing.T) {
	t.Parallel()

	for m := gnssfix.NoMode; m <= gnssfix.Max; m++ {
		got, err := ParseReceiverMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseReceiverMode("")
	assert.ErrorIs(t, err, ErrMalformedLine)
}
