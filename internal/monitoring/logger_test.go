package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got []string
	SetLogger(func(format string, v ...any) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("fence version %d installed", 4)
	assert.Equal(t, []string{"fence version 4 installed"}, got)

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("dropped") })
	assert.Len(t, got, 1, "the no-op logger does not reach the old one")
}

func TestLogf_Default(t *testing.T) {
	assert.NotNil(t, Logf)
}
