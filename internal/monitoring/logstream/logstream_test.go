package logstream

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreams(t *testing.T) {
	t.Parallel()

	s := New("zone")
	assert.NotPanics(t, func() { s.Opsf("off by default %d", 1) })

	var ops, diag bytes.Buffer
	s.SetWriters(&ops, &diag, nil)
	s.Opsf("rejected update at %d dm", -12)
	s.Diagf("prewarn -> warn")
	s.Tracef("not written")

	assert.True(t, strings.HasPrefix(ops.String(), "[zone] "))
	assert.Contains(t, ops.String(), "rejected update at -12 dm")
	assert.Contains(t, diag.String(), "prewarn -> warn")
	assert.NotContains(t, diag.String(), "not written")

	s.SetWriters(nil, nil, nil)
	s.Opsf("muted")
	assert.NotContains(t, ops.String(), "muted")
}
