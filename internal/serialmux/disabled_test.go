package serialmux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledSerialMux(t *testing.T) {
	t.Parallel()

	d := NewDisabledSerialMux()
	id, a := d.Subscribe()
	_, b := d.Subscribe()
	assert.Equal(t, 2, d.Stats().Subscribers)

	d.Unsubscribe(id)
	_, ok := <-a
	assert.False(t, ok, "unsubscribe closes the channel")

	require.NoError(t, d.SendCommand("ZAP"))
	require.NoError(t, d.Initialize())
	require.NoError(t, d.Close())
	_, ok = <-b
	assert.False(t, ok, "close closes every channel")
	require.NoError(t, d.Close(), "close is idempotent")

	_, late := d.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribing after close returns a closed channel")
}

func TestDisabledSerialMux_Monitor(t *testing.T) {
	t.Parallel()

	d := NewDisabledSerialMux()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.DeadlineExceeded)

	mux := http.NewServeMux()
	d.AttachAdminRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sensor bridge")
	assert.Contains(t, rec.Body.String(), "disabled")
}
