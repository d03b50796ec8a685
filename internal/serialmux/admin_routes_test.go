package serialmux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This passes tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body *strings.Reader) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	t.Parallel()

	port := NewFakePort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		form           url.Values
		expectedStatus int
		contains       string
	}{
		{"valid POST", http.MethodPost, url.Values{"command": {"GNSS MODE max"}}, http.StatusOK, `sent "GNSS MODE max"`},
		{"empty command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest, "missing command"},
		{"missing command", http.MethodPost, url.Values{}, http.StatusBadRequest, "missing command"},
		{"GET not allowed", http.MethodGet, nil, http.StatusMethodNotAllowed, "method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.form != nil {
				req = localHostRequest(tt.method, "/debug/send-command-api", strings.NewReader(tt.form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			} else {
				req = localHostRequest(tt.method, "/debug/send-command-api", nil)
			}
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
	assert.Equal(t, []string{"GNSS MODE max"}, port.Commands())
}

func TestAttachAdminRoutes_SendCommandPage(t *testing.T) {
	t.Parallel()

	mux := NewSerialMux(NewFakePort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<form")
	assert.Contains(t, rec.Body.String(), "EventSource")

	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/", nil))
	assert.Contains(t, rec.Body.String(), "0 read, 0 dropped, 0 subscribers")
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	t.Parallel()

	mux := NewSerialMux(NewFakePort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, localHostRequest(http.MethodPost, "/debug/tail", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := localHostRequest(http.MethodGet, "/debug/tail", nil).WithContext(ctx)
	rec = httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(rec, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return mux.Stats().Subscribers == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.True(t, mux.publish(`{"type":"timeout"}`))
	require.NoError(t, mux.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tail did not end when the mux closed")
	}
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ": ping")
	assert.Contains(t, rec.Body.String(), `data: {"type":"timeout"}`)
}
