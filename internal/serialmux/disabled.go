package serialmux

import (
	"context"
	"net/http"

	"tailscale.com/tsweb"
)

// DisabledSerialMux stands in for the bridge when the daemon runs with
// --disable-serial. Nothing is ever published, commands are discarded and
// subscribers are closed on shutdown like a real mux.
type DisabledSerialMux struct {
	*lineHub
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{lineHub: newLineHub(0)}
}

func (d *DisabledSerialMux) Initialize() error        { return nil }
func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.shutdown()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).KV("Sensor bridge", "disabled")
}
