// Package serialmux multiplexes the line-oriented serial link to the
// collar's sensor bridge: many subscribers read the GNSS, power, movement
// and BLE lines it emits, and commands are written back one line at a time.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/collar.amc/internal/httputil"
)

// ErrShortWrite is returned when the port accepted only part of a command.
var ErrShortWrite = errors.New("serialmux: short write to bridge")

// MaxLineLength bounds a single bridge line. Longer lines end Monitor with
// bufio.ErrTooLong.
const MaxLineLength = 64 << 10

// SerialMuxInterface is a sensor bridge link: a line fan-out plus a
// command writer.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel receiving every bridge line.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets the channel registered under id.
	Unsubscribe(string)
	// SendCommand writes one command line to the bridge.
	SendCommand(string) error
	// Monitor pumps bridge lines to subscribers until ctx is done or the
	// link fails.
	Monitor(context.Context) error
	// Close closes every subscriber and releases the link.
	Close() error
	// Initialize puts the bridge into the output mode the collar expects.
	Initialize() error
	// Stats reports line and drop counts.
	Stats() Stats

	// AttachAdminRoutes mounts the bridge debug pages under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux fans the lines of one bridge port out to its subscribers.
type SerialMux[T SerialPorter] struct {
	*lineHub

	port  T
	cmdMu sync.Mutex
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{lineHub: newLineHub(SubscriberBuffer), port: port}
}

// startupCommands switch the bridge to one JSON object per line and start
// GNSS acquisition with every navigation solution forwarded.
var startupCommands = []string{"OUTPUT JSON", "GNSS NAVPVT", "GNSS START"}

// Initialize syncs the bridge clock to the host and sends startupCommands.
func (s *SerialMux[T]) Initialize() error {
	if err := s.SendCommand(fmt.Sprintf("CLOCK %d", time.Now().Unix())); err != nil {
		return fmt.Errorf("sync bridge clock: %w", err)
	}
	for _, c := range startupCommands {
		if err := s.SendCommand(c); err != nil {
			return fmt.Errorf("send %q: %w", c, err)
		}
	}
	return nil
}

// SendCommand writes command to the bridge, newline terminated.
func (s *SerialMux[T]) SendCommand(command string) error {
	line := []byte(strings.TrimRight(command, "\n") + "\n")

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	n, err := s.port.Write(line)
	switch {
	case err != nil:
		return err
	case n != len(line):
		return ErrShortWrite
	}
	return nil
}

// Monitor reads the port line by line and publishes each non-empty line.
// It returns nil when the port reports EOF or the mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Reads block on the port, so they run apart from the select below.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(s.port)
		sc.Buffer(make([]byte, 0, 4096), MaxLineLength)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if !s.publish(line) {
				return nil
			}
		}
	}
}

// Close closes every subscriber and then the port.
func (s *SerialMux[T]) Close() error {
	s.shutdown()
	return s.port.Close()
}

const consolePage = `<!DOCTYPE html>
<html>
<head><title>Collar bridge</title></head>
<body>
<form method="post" action="send-command-api">
<input name="command" placeholder="GNSS MODE max" autofocus>
<button type="submit">Send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const src = new EventSource("tail");
src.onmessage = (e) => {
  tail.textContent = e.data + "\n" + tail.textContent.slice(0, 20000);
};
</script>
</body>
</html>
`

// AttachAdminRoutes mounts a command console, its send endpoint, a live
// server-sent-events tail of bridge lines and the traffic counters.
func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Bridge lines", func() any {
		st := s.Stats()
		return fmt.Sprintf("%d read, %d dropped, %d subscribers", st.Lines, st.Dropped, st.Subscribers)
	})

	debug.HandleFunc("send-command", "Bridge command console", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, consolePage)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			httputil.BadRequest(w, "missing command")
			return
		}
		if err := s.SendCommand(command); err != nil {
			httputil.InternalServerError(w, err)
			return
		}
		fmt.Fprintf(w, "sent %q to bridge", command)
	})

	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		s.streamLines(w, r)
	})
}

// streamLines relays bridge lines to w as server-sent events until the
// client goes away or the mux closes.
func (s *SerialMux[T]) streamLines(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	io.WriteString(w, ": ping\n\n")
	rc.Flush()
	for {
		select {
		case <-r.Context().Done():
			return
		case line, ok := <-ch:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			rc.Flush()
		}
	}
}
