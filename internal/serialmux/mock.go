package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/collar.amc/internal/monitoring"
)

// ErrPortClosed is returned by FakePort after Close.
var ErrPortClosed = errors.New("serialmux: port closed")

// ReplayPort is a bridge port that plays back captured lines on a timer.
// Commands written to it are logged and discarded.
type ReplayPort struct {
	*io.PipeReader

	stop chan struct{}
	once sync.Once
}

func newReplayPort(lines []string, interval time.Duration) *ReplayPort {
	r, w := io.Pipe()
	p := &ReplayPort{PipeReader: r, stop: make(chan struct{})}
	go p.play(w, lines, interval)
	return p
}

// play writes lines to w one per interval, cycling, until the port closes.
func (p *ReplayPort) play(w *io.PipeWriter, lines []string, interval time.Duration) {
	defer w.Close()
	if len(lines) == 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; ; i = (i + 1) % len(lines) {
		select {
		case <-p.stop:
			return
		case <-t.C:
		}
		if _, err := io.WriteString(w, strings.TrimRight(lines[i], "\n")+"\n"); err != nil {
			return
		}
	}
}

func (p *ReplayPort) Write(b []byte) (int, error) {
	monitoring.Logf("replay bridge: dropped command %q", strings.TrimSpace(string(b)))
	return len(b), nil
}

// Close stops playback.
func (p *ReplayPort) Close() error {
	p.once.Do(func() { close(p.stop) })
	return p.PipeReader.Close()
}

// NewMockSerialMux returns a mux replaying lines, one every interval,
// cycling until it is closed.
func NewMockSerialMux(lines []string, interval time.Duration) *SerialMux[*ReplayPort] {
	monitoring.Logf("replay bridge: %d lines every %v", len(lines), interval)
	return NewSerialMux(newReplayPort(lines, interval))
}

// FakePort is an in-memory SerialPorter for tests. Reads drain what Feed
// queued and then report io.EOF, or wait for more input once Hold is called.
type FakePort struct {
	mu   sync.Mutex
	cond *sync.Cond

	in       bytes.Buffer
	out      bytes.Buffer
	hold     bool
	closed   bool
	readErr  error
	writeErr error
}

// NewFakePort returns an empty open port.
func NewFakePort() *FakePort {
	p := &FakePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Feed queues lines for reading, each newline terminated.
func (p *FakePort) Feed(lines ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range lines {
		p.in.WriteString(l)
		p.in.WriteByte('\n')
	}
	p.cond.Broadcast()
}

// Hold makes reads on an empty port block until Feed or Close.
func (p *FakePort) Hold() {
	p.mu.Lock()
	p.hold = true
	p.mu.Unlock()
}

// FailNextRead makes the next Read return err.
func (p *FakePort) FailNextRead(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

// FailWrites makes every Write return err until called with nil.
func (p *FakePort) FailWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.readErr; err != nil {
		p.readErr = nil
		return 0, err
	}
	for p.hold && !p.closed && p.in.Len() == 0 {
		p.cond.Wait()
	}
	if p.closed {
		return 0, ErrPortClosed
	}
	return p.in.Read(b)
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return 0, ErrPortClosed
	case p.writeErr != nil:
		return 0, p.writeErr
	}
	return p.out.Write(b)
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Closed reports whether Close was called.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Written returns everything written so far.
func (p *FakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

// Commands returns the written command lines.
func (p *FakePort) Commands() []string {
	w := strings.TrimSuffix(p.Written(), "\n")
	if w == "" {
		return nil
	}
	return strings.Split(w, "\n")
}
