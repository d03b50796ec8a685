package serialmux

import (
	"sync"

	"github.com/google/uuid"
)

// SubscriberBuffer is the line backlog of each subscriber. Lines beyond it
// are dropped for that subscriber only.
const SubscriberBuffer = 16

// Stats counts bridge traffic seen by a mux.
type Stats struct {
	Lines       uint64 `json:"lines"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// lineHub is the subscriber set shared by every SerialMuxInterface
// implementation. Once shut down it hands out closed channels.
type lineHub struct {
	mu      sync.Mutex
	subs    map[string]chan string
	buffer  int
	done    bool
	lines   uint64
	dropped uint64
}

func newLineHub(buffer int) *lineHub {
	return &lineHub{subs: make(map[string]chan string), buffer: buffer}
}

func (h *lineHub) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

func (h *lineHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// publish offers line to every subscriber without blocking. It reports
// false once the hub is shut down.
func (h *lineHub) publish(line string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.lines++
	for _, ch := range h.subs {
		select {
		case ch <- line:
		default:
			h.dropped++
		}
	}
	return true
}

// shutdown closes every subscriber. Only the first call reports true.
func (h *lineHub) shutdown() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return false
	}
	h.done = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return true
}

// Stats returns the traffic counters.
func (h *lineHub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Lines: h.lines, Dropped: h.dropped, Subscribers: len(h.subs)}
}
