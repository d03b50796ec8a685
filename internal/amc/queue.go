package amc

import (
	"sync"
	"time"
)

type taskKind uint8

const (
	taskFix taskKind = iota
	taskNewFence
	taskStates
	taskCorrections
	taskTick
	taskBeacon
	taskPower
	taskMovement
	taskSound
	taskMode
	taskReceiverMode
	taskTurnOff

	taskKindCount
)

func (k taskKind) String() string {
	switch k {
	case taskFix:
		return "fix"
	case taskNewFence:
		return "new_fence"
	case taskStates:
		return "states"
	case taskCorrections:
		return "corrections"
	case taskTick:
		return "tick"
	case taskBeacon:
		return "beacon"
	case taskPower:
		return "power"
	case taskMovement:
		return "movement"
	case taskSound:
		return "sound"
	case taskMode:
		return "mode"
	case taskReceiverMode:
		return "receiver_mode"
	case taskTurnOff:
		return "turn_off"
	default:
		return "unknown"
	}
}

// coalesces reports whether at most one instance of k may wait in the
// queue. These kinds carry no payload; the handler reads current state.
func (k taskKind) coalesces() bool {
	switch k {
	case taskFix, taskNewFence, taskStates, taskCorrections, taskTick:
		return true
	}
	return false
}

type task struct {
	kind    taskKind
	payload any
	posted  time.Time
}

// taskQueue is a FIFO with a single consumer. Producers never block.
type taskQueue struct {
	mu      sync.Mutex
	tasks   []task
	pending [taskKindCount]bool
	notify  chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{notify: make(chan struct{}, 1)}
}

// post appends t unless an instance of a coalescing kind is already
// queued. It reports whether t was queued.
func (q *taskQueue) post(t task) bool {
	q.mu.Lock()
	if t.kind.coalesces() {
		if q.pending[t.kind] {
			q.mu.Unlock()
			return false
		}
		q.pending[t.kind] = true
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// pop removes the oldest task. A coalescing kind may be queued again as
// soon as it has been popped.
func (q *taskQueue) pop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return task{}, false
	}
	t := q.tasks[0]
	q.tasks[0] = task{}
	q.tasks = q.tasks[1:]
	q.pending[t.kind] = false
	return t, true
}

func (q *taskQueue) isPending(k taskKind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[k]
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
