// Package trend keeps the short rolling histories behind the distance
// trend analytics: fixed-capacity rings of distance, accuracy and height,
// plus a long-horizon ring of distance means.
package trend

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Ring is a fixed-capacity history of int16 samples. Pushing into a full
// ring drops the oldest sample. Storage is allocated once.
//
// Samples are written round-robin from index zero, so the valid samples
// are always buf[:n]; order-dependent statistics walk from the newest
// sample using the write index.
type Ring struct {
	mu   sync.Mutex
	buf  []float64
	next int
	n    int
}

// NewRing returns an empty ring. Capacity is clamped to at least one.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]float64, capacity)}
}

// Push appends v as the newest sample.
func (r *Ring) Push(v int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = float64(v)
	r.next = (r.next + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

// Reset discards every sample.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.n = 0
}

// Len is the number of samples held.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap is the ring capacity.
func (r *Ring) Cap() int { return len(r.buf) }

// Full reports whether the ring holds Cap samples.
func (r *Ring) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n == len(r.buf)
}

// At returns the i-th most recent sample; At(0) is the newest. It returns
// zero when i is out of range.
func (r *Ring) At(i int) int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.at(i)
}

func (r *Ring) at(i int) int16 {
	if i < 0 || i >= r.n {
		return 0
	}
	idx := (r.next - 1 - i + 2*len(r.buf)) % len(r.buf)
	return int16(r.buf[idx])
}

// Mean is the arithmetic mean truncated toward zero. An empty ring has
// mean zero.
func (r *Ring) Mean() int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mean()
}

func (r *Ring) mean() int16 {
	if r.n == 0 {
		return 0
	}
	return int16(math.Trunc(stat.Mean(r.buf[:r.n], nil)))
}

// Delta is the spread between the largest and smallest sample.
func (r *Ring) Delta() int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return 0
	}
	valid := r.buf[:r.n]
	return saturate(int64(floats.Max(valid) - floats.Min(valid)))
}

// Slope is twice the difference between the newest sample and the mean,
// a cheap first-order trend estimate.
func (r *Ring) Slope() int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n == 0 {
		return 0
	}
	return saturate(2 * (int64(r.at(0)) - int64(r.mean())))
}

// RisingRun counts consecutive strict increases ending at the newest
// sample.
func (r *Ring) RisingRun() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := 0
	for i := 0; i+1 < r.n && r.at(i) > r.at(i+1); i++ {
		run++
	}
	return run
}

// FallingRun counts consecutive strict decreases ending at the newest
// sample.
func (r *Ring) FallingRun() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := 0
	for i := 0; i+1 < r.n && r.at(i) < r.at(i+1); i++ {
		run++
	}
	return run
}

func saturate(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
