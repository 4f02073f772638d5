package lensing

import "gonum.org/v1/gonum/spatial/r2"

// TrailCapacity is the number of past positions kept per ray.
const TrailCapacity = 1000

// Trail is a bounded FIFO of positions, the oldest is evicted first.
type Trail struct {
	pts   []r2.Vec
	start int // index of the oldest sample
	n     int
}

// NewTrail returns an empty trail which holds up to capacity positions.
func NewTrail(capacity int) *Trail {
	if capacity <= 0 {
		panic("trail capacity must be positive")
	}
	return &Trail{pts: make([]r2.Vec, capacity)}
}

// Push appends p, evicting the oldest sample if the trail is full.
func (t *Trail) Push(p r2.Vec) {
	if t.n < len(t.pts) {
		t.pts[(t.start+t.n)%len(t.pts)] = p
		t.n++
		return
	}
	t.pts[t.start] = p
	t.start = (t.start + 1) % len(t.pts)
}

// Len returns the number of stored samples.
func (t *Trail) Len() int {
	return t.n
}

// Cap returns the capacity.
func (t *Trail) Cap() int {
	return len(t.pts)
}

// At returns the i-th sample, 0 being the oldest.
func (t *Trail) At(i int) r2.Vec {
	if i < 0 || i >= t.n {
		panic("trail index out of range")
	}
	return t.pts[(t.start+i)%len(t.pts)]
}

// Last returns the most recent sample.
func (t *Trail) Last() (r2.Vec, bool) {
	if t.n == 0 {
		return r2.Vec{}, false
	}
	return t.At(t.n - 1), true
}

// AppendTo appends the samples, oldest first, to dst.
func (t *Trail) AppendTo(dst []r2.Vec) []r2.Vec {
	for i := 0; i < t.n; i++ {
		dst = append(dst, t.pts[(t.start+i)%len(t.pts)])
	}
	return dst
}

// Points returns a copy of the samples, oldest first.
func (t *Trail) Points() []r2.Vec {
	return t.AppendTo(make([]r2.Vec, 0, t.n))
}

// Reset empties the trail.
func (t *Trail) Reset() {
	t.start, t.n = 0, 0
}
