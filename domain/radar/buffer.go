// Package radar accumulates polar range samples into a capped set of
// cartesian points around the robot.
package radar

import (
	"math"
	"sync"
	"time"
)

// Defaults for the buffer.
const (
	DefaultCapacity      = 500
	DefaultMaxDistanceCm = 200.0
)

// Sample is one polar reading. Distance is NaN when no usable value arrived.
type Sample struct {
	Distance float64
	Signal   *float64
}

// Point is a sample projected into the robot frame, in centimetres.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Readout is the most recent scalar reading, kept even for samples that were
// not admitted as points.
type Readout struct {
	Distance   *float64  `json:"distance"`
	AngleDeg   float64   `json:"angle_deg"`
	Signal     *float64  `json:"signal"`
	Admitted   bool      `json:"admitted"`
	ReceivedAt time.Time `json:"received_at"`
}

// Buffer is a FIFO of at most capacity points; the oldest point goes first.
// It is never cleared.
type Buffer struct {
	mu          sync.RWMutex
	points      []Point
	head        int
	count       int
	maxDistance float64
	readout     Readout
	admitted    int64
	rejected    int64
}

// NewBuffer creates a buffer. Non-positive arguments take the defaults.
func NewBuffer(capacity int, maxDistanceCm float64) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if maxDistanceCm <= 0 {
		maxDistanceCm = DefaultMaxDistanceCm
	}
	return &Buffer{
		points:      make([]Point, capacity),
		maxDistance: maxDistanceCm,
	}
}

// Ingest updates the readout and, when 0 < distance < max, appends the point
// (d·cos(−θ), d·sin(−θ)). It reports whether a point was admitted.
func (b *Buffer) Ingest(s Sample, heading float64) bool {
	d := s.Distance
	numeric := !math.IsNaN(d) && !math.IsInf(d, 0)
	admit := numeric && d > 0 && d < b.maxDistance

	b.mu.Lock()
	defer b.mu.Unlock()

	b.readout = Readout{
		AngleDeg:   heading * 180 / math.Pi,
		Signal:     copyFloat(s.Signal),
		Admitted:   admit,
		ReceivedAt: time.Now(),
	}
	if numeric {
		b.readout.Distance = &d
	}

	if !admit {
		b.rejected++
		return false
	}

	p := Point{X: d * math.Cos(-heading), Y: d * math.Sin(-heading)}
	capacity := len(b.points)
	if b.count < capacity {
		b.points[(b.head+b.count)%capacity] = p
		b.count++
	} else {
		b.points[b.head] = p
		b.head = (b.head + 1) % capacity
	}
	b.admitted++
	return true
}

// Snapshot returns the stored points, oldest first.
func (b *Buffer) Snapshot() []Point {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Point, b.count)
	capacity := len(b.points)
	for i := 0; i < b.count; i++ {
		out[i] = b.points[(b.head+i)%capacity]
	}
	return out
}

// Len returns the number of stored points.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap returns the maximum number of stored points.
func (b *Buffer) Cap() int {
	return len(b.points)
}

// MaxDistance returns the exclusive upper bound for admitted distances.
func (b *Buffer) MaxDistance() float64 {
	return b.maxDistance
}

// Readout returns the latest scalar reading.
func (b *Buffer) Readout() Readout {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := b.readout
	r.Distance = copyFloat(r.Distance)
	r.Signal = copyFloat(r.Signal)
	return r
}

// Counts returns how many samples were admitted and rejected.
func (b *Buffer) Counts() (admitted, rejected int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.admitted, b.rejected
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
