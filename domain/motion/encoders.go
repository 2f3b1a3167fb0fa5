package motion

import (
	"sync"
	"time"

	"github.com/open-teleop/console/pkg/channel"
)

// EncoderReading is the latest wheel odometry report.
type EncoderReading struct {
	Ticks     [3]float64 `json:"ticks"`
	Speed     [3]float64 `json:"speed"`
	Timestamp time.Time  `json:"timestamp"`
}

// EncoderReadout keeps only the most recent encoder report.
type EncoderReadout struct {
	mu      sync.RWMutex
	reading EncoderReading
	seen    bool
}

func NewEncoderReadout() *EncoderReadout {
	return &EncoderReadout{}
}

// Update replaces the stored reading.
func (r *EncoderReadout) Update(msg channel.EncoderMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reading = EncoderReading{Ticks: msg.Ticks, Speed: msg.Speed, Timestamp: time.Now()}
	r.seen = true
}

// Latest returns the stored reading and whether any has arrived.
func (r *EncoderReadout) Latest() (EncoderReading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reading, r.seen
}
