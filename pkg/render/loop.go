// Package render redraws the radar view and fans frames out to operator
// surfaces. It reads component state and never writes to a robot channel.
package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-teleop/console/domain/radar"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
)

// DefaultFramePeriod is roughly one display refresh at 30 Hz.
const DefaultFramePeriod = 33 * time.Millisecond

// Frame is one consistent view of the radar and heading.
type Frame struct {
	Seq     uint64        `json:"seq"`
	Time    time.Time     `json:"time"`
	Heading float64       `json:"heading"`
	Points  []radar.Point `json:"points"`
	Readout radar.Readout `json:"readout"`
}

// Surface consumes frames. Draw runs on the event loop and must not block.
type Surface interface {
	Draw(f Frame) error
}

// PointSource is the radar buffer as seen by the renderer.
type PointSource interface {
	Snapshot() []radar.Point
	Readout() radar.Readout
}

// HeadingSource provides the integrated heading.
type HeadingSource interface {
	Heading() float64
}

// Loop builds a frame every period and hands it to each surface.
type Loop struct {
	points  PointSource
	heading HeadingSource
	exec    processing.Executor
	period  time.Duration
	logger  customlog.Logger

	mu       sync.RWMutex
	surfaces []Surface

	seq    atomic.Uint64
	failed atomic.Int64
}

// NewLoop creates a render loop. A non-positive period takes the default.
func NewLoop(points PointSource, heading HeadingSource, exec processing.Executor, period time.Duration, logger customlog.Logger) *Loop {
	if period <= 0 {
		period = DefaultFramePeriod
	}
	return &Loop{
		points:  points,
		heading: heading,
		exec:    exec,
		period:  period,
		logger:  customlog.Component(logger, "render"),
	}
}

// AddSurface registers a frame consumer.
func (l *Loop) AddSurface(s Surface) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.surfaces = append(l.surfaces, s)
}

// Frame captures the current state.
func (l *Loop) Frame() Frame {
	return Frame{
		Seq:     l.seq.Add(1),
		Time:    time.Now(),
		Heading: l.heading.Heading(),
		Points:  l.points.Snapshot(),
		Readout: l.points.Readout(),
	}
}

// Render draws one frame on every surface. Surface failures are logged only.
func (l *Loop) Render() {
	l.mu.RLock()
	surfaces := append([]Surface(nil), l.surfaces...)
	l.mu.RUnlock()
	if len(surfaces) == 0 {
		return
	}

	f := l.Frame()
	for _, s := range surfaces {
		if err := s.Draw(f); err != nil {
			l.failed.Add(1)
			l.logger.Warnf("Surface failed to draw frame %d: %v", f.Seq, err)
		}
	}
}

// Run submits a frame to the executor every period until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.logger.Infof("Render loop started (period=%v)", l.period)
	for {
		select {
		case <-ctx.Done():
			l.logger.Infof("Render loop stopped after %d frames", l.seq.Load())
			return
		case <-ticker.C:
			l.exec.Submit("render frame", l.Render)
		}
	}
}

// Failures returns how many draws failed.
func (l *Loop) Failures() int64 {
	return l.failed.Load()
}
