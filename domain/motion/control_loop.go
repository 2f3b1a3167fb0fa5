package motion

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/open-teleop/console/pkg/channel"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
)

// Link is the part of the channel registry the control loop needs.
type Link interface {
	Send(id channel.ID, message []byte)
	Status(id channel.ID) channel.Status
}

// ControlLoop streams the current command to the robot at a fixed period and
// dead-reckons the heading.
type ControlLoop struct {
	state  *State
	link   Link
	exec   processing.Executor
	period time.Duration
	dt     float64
	logger customlog.Logger

	ticks atomic.Int64
	sent  atomic.Int64
}

// DefaultControlPeriod is the tick period used when none is configured.
const DefaultControlPeriod = 50 * time.Millisecond

// NewControlLoop creates a loop with the given tick period. A non-positive
// period takes DefaultControlPeriod.
func NewControlLoop(state *State, link Link, exec processing.Executor, period time.Duration, logger customlog.Logger) *ControlLoop {
	if period <= 0 {
		period = DefaultControlPeriod
	}
	return &ControlLoop{
		state:  state,
		link:   link,
		exec:   exec,
		period: period,
		dt:     period.Seconds(),
		logger: customlog.Component(logger, "control"),
	}
}

// Tick performs one control step. While active and the control channel is
// open it sends OMNI, whether or not the command changed since the last
// tick. The heading always advances by w*dt.
func (l *ControlLoop) Tick() {
	snap := l.state.Snapshot()
	l.ticks.Add(1)

	if snap.Active && l.link.Status(channel.Control) == channel.Open {
		l.link.Send(channel.Control, EncodeOmni(snap.Command))
		l.sent.Add(1)
	}

	l.state.advance(snap.W * l.dt)
}

// Run submits a tick to the executor every period until ctx is done.
func (l *ControlLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()

	l.logger.Infof("Control loop started (period=%v)", l.period)
	for {
		select {
		case <-ctx.Done():
			l.logger.Infof("Control loop stopped after %d ticks, %d commands sent", l.ticks.Load(), l.sent.Load())
			return
		case <-ticker.C:
			l.exec.Submit("control tick", l.Tick)
		}
	}
}

// Period returns the tick period.
func (l *ControlLoop) Period() time.Duration {
	return l.period
}

// Ticks returns how many ticks have run.
func (l *ControlLoop) Ticks() int64 {
	return l.ticks.Load()
}

// Sent returns how many OMNI commands were handed to the link.
func (l *ControlLoop) Sent() int64 {
	return l.sent.Load()
}
