package motion

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/console/pkg/channel"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	mu     sync.Mutex
	status channel.Status
	sent   []string
}

func (f *fakeLink) Send(id channel.ID, message []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == channel.Control && f.status == channel.Open {
		f.sent = append(f.sent, string(message))
	}
}

func (f *fakeLink) Status(id channel.ID) channel.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeLink) setStatus(s channel.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakeLink) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newLoop(link Link) (*State, *ControlLoop) {
	state := NewState()
	return state, NewControlLoop(state, link, processing.Inline{}, 50*time.Millisecond, customlog.NewNopLogger())
}

func TestActiveTracksLatestCall(t *testing.T) {
	s := NewState()
	assert.False(t, s.Snapshot().Active)

	s.SetCommand(0, 0, 0)
	assert.True(t, s.Snapshot().Active, "zero command is still a command")

	s.Stop()
	snap := s.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, Command{}, snap.Command)

	s.SetCommand(-2, 3.5, 100)
	snap = s.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, Command{VX: -2, VY: 3.5, W: 100}, snap.Command, "no clamping")
}

func TestThreeTicksWhileOpen(t *testing.T) {
	link := &fakeLink{status: channel.Open}
	state, loop := newLoop(link)

	state.SetCommand(1, 0, 0.5)
	assert.Empty(t, link.Sent(), "SetCommand does not send by itself")

	for i := 0; i < 3; i++ {
		loop.Tick()
	}

	assert.InDelta(t, 0.075, state.Heading(), 1e-12)
	assert.Equal(t, []string{"OMNI 1 0 0.5", "OMNI 1 0 0.5", "OMNI 1 0 0.5"}, link.Sent())
	assert.Equal(t, int64(3), loop.Sent())
}

func TestNoSendsUnlessActiveAndOpen(t *testing.T) {
	link := &fakeLink{status: channel.Open}
	state, loop := newLoop(link)

	loop.Tick()
	assert.Empty(t, link.Sent(), "inactive")

	state.SetCommand(1, 1, 0)
	link.setStatus(channel.Connecting)
	loop.Tick()
	link.setStatus(channel.Closed)
	loop.Tick()
	assert.Empty(t, link.Sent(), "not open")
	assert.Equal(t, int64(3), loop.Ticks())
}

func TestHeadingIndependentOfConnectivity(t *testing.T) {
	for _, status := range []channel.Status{channel.Open, channel.Connecting, channel.Closed} {
		t.Run(status.String(), func(t *testing.T) {
			link := &fakeLink{status: status}
			state, loop := newLoop(link)
			state.SetCommand(0, 0, -1.2)

			const k = 40
			for i := 0; i < k; i++ {
				loop.Tick()
			}
			assert.InDelta(t, k*-1.2*0.05, state.Heading(), 1e-9)
		})
	}
}

func TestHeadingIsNotWrapped(t *testing.T) {
	state, loop := newLoop(&fakeLink{status: channel.Closed})
	state.SetCommand(0, 0, 10)
	for i := 0; i < 100; i++ {
		loop.Tick()
	}
	assert.Greater(t, state.Heading(), 2*math.Pi)
	assert.InDelta(t, 50.0, state.Heading(), 1e-9)
}

func TestStopKeepsHeading(t *testing.T) {
	state, loop := newLoop(&fakeLink{status: channel.Open})
	state.SetCommand(0, 0, 1)
	loop.Tick()
	state.Stop()
	loop.Tick()
	assert.InDelta(t, 0.05, state.Heading(), 1e-12)
}

func TestRunSubmitsTicks(t *testing.T) {
	link := &fakeLink{status: channel.Open}
	state := NewState()
	loop := NewControlLoop(state, link, processing.Inline{}, 5*time.Millisecond, customlog.NewNopLogger())
	state.SetCommand(0.25, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(link.Sent()) >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, "OMNI 0.25 0 0", link.Sent()[0])
}

func TestEncodeCommands(t *testing.T) {
	tests := []struct {
		got  []byte
		want string
	}{
		{EncodeOmni(Command{VX: 1, VY: 0, W: 0.5}), "OMNI 1 0 0.5"},
		{EncodeOmni(Command{VX: -0.3, VY: math.Copysign(0, -1), W: 2}), "OMNI -0.3 0 2"},
		{EncodeMode("auto"), "MODE auto"},
		{EncodeStop(), "STOP"},
		{EncodeSaveAI(), "SAVE_AI"},
		{EncodeLoadAI(), "LOAD_AI"},
		{EncodeReboot(), "REBOOT"},
		{EncodeShutdown(), "SHUTDOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(tt.got))
	}
}

func TestEncoderReadoutKeepsLatest(t *testing.T) {
	r := NewEncoderReadout()
	_, ok := r.Latest()
	assert.False(t, ok)

	r.Update(channel.EncoderMessage{Ticks: [3]float64{1, 2, 3}})
	r.Update(channel.EncoderMessage{Ticks: [3]float64{4, 5, 6}, Speed: [3]float64{0.1, 0, 0}})

	reading, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, [3]float64{4, 5, 6}, reading.Ticks)
	assert.Equal(t, [3]float64{0.1, 0, 0}, reading.Speed)
	assert.False(t, reading.Timestamp.IsZero())
}

func TestControlLoopDefaultsNonPositivePeriod(t *testing.T) {
	for _, period := range []time.Duration{0, -time.Second} {
		loop := NewControlLoop(NewState(), &fakeLink{}, processing.Inline{}, period, customlog.NewNopLogger())
		assert.Equal(t, DefaultControlPeriod, loop.Period())
	}

	state := NewState()
	link := &fakeLink{status: channel.Open}
	loop := NewControlLoop(state, link, processing.Inline{}, 0, customlog.NewNopLogger())
	state.SetCommand(0, 0, 1)
	loop.Tick()
	assert.InDelta(t, DefaultControlPeriod.Seconds(), state.Heading(), 1e-12)
}
