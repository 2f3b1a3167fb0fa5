package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/open-teleop/console/domain/radar"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedHeading float64

func (h fixedHeading) Heading() float64 { return float64(h) }

type recordingSurface struct {
	frames []Frame
	err    error
}

func (s *recordingSurface) Draw(f Frame) error {
	s.frames = append(s.frames, f)
	return s.err
}

func bufferWith(points ...float64) *radar.Buffer {
	b := radar.NewBuffer(radar.DefaultCapacity, radar.DefaultMaxDistanceCm)
	for _, d := range points {
		b.Ingest(radar.Sample{Distance: d}, 0)
	}
	return b
}

func TestLoopRendersEverySurface(t *testing.T) {
	l := NewLoop(bufferWith(50, 300), fixedHeading(0.5), processing.Inline{}, 0, customlog.NewNopLogger())
	ok := &recordingSurface{}
	broken := &recordingSurface{err: errors.New("gone")}
	l.AddSurface(ok)
	l.AddSurface(broken)

	l.Render()
	l.Render()

	require.Len(t, ok.frames, 2)
	require.Len(t, broken.frames, 2)
	assert.Equal(t, int64(2), l.Failures())

	f := ok.frames[1]
	assert.Equal(t, uint64(2), f.Seq)
	assert.Equal(t, 0.5, f.Heading)
	require.Len(t, f.Points, 1)
	assert.InDelta(t, 50, f.Points[0].X, 1e-9)
	require.NotNil(t, f.Readout.Distance)
	assert.Equal(t, 300.0, *f.Readout.Distance)
}

func TestLoopRunSubmitsFrames(t *testing.T) {
	l := NewLoop(bufferWith(), fixedHeading(0), processing.Inline{}, 5*time.Millisecond, customlog.NewNopLogger())
	s := &recordingSurface{}
	l.AddSurface(s)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	assert.NotEmpty(t, s.frames)
}

func TestRasterSurfaceRendersOnlyWhenRead(t *testing.T) {
	s := NewRasterSurface(64, 64, 1.2, 20)
	require.NoError(t, s.Draw(Frame{Seq: 1}))
	require.NoError(t, s.Draw(Frame{Seq: 2, Points: []radar.Point{{X: 5}}}))
	assert.Zero(t, s.Renders(), "drawing does not rasterize")

	first, seq, err := s.PNG()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, int64(1), s.Renders())

	again, seq, err := s.PNG()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, first, again)
	assert.Equal(t, int64(1), s.Renders(), "unchanged frame is served from cache")

	require.NoError(t, s.Draw(Frame{Seq: 3}))
	_, seq, err = s.PNG()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, int64(2), s.Renders())
}

func TestRasterSurfaceDrawsRingPointsAndHeading(t *testing.T) {
	s := NewRasterSurface(520, 520, 1.2, 200)
	data, seq, err := s.PNG()
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Zero(t, seq)

	f := Frame{Seq: 7, Heading: 0, Points: []radar.Point{{X: 50, Y: 50}}}
	require.NoError(t, s.Draw(f))

	data, seq, err = s.PNG()
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, uint64(7), seq)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 520, img.Bounds().Dx())

	rgb := func(x, y int) (uint32, uint32, uint32) {
		r, g, b, _ := img.At(x, y).RGBA()
		return r >> 8, g >> 8, b >> 8
	}

	// heading line along +x from the centre
	r, g, b := rgb(360, 260)
	assert.Greater(t, r, uint32(200))
	assert.Greater(t, g, uint32(200))
	assert.Less(t, b, uint32(80))

	// the point at (50, 50) cm lands at (320, 320) px
	r, g, _ = rgb(320, 320)
	assert.Less(t, r, uint32(50))
	assert.Greater(t, g, uint32(150))

	// background
	r, g, b = rgb(10, 10)
	assert.Zero(t, r+g+b)
}

func TestRasterHeadingTipIsMirrored(t *testing.T) {
	s := NewRasterSurface(520, 520, 1.2, 200)
	x, y := s.HeadingTip(1.5707963267948966) // +90°
	assert.InDelta(t, 260, x, 1e-9)
	assert.InDelta(t, 260-240, y, 1e-9)
}

func TestFrameHubDropsForSlowClients(t *testing.T) {
	h := NewFrameHub()
	require.NoError(t, h.Draw(Frame{Seq: 1}), "no clients is not an error")

	ch, leave := h.Subscribe()
	assert.Equal(t, 1, h.Clients())

	require.NoError(t, h.Draw(Frame{Seq: 2}))
	require.NoError(t, h.Draw(Frame{Seq: 3}))
	assert.Equal(t, int64(1), h.Dropped())

	var got Frame
	require.NoError(t, json.Unmarshal(<-ch, &got))
	assert.Equal(t, uint64(2), got.Seq)

	leave()
	leave()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, h.Clients())
}
