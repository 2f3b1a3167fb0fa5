package render

import (
	"bytes"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"git.sr.ht/~sbinet/gg"
	"github.com/open-teleop/console/domain/radar"
)

// Raster defaults matching the operator canvas.
const (
	DefaultScalePxPerCm = 1.2
	PointRadiusPx       = 3
	lineWidthPx         = 2
)

// RasterSurface draws the radar view onto a 2-D raster. It keeps the latest
// frame and encodes it to PNG when asked.
type RasterSurface struct {
	width, height int
	scale         float64
	ringCm        float64

	mu     sync.RWMutex
	latest Frame
	drawn  bool
	png    []byte
	seq    uint64

	renderMu sync.Mutex
	renders  atomic.Int64
}

// NewRasterSurface creates a surface of the given pixel size. ringCm is the
// outer ring radius in centimetres, drawn at scale pixels per centimetre.
func NewRasterSurface(width, height int, scale, ringCm float64) *RasterSurface {
	if scale <= 0 {
		scale = DefaultScalePxPerCm
	}
	if ringCm <= 0 {
		ringCm = radar.DefaultMaxDistanceCm
	}
	return &RasterSurface{width: width, height: height, scale: scale, ringCm: ringCm}
}

// Center is the pixel position of the robot.
func (s *RasterSurface) Center() (float64, float64) {
	return float64(s.width) / 2, float64(s.height) / 2
}

// Project maps a point in centimetres to pixels.
func (s *RasterSurface) Project(p radar.Point) (float64, float64) {
	cx, cy := s.Center()
	return cx + p.X*s.scale, cy + p.Y*s.scale
}

// HeadingTip is the end of the heading line for heading theta.
func (s *RasterSurface) HeadingTip(theta float64) (float64, float64) {
	cx, cy := s.Center()
	r := s.ringCm * s.scale
	return cx + r*math.Cos(-theta), cy + r*math.Sin(-theta)
}

// Draw records f as the latest frame. Rasterizing happens in PNG, on the
// caller's goroutine.
func (s *RasterSurface) Draw(f Frame) error {
	s.mu.Lock()
	s.latest = f
	s.drawn = true
	s.mu.Unlock()
	return nil
}

// PNG returns the latest frame encoded as PNG and its sequence number. The
// frame is rendered at most once; nil before the first draw.
func (s *RasterSurface) PNG() ([]byte, uint64, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.RLock()
	f, drawn := s.latest, s.drawn
	cached, seq := s.png, s.seq
	s.mu.RUnlock()

	if !drawn {
		return nil, 0, nil
	}
	if cached != nil && seq == f.Seq {
		return cached, seq, nil
	}

	buf, err := s.render(f)
	if err != nil {
		return nil, 0, err
	}
	s.renders.Add(1)

	s.mu.Lock()
	s.png = buf
	s.seq = f.Seq
	s.mu.Unlock()
	return buf, f.Seq, nil
}

// Renders is the number of frames rasterized so far.
func (s *RasterSurface) Renders() int64 {
	return s.renders.Load()
}

func (s *RasterSurface) render(f Frame) ([]byte, error) {
	dc := gg.NewContext(s.width, s.height)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	cx, cy := s.Center()

	dc.SetRGB255(0, 0xff, 0x33)
	dc.SetLineWidth(lineWidthPx)
	dc.DrawCircle(cx, cy, s.ringCm*s.scale)
	dc.Stroke()

	dc.SetRGBA(0, 1, 0, 0.8)
	for _, p := range f.Points {
		x, y := s.Project(p)
		dc.DrawCircle(x, y, PointRadiusPx)
		dc.Fill()
	}

	hx, hy := s.HeadingTip(f.Heading)
	dc.SetRGB(1, 1, 0)
	dc.SetLineWidth(lineWidthPx)
	dc.DrawLine(cx, cy, hx, hy)
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}
	return buf.Bytes(), nil
}
