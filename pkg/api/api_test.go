package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/open-teleop/console/domain/radar"
	"github.com/open-teleop/console/domain/video"
	"github.com/open-teleop/console/pkg/channel"
	"github.com/open-teleop/console/pkg/channel/channeltest"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/metrics"
	"github.com/open-teleop/console/pkg/processing"
	"github.com/open-teleop/console/pkg/render"
	"github.com/open-teleop/console/services"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPeer struct{}

func (stubPeer) AddVideoReceiver() error { return nil }
func (stubPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}, nil
}
func (stubPeer) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (stubPeer) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (stubPeer) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }
func (stubPeer) Close() error                                         { return nil }

type fixture struct {
	app     *fiber.App
	console *services.Console
	robot   *channeltest.Robot
	raster  *render.RasterSurface
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	robot := channeltest.NewRobot(t, processing.Inline{})
	console := services.NewConsole(robot.Registry, processing.Inline{},
		func(video.PeerHandlers) (video.Peer, error) { return stubPeer{}, nil },
		services.Options{ControlPeriod: 50 * time.Millisecond}, customlog.NewNopLogger())

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	robot.Registry.AddObserver(collector)

	raster := render.NewRasterSurface(64, 64, 0.1, 200)
	app := NewApp(Deps{
		Console: console,
		Raster:  raster,
		Frames:  render.NewFrameHub(),
		Metrics: collector,
		Logger:  customlog.NewNopLogger(),
	})
	return &fixture{app: app, console: console, robot: robot, raster: raster}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	f.console.Registry().Connect(t.Context())
	for id := range f.robot.Conns {
		f.robot.WaitStatus(t, id, channel.Open)
	}
}

func (f *fixture) do(t *testing.T, method, path, contentType, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"online"`)

	code, body = f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"healthy"}`, body)
}

func TestMotionCommandReachesRobot(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	code, _ := f.do(t, http.MethodPost, "/api/v1/motion/command", fiber.MIMEApplicationJSON, `{"vx":1,"vy":0,"w":0.5}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.True(t, f.console.Motion().Snapshot().Active)

	f.console.ControlLoop().Tick()
	frames := f.robot.WaitWritten(t, channel.Control, 1)
	assert.Equal(t, "OMNI 1 0 0.5", frames[0])

	code, _ = f.do(t, http.MethodPost, "/api/v1/motion/stop", "", "")
	require.Equal(t, http.StatusAccepted, code)
	frames = f.robot.WaitWritten(t, channel.Control, 2)
	assert.Equal(t, "STOP", frames[1])
	assert.False(t, f.console.Motion().Snapshot().Active)

	code, body := f.do(t, http.MethodGet, "/api/v1/state", "", "")
	require.Equal(t, http.StatusOK, code)
	var view struct {
		Motion struct {
			Active bool `json:"active"`
		} `json:"motion"`
		ControlTicks int64 `json:"control_ticks"`
		Channels     []struct {
			Channel string `json:"channel"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	assert.False(t, view.Motion.Active)
	assert.Equal(t, int64(1), view.ControlTicks)
	assert.Len(t, view.Channels, len(channel.All))
}

func TestMotionCommandValidation(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/v1/motion/command", fiber.MIMEApplicationJSON, `{"vx":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "vx, vy and w")
	assert.False(t, f.console.Motion().Snapshot().Active)

	code, _ = f.do(t, http.MethodPost, "/api/v1/motion/command", fiber.MIMEApplicationJSON, `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestModeAndRobotActions(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	code, _ := f.do(t, http.MethodPost, "/api/v1/mode/AUTO", "", "")
	require.Equal(t, http.StatusAccepted, code)
	code, _ = f.do(t, http.MethodPost, "/api/v1/mode/bad%20name", "", "")
	assert.Equal(t, http.StatusBadRequest, code)

	for _, path := range []string{"/api/v1/ai/save", "/api/v1/ai/load", "/api/v1/host/reboot", "/api/v1/host/shutdown"} {
		code, _ := f.do(t, http.MethodPost, path, "", "")
		assert.Equal(t, http.StatusAccepted, code, path)
	}

	frames := f.robot.WaitWritten(t, channel.Control, 5)
	assert.Equal(t, []string{"MODE AUTO", "SAVE_AI", "LOAD_AI", "REBOOT", "SHUTDOWN"}, frames)
}

func TestRadarRoutes(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/v1/radar.png", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	f.console.Radar().Ingest(radar.Sample{Distance: 100}, 0)
	code, body := f.do(t, http.MethodGet, "/api/v1/radar", "", "")
	require.Equal(t, http.StatusOK, code)
	var doc struct {
		Points []struct {
			X float64 `json:"x"`
		} `json:"points"`
		Capacity int `json:"capacity"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	require.Len(t, doc.Points, 1)
	assert.InDelta(t, 100, doc.Points[0].X, 1e-9)
	assert.Equal(t, 500, doc.Capacity)

	require.NoError(t, f.raster.Draw(render.Frame{Seq: 3}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/radar.png", nil)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "3", resp.Header.Get("X-Frame-Seq"))
}

func TestTelemetryRoutesBeforeAndAfterReports(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/v1/telemetry/encoders", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = f.do(t, http.MethodGet, "/api/diagnostics", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	f.connect(t)
	f.robot.Conns[channel.Encoders].Push(`{"ticks":[1,2,3],"speed":[0.1,0,0]}`)
	f.robot.Conns[channel.System].Push(`{"ip":"10.0.0.5","cpu_temp":50}`)
	require.Eventually(t, func() bool {
		_, enc := f.console.Encoders().Latest()
		_, sys := f.console.Diagnostics().GetMetrics()
		return enc && sys
	}, 2*time.Second, time.Millisecond)

	code, body := f.do(t, http.MethodGet, "/api/v1/telemetry/encoders", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"ticks":[1,2,3]`)
	code, body = f.do(t, http.MethodGet, "/api/diagnostics", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "10.0.0.5")
}

func TestConfigRoutes(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/v1/config/ai", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodPut, "/api/v1/config/ai", "application/x-yaml", "gamma: 0.5\n")
	assert.Equal(t, http.StatusServiceUnavailable, code, "config channel not open")

	f.connect(t)
	f.robot.WaitWritten(t, channel.Config, 1)
	f.robot.Conns[channel.Config].Push(`{"type":"CONFIG_FULL","config":{"gamma":0.9}}`)
	require.Eventually(t, func() bool {
		_, ok := f.console.AIConfig().GetCurrentConfig()
		return ok
	}, 2*time.Second, time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config/ai", nil)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-yaml", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("Last-Modified"))
	assert.Contains(t, string(body), "gamma: 0.9")

	code, _ = f.do(t, http.MethodPut, "/api/v1/config/ai", "application/x-yaml", "gamma: 5\n")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPut, "/api/v1/config/ai", "application/x-yaml", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPut, "/api/v1/config/ai", "application/x-yaml", "batch_size: 64\n")
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = f.do(t, http.MethodPost, "/api/v1/config/ai/reset", "", "")
	assert.Equal(t, http.StatusAccepted, code)

	frames := f.robot.WaitWritten(t, channel.Config, 3)
	assert.Contains(t, frames[1], `"cmd":"SET_CONFIG"`)
	assert.Contains(t, frames[1], `"batch_size":64`)
	assert.Equal(t, `{"cmd":"RESET_CONFIG"}`, frames[2])

	cfg, _ := f.console.AIConfig().GetCurrentConfig()
	assert.Equal(t, 0.9, cfg.Gamma, "local config waits for the robot")
}

func TestMetricsAndVideoRoutes(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	code, body := f.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "console_channel_status")

	code, body = f.do(t, http.MethodGet, "/api/v1/video", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"session"`)
}

func TestWebsocketRoutesRequireUpgrade(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/ws/intent", "", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

// --- websocket handlers over a fake connection ---

type fakeWS struct {
	reads  chan []byte
	mu     sync.Mutex
	writes [][]byte
	kind   int
}

func newFakeWS() *fakeWS { return &fakeWS{reads: make(chan []byte, 16), kind: websocket.TextMessage} }

func (c *fakeWS) ReadMessage() (int, []byte, error) {
	msg, ok := <-c.reads
	if !ok {
		return 0, nil, io.EOF
	}
	if len(msg) > 0 && msg[0] == 0 {
		return websocket.BinaryMessage, msg, nil
	}
	return c.kind, msg, nil
}

func (c *fakeWS) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeWS) written() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func (c *fakeWS) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9} }

type recordingIntents struct {
	commands [][3]float64
	stops    int
	err      error
}

func (r *recordingIntents) Command(vx, vy, w float64) error {
	r.commands = append(r.commands, [3]float64{vx, vy, w})
	return r.err
}
func (r *recordingIntents) Stop() error          { r.stops++; return r.err }
func (r *recordingIntents) SetMode(string) error { return nil }
func (r *recordingIntents) SaveAI() error        { return nil }
func (r *recordingIntents) LoadAI() error        { return nil }
func (r *recordingIntents) Reboot() error        { return nil }
func (r *recordingIntents) Shutdown() error      { return nil }

func TestIntentWebSocketHandler(t *testing.T) {
	conn := newFakeWS()
	intents := &recordingIntents{}

	conn.reads <- []byte(`{"linear":{"x":0.5,"y":-0.2,"z":0},"angular":{"x":0,"y":0,"z":1}}`)
	conn.reads <- []byte(`{"linear":{"x":0,"y":0,"z":0},"angular":{"x":0,"y":0,"z":0}}`)
	conn.reads <- []byte(`{"stop":true,"linear":{"x":9}}`)
	conn.reads <- []byte(`{broken`)
	conn.reads <- []byte{0, 1, 2}
	close(conn.reads)

	IntentWebSocketHandler(conn, customlog.NewNopLogger(), intents)

	assert.Equal(t, [][3]float64{{0.5, -0.2, 1}, {0, 0, 0}}, intents.commands, "a zero twist is a command")
	assert.Equal(t, 1, intents.stops)
}

func TestIntentWebSocketHandlerKeepsReadingWhenBusy(t *testing.T) {
	conn := newFakeWS()
	intents := &recordingIntents{err: errors.New("busy")}

	conn.reads <- []byte(`{"linear":{"x":1}}`)
	conn.reads <- []byte(`{"linear":{"x":2}}`)
	close(conn.reads)

	IntentWebSocketHandler(conn, customlog.NewNopLogger(), intents)
	assert.Len(t, intents.commands, 2)
}

func TestFramesWebSocketHandler(t *testing.T) {
	hub := render.NewFrameHub()
	conn := newFakeWS()

	done := make(chan struct{})
	go func() {
		defer close(done)
		FramesWebSocketHandler(conn, customlog.NewNopLogger(), hub)
	}()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, time.Millisecond)
	require.NoError(t, hub.Draw(render.Frame{Seq: 11}))
	require.Eventually(t, func() bool { return conn.written() == 1 }, 2*time.Second, time.Millisecond)

	var got render.Frame
	conn.mu.Lock()
	require.NoError(t, json.Unmarshal(conn.writes[0], &got))
	conn.mu.Unlock()
	assert.Equal(t, uint64(11), got.Seq)

	close(conn.reads)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the client left")
	}
	assert.Zero(t, hub.Clients())
}
