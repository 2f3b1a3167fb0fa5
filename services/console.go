package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/open-teleop/console/domain/diagnostic"
	"github.com/open-teleop/console/domain/motion"
	"github.com/open-teleop/console/domain/radar"
	"github.com/open-teleop/console/domain/video"
	"github.com/open-teleop/console/pkg/channel"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
)

// Telemetry topics and message types published for each inbound report.
const (
	TopicRadar    = "telemetry.radar"
	TopicEncoders = "telemetry.encoders"
	TopicSystem   = "telemetry.system"
	TopicChannel  = "console.channel"

	TypeRadarReadout   = "RADAR_READOUT"
	TypeEncoderReading = "ENCODER_READING"
	TypeSystemMetrics  = "SYSTEM_METRICS"
	TypeChannelStatus  = "CHANNEL_STATUS"
)

// TelemetryPublisher fans decoded telemetry out to external subscribers.
type TelemetryPublisher interface {
	PublishTelemetry(topic, msgType string, data interface{}) error
}

// Options sizes the console's components.
type Options struct {
	ControlPeriod   time.Duration
	RadarCapacity   int
	MaxDistanceCm   float64
	ConfigCachePath string
}

// Console owns the single instance of every component and routes channel
// traffic and operator intents between them. Handlers and intents each run
// as one task on the executor.
type Console struct {
	registry    *channel.Registry
	exec        processing.Executor
	logger      customlog.Logger
	motion      *motion.State
	control     *motion.ControlLoop
	encoders    *motion.EncoderReadout
	radar       *radar.Buffer
	session     *video.Session
	sink        *video.DrainSink
	diagnostics *diagnostic.DiagnosticService
	aiConfig    AIConfigService

	mu        sync.RWMutex
	telemetry TelemetryPublisher
	lastReply string
}

// NewConsole builds the components on top of registry and wires every
// channel handler. Nothing is dialed until Run.
func NewConsole(registry *channel.Registry, exec processing.Executor, peers video.PeerFactory, opts Options, logger customlog.Logger) *Console {
	state := motion.NewState()
	sink := video.NewDrainSink()
	c := &Console{
		registry:    registry,
		exec:        exec,
		logger:      customlog.Component(logger, "console"),
		motion:      state,
		control:     motion.NewControlLoop(state, registry, exec, opts.ControlPeriod, logger),
		encoders:    motion.NewEncoderReadout(),
		radar:       radar.NewBuffer(opts.RadarCapacity, opts.MaxDistanceCm),
		session:     video.NewSession(peers, registry, sink, logger),
		sink:        sink,
		diagnostics: diagnostic.NewDiagnosticService(),
		aiConfig:    NewAIConfigService(registry, opts.ConfigCachePath, logger),
	}
	c.wire()
	return c
}

func (c *Console) wire() {
	r := c.registry

	r.OnMessage(channel.Control, func(m channel.Message) {
		reply := m.(channel.ControlMessage)
		c.mu.Lock()
		c.lastReply = reply.Text
		c.mu.Unlock()
		c.logger.Infof("Robot control reply: %s", reply.Text)
	})

	r.OnMessage(channel.Radar, func(m channel.Message) {
		msg := m.(channel.RadarMessage)
		c.radar.Ingest(radar.Sample{Distance: msg.Distance, Signal: msg.Signal}, c.motion.Heading())
		c.publish(TopicRadar, TypeRadarReadout, c.radar.Readout())
	})

	r.OnMessage(channel.Encoders, func(m channel.Message) {
		c.encoders.Update(m.(channel.EncoderMessage))
		if reading, ok := c.encoders.Latest(); ok {
			c.publish(TopicEncoders, TypeEncoderReading, reading)
		}
	})

	r.OnMessage(channel.System, func(m channel.Message) {
		c.diagnostics.HandleMessage(m.(channel.SystemMessage))
		if metrics, ok := c.diagnostics.GetMetrics(); ok {
			c.publish(TopicSystem, TypeSystemMetrics, metrics)
		}
	})

	r.OnMessage(channel.Config, func(m channel.Message) {
		if err := c.aiConfig.HandleMessage(m.(channel.ConfigMessage)); err != nil {
			c.logger.Warnf("Ignoring config reply: %v", err)
		}
	})

	r.OnMessage(channel.Signaling, func(m channel.Message) {
		if err := c.session.HandleMessage(m.(channel.SignalMessage)); err != nil {
			c.logger.Warnf("Ignoring signaling message: %v", err)
		}
	})

	r.OnStatus(channel.Control, func(s channel.Status) {
		if s != channel.Closed {
			return
		}
		c.logger.Warnf("Control channel closed, stopping motion")
		c.motion.Stop()
		// Dropped by the registry; kept so the attempt shows in the counters.
		r.Send(channel.Control, motion.EncodeStop())
	})

	r.OnStatus(channel.Signaling, func(s channel.Status) {
		switch s {
		case channel.Open:
			if err := c.session.Start(); err != nil {
				c.logger.Errorf("Failed to start video negotiation: %v", err)
			}
		case channel.Closed:
			c.session.Close()
		}
	})

	r.OnStatus(channel.Config, func(s channel.Status) {
		if s != channel.Open {
			return
		}
		if err := c.aiConfig.RequestConfig(); err != nil {
			c.logger.Warnf("Failed to request AI config: %v", err)
		}
	})

	for _, id := range channel.All {
		id := id
		r.OnStatus(id, func(s channel.Status) {
			c.publish(TopicChannel, TypeChannelStatus, map[string]interface{}{
				"channel": id,
				"status":  s,
			})
		})
	}
}

// SetTelemetry installs the external telemetry fan-out.
func (c *Console) SetTelemetry(p TelemetryPublisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.telemetry = p
}

func (c *Console) publish(topic, msgType string, data interface{}) {
	c.mu.RLock()
	p := c.telemetry
	c.mu.RUnlock()
	if p == nil {
		return
	}
	if err := p.PublishTelemetry(topic, msgType, data); err != nil {
		c.logger.Debugf("Failed to publish %s: %v", topic, err)
	}
}

// Run dials every channel and drives the control loop until ctx is done.
func (c *Console) Run(ctx context.Context) {
	c.registry.Connect(ctx)
	c.control.Run(ctx)
}

// Close terminates every channel. Status handlers then stop motion and
// close the video session.
func (c *Console) Close() {
	c.registry.Close()
}

// --- Operator intents ---

// ErrBusy is returned when an intent could not be queued.
var ErrBusy = errors.New("console busy, intent dropped")

func (c *Console) submit(name string, task processing.Task) error {
	if !c.exec.Submit(name, task) {
		return ErrBusy
	}
	return nil
}

// Command sets the commanded velocity. It reaches the robot on the next
// control tick.
func (c *Console) Command(vx, vy, w float64) error {
	return c.submit("intent command", func() {
		c.motion.SetCommand(vx, vy, w)
	})
}

// Stop zeroes the motion state and sends STOP. It goes on the event lane,
// so a saturated queue cannot swallow it.
func (c *Console) Stop() error {
	ok := c.exec.SubmitEvent("intent stop", func() {
		c.motion.Stop()
		c.registry.Send(channel.Control, motion.EncodeStop())
	})
	if !ok {
		return ErrBusy
	}
	return nil
}

// SetMode switches the robot's driving mode.
func (c *Console) SetMode(name string) error {
	return c.sendControl("intent mode", motion.EncodeMode(name))
}

func (c *Console) SaveAI() error { return c.sendControl("intent save ai", motion.EncodeSaveAI()) }
func (c *Console) LoadAI() error { return c.sendControl("intent load ai", motion.EncodeLoadAI()) }

// Reboot and Shutdown are host power commands.
func (c *Console) Reboot() error   { return c.sendControl("intent reboot", motion.EncodeReboot()) }
func (c *Console) Shutdown() error { return c.sendControl("intent shutdown", motion.EncodeShutdown()) }

func (c *Console) sendControl(name string, msg []byte) error {
	return c.submit(name, func() {
		c.registry.Send(channel.Control, msg)
	})
}

// --- Views ---

// StateView is the read-only status document served to operators.
type StateView struct {
	Motion       motion.Snapshot       `json:"motion"`
	Channels     []channel.ChannelInfo `json:"channels"`
	Video        video.Info            `json:"video"`
	ControlTicks int64                 `json:"control_ticks"`
	CommandsSent int64                 `json:"commands_sent"`
	LastReply    string                `json:"last_control_reply,omitempty"`
}

// State assembles the current StateView.
func (c *Console) State() StateView {
	c.mu.RLock()
	reply := c.lastReply
	c.mu.RUnlock()
	return StateView{
		Motion:       c.motion.Snapshot(),
		Channels:     c.registry.Stats().Snapshot(),
		Video:        c.session.Info(),
		ControlTicks: c.control.Ticks(),
		CommandsSent: c.control.Sent(),
		LastReply:    reply,
	}
}

func (c *Console) Motion() *motion.State                      { return c.motion }
func (c *Console) ControlLoop() *motion.ControlLoop           { return c.control }
func (c *Console) Encoders() *motion.EncoderReadout           { return c.encoders }
func (c *Console) Radar() *radar.Buffer                       { return c.radar }
func (c *Console) Session() *video.Session                    { return c.session }
func (c *Console) Diagnostics() *diagnostic.DiagnosticService { return c.diagnostics }
func (c *Console) AIConfig() AIConfigService                  { return c.aiConfig }
func (c *Console) Registry() *channel.Registry                { return c.registry }
