// Package metrics exposes console counters to Prometheus.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/open-teleop/console/pkg/channel"
	"github.com/open-teleop/console/pkg/processing"
	"github.com/open-teleop/console/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ channel.Observer = (*Collector)(nil)

// Collector bundles the console's Prometheus metrics. It observes channel
// traffic directly and samples the other components when scraped.
type Collector struct {
	reg      prometheus.Registerer
	gatherer prometheus.Gatherer

	Received     *prometheus.CounterVec
	DecodeErrors *prometheus.CounterVec
	Sent         *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	Status       *prometheus.GaugeVec
}

// NewCollector registers the channel metrics against reg, defaulting to the
// global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{reg: reg, gatherer: gatherer}
	var err error

	if c.Received, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_channel_messages_received_total",
		Help: "Inbound messages decoded per robot channel.",
	}, []string{"channel"}), "console_channel_messages_received_total"); err != nil {
		return nil, err
	}
	if c.DecodeErrors, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_channel_decode_errors_total",
		Help: "Inbound payloads discarded because they could not be decoded.",
	}, []string{"channel"}), "console_channel_decode_errors_total"); err != nil {
		return nil, err
	}
	if c.Sent, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_channel_messages_sent_total",
		Help: "Outbound messages written per robot channel.",
	}, []string{"channel"}), "console_channel_messages_sent_total"); err != nil {
		return nil, err
	}
	if c.Dropped, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "console_channel_sends_dropped_total",
		Help: "Outbound messages dropped because the channel was not open or the write failed.",
	}, []string{"channel"}), "console_channel_sends_dropped_total"); err != nil {
		return nil, err
	}

	status := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_channel_status",
		Help: "Channel status: 0 connecting, 1 open, 2 closed.",
	}, []string{"channel"})
	if err := reg.Register(status); err != nil {
		return nil, fmt.Errorf("register console_channel_status: %w", err)
	}
	c.Status = status

	return c, nil
}

func (c *Collector) MessageReceived(id channel.ID) { c.Received.WithLabelValues(string(id)).Inc() }
func (c *Collector) DecodeFailed(id channel.ID)    { c.DecodeErrors.WithLabelValues(string(id)).Inc() }
func (c *Collector) MessageSent(id channel.ID)     { c.Sent.WithLabelValues(string(id)).Inc() }
func (c *Collector) SendDropped(id channel.ID)     { c.Dropped.WithLabelValues(string(id)).Inc() }

func (c *Collector) StatusChanged(id channel.ID, status channel.Status) {
	c.Status.WithLabelValues(string(id)).Set(float64(status))
}

// ObserveLoop exports the event loop's queue and task counters.
func (c *Collector) ObserveLoop(loop *processing.EventLoop) error {
	return c.registerFuncs(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "console_loop_queue_length",
			Help: "Tasks waiting on the event loop.",
		}, func() float64 { return float64(loop.GetQueueLength()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "console_loop_tasks_processed_total",
			Help: "Tasks run by the event loop.",
		}, func() float64 { return float64(loop.GetMetrics().ProcessedCount) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "console_loop_tasks_dropped_total",
			Help: "Tasks discarded because the event loop queue was full.",
		}, func() float64 { return float64(loop.GetMetrics().DroppedCount) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "console_loop_events_total",
			Help: "Lifecycle events queued on the event lane.",
		}, func() float64 { return float64(loop.GetMetrics().EventCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "console_loop_task_max_microseconds",
			Help: "Longest task run time observed.",
		}, func() float64 { return float64(loop.GetMetrics().ProcessingTimeMax) }),
	)
}

// ObserveConsole exports motion, radar and video state.
func (c *Collector) ObserveConsole(console *services.Console) error {
	return c.registerFuncs(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "console_control_ticks_total",
			Help: "Control loop ticks run.",
		}, func() float64 { return float64(console.ControlLoop().Ticks()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "console_control_commands_sent_total",
			Help: "OMNI commands handed to the control channel.",
		}, func() float64 { return float64(console.ControlLoop().Sent()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "console_motion_heading_radians",
			Help: "Integrated heading, unwrapped.",
		}, func() float64 { return console.Motion().Heading() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "console_radar_points",
			Help: "Points held in the radar buffer.",
		}, func() float64 { return float64(console.Radar().Len()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "console_radar_samples_rejected_total",
			Help: "Radar samples outside the admitted range.",
		}, func() float64 {
			_, rejected := console.Radar().Counts()
			return float64(rejected)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "console_video_session_state",
			Help: "Video session state: 0 idle, 1 offer sent, 2 connected, 3 closed.",
		}, func() float64 { return float64(console.Session().State()) }),
	)
}

func (c *Collector) registerFuncs(collectors ...prometheus.Collector) error {
	for _, col := range collectors {
		if err := c.reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
