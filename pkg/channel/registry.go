package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-teleop/console/pkg/config"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/processing"
)

// MessageHandler receives decoded messages of one channel in arrival order.
type MessageHandler func(msg Message)

// StatusHandler observes the status transitions of one channel.
type StatusHandler func(status Status)

// ErrorSink receives decode failures. The offending payload is discarded.
type ErrorSink func(id ID, err error)

// Endpoint binds a channel to the URL it is dialed on.
type Endpoint struct {
	ID  ID
	URL string
}

// EndpointsFromConfig builds the six endpoints from the bootstrap config.
func EndpointsFromConfig(cfg *config.BootstrapConfig) ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, len(All))
	for _, id := range All {
		url, err := cfg.ChannelURL(string(id))
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, Endpoint{ID: id, URL: url})
	}
	return endpoints, nil
}

type connection struct {
	id  ID
	url string

	mu     sync.Mutex
	status Status
	conn   Conn

	// gorilla allows one concurrent writer per connection
	writeMu sync.Mutex
}

// Registry owns one connection per channel. Reader goroutines decode inbound
// payloads and hand handler calls to the executor, so handlers of a channel
// run in arrival order and never overlap with other executor tasks.
type Registry struct {
	logger    customlog.Logger
	dialer    Dialer
	exec      processing.Executor
	stats     *Stats
	observers []Observer
	errorSink ErrorSink

	conns map[ID]*connection
	order []ID

	mu             sync.RWMutex
	handlers       map[ID]MessageHandler
	statusHandlers map[ID][]StatusHandler
	started        bool
	closed         bool
	cancel         context.CancelFunc

	wg sync.WaitGroup
}

// NewRegistry creates a registry with every endpoint in CONNECTING.
func NewRegistry(endpoints []Endpoint, dialer Dialer, exec processing.Executor, logger customlog.Logger) (*Registry, error) {
	r := &Registry{
		logger:         customlog.Component(logger, "channels"),
		dialer:         dialer,
		exec:           exec,
		stats:          NewStats(),
		conns:          make(map[ID]*connection),
		handlers:       make(map[ID]MessageHandler),
		statusHandlers: make(map[ID][]StatusHandler),
	}
	r.errorSink = func(id ID, err error) {
		r.logger.Warnf("Discarding %s payload: %v", id, err)
	}

	for _, ep := range endpoints {
		if !ep.ID.Valid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, ep.ID)
		}
		if _, dup := r.conns[ep.ID]; dup {
			return nil, fmt.Errorf("duplicate endpoint for channel %s", ep.ID)
		}
		r.conns[ep.ID] = &connection{id: ep.ID, url: ep.URL, status: Connecting}
		r.order = append(r.order, ep.ID)
		r.stats.add(ep.ID, ep.URL)
	}
	return r, nil
}

// SetErrorSink replaces the default logging sink.
func (r *Registry) SetErrorSink(sink ErrorSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorSink = sink
}

// AddObserver attaches an additional traffic observer.
func (r *Registry) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// OnMessage registers the handler for a channel. A later registration
// replaces the earlier one.
func (r *Registry) OnMessage(id ID, handler MessageHandler) {
	if _, ok := r.conns[id]; !ok {
		r.logger.Warnf("Ignoring handler for unknown channel %s", id)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[id]; exists {
		r.logger.Warnf("Replacing message handler for channel %s", id)
	}
	r.handlers[id] = handler
}

// OnStatus subscribes to the status transitions of a channel.
func (r *Registry) OnStatus(id ID, handler StatusHandler) {
	if _, ok := r.conns[id]; !ok {
		r.logger.Warnf("Ignoring status handler for unknown channel %s", id)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusHandlers[id] = append(r.statusHandlers[id], handler)
}

// Status returns the live status of a channel.
func (r *Registry) Status(id ID) Status {
	c, ok := r.conns[id]
	if !ok {
		return Closed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats returns the per-channel counters.
func (r *Registry) Stats() *Stats {
	return r.stats
}

// Send writes an encoded message. It is dropped silently unless the channel
// is OPEN; nothing is queued or retried.
func (r *Registry) Send(id ID, message []byte) {
	c, ok := r.conns[id]
	if !ok {
		r.logger.Warnf("Send on unknown channel %s", id)
		return
	}

	c.mu.Lock()
	conn := c.conn
	open := c.status == Open
	c.mu.Unlock()

	if !open {
		r.notify(func(o Observer) { o.SendDropped(id) })
		r.logger.Debugf("Channel %s not open, dropping %d bytes", id, len(message))
		return
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(TextMessage, message)
	c.writeMu.Unlock()

	if err != nil {
		r.notify(func(o Observer) { o.SendDropped(id) })
		r.logger.Debugf("Channel %s write failed, dropping message: %v", id, err)
		return
	}
	r.notify(func(o Observer) { o.MessageSent(id) })
}

// Connect dials every channel concurrently and returns immediately. A channel
// whose handshake fails goes straight to CLOSED.
func (r *Registry) Connect(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	for _, id := range r.order {
		c := r.conns[id]
		r.wg.Add(1)
		go r.run(ctx, c)
	}
}

// Close terminates every channel and waits for the readers to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, id := range r.order {
		r.terminate(r.conns[id])
	}
	r.wg.Wait()
	r.logger.Infof("All channels closed")
}

// terminate closes an established transport, letting its reader report
// CLOSED, or marks a channel that never connected CLOSED directly.
func (r *Registry) terminate(c *connection) {
	c.mu.Lock()
	conn := c.conn
	prev := c.status
	if conn == nil {
		c.status = Closed
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		return
	}
	if prev != Closed {
		r.emitStatus(c.id, Closed)
	}
}

func (r *Registry) run(ctx context.Context, c *connection) {
	defer r.wg.Done()

	r.logger.Debugf("Dialing channel %s at %s", c.id, c.url)
	conn, err := r.dialer.Dial(ctx, c.url)
	if err != nil {
		r.logger.Warnf("Channel %s handshake with %s failed: %v", c.id, c.url, err)
		r.setStatus(c, Closed)
		return
	}

	c.mu.Lock()
	if c.status == Closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.status = Open
	c.mu.Unlock()
	r.emitStatus(c.id, Open)

	r.readLoop(c, conn)

	conn.Close()
	r.setStatus(c, Closed)
}

func (r *Registry) readLoop(c *connection, conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if isUnexpectedClose(err) {
				r.logger.Warnf("Channel %s closed unexpectedly: %v", c.id, err)
			} else {
				r.logger.Infof("Channel %s terminated: %v", c.id, err)
			}
			return
		}

		r.notify(func(o Observer) { o.MessageReceived(c.id) })

		if messageType != TextMessage {
			r.reportError(c.id, fmt.Errorf("%w: %d", ErrUnexpectedFrame, messageType))
			continue
		}

		msg, err := Decode(c.id, data)
		if err != nil {
			r.reportError(c.id, err)
			continue
		}
		r.dispatch(c.id, msg)
	}
}

func (r *Registry) dispatch(id ID, msg Message) {
	r.exec.Submit(string(id)+" message", func() {
		r.mu.RLock()
		handler := r.handlers[id]
		r.mu.RUnlock()

		if handler == nil {
			r.logger.Debugf("No handler for channel %s, discarding message", id)
			return
		}
		handler(msg)
	})
}

func (r *Registry) reportError(id ID, err error) {
	r.notify(func(o Observer) { o.DecodeFailed(id) })

	r.mu.RLock()
	sink := r.errorSink
	r.mu.RUnlock()
	if sink != nil {
		sink(id, err)
	}
}

// setStatus moves c to status unless it is already there. CLOSED is terminal.
func (r *Registry) setStatus(c *connection, status Status) {
	c.mu.Lock()
	if c.status == status || c.status == Closed {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()
	r.emitStatus(c.id, status)
}

func (r *Registry) emitStatus(id ID, status Status) {
	r.logger.Infof("Channel %s is %s", id, status)
	r.notify(func(o Observer) { o.StatusChanged(id, status) })

	ok := r.exec.SubmitEvent(string(id)+" status", func() {
		r.mu.RLock()
		handlers := append([]StatusHandler(nil), r.statusHandlers[id]...)
		r.mu.RUnlock()

		for _, h := range handlers {
			h(status)
		}
	})
	if !ok {
		r.logger.Warnf("Channel %s %s not delivered: executor stopped", id, status)
	}
}

func (r *Registry) notify(fn func(o Observer)) {
	fn(r.stats)

	r.mu.RLock()
	observers := r.observers
	r.mu.RUnlock()
	for _, o := range observers {
		fn(o)
	}
}
