package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/open-teleop/console/pkg/config"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/pebbe/zmq4"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrNotConfigured      = errors.New("no zeromq address configured")
)

// Message types
const (
	MsgTypeStateRequest   = "STATE_REQUEST"
	MsgTypeStateResponse  = "STATE_RESPONSE"
	MsgTypeConfigRequest  = "CONFIG_REQUEST"
	MsgTypeConfigResponse = "CONFIG_RESPONSE"
	MsgTypeConfigUpdated  = "CONFIG_UPDATED"
	MsgTypeError          = "ERROR"
)

const pollInterval = 100 * time.Millisecond

// ZeroMQMessage is the envelope of every published and request/reply message.
type ZeroMQMessage struct {
	Type      string      `json:"type"`
	Timestamp float64     `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewMessage wraps data in an envelope stamped with the current time.
func NewMessage(msgType string, data interface{}) ZeroMQMessage {
	return ZeroMQMessage{
		Type:      msgType,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Data:      data,
	}
}

// ErrorResponse represents an error response message
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MessageHandler defines the interface for handlers that process specific message types
type MessageHandler interface {
	HandleMessage(data []byte) ([]byte, error)
}

// HandlerFunc is a function type that implements MessageHandler
type HandlerFunc func(data []byte) ([]byte, error)

// HandleMessage calls the function
func (f HandlerFunc) HandleMessage(data []byte) ([]byte, error) {
	return f(data)
}

// MessageReceiver answers requests on a REP socket. Only the receive
// goroutine touches the socket while running.
type MessageReceiver struct {
	socket     *zmq4.Socket
	dispatcher *MessageDispatcher
	poller     *zmq4.Poller
	logger     customlog.Logger
	running    atomic.Bool
	wg         sync.WaitGroup
	endpoint   string
}

func newMessageReceiver(ctx *zmq4.Context, address string, dispatcher *MessageDispatcher, logger customlog.Logger) (*MessageReceiver, error) {
	socket, err := ctx.NewSocket(zmq4.REP)
	if err != nil {
		return nil, fmt.Errorf("failed to create REP socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.SetSndtimeo(time.Second); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}
	endpoint, err := socket.GetLastEndpoint()
	if err != nil {
		endpoint = address
	}

	poller := zmq4.NewPoller()
	poller.Add(socket, zmq4.POLLIN)

	logger.Infof("Query endpoint bound on %s", endpoint)

	return &MessageReceiver{
		socket:     socket,
		dispatcher: dispatcher,
		poller:     poller,
		logger:     logger,
		endpoint:   endpoint,
	}, nil
}

// Start begins the request loop.
func (r *MessageReceiver) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go r.loop()
}

func (r *MessageReceiver) loop() {
	defer r.wg.Done()

	for r.running.Load() {
		sockets, err := r.poller.Poll(pollInterval)
		if err != nil {
			r.logger.Warnf("Error polling query socket: %v", err)
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		msg, err := r.socket.RecvBytes(0)
		if err != nil {
			r.logger.Warnf("Error receiving query: %v", err)
			continue
		}

		response, err := r.dispatcher.Dispatch(msg)
		if err != nil {
			r.logger.Warnf("Error dispatching query: %v", err)
			response, _ = json.Marshal(NewMessage(MsgTypeError, ErrorResponse{
				Message: err.Error(),
				Code:    errorCode(err),
			}))
		}

		// REP must answer every request before it can receive the next.
		if _, err := r.socket.SendBytes(response, 0); err != nil {
			r.logger.Warnf("Error sending reply: %v", err)
		}
	}
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidMessage):
		return 400
	case errors.Is(err, ErrUnknownMessageType):
		return 404
	}
	return 500
}

// Stop halts the loop, then closes the socket.
func (r *MessageReceiver) Stop() {
	if r.running.CompareAndSwap(true, false) {
		r.wg.Wait()
	}
	if r.socket != nil {
		r.socket.Close()
		r.socket = nil
	}
}

// MessageSender publishes topic-framed messages on a PUB socket.
type MessageSender struct {
	socket   *zmq4.Socket
	logger   customlog.Logger
	running  bool
	endpoint string
	mu       sync.Mutex
}

func newMessageSender(ctx *zmq4.Context, address string, logger customlog.Logger) (*MessageSender, error) {
	socket, err := ctx.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to bind to %s: %w", address, err)
	}
	endpoint, err := socket.GetLastEndpoint()
	if err != nil {
		endpoint = address
	}

	logger.Infof("Telemetry publisher bound on %s", endpoint)

	return &MessageSender{
		socket:   socket,
		logger:   logger,
		running:  true,
		endpoint: endpoint,
	}, nil
}

// PublishMessage sends a message with the given topic
func (s *MessageSender) PublishMessage(topic string, message []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrServiceClosed
	}

	// Topic frame first so subscribers can filter on prefix.
	if _, err := s.socket.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.socket.SendBytes(message, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close cleans up resources
func (s *MessageSender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	if s.socket != nil {
		s.socket.Close()
		s.socket = nil
	}
}

// MessageDispatcher routes messages to the appropriate handlers
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	logger   customlog.Logger
	mu       sync.RWMutex
}

// NewMessageDispatcher creates a new message dispatcher
func NewMessageDispatcher(logger customlog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		logger:   logger,
	}
}

// RegisterHandler adds a handler for a specific message type
func (d *MessageDispatcher) RegisterHandler(messageType string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[messageType] = handler
	d.logger.Debugf("Registered handler for message type: %s", messageType)
}

// Dispatch parses the envelope and hands the raw request to its handler.
func (d *MessageDispatcher) Dispatch(data []byte) ([]byte, error) {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidMessage)
	}

	d.mu.RLock()
	handler, exists := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
	}
	d.logger.Debugf("Dispatching %s", msg.Type)
	return handler.HandleMessage(data)
}

// TelemetryService owns the ZeroMQ context, the optional PUB fan-out and the
// optional REP query endpoint.
type TelemetryService struct {
	ctx        *zmq4.Context
	receiver   *MessageReceiver
	sender     *MessageSender
	dispatcher *MessageDispatcher
	logger     customlog.Logger
	running    bool
	mu         sync.Mutex
}

// NewTelemetryService binds the sockets named in cfg. At least one address
// must be set.
func NewTelemetryService(cfg config.TelemetryConfig, logger customlog.Logger) (*TelemetryService, error) {
	if cfg.PublishAddress == "" && cfg.QueryAddress == "" {
		return nil, ErrNotConfigured
	}
	logger = customlog.Component(logger, "zeromq")

	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	s := &TelemetryService{
		ctx:        ctx,
		dispatcher: NewMessageDispatcher(logger),
		logger:     logger,
	}

	if cfg.PublishAddress != "" {
		s.sender, err = newMessageSender(ctx, cfg.PublishAddress, logger)
		if err != nil {
			ctx.Term()
			return nil, err
		}
	}
	if cfg.QueryAddress != "" {
		s.receiver, err = newMessageReceiver(ctx, cfg.QueryAddress, s.dispatcher, logger)
		if err != nil {
			if s.sender != nil {
				s.sender.Close()
			}
			ctx.Term()
			return nil, err
		}
	}
	return s, nil
}

// RegisterHandler adds a handler for a specific message type
func (s *TelemetryService) RegisterHandler(messageType string, handler MessageHandler) {
	s.dispatcher.RegisterHandler(messageType, handler)
}

// RegisterHandlerFunc adds a handler function for a specific message type
func (s *TelemetryService) RegisterHandlerFunc(messageType string, handler func([]byte) ([]byte, error)) {
	s.dispatcher.RegisterHandler(messageType, HandlerFunc(handler))
}

// Start begins answering queries.
func (s *TelemetryService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.receiver != nil {
		s.receiver.Start()
	}
	s.logger.Infof("ZeroMQ telemetry service started")
}

// Stop closes both sockets and terminates the context.
func (s *TelemetryService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return
	}
	s.running = false

	if s.receiver != nil {
		s.receiver.Stop()
	}
	if s.sender != nil {
		s.sender.Close()
	}
	s.ctx.Term()
	s.ctx = nil
	s.logger.Infof("ZeroMQ telemetry service stopped")
}

// PublishEndpoint is the bound PUB address, empty without a publisher.
func (s *TelemetryService) PublishEndpoint() string {
	if s.sender == nil {
		return ""
	}
	return s.sender.endpoint
}

// QueryEndpoint is the bound REP address, empty without a query socket.
func (s *TelemetryService) QueryEndpoint() string {
	if s.receiver == nil {
		return ""
	}
	return s.receiver.endpoint
}

// PublishMessage sends a message with the given topic
func (s *TelemetryService) PublishMessage(topic string, message []byte) error {
	if s.sender == nil {
		return ErrNotConfigured
	}
	return s.sender.PublishMessage(topic, message)
}

// PublishJSON publishes a JSON-serializable message with the given topic
func (s *TelemetryService) PublishJSON(topic string, messageType string, data interface{}) error {
	msgData, err := json.Marshal(NewMessage(messageType, data))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.PublishMessage(topic, msgData)
}

// PublishTelemetry publishes one decoded report.
func (s *TelemetryService) PublishTelemetry(topic, msgType string, data interface{}) error {
	return s.PublishJSON(topic, msgType, data)
}
