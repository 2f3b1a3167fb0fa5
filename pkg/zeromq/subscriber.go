package zeromq

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"time"

	customlog "github.com/open-teleop/console/pkg/log"
	zmq "github.com/pebbe/zmq4"
)

// Delivery is one message received by a subscriber.
type Delivery struct {
	Topic   string
	Message ZeroMQMessage
	Raw     []byte
}

// TelemetrySubscriber reads the console's telemetry PUB stream.
type TelemetrySubscriber struct {
	socket *zmq.Socket
	logger customlog.Logger
}

// NewTelemetrySubscriber connects a SUB socket to address, filtered by the
// topic prefixes (all topics when none are given).
func NewTelemetrySubscriber(address string, logger customlog.Logger, prefixes ...string) (*TelemetrySubscriber, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	for _, p := range prefixes {
		if err := socket.SetSubscribe(p); err != nil {
			socket.Close()
			return nil, err
		}
	}
	if err := socket.SetRcvtimeo(pollInterval); err != nil {
		socket.Close()
		return nil, err
	}
	if err := socket.Connect(address); err != nil {
		socket.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	logger.Infof("Telemetry subscriber connected to %s", address)
	return &TelemetrySubscriber{socket: socket, logger: logger}, nil
}

// Run delivers messages to fn until ctx is done, then closes the socket.
func (s *TelemetrySubscriber) Run(ctx context.Context, fn func(Delivery)) error {
	defer s.socket.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frames, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			s.logger.Warnf("Error receiving telemetry: %v", err)
			time.Sleep(pollInterval)
			continue
		}
		if len(frames) != 2 {
			s.logger.Warnf("Dropping telemetry with %d frames", len(frames))
			continue
		}

		d := Delivery{Topic: string(frames[0]), Raw: frames[1]}
		if err := json.Unmarshal(frames[1], &d.Message); err != nil {
			s.logger.Warnf("Dropping malformed telemetry on %s: %v", d.Topic, err)
			continue
		}
		fn(d)
	}
}
