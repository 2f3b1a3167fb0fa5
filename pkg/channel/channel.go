// Package channel manages the long-lived websocket channels between the
// console and the robot. Each channel has its own wire format; inbound
// payloads are decoded into a closed set of message variants and handed to
// exactly one handler per channel. Sends are fire-and-forget and are
// dropped, never queued, while a channel is not open.
package channel

import (
	"errors"
	"fmt"

	"github.com/open-teleop/console/pkg/config"
)

// ID identifies one logical channel.
type ID string

// The six robot channels.
const (
	Control   ID = config.ChannelControl
	Encoders  ID = config.ChannelEncoders
	Radar     ID = config.ChannelRadar
	Signaling ID = config.ChannelSignaling
	System    ID = config.ChannelSystem
	Config    ID = config.ChannelConfig
)

// All lists every channel in a stable order.
var All = []ID{Control, Encoders, Radar, Signaling, System, Config}

// Valid reports whether id names one of the six channels.
func (id ID) Valid() bool {
	switch id {
	case Control, Encoders, Radar, Signaling, System, Config:
		return true
	}
	return false
}

// Status is the connection state of a channel.
type Status int

const (
	Connecting Status = iota
	Open
	Closed
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText renders the status name in JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Common errors
var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnexpectedFrame  = errors.New("unexpected frame type")
)
