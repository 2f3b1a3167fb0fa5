package channel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/pion/webrtc/v4"
)

// Message is one decoded inbound payload. The set of implementations is
// closed: EncoderMessage, RadarMessage, SignalMessage, SystemMessage,
// ConfigMessage and ControlMessage.
type Message interface {
	Channel() ID
	isMessage()
}

// EncoderMessage carries wheel ticks [fl, fr, rear] and body speed [vx, vy, w].
type EncoderMessage struct {
	Ticks [3]float64 `json:"ticks"`
	Speed [3]float64 `json:"speed"`
}

// RadarMessage is one polar range sample. Distance is NaN when the robot sent
// something non-numeric or nothing at all.
type RadarMessage struct {
	Distance float64  `json:"distance"`
	Signal   *float64 `json:"signal,omitempty"`
}

// HasDistance reports whether the sample carried a numeric distance.
func (m RadarMessage) HasDistance() bool {
	return !math.IsNaN(m.Distance) && !math.IsInf(m.Distance, 0)
}

// SignalType discriminates signaling envelopes.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// SignalMessage is the signaling envelope in both directions.
type SignalMessage struct {
	Type      SignalType                 `json:"type"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// SystemMessage is a host health report. WifiRSSI is nil when the robot has
// no wireless link.
type SystemMessage struct {
	IP        string   `json:"ip"`
	CPUTemp   float64  `json:"cpu_temp"`
	CPULoad   float64  `json:"cpu_load"`
	RAMUsed   float64  `json:"ram_used"`
	RAMTotal  float64  `json:"ram_total"`
	DiskUsed  float64  `json:"disk_used"`
	DiskTotal float64  `json:"disk_total"`
	Uptime    float64  `json:"uptime"`
	WifiRSSI  *float64 `json:"wifi_rssi"`
}

// ConfigMessage is a reply on the config channel. Config is left raw for the
// config sync service to decode.
type ConfigMessage struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config,omitempty"`
}

// ConfigFull is the reply type carrying the robot's whole config document.
const ConfigFull = "CONFIG_FULL"

// ControlMessage is any text the robot writes back on the control channel.
type ControlMessage struct {
	Text string
}

func (EncoderMessage) Channel() ID { return Encoders }
func (RadarMessage) Channel() ID   { return Radar }
func (SignalMessage) Channel() ID  { return Signaling }
func (SystemMessage) Channel() ID  { return System }
func (ConfigMessage) Channel() ID  { return Config }
func (ControlMessage) Channel() ID { return Control }

func (EncoderMessage) isMessage() {}
func (RadarMessage) isMessage()   {}
func (SignalMessage) isMessage()  {}
func (SystemMessage) isMessage()  {}
func (ConfigMessage) isMessage()  {}
func (ControlMessage) isMessage() {}

// Decode parses a payload received on channel id.
func Decode(id ID, payload []byte) (Message, error) {
	switch id {
	case Control:
		return ControlMessage{Text: string(payload)}, nil
	case Encoders:
		return decodeEncoders(payload)
	case Radar:
		return decodeRadar(payload)
	case Signaling:
		return decodeSignal(payload)
	case System:
		var msg SystemMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: system: %v", ErrMalformedPayload, err)
		}
		return msg, nil
	case Config:
		var msg ConfigMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("%w: config: %v", ErrMalformedPayload, err)
		}
		if msg.Type == "" {
			return nil, fmt.Errorf("%w: config: missing type", ErrMalformedPayload)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
}

func decodeEncoders(payload []byte) (Message, error) {
	var raw struct {
		Ticks []float64 `json:"ticks"`
		Speed []float64 `json:"speed"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: encoders: %v", ErrMalformedPayload, err)
	}
	if len(raw.Ticks) != 3 || len(raw.Speed) != 3 {
		return nil, fmt.Errorf("%w: encoders: want 3 ticks and 3 speeds, got %d and %d",
			ErrMalformedPayload, len(raw.Ticks), len(raw.Speed))
	}
	var msg EncoderMessage
	copy(msg.Ticks[:], raw.Ticks)
	copy(msg.Speed[:], raw.Speed)
	return msg, nil
}

func decodeRadar(payload []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: radar: %v", ErrMalformedPayload, err)
	}
	msg := RadarMessage{Distance: math.NaN()}
	if d, ok := number(raw["distance"]); ok {
		msg.Distance = d
	}
	// signal_strength wins whenever it is present and not null.
	if v, present := raw["signal_strength"]; present && !isNull(v) {
		if s, ok := number(v); ok {
			msg.Signal = &s
		}
	} else if s, ok := number(raw["signal"]); ok {
		msg.Signal = &s
	}
	return msg, nil
}

func decodeSignal(payload []byte) (Message, error) {
	var msg SignalMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: signaling: %v", ErrMalformedPayload, err)
	}
	switch msg.Type {
	case SignalOffer:
		if msg.Offer == nil {
			return nil, fmt.Errorf("%w: signaling: offer without description", ErrMalformedPayload)
		}
	case SignalAnswer:
		if msg.Answer == nil {
			return nil, fmt.Errorf("%w: signaling: answer without description", ErrMalformedPayload)
		}
	case SignalCandidate:
		if msg.Candidate == nil {
			return nil, fmt.Errorf("%w: signaling: candidate without body", ErrMalformedPayload)
		}
	default:
		return nil, fmt.Errorf("%w: signaling: unknown type %q", ErrMalformedPayload, msg.Type)
	}
	return msg, nil
}

// number accepts JSON numbers only; "100" is not a distance.
func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// EncodeSignal serializes an outbound signaling envelope.
func EncodeSignal(msg SignalMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// ConfigCommand is an outbound request on the config channel.
type ConfigCommand struct {
	Cmd    string      `json:"cmd"`
	Config interface{} `json:"config,omitempty"`
}

// Config channel commands.
const (
	CmdGetConfig   = "GET_CONFIG"
	CmdSetConfig   = "SET_CONFIG"
	CmdResetConfig = "RESET_CONFIG"
)

// EncodeConfigCommand serializes a config channel request.
func EncodeConfigCommand(cmd ConfigCommand) ([]byte, error) {
	return json.Marshal(cmd)
}
