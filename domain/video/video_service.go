// Package video negotiates the robot's camera stream: the console offers a
// receive-only video transceiver, the robot answers, and ICE candidates flow
// both ways over the signaling channel.
package video

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/open-teleop/console/pkg/channel"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/pion/webrtc/v4"
)

// State is the negotiation state of a session.
type State int

const (
	Idle State = iota
	OfferSent
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case OfferSent:
		return "OFFER_SENT"
	case Connected:
		return "CONNECTED"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Protocol violations reported by HandleMessage.
var (
	ErrAlreadyStarted   = errors.New("session already started")
	ErrUnexpectedAnswer = errors.New("answer without pending offer")
	ErrUnexpectedOffer  = errors.New("robot sent an offer")
	ErrSessionClosed    = errors.New("session closed")
	ErrNotNegotiating   = errors.New("no negotiation in progress")
)

// Sender writes encoded messages to a channel.
type Sender interface {
	Send(id channel.ID, message []byte)
}

// Info is a read-only view of a session.
type Info struct {
	ID               string       `json:"id"`
	State            State        `json:"state"`
	OfferCount       int          `json:"offer_count"`
	LocalCandidates  int          `json:"local_candidates"`
	RemoteCandidates int          `json:"remote_candidates"`
	HasRemote        bool         `json:"has_remote_description"`
	Tracks           []TrackStats `json:"tracks,omitempty"`
}

// Session is the single peer video negotiation of one signaling channel
// lifetime. It sends at most one offer and never renegotiates.
type Session struct {
	id      string
	factory PeerFactory
	sender  Sender
	sink    TrackSink
	logger  customlog.Logger

	mu               sync.Mutex
	state            State
	peer             Peer
	local            *webrtc.SessionDescription
	remote           *webrtc.SessionDescription
	localCandidates  []webrtc.ICECandidateInit
	remoteCandidates int
	offers           int
}

// NewSession creates an IDLE session.
func NewSession(factory PeerFactory, sender Sender, sink TrackSink, logger customlog.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:      id,
		factory: factory,
		sender:  sender,
		sink:    sink,
		logger:  customlog.Component(logger, "video").WithField("session", id),
		state:   Idle,
	}
}

// Start creates the peer connection and sends the offer. It succeeds once per
// session; the offer goes out before any local candidate.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return ErrSessionClosed
	case OfferSent, Connected:
		return ErrAlreadyStarted
	}

	peer, err := s.factory(PeerHandlers{
		OnCandidate: s.onLocalCandidate,
		OnTrack:     s.onTrack,
	})
	if err != nil {
		return err
	}

	offer, err := negotiateOffer(peer)
	if err != nil {
		peer.Close()
		return err
	}

	envelope, err := channel.EncodeSignal(channel.SignalMessage{Type: channel.SignalOffer, Offer: &offer})
	if err != nil {
		peer.Close()
		return fmt.Errorf("failed to encode offer: %w", err)
	}

	s.peer = peer
	s.local = &offer
	s.state = OfferSent
	s.offers++
	s.sender.Send(channel.Signaling, envelope)
	s.logger.Infof("Offer sent")
	return nil
}

func negotiateOffer(peer Peer) (webrtc.SessionDescription, error) {
	if err := peer.AddVideoReceiver(); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to add video transceiver: %w", err)
	}
	offer, err := peer.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := peer.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

// HandleMessage applies one inbound signaling message. Violations are
// returned for the caller to report and leave the session unchanged.
func (s *Session) HandleMessage(msg channel.SignalMessage) error {
	switch msg.Type {
	case channel.SignalAnswer:
		return s.handleAnswer(*msg.Answer)
	case channel.SignalCandidate:
		return s.handleCandidate(*msg.Candidate)
	case channel.SignalOffer:
		return ErrUnexpectedOffer
	default:
		return fmt.Errorf("%w: signaling type %q", channel.ErrMalformedPayload, msg.Type)
	}
}

func (s *Session) handleAnswer(answer webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != OfferSent {
		return fmt.Errorf("%w (state %s)", ErrUnexpectedAnswer, s.state)
	}
	if err := s.peer.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	s.remote = &answer
	s.state = Connected
	s.logger.Infof("Answer applied, session connected")
	return nil
}

func (s *Session) handleCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Closed:
		return ErrSessionClosed
	case Idle:
		return ErrNotNegotiating
	}
	if err := s.peer.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add remote candidate: %w", err)
	}
	s.remoteCandidates++
	return nil
}

// Close tears the peer connection down. Later negotiation results are
// ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return
	}
	s.state = Closed
	peer := s.peer
	s.mu.Unlock()

	// peer callbacks take s.mu, so close outside it
	if peer != nil {
		if err := peer.Close(); err != nil {
			s.logger.Warnf("Error closing peer connection: %v", err)
		}
	}
	s.logger.Infof("Session closed")
}

func (s *Session) onLocalCandidate(candidate webrtc.ICECandidateInit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		return
	}
	envelope, err := channel.EncodeSignal(channel.SignalMessage{Type: channel.SignalCandidate, Candidate: &candidate})
	if err != nil {
		s.logger.Warnf("Failed to encode local candidate: %v", err)
		return
	}
	s.localCandidates = append(s.localCandidates, candidate)
	s.sender.Send(channel.Signaling, envelope)
}

func (s *Session) onTrack(track Track) {
	s.mu.Lock()
	closed := s.state == Closed
	s.mu.Unlock()
	if closed || s.sink == nil {
		return
	}

	s.logger.Infof("Remote %s track %s (%s)", track.Kind, track.ID, track.MimeType)
	go func() {
		if err := s.sink.HandleTrack(track); err != nil {
			s.logger.Warnf("Track sink failed for %s: %v", track.ID, err)
		}
	}()
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current negotiation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalDescription returns the offer, if one was made.
func (s *Session) LocalDescription() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// RemoteDescription returns the applied answer, if any.
func (s *Session) RemoteDescription() *webrtc.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// LocalCandidates returns the local candidates in discovery order.
func (s *Session) LocalCandidates() []webrtc.ICECandidateInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), s.localCandidates...)
}

// Info returns a read-only summary.
func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:               s.id,
		State:            s.state,
		OfferCount:       s.offers,
		LocalCandidates:  len(s.localCandidates),
		RemoteCandidates: s.remoteCandidates,
		HasRemote:        s.remote != nil,
	}
	s.mu.Unlock()

	if ds, ok := s.sink.(*DrainSink); ok {
		info.Tracks = ds.Tracks()
	}
	return info
}

// StreamHandler reports the session for the operator API.
func (s *Session) StreamHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"session": s.Info(),
	})
}
