package video

import (
	"fmt"
	"io"
	"sync"

	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/pion/webrtc/v4"
)

// Track is a remote media track handed to a TrackSink.
type Track struct {
	ID       string
	StreamID string
	Kind     string
	MimeType string
	// Payload yields raw RTP packets until the peer connection closes.
	Payload io.Reader
}

// PeerHandlers are the callbacks a Peer reports discovery events through.
type PeerHandlers struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnTrack     func(Track)
}

// Peer is the negotiation surface of one peer connection.
type Peer interface {
	AddVideoReceiver() error
	CreateOffer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// PeerFactory creates a Peer wired to the given handlers.
type PeerFactory func(handlers PeerHandlers) (Peer, error)

// NewPionFactory returns a factory producing pion peer connections that use
// the given STUN/TURN URLs.
func NewPionFactory(iceServers []string, logger customlog.Logger) PeerFactory {
	logger = customlog.Component(logger, "webrtc")

	return func(h PeerHandlers) (Peer, error) {
		cfg := webrtc.Configuration{}
		if len(iceServers) > 0 {
			cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
		}

		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create peer connection: %w", err)
		}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			// nil marks the end of gathering
			if c == nil || h.OnCandidate == nil {
				return
			}
			h.OnCandidate(c.ToJSON())
		})
		pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if h.OnTrack == nil {
				return
			}
			h.OnTrack(Track{
				ID:       remote.ID(),
				StreamID: remote.StreamID(),
				Kind:     remote.Kind().String(),
				MimeType: remote.Codec().MimeType,
				Payload:  trackReader{remote},
			})
		})
		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			logger.Infof("Peer connection state: %s", state)
		})

		return &pionPeer{pc: pc}, nil
	}
}

// pionPeer holds remote candidates that arrive before the answer until the
// remote description is set; pion rejects them otherwise.
type pionPeer struct {
	pc      *webrtc.PeerConnection
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
}

func (p *pionPeer) AddVideoReceiver() error {
	_, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	return err
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	pending := p.pending
	p.pending = nil
	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("failed to apply queued candidate: %w", err)
		}
	}
	return nil
}

func (p *pionPeer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pc.RemoteDescription() == nil {
		p.pending = append(p.pending, candidate)
		return nil
	}
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type trackReader struct {
	track *webrtc.TrackRemote
}

func (r trackReader) Read(b []byte) (int, error) {
	n, _, err := r.track.Read(b)
	return n, err
}
