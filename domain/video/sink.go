package video

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// TrackSink consumes remote media. It is the presentation boundary: errors
// it returns are logged and never affect negotiation.
type TrackSink interface {
	HandleTrack(track Track) error
}

// TrackStats describes one track seen by a DrainSink.
type TrackStats struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	MimeType string `json:"mime_type"`
	Packets  int64  `json:"packets"`
	Bytes    int64  `json:"bytes"`
	Done     bool   `json:"done"`
}

// DrainSink reads every packet of a track and keeps counters. The console
// has no decoder of its own; operator UIs render the stream.
type DrainSink struct {
	mu     sync.RWMutex
	tracks []*trackCounter
}

type trackCounter struct {
	info    TrackStats
	packets atomic.Int64
	bytes   atomic.Int64
	done    atomic.Bool
}

func NewDrainSink() *DrainSink {
	return &DrainSink{}
}

// HandleTrack blocks until the track ends.
func (s *DrainSink) HandleTrack(track Track) error {
	if track.Payload == nil {
		return errors.New("track has no payload")
	}

	tc := &trackCounter{info: TrackStats{ID: track.ID, Kind: track.Kind, MimeType: track.MimeType}}
	s.mu.Lock()
	s.tracks = append(s.tracks, tc)
	s.mu.Unlock()
	defer tc.done.Store(true)

	buf := make([]byte, 1500)
	for {
		n, err := track.Payload.Read(buf)
		if n > 0 {
			tc.packets.Add(1)
			tc.bytes.Add(int64(n))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Tracks returns counters for every track seen so far.
func (s *DrainSink) Tracks() []TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TrackStats, 0, len(s.tracks))
	for _, tc := range s.tracks {
		st := tc.info
		st.Packets = tc.packets.Load()
		st.Bytes = tc.bytes.Load()
		st.Done = tc.done.Load()
		out = append(out, st)
	}
	return out
}
