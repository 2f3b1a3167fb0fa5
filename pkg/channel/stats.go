package channel

import (
	"sync"
	"time"
)

// ChannelInfo holds counters and the last known status of one channel.
type ChannelInfo struct {
	Channel       ID     `json:"channel"`
	URL           string `json:"url"`
	Status        Status `json:"status"`
	Received      int64  `json:"received"`
	DecodeErrors  int64  `json:"decode_errors"`
	Sent          int64  `json:"sent"`
	Dropped       int64  `json:"dropped"`
	LastReceived  int64  `json:"last_received"`
	LastSent      int64  `json:"last_sent"`
	StatusChanged int64  `json:"status_changed"`
}

// Observer receives per-channel traffic events. The prometheus collectors in
// pkg/metrics implement it.
type Observer interface {
	MessageReceived(id ID)
	DecodeFailed(id ID)
	MessageSent(id ID)
	SendDropped(id ID)
	StatusChanged(id ID, status Status)
}

// Stats keeps the per-channel counters behind the registry.
type Stats struct {
	channels map[ID]*ChannelInfo
	mu       sync.RWMutex
}

// NewStats creates the counter table.
func NewStats() *Stats {
	return &Stats{channels: make(map[ID]*ChannelInfo)}
}

func (s *Stats) add(id ID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[id] = &ChannelInfo{Channel: id, URL: url, Status: Connecting}
}

func (s *Stats) update(id ID, fn func(info *ChannelInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.channels[id]; ok {
		fn(info)
	}
}

func (s *Stats) MessageReceived(id ID) {
	now := time.Now().UnixNano()
	s.update(id, func(info *ChannelInfo) {
		info.Received++
		info.LastReceived = now
	})
}

func (s *Stats) DecodeFailed(id ID) {
	s.update(id, func(info *ChannelInfo) { info.DecodeErrors++ })
}

func (s *Stats) MessageSent(id ID) {
	now := time.Now().UnixNano()
	s.update(id, func(info *ChannelInfo) {
		info.Sent++
		info.LastSent = now
	})
}

func (s *Stats) SendDropped(id ID) {
	s.update(id, func(info *ChannelInfo) { info.Dropped++ })
}

func (s *Stats) StatusChanged(id ID, status Status) {
	now := time.Now().UnixNano()
	s.update(id, func(info *ChannelInfo) {
		info.Status = status
		info.StatusChanged = now
	})
}

// Get returns a copy of one channel's info.
func (s *Stats) Get(id ID) (ChannelInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.channels[id]
	if !ok {
		return ChannelInfo{}, false
	}
	return *info, true
}

// Snapshot returns copies of every channel's info in All order.
func (s *Stats) Snapshot() []ChannelInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ChannelInfo, 0, len(s.channels))
	for _, id := range All {
		if info, ok := s.channels[id]; ok {
			out = append(out, *info)
		}
	}
	return out
}
