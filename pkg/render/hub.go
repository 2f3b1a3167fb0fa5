package render

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// FrameHub broadcasts frames as JSON. Each subscriber holds at most one
// pending frame; a subscriber that has not taken it misses the next one.
type FrameHub struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]chan []byte
	dropped atomic.Int64
}

func NewFrameHub() *FrameHub {
	return &FrameHub{clients: make(map[int]chan []byte)}
}

// Subscribe registers a client. Call the returned function to leave.
func (h *FrameHub) Subscribe() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan []byte, 1)
	h.clients[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.clients, id)
			close(ch)
		})
	}
}

// Draw encodes f once and offers it to every client.
func (h *FrameHub) Draw(f Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return nil
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	for _, ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Clients returns the number of subscribers.
func (h *FrameHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many frames slow clients missed.
func (h *FrameHub) Dropped() int64 {
	return h.dropped.Load()
}
