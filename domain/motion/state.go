// Package motion holds the operator's commanded velocity and the heading the
// console integrates from it.
package motion

import "sync"

// Command is a commanded body velocity: vx, vy in robot units, w in rad/s.
type Command struct {
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	W  float64 `json:"w"`
}

// Snapshot is a consistent copy of the motion state.
type Snapshot struct {
	Command
	Active  bool    `json:"active"`
	Heading float64 `json:"heading"`
}

// State is the single motion state of the console. The heading is never
// wrapped; it accumulates every tick's contribution.
type State struct {
	mu      sync.RWMutex
	cmd     Command
	active  bool
	heading float64
}

// NewState returns a stopped state with zero heading.
func NewState() *State {
	return &State{}
}

// SetCommand stores a new velocity and marks the state active. Values are
// taken as given.
func (s *State) SetCommand(vx, vy, w float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = Command{VX: vx, VY: vy, W: w}
	s.active = true
}

// Stop zeroes the velocity and clears active. The heading is kept.
func (s *State) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = Command{}
	s.active = false
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Command: s.cmd, Active: s.active, Heading: s.heading}
}

// Heading returns the integrated heading in radians.
func (s *State) Heading() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heading
}

func (s *State) advance(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heading += delta
}
