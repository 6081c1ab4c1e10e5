// Package display turns window views into something a person can look at:
// an HTML line chart, a PNG plot, or the latest view as JSON.
package display

import (
	"sync"
	"time"

	"github.com/banshee-data/sensorview/internal/window"
)

// Snapshot is a window.Renderer that keeps the most recent view for HTTP
// handlers to read.
type Snapshot struct {
	mu       sync.RWMutex
	view     window.View
	frames   uint64
	updated  time.Time
	received bool
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot { return &Snapshot{} }

// Present implements window.Renderer.
func (s *Snapshot) Present(v window.View) {
	s.mu.Lock()
	s.view = v
	s.frames++
	s.updated = time.Now()
	s.received = true
	s.mu.Unlock()
}

// Latest returns the most recent view and whether one has been presented.
func (s *Snapshot) Latest() (window.View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view, s.received
}

// Frames returns how many views have been presented.
func (s *Snapshot) Frames() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames
}

// Updated returns when the last view arrived.
func (s *Snapshot) Updated() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
