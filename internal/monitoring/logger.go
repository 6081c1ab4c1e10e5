// Package monitoring holds the diagnostic logger, the event recorder used by
// the protocol layers, and the pipeline metrics.
package monitoring

import (
	"log"
	"strings"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Recorder receives protocol events. Implementations must return promptly;
// callers never wait on them.
type Recorder interface {
	Record(event string, withTimestamp bool)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(event string, withTimestamp bool)

func (f RecorderFunc) Record(event string, withTimestamp bool) { f(event, withTimestamp) }

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(string, bool) {})

// LogRecorder writes events through Logf.
type LogRecorder struct {
	// Now is used for the timestamp prefix; defaults to time.Now.
	Now func() time.Time
}

func (r LogRecorder) Record(event string, withTimestamp bool) {
	event = strings.TrimRight(event, "\n")
	if !withTimestamp {
		Logf("%s", event)
		return
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	Logf("[%s] %s", now().Format("15:04:05"), event)
}

// MultiRecorder fans events out to every non-nil recorder.
func MultiRecorder(recorders ...Recorder) Recorder {
	var out []Recorder
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return RecorderFunc(func(event string, withTimestamp bool) {
		for _, r := range out {
			r.Record(event, withTimestamp)
		}
	})
}

// MemoryRecorder keeps events in memory. Used by tests and the admin state
// page.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []string
}

func (m *MemoryRecorder) Record(event string, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

// Events returns a copy of everything recorded so far.
func (m *MemoryRecorder) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Count returns how many recorded events contain substr.
func (m *MemoryRecorder) Count(substr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if strings.Contains(e, substr) {
			n++
		}
	}
	return n
}
