// Package framing reassembles '#'-delimited frames from the raw byte chunks
// delivered by the serial transport.
package framing

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// Delimiter bounds every frame on the wire.
	Delimiter = '#'
	// Capacity is the size of the rolling buffer.
	Capacity = 256
	// MaxRead caps how many bytes one extraction cycle appends, so a single
	// read can never overrun the free space before a delimiter is seen.
	MaxRead = 127
)

// ErrOverflow reports that the buffer filled without a closing delimiter and
// the unterminated fragment was discarded.
var ErrOverflow = errors.New("frame buffer overflow")

// Extractor owns the rolling buffer. It is safe for concurrent use, although
// in practice only the transport read loop feeds it.
type Extractor struct {
	mu      sync.Mutex
	buf     []byte
	dropped int
}

// NewExtractor returns an empty extractor.
func NewExtractor() *Extractor {
	return &Extractor{buf: make([]byte, 0, Capacity)}
}

// Feed appends p to the rolling buffer and returns every frame completed by
// it, delimiters stripped. Input longer than MaxRead is consumed in MaxRead
// sized cycles. Each extraction yields one frame and restarts scanning at
// position zero of the bytes that remain, so the frames returned do not
// depend on how the stream was chunked.
//
// When the buffer cannot hold the next cycle, the open fragment is dropped
// and scanning resyncs on the new bytes. Frames found in the same call are
// still returned alongside an error wrapping ErrOverflow.
func (e *Extractor) Feed(p []byte) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		frames   []string
		overflow error
	)
	for len(p) > 0 {
		n := min(len(p), MaxRead)
		chunk := p[:n]
		p = p[n:]

		if len(e.buf)+len(chunk) > Capacity {
			lost := len(e.buf)
			e.dropped += lost
			e.buf = e.buf[:0]
			overflow = fmt.Errorf("%w: discarded %d unterminated bytes", ErrOverflow, lost)
		}
		e.buf = append(e.buf, chunk...)

		for {
			frame, ok := e.extract()
			if !ok {
				break
			}
			frames = append(frames, frame)
		}
	}
	return frames, overflow
}

// extract scans from position zero. A delimiter with no frame open starts
// one; a delimiter with a frame open closes it. Any other byte seen with no
// frame open implicitly opens one, which is what lets "#A#B#" and "#A##B#"
// both produce A and B.
func (e *Extractor) extract() (string, bool) {
	open := false
	start := 0
	for i, b := range e.buf {
		switch {
		case b == Delimiter && !open:
			open = true
			start = i + 1
		case b == Delimiter:
			frame := string(e.buf[start:i])
			n := copy(e.buf, e.buf[i+1:])
			e.buf = e.buf[:n]
			return frame, true
		case !open:
			open = true
			start = i
		}
	}
	return "", false
}

// Clear discards any partial frame so stale bytes cannot surface after a
// reconnect.
func (e *Extractor) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buf = e.buf[:0]
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (e *Extractor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

// Dropped returns the total number of bytes discarded by overflows.
func (e *Extractor) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}
