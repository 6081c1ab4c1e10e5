// Package queue holds classified messages between the transport reader and
// the display window.
package queue

import (
	"sync"

	"github.com/banshee-data/sensorview/internal/message"
)

// Queue is an unbounded FIFO of messages. Push never blocks on consumers;
// it only takes a short mutex.
type Queue struct {
	mu    sync.Mutex
	items []message.Message
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends m.
func (q *Queue) Push(m message.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
}

// Len reports the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PopOldest removes and returns the earliest message of any kind.
func (q *Queue) PopOldest() (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return message.Message{}, false
	}
	return q.removeAt(0), true
}

// PopOldestOfKind removes and returns the earliest message of kind k,
// leaving messages of other kinds in place.
func (q *Queue) PopOldestOfKind(k message.Kind) (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popOldestOfKind(k)
}

// PopMostRecent drains every queued message of kind k and returns the
// newest of them. Older ones are discarded.
func (q *Queue) PopMostRecent(k message.Kind) (message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var (
		last  message.Message
		found bool
	)
	for {
		m, ok := q.popOldestOfKind(k)
		if !ok {
			return last, found
		}
		last, found = m, true
	}
}

// Clear discards every queued message.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *Queue) popOldestOfKind(k message.Kind) (message.Message, bool) {
	for i, m := range q.items {
		if m.Kind == k {
			return q.removeAt(i), true
		}
	}
	return message.Message{}, false
}

func (q *Queue) removeAt(i int) message.Message {
	m := q.items[i]
	copy(q.items[i:], q.items[i+1:])
	q.items[len(q.items)-1] = message.Message{}
	q.items = q.items[:len(q.items)-1]
	return m
}
