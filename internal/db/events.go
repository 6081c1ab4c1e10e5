package db

import (
	"context"
	"slices"
	"sync/atomic"
	"time"

	"github.com/banshee-data/sensorview/internal/monitoring"
)

// DefaultEventBuffer is the queue length of an EventLog.
const DefaultEventBuffer = 256

// Event is one journal entry.
type Event struct {
	ID         int64     `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Event      string    `json:"event"`
}

// EventLog is a monitoring.Recorder that journals events to sqlite from a
// background goroutine. Record never blocks: when the buffer is full the
// event is dropped and counted.
type EventLog struct {
	db      *DB
	ch      chan Event
	dropped atomic.Int64

	Metrics *monitoring.Metrics
}

// NewEventLog returns a journal with room for buffer pending events. Run
// must be started for events to be written.
func (db *DB) NewEventLog(buffer int) *EventLog {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &EventLog{db: db, ch: make(chan Event, buffer)}
}

// Record implements monitoring.Recorder. withTimestamp only selects the
// console prefix in monitoring.LogRecorder; every journal row carries its
// recorded_at column regardless, so the flag is not stored.
func (l *EventLog) Record(event string, _ bool) {
	select {
	case l.ch <- Event{RecordedAt: time.Now(), Event: event}:
	default:
		l.dropped.Add(1)
		l.Metrics.IncRecorderDropped()
	}
}

// Dropped returns the number of events lost to a full buffer.
func (l *EventLog) Dropped() int64 { return l.dropped.Load() }

// Run writes events until ctx is done, then flushes whatever is still
// buffered.
func (l *EventLog) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.flush()
			return ctx.Err()
		case e := <-l.ch:
			l.write(context.Background(), e)
		}
	}
}

func (l *EventLog) flush() {
	for {
		select {
		case e := <-l.ch:
			l.write(context.Background(), e)
		default:
			return
		}
	}
}

func (l *EventLog) write(ctx context.Context, e Event) {
	if _, err := l.db.ExecContext(ctx,
		"INSERT INTO events (recorded_at, event) VALUES (?, ?)",
		e.RecordedAt.UnixNano(), e.Event,
	); err != nil {
		monitoring.Logf("failed to journal event %q: %v", e.Event, err)
	}
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		"SELECT event_id, recorded_at, event FROM events ORDER BY event_id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e  Event
			ns int64
		)
		if err := rows.Scan(&e.ID, &ns, &e.Event); err != nil {
			return nil, err
		}
		e.RecordedAt = time.Unix(0, ns).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}
