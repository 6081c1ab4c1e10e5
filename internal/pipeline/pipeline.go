// Package pipeline runs the two periodic activities between the message
// queue and the renderer: the drain pass that moves accepted samples into
// the display window, and the display cadence that refreshes it.
package pipeline

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/banshee-data/sensorview/internal/message"
	"github.com/banshee-data/sensorview/internal/monitoring"
	"github.com/banshee-data/sensorview/internal/queue"
	"github.com/banshee-data/sensorview/internal/timeutil"
	"github.com/banshee-data/sensorview/internal/window"
)

const (
	DefaultDrainInterval = 250 * time.Millisecond
	DefaultRefreshRate   = 60

	// FlushTimeout bounds the sink writes of a Flush.
	FlushTimeout = 2 * time.Second
)

// SampleSink receives every accepted sample, in Celsius.
type SampleSink interface {
	RecordSample(ctx context.Context, s message.Sample) error
}

// Drainer moves Data messages from the queue into the window and discards
// Error and stale Acknowledgement messages. Setting messages are left for
// the window.
type Drainer struct {
	Queue    *queue.Queue
	Window   *window.Window
	Sink     SampleSink
	Interval time.Duration
	Clock    timeutil.Clock
	Metrics  *monitoring.Metrics
	// Ready gates each pass; while it returns false the queue belongs to
	// the handshake and is left alone.
	Ready func() bool
}

// DrainOnce performs a single pass and returns the number of samples
// handed to the window.
func (d *Drainer) DrainOnce(ctx context.Context) int {
	if d.Ready != nil && !d.Ready() {
		return 0
	}

	var samples []message.Sample
	for {
		m, ok := d.Queue.PopOldestOfKind(message.Data)
		if !ok {
			break
		}
		if m.Sample == nil {
			continue
		}
		samples = append(samples, *m.Sample)
	}
	for {
		if _, ok := d.Queue.PopOldestOfKind(message.Error); !ok {
			break
		}
	}
	for {
		if _, ok := d.Queue.PopOldestOfKind(message.Acknowledgement); !ok {
			break
		}
	}
	d.Metrics.SetQueueDepth(d.Queue.Len())

	if len(samples) == 0 {
		return 0
	}
	if d.Sink != nil {
		for _, s := range samples {
			if err := d.Sink.RecordSample(ctx, s); err != nil {
				monitoring.Logf("failed to record sample %d: %v", s.MessageID, err)
				break
			}
		}
	}
	d.Window.Enqueue(samples...)
	return len(samples)
}

// Flush runs one pass outside the ticker, for a session that is about to
// close. It does not depend on the caller's context, which is usually
// already cancelled at shutdown.
func (d *Drainer) Flush() {
	ctx, cancel := context.WithTimeout(context.Background(), FlushTimeout)
	defer cancel()
	if n := d.DrainOnce(ctx); n > 0 {
		monitoring.Logf("flushed %d samples on disconnect", n)
	}
}

// Run drains every Interval until ctx is done.
func (d *Drainer) Run(ctx context.Context) error {
	clock := d.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultDrainInterval
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			d.DrainOnce(ctx)
		}
	}
}

// Display refreshes the window at most Rate times per second.
type Display struct {
	Window *window.Window
	// Rate is the refresh cadence in Hz; zero means DefaultRefreshRate.
	Rate float64
}

// Run refreshes until ctx is done.
func (d *Display) Run(ctx context.Context) error {
	hz := d.Rate
	if hz <= 0 {
		hz = DefaultRefreshRate
	}
	limiter := rate.NewLimiter(rate.Limit(hz), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		d.Window.Refresh()
	}
}
