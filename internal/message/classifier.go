package message

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/sensorview/internal/monitoring"
	"github.com/banshee-data/sensorview/internal/timeutil"
)

// MaxJump is the largest temperature change accepted between consecutive
// Data messages. Larger jumps are treated as transmission corruption.
const MaxJump = 10.0

// Classifier assigns ids and capture times and tracks the last accepted
// temperature. One instance serves the whole pipeline.
type Classifier struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	nextID  uint64
	last    float64
	hasLast bool

	Metrics *monitoring.Metrics
}

// NewClassifier returns a classifier with no baseline whose first id is 1.
func NewClassifier(clock timeutil.Clock) *Classifier {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Classifier{clock: clock, nextID: 1}
}

// Classify turns a frame into a Message. Every call consumes an id, whatever
// the outcome.
func (c *Classifier) Classify(frame string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame = strings.ReplaceAll(frame, "#", "")
	m := Message{
		ID:         c.nextID,
		CapturedAt: c.clock.Now(),
		Raw:        frame,
	}
	c.nextID++

	if frame == "" {
		m.Kind = Error
		m.Reason = ErrEmptyFrame
		c.Metrics.IncMessage(m.Kind.String())
		return m
	}

	m.Payload = frame[1:]
	switch frame[0] {
	case 'D':
		c.classifyData(&m)
	case 'S':
		m.Kind = Setting
	case 'A':
		m.Kind = Acknowledgement
	default:
		m.Kind = Error
		m.Reason = fmt.Errorf("%w %q", ErrUnknownKind, frame[0])
	}
	c.Metrics.IncMessage(m.Kind.String())
	return m
}

func (c *Classifier) classifyData(m *Message) {
	s, err := parseSample(m.Payload)
	if err != nil {
		m.Kind = Error
		m.Reason = err
		return
	}
	if c.hasLast && math.Abs(s.Temperature-c.last) > MaxJump {
		m.Kind = Error
		m.Reason = fmt.Errorf("%w: %.2f after %.2f", ErrOutlier, s.Temperature, c.last)
		c.Metrics.IncOutlier()
		return
	}
	c.last = s.Temperature
	c.hasLast = true

	s.Timestamp = m.Label()
	s.MessageID = m.ID
	m.Kind = Data
	m.Sample = &s
}

// parseSample expects exactly temperature:accelX:accelY:accelZ.
func parseSample(payload string) (Sample, error) {
	fields := strings.Split(payload, ":")
	if len(fields) != 4 {
		return Sample{}, fmt.Errorf("%w: %d fields in %q, want 4", ErrMalformed, len(fields), payload)
	}
	var v [4]float64
	for i, f := range fields {
		n, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return Sample{}, fmt.Errorf("%w: field %d %q", ErrMalformed, i, f)
		}
		v[i] = n
	}
	return Sample{Temperature: v[0], AccelX: v[1], AccelY: v[2], AccelZ: v[3]}, nil
}

// Baseline returns the last accepted temperature, if any.
func (c *Classifier) Baseline() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}

// SetBaseline seeds the last accepted temperature.
func (c *Classifier) SetBaseline(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = v
	c.hasLast = true
}

// ResetBaseline forgets the last accepted temperature. Ids keep counting.
func (c *Classifier) ResetBaseline() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = 0
	c.hasLast = false
}
