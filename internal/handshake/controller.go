// Package handshake drives the connect and disconnect protocol with the
// sensor and runs the transport read loop that feeds the framing and
// classification layers.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/sensorview/internal/framing"
	"github.com/banshee-data/sensorview/internal/message"
	"github.com/banshee-data/sensorview/internal/monitoring"
	"github.com/banshee-data/sensorview/internal/queue"
	"github.com/banshee-data/sensorview/internal/serialport"
	"github.com/banshee-data/sensorview/internal/timeutil"
)

// State is the connection state owned by a Controller.
type State int

const (
	Disconnected State = iota
	Handshaking
	Connected
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Wire payloads. Each is sent prefixed with the frame delimiter.
const (
	RequestPayload      = "ACK"
	ResponsePayload     = "ACKR"
	ConfirmPayload      = "ACKC"
	DisconnectPayload   = "DIS"
	IncreaseRatePayload = "T0"
	DecreaseRatePayload = "T1"
)

// NoPort is the placeholder identifier for "no port selected".
const NoPort = "NONE"

const (
	DefaultRetries = 3
	DefaultAckWait = 500 * time.Millisecond

	// MaxReadErrors is how many consecutive transient read errors the read
	// loop tolerates before treating the connection as lost.
	MaxReadErrors = 5
)

var (
	ErrHandshakeTimeout    = errors.New("device did not acknowledge handshake")
	ErrAlreadyConnected    = errors.New("already connected")
	ErrHandshakeInProgress = errors.New("handshake already in progress")
	ErrNoPort              = errors.New("no port selected")
	ErrUnknownPort         = errors.New("port is not available")
	ErrNotConnected        = errors.New("not connected")
	ErrTransportOpen       = errors.New("failed to open transport")
	ErrTransportWrite      = errors.New("failed to write to transport")
	ErrConnectionLost      = errors.New("connection lost")
	ErrNoDevice            = errors.New("no responding device found")
	ErrEmptyCommand        = errors.New("empty command")
)

// Config wires a Controller to its collaborators. Transport is required;
// everything else has a default.
type Config struct {
	Transport  serialport.Transport
	Options    serialport.PortOptions
	Extractor  *framing.Extractor
	Classifier *message.Classifier
	Queue      *queue.Queue
	Recorder   monitoring.Recorder
	Clock      timeutil.Clock
	Metrics    *monitoring.Metrics

	// Retries is the number of ACK attempts per Open.
	Retries int
	// AckWait is how long each attempt waits for ACKR.
	AckWait time.Duration
}

// Controller owns the connection state machine. Only one connection
// attempt may be in flight at a time.
type Controller struct {
	cfg Config

	mu    sync.Mutex
	state State
	sess  *session

	// arrived is signalled by the read loop whenever frames were queued.
	arrived chan struct{}

	writeMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[string]chan string

	onClose func()
}

// Status is a point-in-time view of the controller.
type Status struct {
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	Port      string    `json:"port,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Since     time.Time `json:"since,omitzero"`
}

type session struct {
	id     uuid.UUID
	name   string
	port   serialport.Port
	opened time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	once     sync.Once
	closeErr error
}

// stop cancels the read loop and closes the port exactly once.
func (s *session) stop() error {
	s.once.Do(func() {
		s.cancel()
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

// NewController returns a disconnected controller.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Extractor == nil {
		cfg.Extractor = framing.NewExtractor()
	}
	if cfg.Classifier == nil {
		cfg.Classifier = message.NewClassifier(cfg.Clock)
	}
	if cfg.Queue == nil {
		cfg.Queue = queue.New()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = monitoring.Discard
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = DefaultAckWait
	}
	return &Controller{
		cfg:         cfg,
		arrived:     make(chan struct{}, 1),
		subscribers: make(map[string]chan string),
	}
}

// Queue returns the queue classified messages are pushed to.
func (c *Controller) Queue() *queue.Queue { return c.cfg.Queue }

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether a validated session is established.
func (c *Controller) Connected() bool {
	return c.State() == Connected
}

// Status returns the state together with the current session, if any.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state.String(), Connected: c.state == Connected}
	if c.sess != nil {
		st.Port = c.sess.name
		st.SessionID = c.sess.id.String()
		if c.state == Connected {
			st.Since = c.sess.opened
		}
	}
	return st
}

// Ports lists the endpoints the transport can currently open.
func (c *Controller) Ports() ([]string, error) {
	return c.cfg.Transport.Ports()
}

// OnClose registers fn to run when a connected session ends, after its read
// loop has stopped and while the state still reports Connected. It lets the
// drain pass take whatever the session queued before the queue is handed
// back to the next handshake.
func (c *Controller) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *Controller) flush() {
	c.mu.Lock()
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Controller) record(event string) {
	c.cfg.Recorder.Record(event, true)
}

// Open validates name, opens it 9600-8-N-1 and performs the ACK/ACKR/ACKC
// handshake. On failure the port is closed and the controller is left
// Disconnected; Open never retries beyond its attempt budget.
func (c *Controller) Open(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	c.mu.Lock()
	switch c.state {
	case Connected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case Handshaking:
		c.mu.Unlock()
		return ErrHandshakeInProgress
	}
	if name == "" || strings.EqualFold(name, NoPort) {
		c.mu.Unlock()
		return ErrNoPort
	}
	c.state = Handshaking
	c.mu.Unlock()

	if err := c.checkPort(name); err != nil {
		c.setState(Disconnected)
		return err
	}

	port, err := c.cfg.Transport.Open(name, c.cfg.Options)
	if err != nil {
		c.setState(Disconnected)
		c.record(fmt.Sprintf("failed to open %s: %v", name, err))
		return fmt.Errorf("%w %s: %w", ErrTransportOpen, name, err)
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.New(),
		name:   name,
		port:   port,
		opened: c.cfg.Clock.Now(),
		ctx:    sctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.cfg.Extractor.Clear()

	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	go c.readLoop(s)

	err = c.handshake(ctx, s)

	c.mu.Lock()
	if err == nil && c.sess != s {
		err = ErrConnectionLost
	}
	if err == nil {
		c.state = Connected
		c.mu.Unlock()
		c.cfg.Metrics.SetConnected(true)
		c.record(fmt.Sprintf("connected to %s (session %s)", name, s.id))
		return nil
	}
	if c.sess == s {
		c.sess = nil
	}
	c.state = Disconnected
	c.mu.Unlock()

	s.stop()
	<-s.done
	c.record(fmt.Sprintf("connection to %s failed: %v", name, err))
	return err
}

func (c *Controller) setState(st State) {
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
}

func (c *Controller) checkPort(name string) error {
	names, err := c.cfg.Transport.Ports()
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrUnknownPort, name, err)
	}
	if !slices.Contains(names, name) {
		return fmt.Errorf("%w: %s", ErrUnknownPort, name)
	}
	return nil
}

func (c *Controller) handshake(ctx context.Context, s *session) error {
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		c.record(fmt.Sprintf("handshake attempt %d started", attempt))

		if err := c.write(s, RequestPayload); err != nil {
			c.cfg.Metrics.IncHandshake("write_failed")
			c.record(fmt.Sprintf("handshake attempt %d failed: %v", attempt, err))
			continue
		}

		ok, err := c.awaitAck(ctx, s)
		if err != nil {
			return err
		}
		if !ok {
			c.cfg.Metrics.IncHandshake("no_response")
			c.record(fmt.Sprintf("handshake attempt %d: no acknowledgement", attempt))
			continue
		}

		if err := c.write(s, ConfirmPayload); err != nil {
			c.cfg.Metrics.IncHandshake("confirm_failed")
			c.record(fmt.Sprintf("handshake attempt %d acknowledged but not confirmed: %v", attempt, err))
			continue
		}
		c.cfg.Metrics.IncHandshake("ok")
		c.record(fmt.Sprintf("handshake attempt %d acknowledged", attempt))
		return nil
	}
	return fmt.Errorf("%w after %d attempts", ErrHandshakeTimeout, c.cfg.Retries)
}

// awaitAck waits up to AckWait for an ACKR frame.
func (c *Controller) awaitAck(ctx context.Context, s *session) (bool, error) {
	timer := c.cfg.Clock.NewTimer(c.cfg.AckWait)
	defer timer.Stop()

	for {
		if c.takeAck() {
			return true, nil
		}
		select {
		case <-c.arrived:
		case <-timer.C():
			return c.takeAck(), nil
		case <-s.ctx.Done():
			return false, ErrConnectionLost
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// takeAck consumes queued messages up to and including the first ACKR.
// Anything before it is discarded.
func (c *Controller) takeAck() bool {
	for {
		m, ok := c.cfg.Queue.PopOldest()
		if !ok {
			return false
		}
		if m.Kind == message.Acknowledgement && m.Raw == ResponsePayload {
			return true
		}
	}
}

func (c *Controller) readLoop(s *session) {
	defer close(s.done)

	buf := make([]byte, framing.MaxRead)
	failures := 0
	for {
		n, err := s.port.Read(buf)
		if n > 0 {
			c.consume(buf[:n])
		}
		if s.ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			continue
		}
		failures++
		if serialport.IsDisconnect(err) || failures >= MaxReadErrors {
			c.connectionLost(s, err)
			return
		}
		c.cfg.Metrics.IncReadError()
		c.record(fmt.Sprintf("read error on %s: %v", s.name, err))
	}
}

func (c *Controller) consume(p []byte) {
	c.cfg.Metrics.AddBytes(len(p))

	frames, err := c.cfg.Extractor.Feed(p)
	if err != nil {
		c.cfg.Metrics.IncOverflow()
		c.record(err.Error())
	}
	for _, f := range frames {
		c.cfg.Metrics.IncFrames()
		c.cfg.Recorder.Record("MSG -> "+f, false)
		c.cfg.Queue.Push(c.cfg.Classifier.Classify(f))
		c.publish(f)
	}
	if len(frames) > 0 {
		c.cfg.Metrics.SetQueueDepth(c.cfg.Queue.Len())
		select {
		case c.arrived <- struct{}{}:
		default:
		}
	}
}

func (c *Controller) connectionLost(s *session, err error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	wasConnected := c.state == Connected
	c.mu.Unlock()

	s.stop()
	c.cfg.Extractor.Clear()
	if wasConnected {
		c.flush()
		c.setState(Disconnected)
	}
	c.cfg.Metrics.SetConnected(false)
	c.record(fmt.Sprintf("connection lost on %s: %v", s.name, err))
}

// Close sends the disconnect notice and closes the port. Closing while
// disconnected is a no-op.
func (c *Controller) Close() error {
	c.mu.Lock()
	switch c.state {
	case Disconnected:
		c.mu.Unlock()
		return nil
	case Handshaking:
		c.mu.Unlock()
		return ErrHandshakeInProgress
	}
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	c.record("disconnect initiated")
	c.cfg.Extractor.Clear()

	var closeErr error
	if s != nil {
		if err := c.write(s, DisconnectPayload); err != nil {
			c.record(fmt.Sprintf("disconnect notice not delivered: %v", err))
		}
		closeErr = s.stop()
		<-s.done
	}

	c.flush()
	c.setState(Disconnected)
	c.cfg.Metrics.SetConnected(false)
	c.record("disconnect completed")

	if closeErr != nil {
		return fmt.Errorf("close %s: %w", s.name, closeErr)
	}
	return nil
}

func (c *Controller) write(s *session, payload string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frame := string(framing.Delimiter) + payload
	n, err := s.port.Write([]byte(frame))
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrTransportWrite, payload, err)
	}
	if n != len(frame) {
		return fmt.Errorf("%w %q: short write", ErrTransportWrite, payload)
	}
	return nil
}

// Send writes a payload to the connected device. Delimiters are added.
func (c *Controller) Send(payload string) error {
	payload = strings.Trim(strings.TrimSpace(payload), string(framing.Delimiter))
	if payload == "" {
		return ErrEmptyCommand
	}

	c.mu.Lock()
	s := c.sess
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || s == nil {
		return ErrNotConnected
	}

	if err := c.write(s, payload); err != nil {
		c.record(err.Error())
		return err
	}
	c.record("sent " + payload)
	return nil
}

// IncreaseRate asks the device to sample faster.
func (c *Controller) IncreaseRate() error { return c.Send(IncreaseRatePayload) }

// DecreaseRate asks the device to sample slower.
func (c *Controller) DecreaseRate() error { return c.Send(DecreaseRatePayload) }

// AutoDetect tries each enumerated endpoint in turn and keeps the first
// one that completes the handshake.
func (c *Controller) AutoDetect(ctx context.Context) (string, error) {
	if c.State() != Disconnected {
		return "", ErrAlreadyConnected
	}
	names, err := c.Ports()
	if err != nil {
		return "", err
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		c.record("auto-detect: trying " + name)
		err := c.Open(ctx, name)
		switch {
		case err == nil:
			return name, nil
		case errors.Is(err, ErrAlreadyConnected), errors.Is(err, ErrHandshakeInProgress),
			errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return "", err
		}
	}
	c.record("auto-detect: no device responded")
	return "", ErrNoDevice
}
