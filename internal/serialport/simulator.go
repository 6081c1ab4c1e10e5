package serialport

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/sensorview/internal/timeutil"
)

// SimulatorName is the endpoint a Simulator exposes unless Name is set.
const SimulatorName = "SIM0"

// Simulator is a Transport with a single fake sensor endpoint. The device
// answers #ACK with #ACKR#, streams #D<t>:<x>:<y>:<z># frames after #ACKC,
// stops on #DIS and answers #T0/#T1 with #SRate:<ms>#.
type Simulator struct {
	Name     string
	Clock    timeutil.Clock
	Interval time.Duration
	// Temperature is the starting reading in Celsius.
	Temperature float64
	// SpikeEvery, when positive, corrupts every Nth reading with a jump
	// large enough to be rejected.
	SpikeEvery int
	Seed       uint64
}

const (
	minSimInterval = 50 * time.Millisecond
	maxSimInterval = 5 * time.Second
)

func (s *Simulator) name() string {
	if s.Name == "" {
		return SimulatorName
	}
	return s.Name
}

// Ports lists the simulated endpoint.
func (s *Simulator) Ports() ([]string, error) {
	return []string{s.name()}, nil
}

// Open returns a fresh simulated device. Options are validated but
// otherwise ignored.
func (s *Simulator) Open(name string, opts PortOptions) (Port, error) {
	if name != s.name() {
		return nil, fmt.Errorf("%w: %s", ErrPortNotFound, name)
	}
	if _, err := opts.Normalize(); err != nil {
		return nil, err
	}

	clock := s.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	temp := s.Temperature
	if temp == 0 {
		temp = 22.0
	}

	p := &simPort{
		clock:      clock,
		interval:   interval,
		temp:       temp,
		spikeEvery: s.SpikeEvery,
		rng:        rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15)),
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

type simPort struct {
	clock timeutil.Clock

	mu         sync.Mutex
	cond       *sync.Cond
	out        bytes.Buffer
	closed     bool
	stop       chan struct{}
	interval   time.Duration
	temp       float64
	count      int
	spikeEvery int
	rng        *rand.Rand
}

func (p *simPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.out.Len() == 0 {
		p.cond.Wait()
	}
	if p.closed {
		return 0, ErrPortClosed
	}
	return p.out.Read(b)
}

func (p *simPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}

	for _, cmd := range strings.Split(string(b), "#") {
		switch strings.TrimSpace(cmd) {
		case "ACK":
			p.emit("#ACKR#")
		case "ACKC":
			p.startStream()
		case "DIS":
			p.stopStream()
		case "T0":
			p.setInterval(p.interval / 2)
		case "T1":
			p.setInterval(p.interval * 2)
		}
	}
	return len(b), nil
}

func (p *simPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.stopStream()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// emit requires p.mu.
func (p *simPort) emit(frame string) {
	p.out.WriteString(frame)
	p.cond.Broadcast()
}

func (p *simPort) setInterval(d time.Duration) {
	p.interval = min(max(d, minSimInterval), maxSimInterval)
	p.emit(fmt.Sprintf("#SRate:%d#", p.interval.Milliseconds()))
}

func (p *simPort) startStream() {
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	go p.stream(p.stop)
}

func (p *simPort) stopStream() {
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

func (p *simPort) stream(stop <-chan struct{}) {
	for {
		p.mu.Lock()
		timer := p.clock.NewTimer(p.interval)
		p.mu.Unlock()

		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C():
		}

		p.mu.Lock()
		select {
		case <-stop:
			p.mu.Unlock()
			return
		default:
		}
		p.emit(p.nextReading())
		p.mu.Unlock()
	}
}

// nextReading requires p.mu.
func (p *simPort) nextReading() string {
	p.count++
	p.temp += p.rng.NormFloat64() * 0.05
	t := p.temp
	if p.spikeEvery > 0 && p.count%p.spikeEvery == 0 {
		t += 40
	}
	x := p.rng.NormFloat64() * 0.02
	y := p.rng.NormFloat64() * 0.02
	z := 1 + p.rng.NormFloat64()*0.02
	return fmt.Sprintf("#D%.2f:%.3f:%.3f:%.3f#", t, x, y, z)
}
