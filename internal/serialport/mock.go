package serialport

import (
	"bytes"
	"sync"
	"time"
)

// TestablePort implements Port with configurable behaviour for
// testing. It provides control over reads, writes, errors and latency.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// Writes records each Write payload separately
	Writes []string

	// OnWrite, if set, is called after each successful Write with the
	// written bytes. It runs without the port lock held, so it may call
	// AddReadData to script device replies.
	OnWrite func(p []byte)

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// ReadError is returned by the next Read call if set. FailRead queues
	// further errors behind it.
	ReadError  error
	readErrors []error

	// WriteError is returned by every Write call while set
	WriteError error

	// WriteFilter, if set, is consulted before each Write; a non-nil
	// result fails that write only.
	WriteFilter func(p []byte) error

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// CloseCalls records the number of Close calls
	CloseCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestablePort returns a port whose reads block until data is added.
func NewTestablePort() *TestablePort {
	p := &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		BlockReads:  true,
	}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read reads from the read buffer, optionally simulating latency and errors.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, ErrPortClosed
	}

	if err := p.takeReadError(); err != nil {
		return 0, err
	}

	if p.ReadLatency > 0 {
		p.mu.Unlock()
		time.Sleep(p.ReadLatency)
		p.mu.Lock()
	}

	if p.BlockReads {
		for !p.Closed && p.ReadBuffer.Len() == 0 && p.ReadError == nil && len(p.readErrors) == 0 {
			p.readCond.Wait()
		}
		if p.Closed {
			return 0, ErrPortClosed
		}
		if err := p.takeReadError(); err != nil {
			return 0, err
		}
	}

	return p.ReadBuffer.Read(b)
}

// takeReadError pops the next scripted read error. Callers hold mu.
func (p *TestablePort) takeReadError() error {
	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return err
	}
	if len(p.readErrors) > 0 {
		err := p.readErrors[0]
		p.readErrors = p.readErrors[1:]
		return err
	}
	return nil
}

// Write records p and then calls OnWrite.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.Closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.mu.Unlock()
		return 0, err
	}
	if p.WriteFilter != nil {
		if err := p.WriteFilter(b); err != nil {
			p.mu.Unlock()
			return 0, err
		}
	}
	n, _ := p.WriteBuffer.Write(b)
	p.Writes = append(p.Writes, string(b))
	hook := p.OnWrite
	p.mu.Unlock()

	if hook != nil {
		hook(append([]byte(nil), b...))
	}
	return n, nil
}

// Close marks the port as closed and wakes any blocked reader.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Closed = true
	p.CloseCalls++
	p.readCond.Broadcast()
	return p.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (p *TestablePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ReadBuffer.Write(data)
	p.readCond.Broadcast()
}

// FailRead makes the next Reads return errs in order, waking a blocked
// reader.
func (p *TestablePort) FailRead(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErrors = append(p.readErrors, errs...)
	p.readCond.Broadcast()
}

// SetWriteError makes subsequent writes fail with err. Nil clears it.
func (p *TestablePort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WriteError = err
}

// WrittenData returns everything written so far.
func (p *TestablePort) WrittenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.WriteBuffer.String()
}

// WriteLog returns a copy of each Write payload.
func (p *TestablePort) WriteLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Writes...)
}

// IsClosed reports whether Close has been called.
func (p *TestablePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// MockTransport implements Transport for testing.
type MockTransport struct {
	mu sync.Mutex

	// Names is returned by Ports
	Names []string

	// PortsError is returned by Ports if set
	PortsError error

	// Port is returned by Open unless PortFor is set
	Port Port

	// PortFor, if set, chooses the port to return per name
	PortFor func(name string) (Port, error)

	// Error is returned by Open if set
	Error error

	// OpenCalls records all Open calls
	OpenCalls []OpenCall
}

// OpenCall records details of an Open call.
type OpenCall struct {
	Name    string
	Options PortOptions
}

// NewMockTransport returns a transport exposing names that opens port.
func NewMockTransport(port Port, names ...string) *MockTransport {
	return &MockTransport{Port: port, Names: names}
}

// Ports returns the configured names.
func (t *MockTransport) Ports() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.PortsError != nil {
		return nil, t.PortsError
	}
	return append([]string(nil), t.Names...), nil
}

// Open returns the configured port or error.
func (t *MockTransport) Open(name string, opts PortOptions) (Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.OpenCalls = append(t.OpenCalls, OpenCall{Name: name, Options: opts})

	if t.Error != nil {
		return nil, t.Error
	}
	if t.PortFor != nil {
		return t.PortFor(name)
	}
	return t.Port, nil
}

// Calls returns a copy of the recorded Open calls.
func (t *MockTransport) Calls() []OpenCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OpenCall(nil), t.OpenCalls...)
}
