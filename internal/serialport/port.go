// Package serialport abstracts the serial transport the sensor is attached
// to, so the handshake and framing layers can run against real hardware, a
// simulator, or test doubles.
package serialport

import (
	"errors"
	"io"

	"go.bug.st/serial"
)

// Port is an open transport handle. Read must return when the port is
// closed.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Transport enumerates and opens endpoints.
type Transport interface {
	// Ports lists the endpoint identifiers currently available.
	Ports() ([]string, error)
	// Open opens the named endpoint with the given options.
	Open(name string, opts PortOptions) (Port, error)
}

var (
	ErrPortClosed   = errors.New("serial port closed")
	ErrPortNotFound = errors.New("serial port not found")
	ErrPortBusy     = errors.New("serial port busy")
)

// IsDisconnect reports whether err means the device went away rather than a
// configuration or permission problem.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPortClosed) || errors.Is(err, ErrPortNotFound) || errors.Is(err, io.EOF) {
		return true
	}
	if code, ok := portErrorCode(err); ok {
		switch code {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}

func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		return pe.Code(), true
	}
	var pv serial.PortError
	if errors.As(err, &pv) {
		return pv.Code(), true
	}
	return 0, false
}
