package serialport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultReadTimeout bounds each Read on a hardware port so the reader can
// notice a stop request.
const DefaultReadTimeout = 100 * time.Millisecond

// System opens the host's serial ports through go.bug.st/serial.
type System struct {
	// ReadTimeout is applied after open. Zero means DefaultReadTimeout;
	// negative disables the timeout.
	ReadTimeout time.Duration
}

// Ports lists the serial ports the OS currently exposes.
func (System) Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	return ports, nil
}

// Open opens name with opts.
func (s System) Open(name string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(name, mode)
	if err != nil {
		if code, ok := portErrorCode(err); ok {
			switch code {
			case serial.PortNotFound:
				return nil, fmt.Errorf("%w: %s: %w", ErrPortNotFound, name, err)
			case serial.PortBusy:
				return nil, fmt.Errorf("%w: %s: %w", ErrPortBusy, name, err)
			}
		}
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	timeout := s.ReadTimeout
	if timeout == 0 {
		timeout = DefaultReadTimeout
	}
	if timeout > 0 {
		if err := port.SetReadTimeout(timeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", name, err)
		}
	}
	return port, nil
}
