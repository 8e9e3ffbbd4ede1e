package serialmux

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens the device at path. Tests replace it to avoid hardware.
type PortOpener func(path string, opts PortOptions) (SerialPorter, error)

// OpenPort opens a real serial port with go.bug.st/serial.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Open opens path with opener, or OpenPort when opener is nil, and wraps the
// port in a ShiftLight.
func Open(opener PortOpener, path string, opts PortOptions, queueSize int) (*ShiftLight[SerialPorter], error) {
	if opener == nil {
		opener = OpenPort
	}
	port, err := opener(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open shift light %s: %w", path, err)
	}
	return NewShiftLight(port, queueSize), nil
}
