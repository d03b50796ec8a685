package serialmux

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// SerialPorter is the byte stream of a bridge port.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortFactory opens bridge ports. Tests swap in a fake.
type SerialPortFactory interface {
	Open(path string, mode *serial.Mode) (SerialPorter, error)
}

// HardwarePorts opens ports with go.bug.st/serial.
type HardwarePorts struct{}

func (HardwarePorts) Open(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// OpenSerialMux opens path through f with opts and wraps the port.
func OpenSerialMux(f SerialPortFactory, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := f.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open bridge port %s: %w", path, err)
	}
	return NewSerialMux(port), nil
}

// NewRealSerialMux opens the hardware bridge port at path.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return OpenSerialMux(HardwarePorts{}, path, opts)
}
