package fingerprint

import (
	"io"
	"time"
)

// SerialPorter is the byte stream the sensor driver talks over. A real
// go.bug.st/serial port satisfies it, as does the in-memory Emulator.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports that support a per-read
// timeout. Reads that time out return (0, nil).
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// inputResetter discards stale bytes sitting in the receive buffer.
type inputResetter interface {
	ResetInputBuffer() error
}

// drainer blocks until everything written has been transmitted.
type drainer interface {
	Drain() error
}

// PortOpener opens the serial device backing a sensor.
type PortOpener func(path string, opts PortOptions) (SerialPorter, error)
