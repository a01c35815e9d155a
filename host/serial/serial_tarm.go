//go:build !wasm

package serial

import (
	"errors"
	"fmt"
	"io"

	"github.com/tarm/serial"
)

// TarmPort wraps the tarm/serial implementation. The read timeout is
// fixed when the port is opened.
type TarmPort struct {
	port *serial.Port
}

func openTarm(cfg *Config) (Port, error) {
	serialConfig := serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.readTimeout(),
	}

	port, err := serial.OpenPort(&serialConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	return &TarmPort{port: port}, nil
}

// Read reads data from the serial port
func (p *TarmPort) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if errors.Is(err, io.EOF) {
		// tarm reports an expired read timeout as EOF
		return n, nil
	}
	return n, err
}

// Write writes data to the serial port
func (p *TarmPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close closes the serial port
func (p *TarmPort) Close() error {
	if p.port != nil {
		return p.port.Close()
	}
	return nil
}

// Flush discards unread input
func (p *TarmPort) Flush() error {
	return p.port.Flush()
}
