//go:build !wasm

package serial

import (
	"fmt"

	bugst "go.bug.st/serial"
)

// bugstPort adds Flush on top of go.bug.st/serial's Port
type bugstPort struct {
	bugst.Port
}

func openBugst(cfg *Config) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: cfg.Baud,
		Parity:   bugst.NoParity,
		DataBits: 8,
		StopBits: bugst.OneStopBit,
	}

	port, err := bugst.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}

	if err := port.SetReadTimeout(cfg.readTimeout()); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Device, err)
	}

	return &bugstPort{Port: port}, nil
}

// Flush discards unread input and unsent output
func (p *bugstPort) Flush() error {
	if err := p.ResetInputBuffer(); err != nil {
		return err
	}
	return p.ResetOutputBuffer()
}
