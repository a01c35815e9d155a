package simulator

import (
	"fmt"
	"os"
	"time"

	"m3dmanager/host/serial"
)

// maxIdle caps how long an empty Read blocks
const maxIdle = 2 * time.Millisecond

// Port is an open connection to the simulated device. It implements
// serial.Port.
type Port struct {
	dev    *Device
	gen    int
	name   string
	closed bool
}

func (p *Port) alive() error {
	if p.closed {
		return fmt.Errorf("%s: %w", p.name, os.ErrClosed)
	}
	if p.gen != p.dev.gen {
		return fmt.Errorf("%s: %w", p.name, errUnplugged)
	}
	return nil
}

// Read returns pending device output or (0, nil) after the read timeout
func (p *Port) Read(b []byte) (int, error) {
	p.dev.mu.Lock()
	if err := p.alive(); err != nil {
		p.dev.mu.Unlock()
		return 0, err
	}
	if p.dev.tx.Len() > 0 {
		n, _ := p.dev.tx.Read(b)
		p.dev.mu.Unlock()
		return n, nil
	}
	p.dev.mu.Unlock()

	time.Sleep(maxIdle)
	return 0, nil
}

// Write hands host bytes to the device
func (p *Port) Write(b []byte) (int, error) {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()

	if err := p.alive(); err != nil {
		return 0, err
	}
	p.dev.receive(b)
	return len(b), nil
}

// Flush drops output the host has not read yet
func (p *Port) Flush() error {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if err := p.alive(); err != nil {
		return err
	}
	p.dev.tx.Reset()
	return nil
}

func (p *Port) Close() error {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	p.closed = true
	return nil
}

// Bus is a serial.Provider holding one simulated printer and, optionally,
// unrelated ports that accept data and never answer.
type Bus struct {
	Device *Device
	Others []string

	polls int
}

// NewBus returns a bus with a fresh device attached
func NewBus() *Bus {
	return &Bus{Device: NewDevice()}
}

// Ports lists the currently enumerated port names
func (b *Bus) Ports() ([]string, error) {
	b.polls++
	names := append([]string(nil), b.Others...)
	if name, ok := b.Device.poll(); ok {
		names = append(names, name)
	}
	return names, nil
}

// Polls returns how many times Ports was called
func (b *Bus) Polls() int {
	return b.polls
}

// Open connects to a port on the bus
func (b *Bus) Open(cfg *serial.Config) (serial.Port, error) {
	for _, name := range b.Others {
		if name == cfg.Device {
			return &silentPort{}, nil
		}
	}
	return b.Device.connect(cfg.Device)
}

// silentPort is a device that is not a printer
type silentPort struct {
	closed bool
}

func (p *silentPort) Read([]byte) (int, error) {
	if p.closed {
		return 0, os.ErrClosed
	}
	time.Sleep(maxIdle)
	return 0, nil
}

func (p *silentPort) Write(b []byte) (int, error) {
	if p.closed {
		return 0, os.ErrClosed
	}
	return len(b), nil
}

func (p *silentPort) Flush() error { return nil }
func (p *silentPort) Close() error {
	p.closed = true
	return nil
}
