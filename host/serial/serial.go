// Package serial provides the byte transport between host and printer:
// a Port abstraction over the native serial drivers, USB discovery and a
// buffered Transport with line and byte reads under a timeout.
package serial

import (
	"fmt"
	"io"
	"time"
)

// Port represents a serial port interface
// This abstraction allows for different implementations:
// - Native serial (go.bug.st/serial or github.com/tarm/serial)
// - Simulated printer (host/simulator)
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Driver names accepted by Config.Driver
const (
	DriverNative = "native" // go.bug.st/serial
	DriverTarm   = "tarm"   // github.com/tarm/serial
)

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC ignores this, the firmware expects 115200)
	Baud int

	// Read poll interval in milliseconds
	ReadTimeout int

	// Driver selects the native implementation
	Driver string
}

// DefaultConfig returns a default configuration for the M3D
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 50,
		Driver:      DriverNative,
	}
}

func (c *Config) readTimeout() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Millisecond
}

// Open opens a serial port with the configured driver
func Open(cfg *Config) (Port, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.Driver {
	case "", DriverNative:
		return openBugst(cfg)
	case DriverTarm:
		return openTarm(cfg)
	default:
		return nil, fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
}

// Provider lists candidate ports and opens them. The printer session only
// talks to hardware through a Provider.
type Provider interface {
	Ports() ([]string, error)
	Open(cfg *Config) (Port, error)
}

// System is the Provider backed by the operating system
type System struct {
	// Filter restricts discovery to matching USB devices
	Filter USBFilter
}

// NewSystem returns a System provider that looks for the M3D's USB IDs
func NewSystem() *System {
	return &System{Filter: DefaultFilter()}
}

// Ports lists serial ports matching the filter
func (s *System) Ports() ([]string, error) {
	return ListPorts(s.Filter)
}

// Open opens a serial port
func (s *System) Open(cfg *Config) (Port, error) {
	return Open(cfg)
}
