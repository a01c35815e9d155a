package printer

import (
	"context"
	"fmt"
	"time"

	"m3dmanager/protocol"
)

// Mode is the software the printer is running
type Mode int

const (
	ModeUnknown Mode = iota
	ModeFirmware
	ModeBootloader
)

func (m Mode) String() string {
	switch m {
	case ModeFirmware:
		return "firmware"
	case ModeBootloader:
		return "bootloader"
	default:
		return "unknown"
	}
}

// GetMode returns the mode confirmed by the last identify handshake
func (s *Session) GetMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// InFirmwareMode reports whether the printer runs its firmware
func (s *Session) InFirmwareMode() bool {
	return s.GetMode() == ModeFirmware
}

// SwitchToFirmwareMode makes the bootloader start the firmware and
// reconnects to the port the printer comes back on
func (s *Session) SwitchToFirmwareMode(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchMode(ctx, ModeFirmware)
}

// SwitchToBootloaderMode reboots the firmware into the bootloader and
// reconnects to the port the printer comes back on
func (s *Session) SwitchToBootloaderMode(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchMode(ctx, ModeBootloader)
}

func (s *Session) switchMode(ctx context.Context, target Mode) error {
	if err := s.ready(); err != nil {
		return err
	}
	if s.mode == target {
		return nil
	}

	command := protocol.StartFirmwareCommand
	if target == ModeBootloader {
		command = protocol.EnterBootloaderCommand
	}

	from := s.transport.Name()
	s.log.Info().Str("port", from).Stringer("target", target).Msg("switching mode")

	// The device reboots instead of acknowledging
	if err := s.sendBinary([]byte(command)); err != nil {
		s.status = fmt.Sprintf("Failed to switch to %s mode: %v", target, err)
		return err
	}
	s.closeTransport()
	s.mode = ModeUnknown
	s.status = fmt.Sprintf("Switching to %s mode", target)

	if err := s.rediscover(ctx, target); err != nil {
		s.status = fmt.Sprintf("Failed to switch to %s mode: %v", target, err)
		return err
	}
	return nil
}

// rediscover polls the provider until the printer re-enumerates in the
// target mode
func (s *Session) rediscover(parent context.Context, target Mode) error {
	ctx, cancel := context.WithTimeout(parent, s.opts.switchTimeout)
	defer cancel()

	interval := s.opts.probeInterval
	for {
		ports, err := s.provider.Ports()
		if err != nil {
			s.log.Debug().Err(err).Msg("listing ports")
		}
		for _, name := range ports {
			if err := s.attach(ctx, name, target); err == nil {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return fmt.Errorf("mode switch cancelled: %w", err)
			}
			return fmt.Errorf("%w in %s mode within %v", protocol.ErrDiscoveryExhausted, target, s.opts.switchTimeout)
		case <-time.After(interval):
		}

		interval *= 2
		if interval > maxProbeInterval {
			interval = maxProbeInterval
		}
	}
}
