package printer

import (
	"context"
	"errors"
	"testing"
	"time"

	"m3dmanager/host/simulator"
	"m3dmanager/protocol"
)

func TestModeString(t *testing.T) {
	tests := map[Mode]string{
		ModeUnknown:    "unknown",
		ModeFirmware:   "firmware",
		ModeBootloader: "bootloader",
	}
	for mode, want := range tests {
		if mode.String() != want {
			t.Errorf("Expected %s, got %s", want, mode.String())
		}
	}
}

func TestSwitchModes(t *testing.T) {
	bus := simulator.NewBus()
	bus.Device.ReattachAfter = 2
	s := connected(t, bus)

	if err := s.SwitchToBootloaderMode(context.Background()); err != nil {
		t.Fatalf("SwitchToBootloaderMode failed: %v", err)
	}
	if s.GetMode() != ModeBootloader {
		t.Errorf("Expected bootloader mode, got %s", s.GetMode())
	}
	if port := s.GetCurrentSerialPort(); port != bus.Device.BootloaderPort {
		t.Errorf("Expected new port %s, got %s", bus.Device.BootloaderPort, port)
	}
	if n := bus.Device.Count(protocol.EnterBootloaderCommand); n != 1 {
		t.Errorf("Expected one switch request, got %d", n)
	}

	if err := s.SwitchToFirmwareMode(context.Background()); err != nil {
		t.Fatalf("SwitchToFirmwareMode failed: %v", err)
	}
	if !s.InFirmwareMode() {
		t.Errorf("Expected firmware mode, got %s", s.GetMode())
	}
	if port := s.GetCurrentSerialPort(); port != bus.Device.FirmwarePort {
		t.Errorf("Expected port %s, got %s", bus.Device.FirmwarePort, port)
	}

	// Counters restart on the new connection
	resp, err := roundTrip(t, s, "M105")
	if err != nil || resp.Line != "ok 0" {
		t.Errorf("Expected \"ok 0\", got %q (%v)", resp.Line, err)
	}
}

func TestSwitchAlreadyInMode(t *testing.T) {
	bus := simulator.NewBus()
	s := connected(t, bus)
	before := len(bus.Device.Frames())

	if err := s.SwitchToFirmwareMode(context.Background()); err != nil {
		t.Fatalf("SwitchToFirmwareMode failed: %v", err)
	}
	if n := len(bus.Device.Frames()); n != before {
		t.Errorf("Expected nothing transmitted, got %d new frames", n-before)
	}
	if !s.IsConnected() {
		t.Errorf("Expected still connected")
	}
}

func TestSwitchTimeout(t *testing.T) {
	bus := simulator.NewBus()
	bus.Device.ReattachAfter = 1 << 20
	s := connected(t, bus, WithSwitchTimeout(100*time.Millisecond))

	err := s.SwitchToBootloaderMode(context.Background())
	if !errors.Is(err, protocol.ErrDiscoveryExhausted) {
		t.Fatalf("Expected ErrDiscoveryExhausted, got %v", err)
	}
	if s.IsConnected() {
		t.Errorf("Expected IsConnected false after failed switch")
	}
	if s.GetMode() != ModeUnknown {
		t.Errorf("Expected unknown mode, got %s", s.GetMode())
	}
	if s.GetStatus() == "" {
		t.Errorf("Expected failure status")
	}
}

func TestSwitchCancelled(t *testing.T) {
	bus := simulator.NewBus()
	bus.Device.ReattachAfter = 1 << 20
	s := connected(t, bus)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := s.SwitchToBootloaderMode(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected cancellation, got %v", err)
	}
	if s.IsConnected() || s.GetMode() != ModeUnknown {
		t.Errorf("Expected disconnected unknown session")
	}
}

func TestSwitchRequiresConnection(t *testing.T) {
	s := newSession(simulator.NewBus())
	if err := s.SwitchToBootloaderMode(context.Background()); !errors.Is(err, protocol.ErrDisconnected) {
		t.Errorf("Expected ErrDisconnected, got %v", err)
	}
}
