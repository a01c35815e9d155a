package simulator

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"strings"
	"testing"

	"m3dmanager/host/serial"
	"m3dmanager/protocol"
)

func open(t *testing.T, bus *Bus, name string) serial.Port {
	t.Helper()
	port, err := bus.Open(serial.DefaultConfig(name))
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", name, err)
	}
	return port
}

func readAll(t *testing.T, port serial.Port) string {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if n == 0 {
			return out.String()
		}
		out.Write(buf[:n])
	}
}

func writeBinary(t *testing.T, port serial.Port, seq uint16, payload []byte) {
	t.Helper()
	frame, err := protocol.EncodeBinary(seq, payload)
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}
	if _, err := port.Write(frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestIdentify(t *testing.T) {
	bus := NewBus()
	port := open(t, bus, bus.Device.FirmwarePort)

	port.Write([]byte("M115\n"))
	if out := readAll(t, port); !strings.HasPrefix(out, "ok PROTOCOL:RepRap") {
		t.Errorf("Expected firmware identity, got %q", out)
	}

	bus = NewBus()
	bus.Device.StartIn(Bootloader)
	port = open(t, bus, bus.Device.BootloaderPort)

	port.Write([]byte("M115\n"))
	if out := readAll(t, port); out != "B\n" {
		t.Errorf("Expected bootloader signature, got %q", out)
	}
}

func TestFramedCommands(t *testing.T) {
	bus := NewBus()
	bus.Device.WaitLines = 1
	port := open(t, bus, bus.Device.FirmwarePort)

	writeBinary(t, port, 0, []byte("G28"))
	if out := readAll(t, port); out != "wait\nok 0\n" {
		t.Errorf("Expected wait then ok, got %q", out)
	}

	line, _ := protocol.EncodeASCII(0, "M105")
	port.Write(line)
	if out := readAll(t, port); out != "wait\nok 0\n" {
		t.Errorf("Expected wait then ok, got %q", out)
	}

	// Out of order line numbers are asked for again
	writeBinary(t, port, 5, []byte("G1 X1"))
	if out := readAll(t, port); out != "rs 1\n" {
		t.Errorf("Expected rs 1, got %q", out)
	}
}

func TestCorruptNext(t *testing.T) {
	bus := NewBus()
	bus.Device.CorruptNext = 1
	port := open(t, bus, bus.Device.FirmwarePort)

	writeBinary(t, port, 0, []byte("G28"))
	writeBinary(t, port, 0, []byte("G28"))

	if out := readAll(t, port); out != "rs 0\nok 0\n" {
		t.Errorf("Expected rs then ok, got %q", out)
	}
	if n := bus.Device.Count("G28"); n != 2 {
		t.Errorf("Expected 2 recorded frames, got %d", n)
	}
}

func TestModeSwitchReenumerates(t *testing.T) {
	bus := NewBus()
	bus.Device.ReattachAfter = 2
	port := open(t, bus, bus.Device.FirmwarePort)

	writeBinary(t, port, 0, []byte(protocol.EnterBootloaderCommand))

	if _, err := port.Read(make([]byte, 8)); err == nil {
		t.Errorf("Expected read on the old port to fail")
	}

	for i := 0; i < 2; i++ {
		if names, _ := bus.Ports(); len(names) != 0 {
			t.Errorf("Poll %d: expected no ports, got %v", i, names)
		}
	}

	names, _ := bus.Ports()
	if len(names) != 1 || names[0] != bus.Device.BootloaderPort {
		t.Fatalf("Expected bootloader port, got %v", names)
	}
	if bus.Device.State() != Bootloader {
		t.Errorf("Expected bootloader state, got %s", bus.Device.State())
	}

	if _, err := bus.Open(serial.DefaultConfig(bus.Device.FirmwarePort)); err == nil {
		t.Errorf("Expected firmware port to be gone")
	}
}

func TestFlashSequence(t *testing.T) {
	bus := NewBus()
	bus.Device.StartIn(Bootloader)
	bus.Device.ResendChunks = map[int]bool{1: true}
	port := open(t, bus, bus.Device.BootloaderPort)

	image := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF}, 10)

	begin := []byte{protocol.OpBegin}
	begin = binary.LittleEndian.AppendUint32(begin, uint32(len(image)))
	begin = binary.LittleEndian.AppendUint64(begin, 1900000001)
	writeBinary(t, port, 0, begin)

	chunk := func(idx int) []byte {
		p := []byte{protocol.OpWrite}
		p = binary.LittleEndian.AppendUint16(p, uint16(idx))
		return append(p, image[idx*16:min(len(image), idx*16+16)]...)
	}
	writeBinary(t, port, 1, chunk(0))
	writeBinary(t, port, 2, chunk(1))
	writeBinary(t, port, 2, chunk(1))

	verify := []byte{protocol.OpVerify}
	verify = binary.LittleEndian.AppendUint32(verify, uint32(len(image)))
	verify = binary.LittleEndian.AppendUint32(verify, crc32.ChecksumIEEE(image))
	writeBinary(t, port, 3, verify)

	if out := readAll(t, port); out != "ok 0\nok 1\nrs 2\nok 2\nok 3\n" {
		t.Errorf("Unexpected replies %q", out)
	}
	if !bytes.Equal(bus.Device.Installed(), image) {
		t.Errorf("Installed image does not match")
	}
	if w := bus.Device.ChunkWrites(); w[0] != 1 || w[1] != 2 {
		t.Errorf("Unexpected chunk writes %v", w)
	}

	writeBinary(t, port, 4, []byte(protocol.StartFirmwareCommand))
	bus.Ports()
	bus.Ports()
	if bus.Device.State() != Firmware || bus.Device.FirmwareVersion != 1900000001 {
		t.Errorf("Expected firmware 1900000001 running, got %s %d", bus.Device.State(), bus.Device.FirmwareVersion)
	}
}

func TestVerifyMismatch(t *testing.T) {
	bus := NewBus()
	bus.Device.StartIn(Bootloader)
	port := open(t, bus, bus.Device.BootloaderPort)

	begin := []byte{protocol.OpBegin}
	begin = binary.LittleEndian.AppendUint32(begin, 4)
	begin = binary.LittleEndian.AppendUint64(begin, 1)
	writeBinary(t, port, 0, begin)
	writeBinary(t, port, 1, []byte{protocol.OpWrite, 0, 0, 1, 2, 3, 4})

	verify := []byte{protocol.OpVerify}
	verify = binary.LittleEndian.AppendUint32(verify, 4)
	verify = binary.LittleEndian.AppendUint32(verify, 0xDEADBEEF)
	writeBinary(t, port, 2, verify)

	if out := readAll(t, port); !strings.HasSuffix(out, "Error: verify failed\n") {
		t.Errorf("Expected verify failure, got %q", out)
	}
}

func TestSilentPortsAndExclusiveOpen(t *testing.T) {
	bus := NewBus()
	bus.Others = []string{"/dev/ttyS0"}

	names, _ := bus.Ports()
	if len(names) != 2 {
		t.Fatalf("Expected 2 ports, got %v", names)
	}

	other := open(t, bus, "/dev/ttyS0")
	other.Write([]byte("M115\n"))
	if n, err := other.Read(make([]byte, 8)); n != 0 || err != nil {
		t.Errorf("Expected silence, got %d bytes (%v)", n, err)
	}

	open(t, bus, bus.Device.FirmwarePort)
	if _, err := bus.Open(serial.DefaultConfig(bus.Device.FirmwarePort)); err == nil {
		t.Errorf("Expected second open to fail while the port is in use")
	}
}
