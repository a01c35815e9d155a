// Package simulator models an M3D printer on a USB bus: firmware and
// bootloader personalities, re-enumeration on mode switches and fault
// injection. It backs the printer tests and the CLI's "sim" driver.
package simulator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"m3dmanager/protocol"
)

// State is the personality the simulated printer runs
type State int

const (
	Firmware State = iota
	Bootloader
)

func (s State) String() string {
	if s == Bootloader {
		return "bootloader"
	}
	return "firmware"
}

// Frame is one framed request as received by the device
type Frame struct {
	Binary    bool
	Seq       uint32
	Payload   []byte
	Corrupted bool
}

// Device is a simulated printer. Configure the exported fields before the
// first Open; afterwards use the methods, which are safe for concurrent
// use.
type Device struct {
	// Port names the device enumerates under in each state
	FirmwarePort   string
	BootloaderPort string

	// ReattachAfter is the number of Ports() polls that still miss the
	// device after it reboots into the other state
	ReattachAfter int

	// FirmwareVersion is reported by M115 in firmware mode
	FirmwareVersion uint64
	SerialNumber    string

	// WaitLines "wait" lines precede every ok
	WaitLines int

	// Per-command behaviour in firmware mode
	DataLines      map[string][]string // informational lines before ok
	ErrorCommands  map[string]string   // reply with this error line
	SkipCommands   map[string]bool     // reply skip
	SilentCommands map[string]bool     // never reply

	// Fault injection
	CorruptNext           int          // treat the next N framed requests as corrupted
	ResendChunks          map[int]bool // request one resend of these chunk indices
	DisconnectAfterChunks int          // unplug once this many chunks were stored (0 = never)
	FailVerify            bool         // reject the final image check

	mu        sync.Mutex
	state     State
	attached  bool
	countdown int
	gen       int
	open      *Port

	rx *protocol.FifoBuffer
	tx bytes.Buffer

	nextBinary uint32
	nextASCII  uint32

	// Bootloader flash state
	expectSize uint32
	expectVer  uint64
	chunks     map[int][]byte
	resent     map[int]bool
	stored     int
	installed  []byte

	frames      []Frame
	chunkWrites map[int]int
	rawLines    []string
}

// NewDevice returns a printer attached in firmware mode
func NewDevice() *Device {
	return &Device{
		FirmwarePort:    "/dev/ttyACM0",
		BootloaderPort:  "/dev/ttyACM1",
		ReattachAfter:   1,
		FirmwareVersion: 2015122112,
		SerialNumber:    "BK15033001100",
		state:           Firmware,
		attached:        true,
		countdown:       -1,
		rx:              protocol.NewFifoBuffer(4 * protocol.MaxFrame),
		chunkWrites:     make(map[int]int),
	}
}

// StartIn puts the device in the given state before it is opened
func (d *Device) StartIn(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = s
}

// State returns the current personality
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) portName() string {
	if d.state == Bootloader {
		return d.BootloaderPort
	}
	return d.FirmwarePort
}

// Unplug removes the device from the bus for good
func (d *Device) Unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detach(-1)
}

// Frames returns every framed request received so far
func (d *Device) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Frame, len(d.frames))
	copy(out, d.frames)
	return out
}

// Count returns how many framed requests carried payload
func (d *Device) Count(payload string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, f := range d.frames {
		if string(f.Payload) == payload {
			n++
		}
	}
	return n
}

// ChunkWrites returns how often each firmware chunk index was transmitted
func (d *Device) ChunkWrites() map[int]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]int, len(d.chunkWrites))
	for k, v := range d.chunkWrites {
		out[k] = v
	}
	return out
}

// RawLines returns the unframed lines received so far
func (d *Device) RawLines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.rawLines...)
}

// Installed returns the last image that passed verification
func (d *Device) Installed() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.installed...)
}

// detach drops the device off the bus. countdown < 0 keeps it off.
func (d *Device) detach(countdown int) {
	d.attached = false
	d.countdown = countdown
	d.gen++
	d.open = nil
	d.tx.Reset()
	d.rx.Reset()
}

// reboot switches personality and re-enumerates
func (d *Device) reboot(s State) {
	d.state = s
	d.detach(d.ReattachAfter)
}

// poll advances re-enumeration by one Ports() call
func (d *Device) poll() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.attached && d.countdown >= 0 {
		if d.countdown == 0 {
			d.attached = true
			d.countdown = -1
		} else {
			d.countdown--
		}
	}
	return d.portName(), d.attached
}

var (
	errNoDevice  = errors.New("no such device")
	errBusy      = errors.New("device or resource busy")
	errUnplugged = errors.New("device has been disconnected")
)

func (d *Device) connect(name string) (*Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.attached || name != d.portName() {
		return nil, fmt.Errorf("open %s: %w", name, errNoDevice)
	}
	if d.open != nil && !d.open.closed {
		return nil, fmt.Errorf("open %s: %w", name, errBusy)
	}

	// A fresh connection restarts line numbering
	d.nextBinary = 0
	d.nextASCII = 0
	d.rx.Reset()
	d.tx.Reset()

	d.open = &Port{dev: d, gen: d.gen, name: name}
	return d.open, nil
}

func (d *Device) reply(lines ...string) {
	for _, l := range lines {
		d.tx.WriteString(l)
		d.tx.WriteByte(protocol.LineTerminator)
	}
}

// receive feeds host bytes into the device and processes complete
// requests, in the manner of a firmware receive loop
func (d *Device) receive(b []byte) {
	for len(b) > 0 {
		n := d.rx.Write(b)
		b = b[n:]
		d.process()
		if n == 0 {
			// Overrun, the firmware would drop the bytes
			d.rx.Reset()
		}
	}
}

func (d *Device) process() {
	gen := d.gen
	for !d.rx.IsEmpty() && d.gen == gen {
		data := d.rx.Data()

		if data[0] == protocol.FrameStart {
			n, ok := protocol.BinaryFrameLength(data)
			if !ok {
				return
			}
			if n > protocol.MaxFrame {
				// Not a real header, resync on the next byte
				d.rx.Pop(1)
				continue
			}
			if len(data) < n {
				return
			}
			frame := append([]byte(nil), data[:n]...)
			d.rx.Pop(n)
			d.handleBinary(frame)
			continue
		}

		idx := bytes.IndexByte(data, protocol.LineTerminator)
		if idx < 0 {
			return
		}
		line := strings.TrimRight(string(data[:idx]), "\r")
		d.rx.Pop(idx + 1)
		if line == "" {
			continue
		}
		if strings.IndexByte(line, protocol.ASCIISeparator) >= 0 {
			d.handleASCII(line)
		} else {
			d.handleRaw(line)
		}
	}
}

func (d *Device) corrupt() bool {
	if d.CorruptNext > 0 {
		d.CorruptNext--
		return true
	}
	return false
}

func (d *Device) handleBinary(frame []byte) {
	seq, payload, err := protocol.DecodeBinary(frame)
	rec := Frame{Binary: true, Seq: uint32(seq), Payload: payload}
	if err != nil || d.corrupt() {
		rec.Corrupted = true
		if len(frame) >= protocol.FrameHeaderSize {
			rec.Seq = uint32(binary.LittleEndian.Uint16(frame[protocol.FramePositionSeq:]))
		}
		d.frames = append(d.frames, rec)
		d.reply(fmt.Sprintf("rs %d", d.nextBinary))
		return
	}
	d.frames = append(d.frames, rec)

	if uint32(seq) != d.nextBinary {
		d.reply(fmt.Sprintf("rs %d", d.nextBinary))
		return
	}

	if d.state == Bootloader {
		if d.handleBootloader(seq, payload) {
			d.nextBinary = uint32(uint16(d.nextBinary + 1))
		}
		return
	}
	if d.handleCommand(uint32(seq), string(payload)) {
		d.nextBinary = uint32(uint16(d.nextBinary + 1))
	}
}

func (d *Device) handleASCII(line string) {
	seq, text, err := protocol.DecodeASCII([]byte(line))
	rec := Frame{Seq: seq, Payload: []byte(text)}
	if err != nil || d.corrupt() {
		rec.Corrupted = true
		if err != nil {
			rec.Payload = []byte(line)
		}
		d.frames = append(d.frames, rec)
		d.reply(fmt.Sprintf("rs %d", d.nextASCII))
		return
	}
	d.frames = append(d.frames, rec)

	if d.state == Bootloader {
		d.reply("Error: bootloader expects binary requests")
		return
	}
	if seq != d.nextASCII {
		d.reply(fmt.Sprintf("rs %d", d.nextASCII))
		return
	}
	if d.handleCommand(seq, text) {
		d.nextASCII++
	}
}

func (d *Device) handleRaw(line string) {
	d.rawLines = append(d.rawLines, line)

	if line != protocol.IdentifyRequest {
		if d.state == Firmware {
			d.reply("ok")
		}
		return
	}

	if d.state == Bootloader {
		d.reply(protocol.BootloaderSignature)
		return
	}
	d.reply(d.identity())
}

func (d *Device) identity() string {
	return fmt.Sprintf("ok PROTOCOL:RepRap FIRMWARE_NAME:Micro3D FIRMWARE_VERSION:%d X-SERIAL_NUMBER:%s",
		d.FirmwareVersion, d.SerialNumber)
}

// handleCommand executes a firmware-mode G-code request and reports
// whether it consumed the line number
func (d *Device) handleCommand(seq uint32, text string) bool {
	if text == protocol.EnterBootloaderCommand {
		d.reboot(Bootloader)
		return true
	}
	if d.SilentCommands[text] {
		return true
	}
	if line, ok := d.ErrorCommands[text]; ok {
		d.reply(line)
		return false
	}
	if d.SkipCommands[text] {
		d.reply(fmt.Sprintf("skip %d", seq))
		return true
	}

	if text == protocol.IdentifyRequest {
		d.reply(strings.TrimPrefix(d.identity(), "ok "))
	}
	d.reply(d.DataLines[text]...)
	for i := 0; i < d.WaitLines; i++ {
		d.reply("wait")
	}
	d.reply(fmt.Sprintf("ok %d", seq))
	return true
}

// handleBootloader executes a flashing request and reports whether it
// consumed the sequence number
func (d *Device) handleBootloader(seq uint16, payload []byte) bool {
	if len(payload) == 0 {
		d.reply("Error: empty request")
		return false
	}

	switch payload[0] {
	case protocol.StartFirmwareCommand[0]:
		if len(payload) != 1 {
			break
		}
		if d.installed != nil {
			d.FirmwareVersion = d.expectVer
		}
		d.reboot(Firmware)
		return true

	case protocol.OpBegin:
		if len(payload) != 13 {
			break
		}
		d.expectSize = binary.LittleEndian.Uint32(payload[1:])
		d.expectVer = binary.LittleEndian.Uint64(payload[5:])
		d.chunks = make(map[int][]byte)
		d.resent = make(map[int]bool)
		d.stored = 0
		d.reply(fmt.Sprintf("ok %d", seq))
		return true

	case protocol.OpWrite:
		if len(payload) < 3 || d.chunks == nil {
			break
		}
		idx := int(binary.LittleEndian.Uint16(payload[1:]))
		d.chunkWrites[idx]++

		if d.ResendChunks[idx] && !d.resent[idx] {
			d.resent[idx] = true
			d.reply(fmt.Sprintf("rs %d", seq))
			return false
		}

		d.chunks[idx] = append([]byte(nil), payload[3:]...)
		d.stored++
		if d.DisconnectAfterChunks > 0 && d.stored >= d.DisconnectAfterChunks {
			d.detach(-1)
			return false
		}
		d.reply(fmt.Sprintf("ok %d", seq))
		return true

	case protocol.OpVerify:
		if len(payload) != 9 || d.chunks == nil {
			break
		}
		size := binary.LittleEndian.Uint32(payload[1:])
		crc := binary.LittleEndian.Uint32(payload[5:])

		image := d.assemble()
		if d.FailVerify || uint32(len(image)) != size || size != d.expectSize || crc32.ChecksumIEEE(image) != crc {
			d.reply("Error: verify failed")
			return false
		}
		d.installed = image
		d.reply(fmt.Sprintf("ok %d", seq))
		return true
	}

	d.reply(fmt.Sprintf("Error: unknown bootloader request 0x%02X", payload[0]))
	return false
}

func (d *Device) assemble() []byte {
	idx := make([]int, 0, len(d.chunks))
	for i := range d.chunks {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var image []byte
	for _, i := range idx {
		image = append(image, d.chunks[i]...)
	}
	return image
}
