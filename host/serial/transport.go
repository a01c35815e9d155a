package serial

import (
	"context"
	"fmt"
	"strings"
	"time"

	"m3dmanager/protocol"
)

const (
	// rxBufferSize holds a few full frames worth of printer output
	rxBufferSize = 4 * protocol.MaxFrame

	// maxLineLength bounds a single response line
	maxLineLength = 1024
)

// Transport is a buffered byte stream over one open Port. Any I/O error
// from the port is reported as protocol.ErrDisconnected and leaves the
// Transport unusable.
type Transport struct {
	port Port
	name string

	rx      *protocol.FifoBuffer
	scratch [64]byte

	failed error
	closed bool
}

// NewTransport wraps an open port. name is the device identifier it was
// opened under.
func NewTransport(port Port, name string) *Transport {
	return &Transport{
		port: port,
		name: name,
		rx:   protocol.NewFifoBuffer(rxBufferSize),
	}
}

// Name returns the device identifier
func (t *Transport) Name() string {
	return t.name
}

// Alive reports whether the transport can still be used
func (t *Transport) Alive() bool {
	return !t.closed && t.failed == nil
}

func (t *Transport) usable() error {
	if t.closed {
		return fmt.Errorf("%w: transport closed", protocol.ErrDisconnected)
	}
	return t.failed
}

func (t *Transport) fail(op string, err error) error {
	t.failed = fmt.Errorf("%w: %s %s: %v", protocol.ErrDisconnected, op, t.name, err)
	return t.failed
}

// fill performs one port read into the receive buffer
func (t *Transport) fill() error {
	want := t.rx.Free()
	if want == 0 {
		return nil
	}
	if want > len(t.scratch) {
		want = len(t.scratch)
	}

	n, err := t.port.Read(t.scratch[:want])
	if n > 0 {
		t.rx.Write(t.scratch[:n])
	}
	if err != nil {
		return t.fail("read", err)
	}
	return nil
}

// ReadByte returns the next received byte, waiting up to timeout
func (t *Transport) ReadByte(timeout time.Duration) (byte, error) {
	if err := t.usable(); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(timeout)
	for {
		if b, ok := t.rx.ReadByte(); ok {
			return b, nil
		}
		if !time.Now().Before(deadline) {
			return 0, protocol.ErrTimeout
		}
		if err := t.fill(); err != nil {
			return 0, err
		}
	}
}

// ReadLine assembles one '\n' terminated line, without the terminator
// and any trailing '\r'. It fails with protocol.ErrTimeout if no complete
// line arrives in time; a partial line stays buffered for the next call.
func (t *Transport) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	if err := t.usable(); err != nil {
		return "", err
	}

	deadline := time.Now().Add(timeout)
	for {
		if i := t.rx.IndexByte(protocol.LineTerminator); i >= 0 {
			line := t.rx.Next(i + 1)
			return strings.TrimRight(string(line[:i]), "\r"), nil
		}
		if t.rx.Available() >= maxLineLength {
			return string(t.rx.Next(maxLineLength)), nil
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return "", protocol.ErrTimeout
		}
		if err := t.fill(); err != nil {
			return "", err
		}
	}
}

// Write writes the whole buffer
func (t *Transport) Write(b []byte) error {
	if err := t.usable(); err != nil {
		return err
	}

	for len(b) > 0 {
		n, err := t.port.Write(b)
		if err != nil {
			return t.fail("write", err)
		}
		if n == 0 {
			return t.fail("write", fmt.Errorf("port accepted no data"))
		}
		b = b[n:]
	}
	return nil
}

// Discard drops buffered input, both ours and the port's
func (t *Transport) Discard() {
	t.rx.Reset()
	if t.Alive() {
		t.port.Flush()
	}
}

// Close closes the port. Closing twice is a no-op.
func (t *Transport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
