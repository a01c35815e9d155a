package protocol

// FrameBuilder accumulates one outgoing binary frame. Header fields that
// depend on the payload are patched in place once it has been written.
type FrameBuilder struct {
	buf []byte
}

// NewFrameBuilder returns an empty builder sized for one full frame
func NewFrameBuilder() *FrameBuilder {
	return &FrameBuilder{buf: make([]byte, 0, MaxFrame)}
}

// Append writes data at the end of the frame
func (b *FrameBuilder) Append(data ...byte) {
	b.buf = append(b.buf, data...)
}

// Len is the number of bytes written so far
func (b *FrameBuilder) Len() int {
	return len(b.buf)
}

// PutUint16 overwrites two bytes at pos with v, little endian.
// Positions outside the written range are ignored.
func (b *FrameBuilder) PutUint16(pos int, v uint16) {
	if pos < 0 || pos+1 >= len(b.buf) {
		return
	}
	b.buf[pos] = byte(v)
	b.buf[pos+1] = byte(v >> 8)
}

// Since returns the bytes written from pos onwards
func (b *FrameBuilder) Since(pos int) []byte {
	if pos < 0 || pos > len(b.buf) {
		return nil
	}
	return b.buf[pos:]
}

// Bytes returns a copy of the frame
func (b *FrameBuilder) Bytes() []byte {
	return append([]byte(nil), b.buf...)
}

// FifoBuffer is a fixed capacity ring buffer for bytes read from a port
type FifoBuffer struct {
	buf   []byte
	head  int // next byte to read
	count int
}

// NewFifoBuffer creates a FifoBuffer holding up to capacity bytes
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns how much was stored
func (f *FifoBuffer) Write(data []byte) int {
	n := min(len(data), f.Free())
	tail := (f.head + f.count) % len(f.buf)
	first := copy(f.buf[tail:], data[:n])
	copy(f.buf, data[first:n])
	f.count += n
	return n
}

// ReadByte pops a single byte. ok is false when the buffer is empty.
func (f *FifoBuffer) ReadByte() (b byte, ok bool) {
	if f.count == 0 {
		return 0, false
	}
	b = f.buf[f.head]
	f.Pop(1)
	return b, true
}

// Available returns the number of buffered bytes
func (f *FifoBuffer) Available() int {
	return f.count
}

// Free returns the room left for writing
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.count
}

// Data returns the buffered bytes without consuming them. The slice
// aliases the buffer unless the contents wrap.
func (f *FifoBuffer) Data() []byte {
	end := f.head + f.count
	if end <= len(f.buf) {
		return f.buf[f.head:end]
	}
	out := make([]byte, 0, f.count)
	out = append(out, f.buf[f.head:]...)
	return append(out, f.buf[:end-len(f.buf)]...)
}

// IndexByte returns the offset of the first c in the buffered bytes, or -1
func (f *FifoBuffer) IndexByte(c byte) int {
	for i := 0; i < f.count; i++ {
		if f.buf[(f.head+i)%len(f.buf)] == c {
			return i
		}
	}
	return -1
}

// Next consumes and returns up to n bytes
func (f *FifoBuffer) Next(n int) []byte {
	n = min(n, f.count)
	out := append([]byte(nil), f.Data()[:n]...)
	f.Pop(n)
	return out
}

// Pop discards up to n bytes from the front
func (f *FifoBuffer) Pop(n int) {
	n = min(n, f.count)
	if n <= 0 {
		return
	}
	f.head = (f.head + n) % len(f.buf)
	f.count -= n
	if f.count == 0 {
		f.head = 0
	}
}

// IsEmpty reports whether nothing is buffered
func (f *FifoBuffer) IsEmpty() bool {
	return f.count == 0
}

// Reset clears the buffer
func (f *FifoBuffer) Reset() {
	f.head = 0
	f.count = 0
}
