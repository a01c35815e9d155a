package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// EncodeBinary builds a binary frame carrying payload under sequence seq.
func EncodeBinary(seq uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLong, len(payload), MaxPayload)
	}

	out := NewFrameBuilder()

	// Length is patched once the payload is in place
	out.Append(FrameStart, byte(seq), byte(seq>>8), 0, 0)
	out.Append(payload...)
	out.PutUint16(FramePositionLen, uint16(out.Len()-FrameHeaderSize))

	sum := Fletcher16(out.Since(0))
	out.Append(byte(sum), byte(sum>>8))

	return out.Bytes(), nil
}

// BinaryFrameLength returns the total frame length announced by a header.
// ok is false until enough header bytes are present.
func BinaryFrameLength(data []byte) (n int, ok bool) {
	if len(data) < FrameHeaderSize {
		return 0, false
	}
	return FrameOverhead + int(binary.LittleEndian.Uint16(data[FramePositionLen:])), true
}

// DecodeBinary validates a complete binary frame and returns its contents.
func DecodeBinary(frame []byte) (seq uint16, payload []byte, err error) {
	if len(frame) < FrameOverhead {
		return 0, nil, ErrFrameShort
	}
	if frame[0] != FrameStart {
		return 0, nil, ErrFrameMarker
	}

	n, _ := BinaryFrameLength(frame)
	if n-FrameOverhead > MaxPayload {
		return 0, nil, ErrPayloadTooLong
	}
	if len(frame) != n {
		return 0, nil, fmt.Errorf("%w: header says %d bytes, got %d", ErrFrameLength, n, len(frame))
	}

	body := frame[:n-FrameTrailerSize]
	want := Fletcher16(body)
	got := uint16(frame[n-2]) | uint16(frame[n-1])<<8
	if want != got {
		return 0, nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrChecksum, want, got)
	}

	seq = binary.LittleEndian.Uint16(frame[FramePositionSeq:])
	payload = make([]byte, n-FrameOverhead)
	copy(payload, frame[FrameHeaderSize:])
	return seq, payload, nil
}

// EncodeASCII builds a checksummed text line: <text>*<seq><checksum>\n
func EncodeASCII(seq uint32, text string) ([]byte, error) {
	if strings.ContainsAny(text, "*\r\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCommand, text)
	}

	body := text + string(ASCIISeparator) + strconv.FormatUint(uint64(seq), 10)
	line := fmt.Sprintf("%s%02X%c", body, ASCIIChecksum(body), LineTerminator)
	return []byte(line), nil
}

// DecodeASCII parses and verifies a line produced by EncodeASCII.
func DecodeASCII(line []byte) (seq uint32, text string, err error) {
	s := strings.TrimRight(string(line), "\r\n")

	star := strings.LastIndexByte(s, ASCIISeparator)
	if star < 0 {
		return 0, "", fmt.Errorf("%w: no '%c' separator", ErrFrameMarker, ASCIISeparator)
	}

	tail := s[star+1:]
	if len(tail) <= ASCIIChecksumWidth {
		return 0, "", ErrFrameShort
	}

	digits := tail[:len(tail)-ASCIIChecksumWidth]
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad sequence %q", ErrProtocol, digits)
	}

	cs, err := strconv.ParseUint(tail[len(tail)-ASCIIChecksumWidth:], 16, 8)
	if err != nil {
		return 0, "", fmt.Errorf("%w: bad checksum token %q", ErrProtocol, tail)
	}

	body := s[:star+1+len(digits)]
	if want := ASCIIChecksum(body); byte(cs) != want {
		return 0, "", fmt.Errorf("%w: expected %02X, got %02X", ErrChecksum, want, cs)
	}

	return uint32(n), s[:star], nil
}
