package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestBinaryRoundTrip(t *testing.T) {
	testCases := []struct {
		seq     uint16
		payload []byte
	}{
		{0, []byte("G28")},
		{1, []byte("G1 X10.5 Y-20 F3000")},
		{0xFFFF, []byte("M104 S215")},
		{42, []byte{}},
		{7, []byte{OpWrite, 0x03, 0x00, 0x7E, 0x00, 0xFF}},
		{300, bytes.Repeat([]byte{0xA5}, MaxPayload)},
	}

	for _, tc := range testCases {
		frame, err := EncodeBinary(tc.seq, tc.payload)
		if err != nil {
			t.Errorf("EncodeBinary(%d) failed: %v", tc.seq, err)
			continue
		}

		if len(frame) != len(tc.payload)+FrameOverhead {
			t.Errorf("Expected frame length %d, got %d", len(tc.payload)+FrameOverhead, len(frame))
		}

		n, ok := BinaryFrameLength(frame)
		if !ok || n != len(frame) {
			t.Errorf("BinaryFrameLength: expected %d, got %d (ok=%v)", len(frame), n, ok)
		}

		seq, payload, err := DecodeBinary(frame)
		if err != nil {
			t.Errorf("DecodeBinary(%d) failed: %v", tc.seq, err)
			continue
		}
		if seq != tc.seq {
			t.Errorf("Sequence mismatch: expected %d, got %d", tc.seq, seq)
		}
		if !bytes.Equal(payload, tc.payload) {
			t.Errorf("Payload mismatch for seq %d: expected %v, got %v", tc.seq, tc.payload, payload)
		}
	}
}

func TestBinaryFrameLayout(t *testing.T) {
	frame, err := EncodeBinary(0x0102, []byte("ok"))
	if err != nil {
		t.Fatalf("EncodeBinary failed: %v", err)
	}

	expectedHeader := []byte{FrameStart, 0x02, 0x01, 0x02, 0x00, 'o', 'k'}
	if !bytes.Equal(frame[:7], expectedHeader) {
		t.Errorf("Expected header %v, got %v", expectedHeader, frame[:7])
	}

	sum := Fletcher16(frame[:7])
	if frame[7] != byte(sum) || frame[8] != byte(sum>>8) {
		t.Errorf("Trailer %02X %02X does not match Fletcher-16 0x%04X", frame[7], frame[8], sum)
	}
}

func TestBinaryPayloadTooLong(t *testing.T) {
	_, err := EncodeBinary(1, make([]byte, MaxPayload+1))
	if !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("Expected ErrPayloadTooLong, got %v", err)
	}
}

func TestDecodeBinaryErrors(t *testing.T) {
	good, _ := EncodeBinary(5, []byte("G28"))

	corrupted := append([]byte(nil), good...)
	corrupted[6] ^= 0x01

	badMarker := append([]byte(nil), good...)
	badMarker[0] = 0x00

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"short", good[:4], ErrFrameShort},
		{"marker", badMarker, ErrFrameMarker},
		{"truncated", good[:len(good)-1], ErrFrameLength},
		{"checksum", corrupted, ErrChecksum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeBinary(tt.frame)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("Expected error to wrap ErrProtocol, got %v", err)
			}
		})
	}
}

func TestASCIIRoundTrip(t *testing.T) {
	testCases := []struct {
		seq  uint32
		text string
	}{
		{0, "G28"},
		{1, "M104 S215"},
		{123456, "G1 X10 Y20 Z0.3 E1.5 F1800"},
		{9, ""},
	}

	for _, tc := range testCases {
		line, err := EncodeASCII(tc.seq, tc.text)
		if err != nil {
			t.Errorf("EncodeASCII(%q) failed: %v", tc.text, err)
			continue
		}

		if line[len(line)-1] != '\n' {
			t.Errorf("Line for %q is not newline terminated", tc.text)
		}

		seq, text, err := DecodeASCII(line)
		if err != nil {
			t.Errorf("DecodeASCII(%q) failed: %v", line, err)
			continue
		}
		if seq != tc.seq || text != tc.text {
			t.Errorf("Expected (%d, %q), got (%d, %q)", tc.seq, tc.text, seq, text)
		}
	}
}

func TestASCIIFormat(t *testing.T) {
	line, err := EncodeASCII(12, "G28")
	if err != nil {
		t.Fatalf("EncodeASCII failed: %v", err)
	}

	cs := ASCIIChecksum("G28*12")
	expected := "G28*12" + string("0123456789ABCDEF"[cs>>4]) + string("0123456789ABCDEF"[cs&0x0F]) + "\n"
	if string(line) != expected {
		t.Errorf("Expected %q, got %q", expected, line)
	}
}

func TestASCIIRejectsReservedCharacters(t *testing.T) {
	for _, text := range []string{"G28*", "G28\nG1", "M105\r"} {
		if _, err := EncodeASCII(1, text); !errors.Is(err, ErrInvalidCommand) {
			t.Errorf("Expected ErrInvalidCommand for %q, got %v", text, err)
		}
	}
}

func TestDecodeASCIIChecksumMismatch(t *testing.T) {
	line, _ := EncodeASCII(3, "G28")
	line[0] = 'M'

	if _, _, err := DecodeASCII(line); !errors.Is(err, ErrChecksum) {
		t.Errorf("Expected ErrChecksum, got %v", err)
	}

	if _, _, err := DecodeASCII([]byte("G28\n")); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected protocol error for unframed line, got %v", err)
	}
}
