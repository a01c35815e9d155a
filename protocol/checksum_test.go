package protocol

import "testing"

func TestFletcher16(t *testing.T) {
	testCases := []struct {
		data     string
		expected uint16
	}{
		{"", 0x0000},
		{"abcde", 0xC8F0},
		{"abcdef", 0x2057},
		{"abcdefgh", 0x0627},
	}

	for _, tc := range testCases {
		result := Fletcher16([]byte(tc.data))
		if result != tc.expected {
			t.Errorf("Fletcher16(%q): expected 0x%04X, got 0x%04X", tc.data, tc.expected, result)
		}
	}
}

func TestFletcher16Different(t *testing.T) {
	crc1 := Fletcher16([]byte{0x01, 0x02, 0x03})
	crc2 := Fletcher16([]byte{0x01, 0x02, 0x04})

	if crc1 == crc2 {
		t.Errorf("Fletcher16 collision: both inputs produced %04X", crc1)
	}
}

func TestASCIIChecksum(t *testing.T) {
	testCases := []struct {
		input    string
		expected byte
	}{
		{"", 0x00},
		{"A", 0x41},
		{"AB", 0x03},
		{"G28*1", 'G' ^ '2' ^ '8' ^ '*' ^ '1'},
	}

	for _, tc := range testCases {
		if got := ASCIIChecksum(tc.input); got != tc.expected {
			t.Errorf("ASCIIChecksum(%q): expected 0x%02X, got 0x%02X", tc.input, tc.expected, got)
		}
	}
}
