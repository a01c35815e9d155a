// Package gcode parses G-code lines typed in manual mode so they can be
// cleaned up before framing and classified by the prompt.
package gcode

import (
	"fmt"
	"strconv"
	"strings"

	"m3dmanager/protocol"
)

// Command represents a parsed G-code command
type Command struct {
	Type       byte             // 'G', 'M', 'T', or 0 for a bare line
	Number     int              // Command number (e.g., 28 for G28)
	Parameters map[byte]float64 // Parameters (X, Y, Z, E, F, S, etc.)
	Comment    string           // Comment text
	Text       string           // Command text without the comment
}

// Parser handles G-code parsing
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. Blank lines yield nil.
func (p *Parser) ParseLine(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil, nil
	}

	cmd := &Command{
		Parameters: make(map[byte]float64),
	}

	i := 0

	// Check for comment
	if line[i] == ';' || line[i] == '(' {
		cmd.Comment = line[i:]
		return cmd, nil
	}

	// Parse command type (G, M, T)
	if line[i] == 'G' || line[i] == 'M' || line[i] == 'T' ||
		line[i] == 'g' || line[i] == 'm' || line[i] == 't' {
		cmd.Type = toUpper(line[i])
		i++

		num, newPos := parseInt(line, i)
		if newPos <= i {
			return nil, fmt.Errorf("missing number after %c in %q", cmd.Type, line)
		}
		cmd.Number = num
		i = newPos
	}

	// Parse parameters
	end := len(line)
	for i < len(line) {
		// Skip whitespace
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}

		if i >= len(line) {
			break
		}

		// Check for comment
		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = line[i:]
			end = i
			break
		}

		// Parse parameter letter
		if isLetter(line[i]) {
			letter := toUpper(line[i])
			i++

			value, newPos := parseFloat(line, i)
			if newPos > i {
				cmd.Parameters[letter] = value
				i = newPos
			}
		} else {
			i++
		}
	}

	cmd.Text = strings.TrimSpace(line[:end])
	return cmd, nil
}

// Normalize strips comments and surrounding whitespace. Comment-only
// lines become empty.
func Normalize(line string) string {
	if i := strings.IndexAny(line, ";("); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}

// AwaitsResponse reports whether the printer answers line with a
// terminal response. Mode switch commands reboot the printer instead.
func AwaitsResponse(line string) bool {
	text := Normalize(line)
	if text == protocol.StartFirmwareCommand || text == protocol.EnterBootloaderCommand {
		return false
	}

	cmd, err := NewParser().ParseLine(text)
	if err != nil || cmd == nil {
		return true
	}
	return !(cmd.Type == 'M' && cmd.Number == 115 && cmd.GetParameter('S', 0) == 628)
}

// scanNumber returns the end of a signed decimal starting at pos, or pos
// when there are no digits. fraction allows one decimal point.
func scanNumber(s string, pos int, fraction bool) int {
	end := pos
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}

	digits := 0
	dot := false
	for ; end < len(s); end++ {
		c := s[end]
		if c >= '0' && c <= '9' {
			digits++
			continue
		}
		if c == '.' && fraction && !dot {
			dot = true
			continue
		}
		break
	}

	if digits == 0 {
		return pos
	}
	return end
}

// parseInt reads an integer at pos and returns it with the position after it
func parseInt(s string, pos int) (int, int) {
	end := scanNumber(s, pos, false)
	v, err := strconv.Atoi(s[pos:end])
	if err != nil {
		return 0, pos
	}
	return v, end
}

// parseFloat reads a decimal at pos and returns it with the position after it
func parseFloat(s string, pos int) (float64, int) {
	end := scanNumber(s, pos, true)
	v, err := strconv.ParseFloat(s[pos:end], 64)
	if err != nil {
		return 0, pos
	}
	return v, end
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}

// HasParameter checks if a parameter exists in the command
func (cmd *Command) HasParameter(param byte) bool {
	_, ok := cmd.Parameters[param]
	return ok
}

// GetParameter gets a parameter value, or returns the default if not present
func (cmd *Command) GetParameter(param byte, defaultValue float64) float64 {
	if val, ok := cmd.Parameters[param]; ok {
		return val
	}
	return defaultValue
}
