//go:build !wasm

package serial

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// USBFilter selects ports by USB vendor and product ID (hex, case
// insensitive). Empty fields match anything.
type USBFilter struct {
	VID string
	PID string
}

// Atmel IDs the M3D enumerates with in both firmware and bootloader mode
const (
	DefaultVID = "03EB"
	DefaultPID = "2404"
)

// DefaultFilter matches the M3D
func DefaultFilter() USBFilter {
	return USBFilter{VID: DefaultVID, PID: DefaultPID}
}

// Matches reports whether a port with the given IDs passes the filter
func (f USBFilter) Matches(vid, pid string) bool {
	if f.VID != "" && !strings.EqualFold(f.VID, vid) {
		return false
	}
	if f.PID != "" && !strings.EqualFold(f.PID, pid) {
		return false
	}
	return true
}

// Empty reports whether the filter accepts every port
func (f USBFilter) Empty() bool {
	return f.VID == "" && f.PID == ""
}

// ListPorts returns the names of serial ports that pass filter
func ListPorts(filter USBFilter) ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	var names []string
	for _, d := range details {
		if !filter.Empty() && (!d.IsUSB || !filter.Matches(d.VID, d.PID)) {
			continue
		}
		names = append(names, d.Name)
	}

	sort.Strings(names)
	return names, nil
}
