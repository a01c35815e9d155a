package protocol

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the session. Concrete errors wrap one of
// these so callers can branch with errors.Is.
var (
	ErrConnection         = errors.New("connection failed")
	ErrDiscoveryExhausted = errors.New("no printer found")
	ErrProtocol           = errors.New("protocol error")
	ErrDisconnected       = errors.New("printer disconnected")
	ErrDevice             = errors.New("device error")
	ErrValidation         = errors.New("validation failed")
	ErrTimeout            = errors.New("timed out waiting for printer")
)

// Frame codec errors
var (
	ErrFrameMarker    = fmt.Errorf("%w: missing frame start marker", ErrProtocol)
	ErrFrameShort     = fmt.Errorf("%w: frame too short", ErrProtocol)
	ErrFrameLength    = fmt.Errorf("%w: frame length mismatch", ErrProtocol)
	ErrChecksum       = fmt.Errorf("%w: checksum mismatch", ErrProtocol)
	ErrPayloadTooLong = fmt.Errorf("%w: payload too long", ErrProtocol)
	ErrInvalidCommand = fmt.Errorf("%w: command contains reserved characters", ErrProtocol)
)

// DeviceError is an explicit "Error" response from the printer.
type DeviceError struct {
	// Line is the raw response text
	Line string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("printer reported: %s", e.Line)
}

func (e *DeviceError) Unwrap() error {
	return ErrDevice
}

// ResendLimitError indicates the printer kept requesting resends.
type ResendLimitError struct {
	Seq     uint32
	Resends int
}

func (e *ResendLimitError) Error() string {
	return fmt.Sprintf("request %d still corrupted after %d resends", e.Seq, e.Resends)
}

func (e *ResendLimitError) Unwrap() error {
	return ErrProtocol
}
