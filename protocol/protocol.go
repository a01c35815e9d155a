// Package protocol implements the M3D serial wire formats: the binary
// Repetier-style frame, the ASCII RepRap-style line, response line
// classification and the resend state machine that sits between them.
package protocol

// Version represents the m3d-manager protocol engine version
const Version = "0.1.0"

// Binary frame layout
//
//	[start][seq lo][seq hi][len lo][len hi][payload ...][sum1][sum2]
const (
	FrameStart       = 0x7E // Start marker
	FrameHeaderSize  = 5    // start + seq(2) + len(2)
	FrameTrailerSize = 2    // Fletcher-16 sum1, sum2
	FrameOverhead    = FrameHeaderSize + FrameTrailerSize

	FramePositionSeq = 1
	FramePositionLen = 3

	MaxPayload = 512 // Largest payload the device buffers
	MaxFrame   = MaxPayload + FrameOverhead
)

// ASCII line layout: <command>*<sequence><checksum>\n
const (
	ASCIISeparator     = '*'
	ASCIIChecksumWidth = 2 // Two upper-case hex digits
	LineTerminator     = '\n'
)

// Device commands with fixed meaning
const (
	// IdentifyRequest is sent unframed so both firmware and bootloader
	// understand it.
	IdentifyRequest = "M115"

	// BootloaderSignature is the bootloader's reply to IdentifyRequest.
	BootloaderSignature = "B"

	// EnterBootloaderCommand reboots the firmware into the bootloader.
	EnterBootloaderCommand = "M115 S628"

	// StartFirmwareCommand makes the bootloader jump to the application.
	StartFirmwareCommand = "Q"
)

// Bootloader payload opcodes, sent as binary frame payloads
const (
	OpBegin  = 'E' // size(u32le) version(u64le)
	OpWrite  = 'W' // index(u16le) data
	OpVerify = 'V' // size(u32le) crc32(u32le)
)
