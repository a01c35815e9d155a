// Package firmware loads and validates M3D firmware ROM images.
package firmware

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"m3dmanager/protocol"
)

// VersionDigits is the number of digits that encode the version in a
// ROM file name, e.g. "iMe 1900000001.hex".
const VersionDigits = 10

// Application section bounds of the printer's ATxmega32C4
const (
	MinSize = 1
	MaxSize = 32 * 1024
)

// Image is an immutable firmware blob
type Image struct {
	Name    string
	Version uint64
	data    []byte
}

// New builds an image from an in-memory blob. The data is copied.
func New(name string, version uint64, data []byte) *Image {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Image{Name: name, Version: version, data: buf}
}

// Data returns a copy of the image contents
func (img *Image) Data() []byte {
	buf := make([]byte, len(img.data))
	copy(buf, img.data)
	return buf
}

// Size returns the image length in bytes
func (img *Image) Size() int {
	return len(img.data)
}

// CRC32 returns the IEEE CRC-32 of the image, as checked by the bootloader
func (img *Image) CRC32() uint32 {
	return crc32.ChecksumIEEE(img.data)
}

// Chunk returns the i-th chunk of size bytes; the last one may be short
func (img *Image) Chunk(i, size int) []byte {
	start := i * size
	if start >= len(img.data) {
		return nil
	}
	end := start + size
	if end > len(img.data) {
		end = len(img.data)
	}
	return img.data[start:end]
}

// Chunks returns how many chunks of size bytes the image spans
func (img *Image) Chunks(size int) int {
	return (len(img.data) + size - 1) / size
}

// Validate checks the image against the device's bounds
func (img *Image) Validate(min, max int) error {
	if len(img.data) < min {
		return fmt.Errorf("%w: firmware image is empty", protocol.ErrValidation)
	}
	if len(img.data) > max {
		return fmt.Errorf("%w: firmware image is %d bytes, device holds %d",
			protocol.ErrValidation, len(img.data), max)
	}
	return nil
}

// ValidateName checks that the ten characters immediately before the
// file extension (or the end of the name) are decimal digits and returns
// them as the version.
func ValidateName(path string) (uint64, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	if len(stem) < VersionDigits {
		return 0, fmt.Errorf("%w: invalid firmware ROM name %q", protocol.ErrValidation, base)
	}

	digits := stem[len(stem)-VersionDigits:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("%w: invalid firmware ROM name %q", protocol.ErrValidation, base)
		}
	}

	// Ten digits always fit in 64 bits
	version, _ := strconv.ParseUint(digits, 10, 64)
	return version, nil
}

// Load validates the file name and reads the image from disk
func Load(path string) (*Image, error) {
	version, err := ValidateName(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: firmware ROM doesn't exist: %v", protocol.ErrValidation, err)
	}

	return &Image{Name: filepath.Base(path), Version: version, data: data}, nil
}
