package protocol

// Fletcher16 calculates the checksum appended to binary frames.
// This matches the reduction in Repetier-Firmware's binary command reader.
func Fletcher16(data []byte) uint16 {
	var sum1, sum2 uint16
	for _, b := range data {
		sum1 = (sum1 + uint16(b)) % 255
		sum2 = (sum2 + sum1) % 255
	}
	return sum2<<8 | sum1
}

// ASCIIChecksum is the running XOR of every character in s.
func ASCIIChecksum(s string) byte {
	var cs byte
	for i := 0; i < len(s); i++ {
		cs ^= s[i]
	}
	return cs
}
