// internal/pkg/khqr/crc16.go
package khqr

// Checksum computes CRC-16/CCITT-FALSE over data: polynomial 0x1021, initial
// register 0xFFFF, MSB-first, no input or output reflection, no final XOR.
// This is the checksum variant the EMV QR specification mandates for tag 63.
func Checksum(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
