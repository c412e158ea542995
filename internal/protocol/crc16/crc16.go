// Package crc16 implements the block checksum used by memory-load commands:
// CRC-16 with polynomial 0x8005 in bit-reflected form (0xA001), initial value 0.
package crc16

const poly = 0xA001

// Checksum returns the CRC of data. An empty input yields 0.
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
