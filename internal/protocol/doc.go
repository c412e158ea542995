// Package protocol owns the loader wire contract.
//
// Ownership boundary:
// - opcode constants and payload layouts
// - command parsing into typed variants
// - reply payload encoding
//
// Subpackages:
// - frame: 2-byte big-endian length prefix framing
// - crc16: memory-load block checksum
package protocol
