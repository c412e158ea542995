package protocol

import "encoding/binary"

// PingReply answers a ping.
func PingReply() []byte {
	return []byte{byte(OpPing), 0x00}
}

// MemLoadAck echoes the block header with the verified checksum.
func MemLoadAck(m MemLoad) []byte {
	return memLoadReply(m, m.CRC)
}

// MemLoadNack echoes the block header with a zero checksum so the client resends.
func MemLoadNack(m MemLoad) []byte {
	return memLoadReply(m, 0x0000)
}

func memLoadReply(m MemLoad, crc uint16) []byte {
	out := make([]byte, memLoadHeaderLen)
	out[0] = byte(OpMemLoad)
	out[1] = m.BlockLen
	binary.BigEndian.PutUint16(out[2:4], crc)
	binary.BigEndian.PutUint32(out[4:8], m.Addr)
	return out
}

func JumpReply(j Jump) []byte {
	out := make([]byte, jumpFullLen)
	out[0] = byte(j.Op)
	binary.BigEndian.PutUint32(out[1:5], j.Addr)
	return out
}

// MemGetReply echoes the request fields followed by the bytes read.
func MemGetReply(m MemGet, data []byte) []byte {
	out := make([]byte, memGetFullLen+len(data))
	out[0] = byte(OpMemGet)
	binary.BigEndian.PutUint32(out[1:5], m.Addr)
	binary.BigEndian.PutUint16(out[5:7], m.Length)
	copy(out[memGetFullLen:], data)
	return out
}
