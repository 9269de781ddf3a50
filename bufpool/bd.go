// File: bufpool/bd.go
// Package bufpool implements the buffer-descriptor exchange and the
// fixed-size buffer pools managed channels acquire/release from.
// Author: momentics <momentics@gmail.com>

package bufpool

import "encoding/binary"

// BDSize is the 8-byte wire size of a buffer descriptor: 16-bit pool
// id, 16-bit buffer id, 32-bit data length.
const BDSize = 8

// BD is a buffer descriptor: an ownership token for one fixed-size
// buffer slot in a pool.
type BD struct {
	PoolID   uint16
	BufferID uint16
	Length   uint32
}

// Marshal encodes the descriptor into dst (must be BDSize bytes).
func (b BD) Marshal(dst []byte) {
	binary.BigEndian.PutUint16(dst[0:2], b.PoolID)
	binary.BigEndian.PutUint16(dst[2:4], b.BufferID)
	binary.BigEndian.PutUint32(dst[4:8], b.Length)
}

// UnmarshalBD decodes a descriptor from src (must be BDSize bytes).
func UnmarshalBD(src []byte) BD {
	return BD{
		PoolID:   binary.BigEndian.Uint16(src[0:2]),
		BufferID: binary.BigEndian.Uint16(src[2:4]),
		Length:   binary.BigEndian.Uint32(src[4:8]),
	}
}
