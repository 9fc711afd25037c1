// Package buf contains bounds-aware helpers for little-endian encoding and
// decoding against raw byte slices.
package buf

import "encoding/binary"

// U16 reads a little-endian uint16 from b at off. Returns 0 when out of bounds.
func U16(b []byte, off int) uint16 {
	if !Has(b, off, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(b[off:])
}

// U32 reads a little-endian uint32 from b at off. Returns 0 when out of bounds.
func U32(b []byte, off int) uint32 {
	if !Has(b, off, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off:])
}

// U64 reads a little-endian uint64 from b at off. Returns 0 when out of bounds.
func U64(b []byte, off int) uint64 {
	if !Has(b, off, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[off:])
}

// I64 reads a little-endian int64 from b at off. Returns 0 when out of bounds.
func I64(b []byte, off int) int64 {
	return int64(U64(b, off))
}

// PutU16 writes a little-endian uint16 into b at off.
func PutU16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

// PutU32 writes a little-endian uint32 into b at off.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// PutU64 writes a little-endian uint64 into b at off.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// PutI64 writes a little-endian int64 into b at off.
func PutI64(b []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(b[off:off+8], uint64(v))
}
