// Package bitfield implements the MSB-first, byte-packed bit vector used
// for the peer wire BITFIELD message and for tracking piece availability.
package bitfield

import "encoding/hex"

// BitField is a fixed-length, MSB-first bit vector.
type BitField struct {
	b      []byte
	length uint32
}

// New creates a zeroed BitField of length bits.
func New(length uint32) BitField {
	return BitField{b: make([]byte, (length+7)/8), length: length}
}

// NewFromBytes wraps b as a BitField of length bits without copying.
// Unused bits in the trailing byte are cleared. Panics if b is too short
// to hold length bits.
func NewFromBytes(b []byte, length uint32) BitField {
	div, mod := divMod32(length, 8)
	requiredBytes := div
	trailing := mod != 0
	if trailing {
		requiredBytes++
	}
	if uint32(len(b)) < requiredBytes {
		panic("bitfield: not enough bytes for given length")
	}
	if trailing {
		b[requiredBytes-1] &= ^(byte(0xff) >> mod)
	}
	return BitField{b: b[:requiredBytes], length: length}
}

// Bytes returns the underlying byte slice. Modifying it modifies the
// bitfield.
func (b *BitField) Bytes() []byte { return b.b }

// Len returns the number of bits.
func (b *BitField) Len() uint32 { return b.length }

// Hex renders the underlying bytes as hex, for logging.
func (b *BitField) Hex() string { return hex.EncodeToString(b.b) }

// Set sets bit i. Bit 0 is the most significant bit of the first byte.
func (b *BitField) Set(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] |= 1 << (7 - mod)
}

// SetTo sets bit i to value.
func (b *BitField) SetTo(i uint32, value bool) {
	if value {
		b.Set(i)
	} else {
		b.Clear(i)
	}
}

// Clear clears bit i.
func (b *BitField) Clear(i uint32) {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	b.b[div] &^= 1 << (7 - mod)
}

// Test reports whether bit i is set.
func (b *BitField) Test(i uint32) bool {
	b.checkIndex(i)
	div, mod := divMod32(i, 8)
	return b.b[div]&(1<<(7-mod)) != 0
}

var popcount = [256]byte{
	0, 1, 1, 2, 1, 2, 2, 3, 1, 2, 2, 3, 2, 3, 3, 4,
	1, 2, 2, 3, 2, 3, 3, 4, 2, 3, 3, 4, 3, 4, 4, 5,
	1, 2, 2, 3, 2, 3, 3, 4, 2, 3, 3, 4, 3, 4, 4, 5,
	2, 3, 3, 4, 3, 4, 4, 5, 3, 4, 4, 5, 4, 5, 5, 6,
	1, 2, 2, 3, 2, 3, 3, 4, 2, 3, 3, 4, 3, 4, 4, 5,
	2, 3, 3, 4, 3, 4, 4, 5, 3, 4, 4, 5, 4, 5, 5, 6,
	2, 3, 3, 4, 3, 4, 4, 5, 3, 4, 4, 5, 4, 5, 5, 6,
	3, 4, 4, 5, 4, 5, 5, 6, 4, 5, 5, 6, 5, 6, 6, 7,
	1, 2, 2, 3, 2, 3, 3, 4, 2, 3, 3, 4, 3, 4, 4, 5,
	2, 3, 3, 4, 3, 4, 4, 5, 3, 4, 4, 5, 4, 5, 5, 6,
	2, 3, 3, 4, 3, 4, 4, 5, 3, 4, 4, 5, 4, 5, 5, 6,
	3, 4, 4, 5, 4, 5, 5, 6, 4, 5, 5, 6, 5, 6, 6, 7,
	2, 3, 3, 4, 3, 4, 4, 5, 3, 4, 4, 5, 4, 5, 5, 6,
	3, 4, 4, 5, 4, 5, 5, 6, 4, 5, 5, 6, 5, 6, 6, 7,
	3, 4, 4, 5, 4, 5, 5, 6, 4, 5, 5, 6, 5, 6, 6, 7,
	4, 5, 5, 6, 5, 6, 6, 7, 5, 6, 6, 7, 6, 7, 7, 8,
}

// Count returns the number of set bits.
func (b *BitField) Count() uint32 {
	var total uint32
	for _, v := range b.b {
		total += uint32(popcount[v])
	}
	return total
}

// All reports whether every bit is set.
func (b *BitField) All() bool {
	return b.Count() == b.length
}

func (b *BitField) checkIndex(i uint32) {
	if i >= b.length {
		panic("bitfield: index out of bounds")
	}
}

func divMod32(a, b uint32) (uint32, uint32) { return a / b, a % b }
