package buf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundtrip(t *testing.T) {
	b := make([]byte, 32)

	PutU16(b, 0, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), U16(b, 0))

	PutU32(b, 4, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), U32(b, 4))

	PutU64(b, 8, 0x0102030405060708)
	assert.Equal(t, uint64(0x0102030405060708), U64(b, 8))

	PutI64(b, 16, -42)
	assert.Equal(t, int64(-42), I64(b, 16))
}

func TestReadsOutOfBoundsReturnZero(t *testing.T) {
	b := []byte{1, 2, 3}
	assert.Zero(t, U16(b, 2))
	assert.Zero(t, U32(b, 0))
	assert.Zero(t, U64(b, 0))
	assert.Zero(t, U64(nil, 0))
	assert.Zero(t, U16(b, -1))
}

func TestSlice(t *testing.T) {
	b := []byte{0, 1, 2, 3, 4}

	s, ok := Slice(b, 1, 3)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, s)

	_, ok = Slice(b, 3, 3)
	assert.False(t, ok)
	_, ok = Slice(b, -1, 1)
	assert.False(t, ok)
	_, ok = Slice(b, 0, -1)
	assert.False(t, ok)
	_, ok = Slice(b, 2, math.MaxInt)
	assert.False(t, ok)

	s, ok = Slice(b, 5, 0)
	assert.True(t, ok)
	assert.Empty(t, s)
}

func TestAddOverflowSafe(t *testing.T) {
	sum, ok := AddOverflowSafe(math.MaxInt, 1)
	assert.False(t, ok)
	assert.Zero(t, sum)

	sum, ok = AddOverflowSafe(math.MinInt, -1)
	assert.False(t, ok)
	assert.Zero(t, sum)

	sum, ok = AddOverflowSafe(40, 2)
	assert.True(t, ok)
	assert.Equal(t, 42, sum)
}
