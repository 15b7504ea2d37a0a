package bitstat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPopcount(t *testing.T) {
	assert.Equal(t, 0, Popcount(0x00))
	assert.Equal(t, 8, Popcount(0xff))
	assert.Equal(t, 1, Popcount(0x01))
	assert.Equal(t, 4, Popcount(0x0f))
	assert.Equal(t, 4, Popcount(0xaa))
}

func TestEntropyBitsEmpty(t *testing.T) {
	assert.Equal(t, 0.0, EntropyBits(nil))
	assert.Equal(t, 0.0, EntropyBits([]byte{}))
}

func TestEntropyBitsAllSameByteIsZero(t *testing.T) {
	var buf = make([]byte, 64)
	assert.Equal(t, 0.0, EntropyBits(buf))
}

func TestEntropyBitsUniformBytesIsMaximal(t *testing.T) {
	var buf = make([]byte, 256)
	for i := range buf {
		buf[i] = byte(i)
	}
	var got = EntropyBits(buf)
	assert.InDelta(t, 8*256, got, 0.001)
}

func TestEntropyBitsNeverExceedsEightBitsPerByte(t *testing.T) {
	var buf = []byte{0x00, 0x01, 0x02, 0x03, 0x00, 0x01}
	var got = EntropyBits(buf)
	assert.GreaterOrEqual(t, got, 0.0)
	assert.LessOrEqual(t, got, 8.0*float64(len(buf)))
}
