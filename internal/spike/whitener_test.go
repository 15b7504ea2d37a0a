package spike

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingRawSink struct {
	blocks [][]byte
}

func (r *recordingRawSink) WriteBlock(block [16]byte) error {
	var cp = make([]byte, len(block))
	copy(cp, block[:])
	r.blocks = append(r.blocks, cp)
	return nil
}

// S6 — the first 128 collected bits install the key and emit nothing; the
// next 128 install the IV and emit nothing; the third 128-bit group
// onward emits one ciphertext block per group.
func TestScenarioS6WhitenerBootstrap(t *testing.T) {
	var raw = &recordingRawSink{}
	var w = NewWhitener(raw)

	var r1, err1 = w.Accept(^uint64(0), 64)
	assert.NoError(t, err1)
	assert.False(t, r1.Filled)

	var r2, err2 = w.Accept(^uint64(0), 64)
	assert.NoError(t, err2)
	assert.True(t, r2.Filled)
	assert.False(t, r2.Submitted, "block 1 (key install) must not submit")

	var r3, err3 = w.Accept(0x1234, 64)
	assert.NoError(t, err3)
	assert.False(t, r3.Filled)

	var r4, err4 = w.Accept(0x5678, 64)
	assert.NoError(t, err4)
	assert.True(t, r4.Filled)
	assert.False(t, r4.Submitted, "block 2 (IV install) must not submit")

	var r5, err5 = w.Accept(0xdead, 64)
	assert.NoError(t, err5)
	assert.False(t, r5.Filled)

	var r6, err6 = w.Accept(0xbeef, 64)
	assert.NoError(t, err6)
	assert.True(t, r6.Filled)
	assert.True(t, r6.Submitted, "block 3 onward must submit real ciphertext")
	assert.NotEqual(t, [16]byte{}, r6.Ciphertext)
	assert.Len(t, raw.blocks, 1, "raw sink only receives post-bootstrap blocks")
}

func TestAcceptSplitsOverflowAcrossBlockBoundary(t *testing.T) {
	var w = NewWhitener(nil)

	// Fill 127 of 128 bits with zero, then push a 4-bit field that must
	// split: 1 bit completes this block, 3 bits carry into the next.
	var r1, err1 = w.Accept(0, 127)
	assert.NoError(t, err1)
	assert.False(t, r1.Filled)

	var r2, err2 = w.Accept(0b1011, 4)
	assert.NoError(t, err2)
	assert.True(t, r2.Filled)
	assert.Equal(t, 3, w.filled, "3 overflow bits must carry into the next accumulator")
}

func TestAcceptWithZeroWidthFieldIsANoOp(t *testing.T) {
	var w = NewWhitener(nil)
	var r, err = w.Accept(123, 0)
	assert.NoError(t, err)
	assert.False(t, r.Filled)
	assert.Equal(t, 0, w.filled)
}

func TestAcc128ShiftLeftORAndXOR(t *testing.T) {
	var a acc128
	a.shiftLeftOR(8, 0xff)
	assert.Equal(t, uint64(0), a.hi)
	assert.Equal(t, uint64(0xff), a.lo)

	a.shiftLeftOR(64, 0x01)
	assert.Equal(t, uint64(0xff), a.hi)
	assert.Equal(t, uint64(0x01), a.lo)

	var b acc128
	var x = a.xor(b)
	assert.Equal(t, a, x)

	var y = a.xor(a)
	assert.Equal(t, acc128{}, y)
}
