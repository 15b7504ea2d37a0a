package fips

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestPokerConstantMatchesFIPSNotSource pins the Open Question decision
// from spec.md §9: the published FIPS 140-2 poker constant is 5000, not
// the source's buggy 5001.
func TestPokerConstantMatchesFIPSNotSource(t *testing.T) {
	assert.Equal(t, 5000.0, pokerN)
}

// S1 — feed 2,500 bytes each equal to 0xFF: monobit fails (n_ones = 20,000).
func TestScenarioS1MonobitFailure(t *testing.T) {
	var m = New()
	for i := 0; i < windowBytes; i++ {
		m.Add(0xFF)
	}
	assert.Equal(t, windowBits, m.FillBits())
	assert.Equal(t, Fail, m.ShortTest())
}

// S2 — feed byte(i) = i mod 256 for 2,500 bytes: a clean pass. Nine full
// 0..255 cycles contribute 9*1024 ones and the partial cycle 0..195 adds
// 716, so n_ones = 9932 (inside the monobit bounds).
func TestScenarioS2CleanPass(t *testing.T) {
	var m = New()
	for i := 0; i < windowBytes; i++ {
		m.Add(byte(i % 256))
	}
	assert.Equal(t, 9932, m.monobitOnes)
	assert.Equal(t, Pass, m.ShortTest())
}

// S3 — a run of 26 identical bits anywhere inside the window trips the
// long-run test.
func TestScenarioS3LongRunTrip(t *testing.T) {
	var m = New()
	// Fill the window with the same i mod 256 pattern used by S2 (a clean
	// pass baseline), advanced by 56 extra bytes so that the monobit and
	// poker tests still pass once four 0xFF bytes replace the four oldest
	// bytes. The 0xFF bytes are the newest in storage order, so the runs
	// walk meets them last.
	for i := 0; i < windowBytes+56; i++ {
		m.Add(byte(i % 256))
	}
	for i := 0; i < 4; i++ {
		m.Add(0xFF) // 32 consecutive one-bits, comfortably >= 26.
	}
	assert.Equal(t, Pass, m.ShortTest())
	assert.Equal(t, Fail, m.LongTest())
}

func TestShortTestInsufficientDataBeforeWindowFull(t *testing.T) {
	var m = New()
	for i := 0; i < windowBytes-1; i++ {
		m.Add(0x00)
	}
	assert.Equal(t, InsufficientData, m.ShortTest())
}

func TestAddEvictsOldestByteOnceWindowIsFull(t *testing.T) {
	var m = New()
	for i := 0; i < windowBytes; i++ {
		m.Add(0x00)
	}
	assert.Equal(t, 0, m.monobitOnes)
	m.Add(0xFF)
	assert.Equal(t, 8, m.monobitOnes)
}

func TestTickRunsLongTestOnlyAfterEnoughNewBits(t *testing.T) {
	var m = New()
	for i := 0; i < windowBytes; i++ {
		m.Add(byte(i % 256))
	}
	// newBits saturates at windowBits right after the fill, so the very
	// next Tick() must run the long test.
	assert.Equal(t, windowBits, m.newBits)
	assert.Equal(t, Pass, m.Tick())
	assert.Equal(t, 0, m.newBits)
}

// TestMonitorNeverPanics is a property check that Add/Tick never panic
// across arbitrary byte sequences, exercising the window wraparound and
// eviction bookkeeping.
func TestMonitorNeverPanics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var m = New()
		var n = rt.IntRange(0, windowBytes*3).Draw(rt, "n")
		for i := 0; i < n; i++ {
			var b = rt.Byte().Draw(rt, "b")
			m.Add(b)
			m.Tick()
		}
		assert.LessOrEqual(t, m.FillBits(), windowBits)
	})
}

// TestStorageOrderLengthMatchesFill checks storageOrderBytes's invariant:
// its length always equals the number of whole bytes currently filled.
func TestStorageOrderLengthMatchesFill(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var m = New()
		var n = rt.IntRange(0, windowBytes*2).Draw(rt, "n")
		for i := 0; i < n; i++ {
			m.Add(rt.Byte().Draw(rt, "b"))
		}
		var order = m.storageOrderBytes()
		assert.Equal(t, m.FillBits()/8, len(order))
	})
}
