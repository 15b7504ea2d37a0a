// Package fips implements a streaming FIPS 140-2 RNG health monitor over a
// sliding 20,000-bit window: monobit, poker, runs, and long-run tests.
//
// Ported from RNGTEST.c (RNGTEST_init/RNGTEST_add/RNGTEST_shorttest/
// RNGTEST_longtest/RNGTEST), with one deliberate correction: the source
// computes the poker statistic with the constant -5001.0, which is an
// off-by-one against the published FIPS 140-2 formula (-5000.0). This
// implementation uses -5000, per spec.md §9 "Open question — poker
// constant", and TestPokerConstantMatchesFIPSNotSource pins it down.
package fips

import "github.com/wrenfeld/aentropyd/internal/bitstat"

const (
	windowBits  = 20000
	windowBytes = windowBits / 8 // 2500

	monobitLow  = 9725
	monobitHigh = 10275

	pokerLow  = 2.16
	pokerHigh = 46.17
	pokerN    = 5000.0 // FIPS 140-2 constant; the source used 5001.0, a known bug.

	longRunLength = 26

	// tick() runs the long test once new_bits has reached this many bytes
	// since the previous long test: 2495 bytes (19960 bits), per RNGTEST()'s
	// RNGTEST_nnewbits >= 2495 check.
	longTestTriggerBytes = 2495
)

// runIntervals are the FIPS 140-2 acceptance windows for run lengths 1..6,
// each an open interval (min, max) that both polarity counts must fall
// inside.
var runIntervals = [7]struct{ min, max int }{
	{}, // unused; run lengths are 1-indexed
	{2343, 2657},
	{1135, 1365},
	{542, 708},
	{251, 373},
	{111, 201},
	{111, 201},
}

// Result is the outcome of a short_test, long_test, or tick invocation.
type Result int

const (
	Pass Result = iota
	Fail
	InsufficientData
)

func (r Result) String() string {
	switch r {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case InsufficientData:
		return "insufficient-data"
	default:
		return "unknown"
	}
}

// Monitor is the sliding-window FIPS 140-2 state described in spec.md §3
// "SlidingWindow (FIPS monitor state)".
type Monitor struct {
	window   [windowBytes]byte
	cursor   int
	fillBits int // saturates at windowBits
	newBits  int // saturates at windowBits; reset to 0 by each long_test whose short_test passed

	monobitOnes int     // popcount of all stored bytes
	poker       [16]int // poker[nibble] = count of that nibble among stored nibbles
}

// New returns a freshly initialized Monitor, equivalent to RNGTEST_init().
func New() *Monitor {
	return &Monitor{}
}

/*-------------------------------------------------------------------
 *
 * Name:	Add
 *
 * Purpose:	Feed one byte into the sliding window, evicting the oldest
 *		byte if the window is full. Mirrors RNGTEST_add().
 *
 *--------------------------------------------------------------*/

func (m *Monitor) Add(b byte) {
	if m.fillBits == windowBits {
		var evicted = m.window[m.cursor]
		m.monobitOnes -= bitstat.Popcount(evicted)
		m.poker[evicted&0x0f]--
		m.poker[evicted>>4]--
	} else {
		m.fillBits += 8
	}

	m.window[m.cursor] = b
	m.cursor++
	if m.cursor == windowBytes {
		m.cursor = 0
	}

	if m.newBits < windowBits {
		m.newBits += 8
	}

	m.monobitOnes += bitstat.Popcount(b)
	m.poker[b&0x0f]++
	m.poker[b>>4]++
}

// FillBits reports how many bits currently occupy the window (saturates at
// 20,000).
func (m *Monitor) FillBits() int {
	return m.fillBits
}

/*-------------------------------------------------------------------
 *
 * Name:	ShortTest
 *
 * Purpose:	Run the monobit and poker tests over the current window.
 *		Mirrors RNGTEST_shorttest().
 *
 *--------------------------------------------------------------*/

func (m *Monitor) ShortTest() Result {
	if m.fillBits < windowBits {
		return InsufficientData
	}

	if m.monobitOnes <= monobitLow || m.monobitOnes >= monobitHigh {
		return Fail
	}

	var sumSquares int
	for _, count := range m.poker {
		sumSquares += count * count
	}
	var x = (16.0/pokerN)*float64(sumSquares) - pokerN
	if x <= pokerLow || x >= pokerHigh {
		return Fail
	}

	return Pass
}

/*-------------------------------------------------------------------
 *
 * Name:	LongTest
 *
 * Purpose:	Run short_test, then (if it passed) the runs test over all
 *		20,000 stored bits in storage order, MSB-first within each
 *		byte. Mirrors RNGTEST_longtest().
 *
 *--------------------------------------------------------------*/

func (m *Monitor) LongTest() Result {
	var short = m.ShortTest()
	if short != Pass {
		return short
	}

	var runLenCounts [7][2]int
	var runLength int
	var lastBit int
	var first = true
	var failed bool

	// walk reports true on a long-run failure (26 or more same-valued bits).
	var walk = func(bit int) bool {
		if first {
			lastBit = bit
			runLength = 1
			first = false
			return false
		}

		if bit == lastBit {
			runLength++
			return runLength >= longRunLength
		}

		var bucket = runLength
		if bucket > 6 {
			bucket = 6
		}
		runLenCounts[bucket][lastBit]++

		lastBit = bit
		runLength = 1
		return false
	}

	var storageOrder = m.storageOrderBytes()
outer:
	for _, curByte := range storageOrder {
		for shift := 7; shift >= 0; shift-- {
			var bit = int((curByte >> uint(shift)) & 1)
			if walk(bit) {
				failed = true
				break outer
			}
		}
	}

	m.newBits = 0

	if failed {
		return Fail
	}

	if runLength > 0 {
		var bucket = runLength
		if bucket > 6 {
			bucket = 6
		}
		runLenCounts[bucket][lastBit]++
	}

	for length := 1; length <= 6; length++ {
		var interval = runIntervals[length]
		for polarity := 0; polarity < 2; polarity++ {
			var count = runLenCounts[length][polarity]
			if count <= interval.min || count >= interval.max {
				return Fail
			}
		}
	}

	return Pass
}

// storageOrderBytes returns the window's bytes in the order they were
// written: oldest first, i.e. starting at cursor when the window is full,
// or from index 0 when it never wrapped.
func (m *Monitor) storageOrderBytes() []byte {
	if m.fillBits < windowBits {
		return m.window[:m.fillBits/8]
	}
	var out = make([]byte, 0, windowBytes)
	out = append(out, m.window[m.cursor:]...)
	out = append(out, m.window[:m.cursor]...)
	return out
}

/*-------------------------------------------------------------------
 *
 * Name:	Tick
 *
 * Purpose:	Invoked once per emitted byte by the control loop. Runs
 *		long_test when at least 19,960 new bits have accrued since
 *		the last one (new_bits >= 2495 bytes worth), else short_test.
 *		Mirrors RNGTEST().
 *
 *--------------------------------------------------------------*/

func (m *Monitor) Tick() Result {
	if m.newBits >= longTestTriggerBytes*8 {
		return m.LongTest()
	}
	return m.ShortTest()
}
