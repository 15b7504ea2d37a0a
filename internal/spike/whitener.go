package spike

import (
	"encoding/binary"

	"github.com/wrenfeld/aentropyd/internal/cipher128"
)

// acc128 is a 128-bit shift register split across two uint64 halves, used
// to pack variable-width bit fields into 128-bit blocks for the cipher.
type acc128 struct {
	hi, lo uint64
}

// shiftLeftOR shifts the register left by n bits (0 <= n <= 128) and ORs
// value's low n bits into the vacated low bits.
func (a *acc128) shiftLeftOR(n int, value uint64) {
	if n <= 0 {
		return
	}
	switch {
	case n >= 128:
		a.hi, a.lo = 0, 0
	case n >= 64:
		a.hi = a.lo << uint(n-64)
		a.lo = 0
	default:
		a.hi = (a.hi << uint(n)) | (a.lo >> uint(64-n))
		a.lo = a.lo << uint(n)
	}

	var mask uint64 = ^uint64(0)
	if n < 64 {
		mask = uint64(1)<<uint(n) - 1
	}
	a.lo |= value & mask
}

func (a acc128) bytes() [cipher128.BlockSize]byte {
	var out [cipher128.BlockSize]byte
	binary.BigEndian.PutUint64(out[0:8], a.hi)
	binary.BigEndian.PutUint64(out[8:16], a.lo)
	return out
}

func (a acc128) xor(b acc128) acc128 {
	return acc128{hi: a.hi ^ b.hi, lo: a.lo ^ b.lo}
}

// RawSink receives the pre-encryption 128-bit accumulator for every block
// that reaches the normal (post-bootstrap) whitening stage, per spec.md
// §4.6's optional raw-output tap. Implementations handle file reopen on
// rotation themselves (see internal/healthlog for the pattern this
// mirrors).
type RawSink interface {
	WriteBlock(block [cipher128.BlockSize]byte) error
}

// Whitener implements spec.md §3 "SpikeAccumulator" and §4.6: it packs
// Detector events into 128-bit blocks and whitens them through AES-CBC-
// style feedback, after a two-block bootstrap that seeds the cipher key
// and the initial feedback value from the entropy stream itself.
//
// Ported from the collected_entropy / aes_ctx bookkeeping in
// seed_continually_with_random_spike_data() (audio-entropyd.c).
type Whitener struct {
	acc    acc128
	filled int

	cipher      cipher128.Cipher
	stage       int // 0 = need key, 1 = need feedback seed, 2 = normal
	lastEmitted acc128

	raw RawSink
}

// NewWhitener returns a Whitener with no key installed yet. raw may be nil.
func NewWhitener(raw RawSink) *Whitener {
	return &Whitener{raw: raw}
}

/*-------------------------------------------------------------------
 *
 * Name:	Accept
 *
 * Purpose:	Pack one Detector event into the 128-bit accumulator, per
 *		spec.md §4.6 steps 1-4. Handles the overflow split when an
 *		event's bits would cross the 128-bit boundary.
 *
 * Inputs:	value - the event's bit field; only the low nBits bits
 *		matter.
 *		nBits - field width, 1..64.
 *
 * Returns:	An AcceptResult. Filled is true exactly when this call
 *		completed a 128-bit block (bootstrap or normal); Submitted
 *		is true only for blocks past the two-block bootstrap, which
 *		is when Ciphertext holds real whitened output to credit.
 *		RawBlock holds the pre-encryption accumulator bytes whenever
 *		Filled is true, for health-log accounting that mirrors the
 *		source's byte-sum/chi-square bookkeeping (which runs on the
 *		raw accumulator bytes even during bootstrap).
 *
 *--------------------------------------------------------------*/

// AcceptResult reports what Accept did with one packed Detector event.
type AcceptResult struct {
	Ciphertext [cipher128.BlockSize]byte
	RawBlock   [cipher128.BlockSize]byte
	Filled     bool
	Submitted  bool
}

func (w *Whitener) Accept(value uint64, nBits int) (AcceptResult, error) {
	if nBits <= 0 {
		return AcceptResult{}, nil
	}

	var overflow int
	var carry uint64
	var effective = nBits

	if w.filled+nBits > 128 {
		overflow = w.filled + nBits - 128
		carry = value & (uint64(1)<<uint(overflow) - 1)
		value >>= uint(overflow)
		effective = nBits - overflow
	}

	w.acc.shiftLeftOR(effective, value)
	w.filled += effective

	if w.filled != 128 {
		return AcceptResult{}, nil
	}

	var completed = w.acc
	var preEncryption = completed.bytes()
	var result = AcceptResult{RawBlock: preEncryption, Filled: true}
	var err error

	switch w.stage {
	case 0:
		err = w.cipher.SetKey(preEncryption)
		w.stage = 1
	case 1:
		w.lastEmitted = completed
		w.stage = 2
	default:
		var feedback = completed.xor(w.lastEmitted)
		result.Ciphertext = w.cipher.Encrypt(feedback.bytes())
		w.lastEmitted = completed
		result.Submitted = true

		if w.raw != nil {
			err = w.raw.WriteBlock(preEncryption)
		}
	}

	if overflow > 0 {
		w.acc = acc128{lo: carry}
	} else {
		w.acc = acc128{}
	}
	w.filled = overflow

	return result, err
}
