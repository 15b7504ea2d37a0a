// Package vonneumann implements the stereo Von-Neumann bit extractor
// described in spec.md §4.2, ported from the debiasing loop in
// get_random_data() (audio-entropyd.c). It converts pairs of stereo 16-bit
// PCM sample pairs into a debiased byte stream, alternating which channel
// pair supplies the emitted bit to defeat biases that would otherwise
// arise from coupled channels.
package vonneumann

// order implements the three-valued comparison from spec §4.2 step 2:
// equality maps to the sentinel -1, a > b maps to 1, a < b maps to 0.
func order(a, b int) int {
	switch {
	case a == b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

const equalitySentinel = -1

// Extractor holds the Von-Neumann debiaser's running state: the previous
// left/right samples and the pair-ordering alternator, per spec.md §3
// "ExtractorState (Von-Neumann)".
type Extractor struct {
	psl, psr int
	a        int // +1 or -1

	byteOut    byte
	bitCounter int
}

// New returns a freshly initialized Extractor with the alternator set to
// its initial +1, matching the source's `static char a=1`.
func New() *Extractor {
	return &Extractor{a: 1}
}

// ByteSink receives completed, debiased bytes as the extractor accumulates
// eight bits. It also drives the FIPS monitor tap described in spec §4.2
// step 5 ("the completed byte is offered to the FIPS monitor").
type ByteSink func(b byte)

/*-------------------------------------------------------------------
 *
 * Name:	ProcessFrames
 *
 * Purpose:	Debias a contiguous block of stereo 16-bit samples. Every
 *		four consecutive stereo samples (w1..w4, pair A = w1/w2,
 *		pair B = w3/w4) are reduced to zero or one output bit per
 *		spec.md §4.2.
 *
 * Inputs:	samples - interleaved stereo samples, left/right/left/right,
 *		already decoded to signed 16-bit values by the audio-source
 *		adapter. Its length must be a multiple of 4 (i.e. a whole
 *		number of sample-pair groups); any remainder is ignored,
 *		matching the original's fixed per-call sample count.
 *		emit - called once for every completed output byte.
 *
 *--------------------------------------------------------------*/

func (e *Extractor) ProcessFrames(samples []int, emit ByteSink) {
	for i := 0; i+4 <= len(samples); i += 4 {
		var w1, w2, w3, w4 = samples[i], samples[i+1], samples[i+2], samples[i+3]

		var o1 = order(w1-e.psl, w2-e.psr)
		var o2 = order(w3-e.psl, w4-e.psr)

		if e.a > 0 {
			e.psl, e.psr = w3, w4
		} else {
			e.psl, e.psr = w1, w2
		}

		if o1 == o2 || o1 == equalitySentinel || o2 == equalitySentinel {
			e.a = -e.a
			continue
		}

		var bit byte
		if e.a > 0 {
			bit = byte(o1)
		} else {
			bit = byte(o2)
		}

		e.byteOut = (e.byteOut << 1) | bit
		e.bitCounter++

		if e.bitCounter >= 8 {
			emit(e.byteOut)
			e.byteOut = 0
			e.bitCounter = 0
		}
	}
}
