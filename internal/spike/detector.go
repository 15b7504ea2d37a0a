// Package spike implements the spike-interval extractor and whitener from
// spec.md §4.5/§4.6, ported from seed_continually_with_random_spike_data()
// in audio-entropyd.c. In spike mode, inter-pulse intervals (e.g. from a
// Geiger counter wired into the sound input) drive variable-width bit
// fields derived from second-order interval deltas and sub-sample phase,
// which are whitened through block-cipher CBC feedback before being
// credited to the kernel.
package spike

import (
	"math"
	"math/bits"
)

const onsetDiscardMSBs = 11 // SPIKE_ONSET_SAMPLE_DISCARD_MSBS in the source

// ChannelState is the per-channel detector state from spec.md §3
// "SpikeChannelState".
type ChannelState struct {
	lastSpikeSampleIndex uint64
	lastInterval         uint64
	prevSample           int32
	prevSpikePrevSample  int32
	haveLastSpike        bool
}

// Event is a bit field produced by one qualifying spike onset, forwarded
// to the Whitener's Accept. Value's meaningful bits are the low NBits
// bits (two's complement); NBits is clamped to 64 to match the source's
// use of a 64-bit ssize_t to hold the packed field.
type Event struct {
	Value uint64
	NBits int
	// FirstOrderDelta is the inter-spike interval, in samples, that
	// produced this event. Exposed for health-log rate statistics
	// (spec.md §4.9); it plays no role in whitening.
	FirstOrderDelta uint64
}

// Detector implements spec.md §4.5: threshold-crossing onset detection
// with hysteresis, across up to two channels.
type Detector struct {
	thresholdInt        int32
	edgeMinDeltaInt      int32
	invertSign           bool
	channelMask          int
	minIntervalSamples   uint64
	retainedOnsetBits    int

	channels [2]ChannelState
	sample   uint64
}

// Config carries the spike-detector tunables from spec.md §3
// "Configuration" (the spike-specific subset).
type Config struct {
	ThresholdPercent     float64 // signed, [-100, 100]
	EdgeMinDeltaPercent  float64 // [0, 100]
	ChannelMask          int     // {1, 2, 3}
	MinIntervalSamples   uint64
}

// NewDetector converts Config's percentages to integer sample thresholds
// and precomputes the onset-sample retained-bit count, per spec.md §4.5:
// "threshold_int = round((|threshold_pct|/100) * 32767), with the sample
// inverted when threshold_pct < 0."
func NewDetector(cfg Config) *Detector {
	var magnitude = cfg.ThresholdPercent
	if magnitude < 0 {
		magnitude = -magnitude
	}
	var thresholdInt = int32(math.Round(magnitude / 100.0 * 32767.0))
	var edgeMinDeltaInt = int32(cfg.EdgeMinDeltaPercent / 100.0 * 32767.0)

	// retained_bits_in_onset_sample = (bit-width(threshold_int) -
	// clz(threshold_int) + 1) - 11, discarding the leading bits of the
	// threshold's magnitude domain to keep only low-order phase bits.
	var retained = (32 - bits.LeadingZeros32(uint32(thresholdInt)) + 1) - onsetDiscardMSBs
	if retained < 0 {
		retained = 0
	}

	return &Detector{
		thresholdInt:       thresholdInt,
		edgeMinDeltaInt:    edgeMinDeltaInt,
		invertSign:         cfg.ThresholdPercent < 0,
		channelMask:        cfg.ChannelMask,
		minIntervalSamples: cfg.MinIntervalSamples,
		retainedOnsetBits:  retained,
	}
}

// ChannelEnabled reports whether the given channel index (0=left, 1=right)
// participates in detection, per the configured channel mask.
func (d *Detector) ChannelEnabled(channel int) bool {
	return d.channelMask&(1<<uint(channel)) != 0
}

/*-------------------------------------------------------------------
 *
 * Name:	Process
 *
 * Purpose:	Evaluate one decoded sample on one channel for a qualifying
 *		spike onset, per spec.md §4.5 steps 1-4.
 *
 * Inputs:	channel - 0 or 1.
 *		rawSample - the channel's signed 16-bit sample, not yet
 *		sign-inverted.
 *
 * Returns:	(Event, true) if this sample qualifies as an onset;
 *		(Event{}, false) otherwise. Advances the absolute sample
 *		index and prevSample unconditionally, matching the source's
 *		"Update prev_sample unconditionally" step.
 *
 *--------------------------------------------------------------*/

func (d *Detector) Process(channel int, rawSample int16) (Event, bool) {
	var word = int32(rawSample)
	if d.invertSign {
		word = -word
	}

	var state = &d.channels[channel]
	var qualifies = word > d.thresholdInt &&
		state.prevSample < d.thresholdInt &&
		word-state.prevSample > d.edgeMinDeltaInt &&
		(!state.haveLastSpike || d.sample-state.lastSpikeSampleIndex >= d.minIntervalSamples)

	var event Event
	var ok bool

	if qualifies {
		var firstOrderDelta uint64
		if state.haveLastSpike {
			firstOrderDelta = d.sample - state.lastSpikeSampleIndex
		} else {
			firstOrderDelta = d.sample
		}

		var secondOrderDelta = int64(firstOrderDelta) - int64(state.lastInterval)

		// n_interval_bits: bit width to hold the second-order delta is
		// chosen from the FIRST-order delta, to avoid biasing against
		// runs of leading zeros that naturally occur in the second-order
		// delta itself (spec.md §4.5 rationale).
		var clzFirst = bits.LeadingZeros64(firstOrderDelta)
		var clz int
		if state.lastInterval == 0 {
			clz = clzFirst
		} else {
			var clzLast = bits.LeadingZeros64(state.lastInterval)
			clz = min(clzFirst, clzLast)
		}
		var nIntervalBits = 64 - clz - 4
		if nIntervalBits < 1 {
			nIntervalBits = 1
		}
		if nIntervalBits > 64-d.retainedOnsetBits {
			// Clamp the combined field to 64 bits, matching the source's
			// use of a 64-bit ssize_t to hold the packed value.
			nIntervalBits = 64 - d.retainedOnsetBits
		}

		var phaseDelta = state.prevSample - state.prevSpikePrevSample
		var retainMask = uint64(1)<<uint(d.retainedOnsetBits) - 1

		var bitsValue = (uint64(secondOrderDelta) << uint(d.retainedOnsetBits)) | (uint64(phaseDelta) & retainMask)
		var nBitsTotal = nIntervalBits + d.retainedOnsetBits

		state.lastInterval = firstOrderDelta
		state.prevSpikePrevSample = state.prevSample
		state.lastSpikeSampleIndex = d.sample
		state.haveLastSpike = true

		event = Event{Value: bitsValue, NBits: nBitsTotal, FirstOrderDelta: firstOrderDelta}
		ok = true
	}

	state.prevSample = word
	d.sample++

	return event, ok
}
