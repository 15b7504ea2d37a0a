// Package healthlog implements the spike-mode statistical health logging
// described in spec.md §4.9, ported from post_to_spike_log_file() and the
// running-statistics block in seed_continually_with_random_spike_data()
// (audio-entropyd.c): per-channel spike counts, a Poisson rate z-score, a
// binomial popcount z-score, an Irwin-Hall byte-sum z-score, a chi-square
// byte-distribution score, all-zero/all-ff byte counts, average spike
// frequency, and a burstiness metric, posted on an interval and reopening
// the log file automatically on truncation or rotation.
package healthlog

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"
)

const (
	idleWarningSeconds = 60
	chiSquareBins      = 256
)

// SpikeEvent records one qualifying spike onset for the running counters,
// keyed by channel index (0 or 1).
type SpikeEvent struct {
	Channel      int
	SampleIndex  uint64
	FirstOrderHz float64 // 1 / (first_order_delta / sample_rate), i.e. the instantaneous inverse-ISI
}

// Logger accumulates the running statistics from spec.md §4.9 and posts a
// summary line every IntervalSeconds, reopening File on rotation.
type Logger struct {
	path           string
	file           *os.File
	intervalFrames uint64
	sampleRate     int
	channelMask    int

	nextLogAtSample uint64
	lastIdleAt      uint64
	curSample       uint64

	totalPopcount       uint64
	lastTotalPopcount   uint64
	totalRetainedBits   uint64
	lastTotalRetained   uint64

	totalByteSum      uint64
	lastTotalByteSum  uint64
	totalByteDenom    uint64
	lastTotalByteDenom uint64

	nAllZeros, nAllOnes uint64

	totalEvents     uint64
	lastTotalEvents uint64
	lastCurSample   uint64

	chiBins [chiSquareBins]uint64

	channelCounts    [2]uint64
	channelCumISIHz  [2]float64

	lastSpikeAt [2]uint64
	haveSpike   [2]bool
}

var bitCountTable = buildBitCountTable()

func buildBitCountTable() [256]uint8 {
	var t [256]uint8
	for i := range t {
		var n uint8
		for b := 0; b < 8; b++ {
			if i&(1<<uint(b)) != 0 {
				n++
			}
		}
		t[i] = n
	}
	return t
}

// New opens (or creates) path in append mode and returns a Logger.
// intervalSeconds <= 0 disables periodic posting; ObserveSpike,
// ObserveSpikeBits and ObserveBlockBytes are still tracked for accounting
// but AdvanceSample never posts a summary line.
func New(path string, intervalSeconds float64, sampleRate int, channelMask int) (*Logger, error) {
	var l = &Logger{
		path:           path,
		sampleRate:     sampleRate,
		channelMask:    channelMask,
		intervalFrames: uint64(intervalSeconds * float64(sampleRate)),
	}
	if path == "" {
		return l, nil
	}
	if err := l.reopen(); err != nil {
		return nil, err
	}
	l.post("STARTUP")
	return l, nil
}

func (l *Logger) reopen() error {
	if l.path == "" {
		return nil
	}
	if l.file != nil {
		if st, err := os.Stat(l.path); err == nil {
			if pos, err := l.file.Seek(0, os.SEEK_CUR); err == nil && pos <= st.Size() {
				return nil
			}
		}
		l.file.Close()
		l.file = nil
	}
	var fh, err = os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("healthlog: open %s: %w", l.path, err)
	}
	l.file = fh
	return nil
}

func (l *Logger) post(format string, args ...any) {
	if l.path == "" {
		return
	}
	if err := l.reopen(); err != nil || l.file == nil {
		return
	}
	var ts, _ = strftime.Format("%Y-%m-%dT%H:%M:%S", time.Now().UTC())
	fmt.Fprintf(l.file, "%s.%06dZ %s\n", ts, time.Now().Nanosecond()/1000, fmt.Sprintf(format, args...))
}

// AdvanceSample moves the logger's absolute sample clock forward by n
// frames, checking the idle-outage condition and the logging interval.
func (l *Logger) AdvanceSample(n uint64) {
	l.curSample += n

	var idleFrames = uint64(idleWarningSeconds * l.sampleRate)
	var bothIdle = true
	for ch := 0; ch < 2; ch++ {
		if l.channelMask&(1<<uint(ch)) == 0 {
			continue
		}
		if l.curSample-l.lastSpikeAt[ch] <= idleFrames {
			bothIdle = false
		}
	}

	if bothIdle {
		if l.lastIdleAt == 0 {
			l.lastIdleAt = l.curSample
			l.post("OUTAGE -- no spikes for %d s.", idleWarningSeconds)
		}
	} else if l.lastIdleAt != 0 {
		var outage = float64(l.curSample-l.lastIdleAt)/float64(l.sampleRate) + idleWarningSeconds
		l.post("RESUMED -- spike(s) detected after %.1f s outage.", outage)
		l.lastIdleAt = 0
	}

	if l.intervalFrames > 0 && l.curSample >= l.nextLogAtSample {
		l.nextLogAtSample += l.intervalFrames
		l.logSummary()
	}
}

// ObserveSpike records one qualifying spike onset on the given channel, for
// the per-channel count and rate statistics.
func (l *Logger) ObserveSpike(channel int, isiHz float64) {
	l.channelCounts[channel]++
	l.channelCumISIHz[channel] += isiHz
	l.totalEvents++
	l.lastSpikeAt[channel] = l.curSample
	l.haveSpike[channel] = true
}

// ObserveSpikeBits records one qualifying spike event's packed bit field,
// for the popcount-vs-50% binomial statistic. Mirrors the source's
// `total_popcount += popcount(bits & mask); total_retained_bits += n_bits`
// at every qualifying onset, independent of whitener bootstrap state.
func (l *Logger) ObserveSpikeBits(value uint64, nBits int) {
	if nBits <= 0 {
		return
	}
	var mask uint64 = ^uint64(0)
	if nBits < 64 {
		mask = uint64(1)<<uint(nBits) - 1
	}
	l.totalPopcount += uint64(popcountU64(value & mask))
	l.totalRetainedBits += uint64(nBits)
}

func popcountU64(v uint64) int {
	var n int
	for v != 0 {
		v &= v - 1
		n++
	}
	return n
}

// ObserveBlockBytes records the byte-sum/chi-square/all-zero/all-ff
// counters for one completed 128-bit accumulator, whether or not it was
// whitened and submitted — the source's byte-sum accounting runs on the
// raw pre-encryption accumulator even during the two bootstrap rounds.
func (l *Logger) ObserveBlockBytes(block []byte) {
	for _, b := range block {
		l.totalByteSum += uint64(b)
		l.totalByteDenom++
		l.chiBins[b]++
		if b == 0x00 {
			l.nAllZeros++
		}
		if b == 0xff {
			l.nAllOnes++
		}
	}
}

func (l *Logger) logSummary() {
	var deltaSamples = l.curSample - l.lastCurSample
	var deltaEvents = l.totalEvents - l.lastTotalEvents
	var elapsedSec = float64(deltaSamples) / float64(l.sampleRate)

	var rateZ float64
	if deltaEvents > 0 && l.curSample > 0 {
		var windowRate = float64(deltaEvents) / elapsedSec
		var overallRate = float64(l.totalEvents) / (float64(l.curSample) / float64(l.sampleRate))
		rateZ = (elapsedSec * (windowRate - overallRate)) / math.Sqrt(elapsedSec*overallRate)
	}

	var deltaRetained = l.totalRetainedBits - l.lastTotalRetained
	var deltaPopcount = l.totalPopcount - l.lastTotalPopcount
	var windowPopPct = -1.0
	if deltaRetained > 0 {
		windowPopPct = 100.0 * float64(deltaPopcount) / float64(deltaRetained)
	}
	var cumPopPct = 100.0 * float64(l.totalPopcount) / float64(maxu64(1, l.totalRetainedBits))
	var popZ = (float64(l.totalPopcount) - 0.5*float64(l.totalRetainedBits)) / math.Sqrt(0.25*float64(l.totalRetainedBits))

	var deltaByteSum = l.totalByteSum - l.lastTotalByteSum
	var deltaByteDenom = l.totalByteDenom - l.lastTotalByteDenom
	var windowByteMean = -1.0
	if deltaByteDenom > 0 {
		windowByteMean = float64(deltaByteSum) / float64(deltaByteDenom)
	}
	var cumByteMean = float64(l.totalByteSum) / float64(maxu64(1, l.totalByteDenom))
	var byteZ = (float64(l.totalByteSum)/255.0 - float64(l.totalByteDenom)*0.5) / math.Sqrt(float64(l.totalByteDenom)/12.0)

	var chiScore float64
	for _, c := range l.chiBins {
		chiScore += float64(c) * float64(c)
	}
	var m = float64(l.totalByteDenom) / float64(chiSquareBins)
	if m > 0 {
		chiScore /= m
	}
	chiScore -= float64(l.totalByteDenom)
	var chiMedianBase = 1.0 - (2.0 / (9.0 * float64(chiSquareBins)))
	var chiMedian = float64(chiSquareBins) * chiMedianBase * chiMedianBase * chiMedianBase
	var chiSD = math.Sqrt(2.0 * float64(chiSquareBins))
	var chiZ = (chiScore - chiMedian) / chiSD

	var sumISIHz = l.channelCumISIHz[0] + l.channelCumISIHz[1]
	var avgHz, burst float64
	if deltaEvents > 0 {
		avgHz = sumISIHz / float64(deltaEvents)
		var meanISI = elapsedSec / float64(deltaEvents)
		burst = avgHz/(1.0/meanISI) - 1.0
	}

	l.post("N C0=%d C1=%d C/sd=%+.1f E=%d B=%.3f%% Bcum=%.6f%% Bcum/sd=%+.1f A=%.1f Acum=%.3f Acum/sd=%+.1f ChiSq=%.2f ChiSq/sd=%+.1f n=%d z=%d o=%d m_hz=%.2f brst=%.2f",
		l.channelCounts[0], l.channelCounts[1], rateZ, deltaRetained,
		windowPopPct, cumPopPct, popZ,
		windowByteMean, cumByteMean, byteZ,
		chiScore, chiZ,
		l.totalByteDenom, l.nAllZeros, l.nAllOnes,
		avgHz, burst)

	l.channelCounts[0], l.channelCounts[1] = 0, 0
	l.channelCumISIHz[0], l.channelCumISIHz[1] = 0, 0
	l.lastTotalEvents = l.totalEvents
	l.lastCurSample = l.curSample
	l.lastTotalPopcount = l.totalPopcount
	l.lastTotalRetained = l.totalRetainedBits
	l.lastTotalByteSum = l.totalByteSum
	l.lastTotalByteDenom = l.totalByteDenom
}

func maxu64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// Close releases the underlying file handle, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
