// Package harvester implements the entropy-credit control loop from
// spec.md §4.8: mode arbitration between broadband (§4.2-§4.4) and spike
// (§4.5-§4.6) harvesting, blocking on kernel-pool low-water notifications,
// and crediting bits via the kernel entropy sink. Ported from main_loop(),
// get_random_data(), and seed_continually_with_random_spike_data() in
// audio-entropyd.c.
//
// Per spec.md DESIGN NOTES "Module-level state", the FIPS window, the
// extractor alternator, and the error counter are centralized here as a
// single Harvester value passed by mutable reference, rather than kept as
// process-wide globals the way the C source does.
package harvester

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"

	"github.com/wrenfeld/aentropyd/internal/audiosource"
	"github.com/wrenfeld/aentropyd/internal/bitstat"
	"github.com/wrenfeld/aentropyd/internal/config"
	"github.com/wrenfeld/aentropyd/internal/fips"
	"github.com/wrenfeld/aentropyd/internal/flush"
	"github.com/wrenfeld/aentropyd/internal/healthlog"
	"github.com/wrenfeld/aentropyd/internal/kernelpool"
	"github.com/wrenfeld/aentropyd/internal/spike"
	"github.com/wrenfeld/aentropyd/internal/vonneumann"
)

// ErrorKind classifies a fatal condition per spec.md §7, so main.go can
// choose an appropriate process exit code.
type ErrorKind int

const (
	CaptureReadError ErrorKind = iota
	CaptureConfigError
	SinkIOError
	ConfigInvalid
	HealthFail
	ResourceExhausted
)

// FatalError wraps the underlying cause with the ErrorKind the control
// loop decided terminates the process, per spec.md DESIGN NOTES
// "Exception-for-error-exit": fatal conditions propagate up to here, the
// single place allowed to decide the process exits, instead of calling
// exit() from deep call sites the way the C source does.
type FatalError struct {
	Kind ErrorKind
	Err  error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

func fatal(kind ErrorKind, format string, args ...any) *FatalError {
	return &FatalError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// broadbandBatchFrames is the number of stereo frames read per
// get_random_data()-equivalent batch; the source hard-codes
// DEFAULT_SAMPLE_RATE regardless of the configured rate, which this
// implementation treats as a fixed internal batch size rather than
// carrying the original's accidental coupling to a rate constant.
const broadbandBatchFrames = 8000

// broadbandSkipFrames discards the first read's worth of frames, which
// often contains a click from driver loading / card initialization,
// mirroring DEFAULT_CLICK_READ.
const broadbandSkipFrames = 2000

// Harvester owns every piece of mutable state the control loop touches:
// the FIPS monitor, the Von-Neumann extractor, the flush machine, the
// spike detector and whitener, the audio source, and the kernel sink.
type Harvester struct {
	cfg    config.Configuration
	log    *charmlog.Logger
	source audiosource.Source
	sink   kernelpool.Sink

	monitor   *fips.Monitor
	extractor *vonneumann.Extractor
	flushM    *flush.Machine

	detector *spike.Detector
	whitener *spike.Whitener
	health   *healthlog.Logger

	shutdown func() bool
}

// New constructs a Harvester ready to run either RunBroadband or RunSpike,
// depending on cfg.SpikeMode. shutdown is polled at the control loop's
// natural suspension points (DESIGN NOTES "Signal handling"); pass a
// context.Context-backed closure, e.g. func() bool { return ctx.Err() != nil }.
func New(cfg config.Configuration, logger *charmlog.Logger, source audiosource.Source, sink kernelpool.Sink, shutdown func() bool) (*Harvester, error) {
	var h = &Harvester{
		cfg:      cfg,
		log:      logger,
		source:   source,
		sink:     sink,
		monitor:  fips.New(),
		flushM:   flush.New(cfg.SkipHealthCheck),
		shutdown: shutdown,
	}

	if cfg.SpikeMode {
		h.detector = spike.NewDetector(spike.Config{
			ThresholdPercent:    cfg.SpikeThresholdPercent,
			EdgeMinDeltaPercent: cfg.SpikeEdgeMinDeltaPercent,
			ChannelMask:         cfg.SpikeChannelMask,
			MinIntervalSamples:  uint64(cfg.SpikeMinimumIntervalFrames),
		})

		var raw spike.RawSink
		if cfg.OutputFile != "" {
			var w, err = newRawFileSink(cfg.OutputFile)
			if err != nil {
				return nil, fatal(SinkIOError, "harvester: open raw output file: %w", err)
			}
			raw = w
		}
		h.whitener = spike.NewWhitener(raw)

		if cfg.SpikeLogPath != "" || cfg.SpikeLogIntervalSeconds > 0 {
			var hl, err = healthlog.New(cfg.SpikeLogPath, cfg.SpikeLogIntervalSeconds, cfg.SampleRate, cfg.SpikeChannelMask)
			if err != nil {
				return nil, fatal(SinkIOError, "harvester: open spike log: %w", err)
			}
			h.health = hl
		}
	} else {
		h.extractor = vonneumann.New()
	}

	return h, nil
}

func (h *Harvester) checkShutdown() bool {
	return h.shutdown != nil && h.shutdown()
}

// readStereoSamples blocks for nFrames stereo frames and returns them as
// flattened left/right/left/right ints for vonneumann.Extractor.
func (h *Harvester) readStereoSamples(nFrames int) ([]int, error) {
	var buf = make([]int16, nFrames*2)
	if err := h.source.ReadInterleaved(buf); err != nil {
		return nil, fatal(CaptureReadError, "harvester: read capture frames: %w", err)
	}
	var out = make([]int, len(buf))
	for i, v := range buf {
		out[i] = int(v)
	}
	return out, nil
}

/*-------------------------------------------------------------------
 *
 * Name:	nextBroadbandBatch
 *
 * Purpose:	Ported from get_random_data(): read one batch of stereo
 *		frames, debias them through the Von-Neumann extractor, and
 *		run each emitted byte through the flush state machine and
 *		the FIPS monitor, per spec.md §4.2-§4.4.
 *
 *--------------------------------------------------------------*/

func (h *Harvester) nextBroadbandBatch() ([]byte, error) {
	var samples, err = h.readStereoSamples(broadbandBatchFrames)
	if err != nil {
		return nil, err
	}

	var out []byte
	h.extractor.ProcessFrames(samples, func(b byte) {
		switch h.flushM.Offer(b, h.monitor) {
		case flush.EnteredFlush:
			h.log.Error("FIPS health test failed; flushing tainted data", "penalty_bytes", flush.PenaltyBytes)
			out = out[:0]
		case flush.Recovered:
			h.log.Info("FIPS health test recovered; resuming normal emission")
		case flush.Withheld:
			// fed to the monitor, not appended, per spec.md §4.4.
		case flush.Appended:
			out = append(out, b)
		}
	})
	return out, nil
}

// RunBroadband implements the broadband control loop of spec.md §4.8.
func (h *Harvester) RunBroadband(ctx context.Context) error {
	var maxBits, err = h.sink.PoolMaxBits()
	if err != nil {
		return fatal(SinkIOError, "harvester: query pool max: %w", err)
	}

	if _, err := h.readStereoSamples(broadbandSkipFrames); err != nil {
		return err
	}

	// Pre-fetch one batch before entering the loop, to minimize latency on
	// the first low-water signal, per spec.md §4.8.
	var buffered, ferr = h.nextBroadbandBatch()
	if ferr != nil {
		return ferr
	}

	for {
		if h.checkShutdown() {
			return nil
		}

		if err := h.sink.WaitUntilLow(); err != nil {
			return fatal(SinkIOError, "harvester: wait until low: %w", err)
		}

		var before, _ = h.sink.EntropyCount()
		var added, after int

		for added < maxBits {
			if h.checkShutdown() {
				return nil
			}

			if len(buffered) > 0 {
				var declared = int(bitstat.EntropyBits(buffered))
				if declared >= 1 {
					var credited, err = h.sink.Submit(buffered, declared)
					if err != nil {
						return fatal(SinkIOError, "harvester: submit: %w", err)
					}
					added += credited
				}
				buffered = nil
			} else {
				buffered, ferr = h.nextBroadbandBatch()
				if ferr != nil {
					return ferr
				}
			}
		}

		after, _ = h.sink.EntropyCount()
		h.log.Info("entropy credit made", "bits", added, "before", before, "after", after)
	}
}

/*-------------------------------------------------------------------
 *
 * Name:	RunSpike
 *
 * Purpose:	Implements the spike-mode control loop of spec.md §4.8: a
 *		single non-terminating loop driven by audio-frame reads,
 *		feeding qualifying threshold crossings through the spike
 *		whitener and crediting completed 128-bit blocks to the
 *		kernel, per spec.md §4.5-§4.6.
 *
 *--------------------------------------------------------------*/

const spikeReadFrames = 2000

func (h *Harvester) RunSpike(ctx context.Context, eventSink func(channel int, value uint64, nBits int)) error {
	for {
		if h.checkShutdown() {
			return nil
		}

		var samples, err = h.readStereoSamples(spikeReadFrames)
		if err != nil {
			return err
		}

		for i := 0; i+2 <= len(samples); i += 2 {
			for channel := 0; channel < 2; channel++ {
				if !h.detector.ChannelEnabled(channel) {
					continue
				}

				var event, ok = h.detector.Process(channel, int16(samples[i+channel]))
				if !ok {
					continue
				}

				if eventSink != nil {
					eventSink(channel, event.Value, event.NBits)
				}
				if h.health != nil {
					h.health.ObserveSpikeBits(event.Value, event.NBits)
					var isiHz float64
					if event.FirstOrderDelta > 0 {
						isiHz = float64(h.cfg.SampleRate) / float64(event.FirstOrderDelta)
					}
					h.health.ObserveSpike(channel, isiHz)
				}

				var result, werr = h.whitener.Accept(event.Value, event.NBits)
				if werr != nil {
					h.log.Error("raw output write failed", "err", werr)
				}
				if !result.Filled {
					continue
				}
				if h.health != nil {
					h.health.ObserveBlockBytes(result.RawBlock[:])
				}
				if !result.Submitted || h.cfg.SpikeTestMode {
					continue
				}

				var bits = make([]byte, len(result.Ciphertext))
				copy(bits, result.Ciphertext[:])
				if _, err := h.sink.Submit(bits, 128); err != nil {
					return fatal(SinkIOError, "harvester: submit whitened block: %w", err)
				}
				if err := h.sink.AddToEntropyCount(128); err != nil {
					return fatal(SinkIOError, "harvester: add to entropy count: %w", err)
				}
			}
		}

		if h.health != nil {
			h.health.AdvanceSample(uint64(len(samples) / 2))
		}
	}
}

// Run dispatches to RunBroadband or RunSpike per cfg.SpikeMode.
func (h *Harvester) Run(ctx context.Context, spikeEventSink func(channel int, value uint64, nBits int)) error {
	if h.cfg.SpikeMode {
		return h.RunSpike(ctx, spikeEventSink)
	}
	return h.RunBroadband(ctx)
}

// Close releases the audio source, kernel sink, and spike health log.
func (h *Harvester) Close() error {
	var errs []error
	if h.source != nil {
		if err := h.source.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.sink != nil {
		if err := h.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if h.health != nil {
		if err := h.health.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
