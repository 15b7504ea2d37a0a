// Package flush implements the broadband error-state (flush) machine from
// spec.md §3 "ErrorState" and §4.4, ported from the error_state counter and
// RNGTEST_PENALTY logic in get_random_data() (audio-entropyd.c).
package flush

import "github.com/wrenfeld/aentropyd/internal/fips"

// PenaltyBytes is the number of bytes to withhold from the kernel sink
// after a FIPS health-test failure, before resuming normal emission.
// Mirrors RNGTEST_PENALTY = 20000/8 in audio-entropyd.c.
const PenaltyBytes = 20000 / 8

// Outcome reports what happened to a byte offered to the Machine.
type Outcome int

const (
	// Appended means the byte should be appended to the output buffer.
	Appended Outcome = iota
	// Withheld means the byte was fed to the FIPS monitor but must not be
	// appended to the output buffer (the machine is in FLUSH).
	Withheld
	// EnteredFlush means this byte triggered a health-test failure; the
	// caller must discard (zero the length of) its current output buffer.
	EnteredFlush
	// Recovered means this byte was the last one withheld before
	// returning to OK.
	Recovered
)

// Machine is the ErrorState state machine: OK, or FLUSH(n) for n in
// (0, PenaltyBytes].
type Machine struct {
	remaining int // 0 means OK; >0 means FLUSH(remaining)
	disabled  bool
}

// New returns a Machine starting in OK. If healthCheckDisabled, the
// machine is bypassed entirely per spec §4.4 and every byte is Appended.
func New(healthCheckDisabled bool) *Machine {
	return &Machine{disabled: healthCheckDisabled}
}

// InFlush reports whether the machine is currently withholding output.
func (m *Machine) InFlush() bool {
	return m.remaining > 0
}

/*-------------------------------------------------------------------
 *
 * Name:	Offer
 *
 * Purpose:	Feed one emitted byte through the error-state machine and
 *		the FIPS monitor tick, per spec.md §4.4.
 *
 * Inputs:	b - the byte the extractor just produced.
 *		monitor - the FIPS monitor to tap and tick.
 *
 * Returns:	The Outcome the control loop must act on.
 *
 *--------------------------------------------------------------*/

func (m *Machine) Offer(b byte, monitor *fips.Monitor) Outcome {
	// RNGTEST_add() in the source runs unconditionally, even with
	// skip_test set; only the RNGTEST() tick itself is gated.
	monitor.Add(b)

	if m.disabled {
		return Appended
	}

	var result = monitor.Tick()

	if m.remaining > 0 {
		m.remaining--
		if m.remaining == 0 {
			return Recovered
		}
		return Withheld
	}

	if result == fips.Fail {
		m.remaining = PenaltyBytes
		return EnteredFlush
	}

	return Appended
}
