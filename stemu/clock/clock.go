package clock

import (
	"math"
	"math/bits"
)

// The machine runs several chips from incommensurate clocks. To synchronise
// them without floating point drift, every deadline is kept in "internal"
// cycles: one CPU cycle shifted left by Shift bits. MFP timer cycles convert
// to internal cycles with exact rational math, so back to back timer restarts
// never accumulate rounding error.

// Kind selects the unit of a cycle count passed to Convert.
type Kind int

const (
	CPU Kind = iota + 1
	MFP
	Internal
)

const (
	// Shift is the number of extra precision bits in an internal cycle.
	Shift = 8

	// CPUFreqPAL is the CPU frequency of a PAL STF, rounded up by 1 Hz so
	// that it factors as 2^8 * 31333.
	CPUFreqPAL = 8021248

	// MFPTimerFreq is the MFP timer XTAL frequency (2^15 * 3 * 5^2).
	MFPTimerFreq = 2457600
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case MFP:
		return "mfp"
	case Internal:
		return "internal"
	}
	return "unknown"
}

// freq returns the tick frequency of a kind in Hz, with internal cycles
// counted at CPU frequency << Shift.
func freq(k Kind) int64 {
	switch k {
	case CPU:
		return CPUFreqPAL
	case MFP:
		return MFPTimerFreq
	case Internal:
		return CPUFreqPAL << Shift
	}
	panic("clock: unknown cycle kind")
}

// Convert converts a cycle count between units with half-ulp rounding.
// The math is done on widened integers only; Convert(v, k, k) == v.
func Convert(value int64, from, to Kind) int64 {
	if from == to {
		return value
	}

	srcFreq := freq(from)
	dstFreq := freq(to)

	// (value*dst + src/2) / src on a 128 bit intermediate, keeping the sign
	// of value.
	neg := value < 0
	v := uint64(value)
	if neg {
		v = uint64(-value)
	}
	hi, lo := bits.Mul64(v, uint64(dstFreq))
	lo, carry := bits.Add64(lo, uint64(srcFreq/2), 0)
	q, _ := bits.Div64(hi+carry, lo, uint64(srcFreq))
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// ToInternal converts a cycle count of the given kind to internal cycles.
func ToInternal(value int64, from Kind) int64 {
	return Convert(value, from, Internal)
}

// FromInternal converts internal cycles to the given kind.
func FromInternal(value int64, to Kind) int64 {
	return Convert(value, Internal, to)
}

// Clock is the master clock: a monotonic CPU cycle counter advanced only by
// the CPU collaborator, read by everything else.
type Clock struct {
	cycles uint64
}

// Advance moves the clock forward by n CPU cycles.
func (c *Clock) Advance(n uint64) {
	c.cycles += n
}

// Cycles returns the current CPU cycle count.
func (c *Clock) Cycles() uint64 {
	return c.cycles
}

// Internal returns the current time in internal cycles.
func (c *Clock) Internal() uint64 {
	return c.cycles << Shift
}

// Reset restarts the counter from zero.
func (c *Clock) Reset() {
	c.cycles = 0
}

// Restore sets the counter to a saved value.
func (c *Clock) Restore(cycles uint64) {
	c.cycles = cycles
}

// MaxInternal is the sentinel deadline that never expires.
const MaxInternal = math.MaxUint64
