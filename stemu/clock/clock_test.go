package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertIdentity(t *testing.T) {
	for _, k := range []Kind{CPU, MFP, Internal} {
		assert.Equal(t, int64(12345), Convert(12345, k, k))
	}
}

func TestCPUInternalExact(t *testing.T) {
	// CPU to internal is a pure shift; the round trip must be lossless.
	for _, v := range []int64{0, 1, 512, 8021248, 1 << 40} {
		internal := Convert(v, CPU, Internal)
		assert.Equal(t, v<<Shift, internal)
		assert.Equal(t, v, Convert(internal, Internal, CPU))
	}
}

func TestMFPConversionHalfUlp(t *testing.T) {
	// 1 MFP cycle = 8021248/2457600 CPU cycles = 3.264... CPU cycles.
	// In internal units: 1 << 8 scaled by the ratio, rounded to nearest.
	one := Convert(1, MFP, Internal)
	want := (int64(1)<<Shift*CPUFreqPAL + MFPTimerFreq/2) / MFPTimerFreq
	assert.Equal(t, want, one)

	// A full second of MFP cycles converts to a full second of CPU cycles.
	sec := Convert(MFPTimerFreq, MFP, CPU)
	assert.Equal(t, int64(CPUFreqPAL), sec)
}

func TestConvertNegative(t *testing.T) {
	assert.Equal(t, int64(-256), Convert(-1, CPU, Internal))
	assert.Equal(t, -Convert(100, MFP, Internal), Convert(-100, MFP, Internal))
}

func TestClockAdvance(t *testing.T) {
	c := &Clock{}
	c.Advance(100)
	c.Advance(12)
	assert.Equal(t, uint64(112), c.Cycles())
	assert.Equal(t, uint64(112)<<Shift, c.Internal())

	c.Reset()
	assert.Zero(t, c.Cycles())

	c.Restore(42)
	assert.Equal(t, uint64(42), c.Cycles())
}
