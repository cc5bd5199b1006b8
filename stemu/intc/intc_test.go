package intc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSCC struct {
	vector int
	iacks  int
}

func (f *fakeSCC) ProcessIACK() int {
	f.iacks++
	return f.vector
}

func TestIPLIsMaxOfAssertedLevels(t *testing.T) {
	var levels []int
	a := New(func(ipl int) { levels = append(levels, ipl) })

	a.SetLine(SourceHBL, true)
	assert.Equal(t, 2, a.IPL())

	a.SetLine(SourceSCC, true)
	assert.Equal(t, 5, a.IPL())

	a.SetLine(SourceMFP, true)
	assert.Equal(t, 6, a.IPL())

	a.SetLine(SourceSCC, false)
	assert.Equal(t, 6, a.IPL(), "MFP still holds the level")

	a.SetLine(SourceMFP, false)
	assert.Equal(t, 2, a.IPL())

	assert.Equal(t, []int{2, 5, 6, 6, 2}, levels)
}

func TestRedundantEdgesAreIgnored(t *testing.T) {
	calls := 0
	a := New(func(int) { calls++ })

	a.SetLine(SourceVBL, true)
	a.SetLine(SourceVBL, true)
	assert.Equal(t, 1, calls, "level-identical edges do not renotify")
}

func TestIACKDelegatesToSCC(t *testing.T) {
	a := New(nil)
	scc := &fakeSCC{vector: 0x4C}
	a.AttachSCC(scc)

	// Not asserted: autovector.
	_, auto := a.IACK(5)
	assert.True(t, auto)
	assert.Zero(t, scc.iacks)

	a.SetLine(SourceSCC, true)
	vector, auto := a.IACK(5)
	assert.False(t, auto)
	assert.Equal(t, 0x4C, vector)
	assert.Equal(t, 1, scc.iacks)

	// No-Vector mode: the SCC returns a negative vector.
	scc.vector = -1
	_, auto = a.IACK(5)
	assert.True(t, auto)
}

func TestIACKOtherLevelsAutovector(t *testing.T) {
	a := New(nil)
	a.SetLine(SourceMFP, true)

	_, auto := a.IACK(6)
	assert.True(t, auto, "the MFP vector logic lives with the MFP collaborator")

	_, auto = a.IACK(2)
	assert.True(t, auto)
}

func TestReset(t *testing.T) {
	a := New(nil)
	a.SetLine(SourceMFP, true)
	a.Reset()
	assert.Zero(t, a.IPL())
}
