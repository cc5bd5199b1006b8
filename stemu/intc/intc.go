package intc

import "log/slog"

// The aggregator computes the interrupt priority level presented to the CPU
// from the individual chip lines. Chips never hold a pointer back to the
// aggregator: they assert/deassert through SetLine, and the CPU collaborator
// observes the result once per instruction boundary through the callback.

// Source identifies one interrupt line into the aggregator.
type Source int

const (
	SourceHBL Source = iota // video horizontal blank, autovector level 2
	SourceVBL               // video vertical blank, autovector level 4
	SourceSCC               // Z85C30, level 5, vectored or autovectored
	SourceMFP               // MC68901 chain, level 6, opaque in-service state

	numSources
)

var sourceLevels = [numSources]int{
	SourceHBL: 2,
	SourceVBL: 4,
	SourceSCC: 5,
	SourceMFP: 6,
}

func (s Source) String() string {
	switch s {
	case SourceHBL:
		return "hbl"
	case SourceVBL:
		return "vbl"
	case SourceSCC:
		return "scc"
	case SourceMFP:
		return "mfp"
	}
	return "unknown"
}

// SCCAcknowledger is implemented by the SCC: during a level 5 IACK cycle the
// aggregator delegates vector generation to the chip. A negative vector
// means No-Vector mode, i.e. the CPU should autovector.
type SCCAcknowledger interface {
	ProcessIACK() int
}

// Aggregator folds the chip interrupt lines into a single IPL.
type Aggregator struct {
	asserted [numSources]bool

	scc SCCAcknowledger

	// updateIPL is invoked whenever the aggregated level changes; wired to
	// the CPU collaborator by the emulator context.
	updateIPL func(ipl int)
}

// New creates an aggregator. The callback may be nil when no CPU is
// attached (tests drive IPL() directly).
func New(updateIPL func(ipl int)) *Aggregator {
	return &Aggregator{updateIPL: updateIPL}
}

// AttachSCC wires the SCC for level 5 IACK delegation.
func (a *Aggregator) AttachSCC(scc SCCAcknowledger) {
	a.scc = scc
}

// Reset drops every line.
func (a *Aggregator) Reset() {
	for i := range a.asserted {
		a.asserted[i] = false
	}
	if a.updateIPL != nil {
		a.updateIPL(0)
	}
}

// SetLine asserts or releases a source line and recomputes the IPL.
// Edges within the same tick are processed in emission order.
func (a *Aggregator) SetLine(src Source, asserted bool) {
	if a.asserted[src] == asserted {
		return
	}
	a.asserted[src] = asserted

	slog.Debug("intc: line change", "source", src, "asserted", asserted, "ipl", a.IPL())

	if a.updateIPL != nil {
		a.updateIPL(a.IPL())
	}
}

// IPL returns the current aggregated interrupt priority level (0..7).
func (a *Aggregator) IPL() int {
	level := 0
	for src, on := range a.asserted {
		if on && sourceLevels[src] > level {
			level = sourceLevels[src]
		}
	}
	return level
}

// IACK runs the interrupt acknowledge cycle for a level. It returns the
// vector to take, or autovector=true when the device does not supply one.
// The video and MFP levels always autovector here; the MFP's own vector
// logic lives with the MFP collaborator.
func (a *Aggregator) IACK(level int) (vector int, autovector bool) {
	if level == sourceLevels[SourceSCC] && a.asserted[SourceSCC] && a.scc != nil {
		v := a.scc.ProcessIACK()
		if v < 0 {
			return 0, true
		}
		return v, false
	}
	return 0, true
}
