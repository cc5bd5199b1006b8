package stemu

import (
	"log/slog"

	"github.com/valerio/go-stemu/stemu/acia"
	"github.com/valerio/go-stemu/stemu/clock"
	"github.com/valerio/go-stemu/stemu/dmasnd"
	"github.com/valerio/go-stemu/stemu/intc"
	"github.com/valerio/go-stemu/stemu/iomem"
	"github.com/valerio/go-stemu/stemu/machine"
	"github.com/valerio/go-stemu/stemu/mfp"
	"github.com/valerio/go-stemu/stemu/scc"
	"github.com/valerio/go-stemu/stemu/sched"
	"github.com/valerio/go-stemu/stemu/scu"
)

// Video timing of the 50 Hz PAL low resolution screen: the HBL event fires
// every 512 CPU cycles, 313 lines per frame. Both are scheduled with
// AddAbsolute so the long run frequency is exact.
const (
	CyclesPerLine  = 512
	LinesPerFrame  = 313
	CyclesPerFrame = CyclesPerLine * LinesPerFrame
)

const defaultRAMSize = 4 * 1024 * 1024

// Core is the emulator context: the master clock, the event scheduler and
// every chip state machine, owned as one value. The 68000 itself is an
// external collaborator: it advances the clock, calls Process, accesses the
// I/O region through the dispatch table and consumes the IPL/IACK surface.
type Core struct {
	Machine machine.Type

	Clock *clock.Clock
	Sched *sched.Scheduler
	IO    *iomem.Table
	Intc  *intc.Aggregator
	MFP   *mfp.MFP

	KeyboardACIA *acia.ACIA
	MidiACIA     *acia.ACIA
	DMASound     *dmasnd.Engine
	SCC          *scc.SCC
	SCU          *scu.SCU

	RAM []uint8

	// UpdateIPL is the CPU collaborator hook, invoked whenever the
	// aggregated interrupt priority level changes.
	UpdateIPL func(ipl int)

	// BusError is the CPU collaborator hook for faulting I/O accesses.
	BusError func(address uint32, isWrite bool)

	hostFreq uint32
	ipl      int

	hblCount uint64
	vblCount uint64

	// MegaSTE 0xFF8E21: bit 1 selects 16 MHz, bit 0 the cache. Pending
	// scheduler deadlines are not rescaled on a speed change.
	cpuSpeedReg uint8
}

// Option configures a Core at construction.
type Option func(*Core)

// WithHostAudioFreq sets the host audio output rate (default 44100).
func WithHostAudioFreq(hz int) Option {
	return func(c *Core) { c.hostFreq = uint32(hz) }
}

// WithRAMSize sets the ST RAM size.
func WithRAMSize(size int) Option {
	return func(c *Core) { c.RAM = make([]uint8, size) }
}

// New builds a core for a machine variant and applies a cold reset.
func New(mach machine.Type, opts ...Option) *Core {
	c := &Core{
		Machine:  mach,
		Clock:    &clock.Clock{},
		hostFreq: 44100,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.RAM == nil {
		c.RAM = make([]uint8, defaultRAMSize)
	}

	c.Intc = intc.New(func(ipl int) {
		c.ipl = ipl
		if c.UpdateIPL != nil {
			c.UpdateIPL(ipl)
		}
	})

	c.MFP = mfp.New(func(asserted bool) {
		c.Intc.SetLine(intc.SourceMFP, asserted)
	})

	c.KeyboardACIA = acia.New("ikbd")
	c.MidiACIA = acia.New("midi")
	aciaIRQ := func(bool) {
		// Both ACIA IRQ outputs share one MFP GPIP input, active low.
		asserted := c.KeyboardACIA.IRQAsserted() || c.MidiACIA.IRQAsserted()
		c.MFP.SetGPIP(mfp.GPIPBitACIA, !asserted)
	}
	c.KeyboardACIA.ChangeIRQ = aciaIRQ
	c.MidiACIA.ChangeIRQ = aciaIRQ

	if mach.HasDMASound() {
		c.DMASound = dmasnd.New(c.readRAM, int(c.hostFreq))
		c.DMASound.OnEndOfFrame = func() {
			// MFP GPIP-7 plus a timer A event count pulse, loop or not.
			c.MFP.InputOnChannel(mfp.GPIPBitDMASound)
			c.MFP.TimerAEventPulse()
		}
		c.DMASound.ScheduleMicrowire = func() {
			c.Sched.AddRelative(sched.DMASoundMicrowire, 8, clock.CPU)
		}
	}

	if mach.HasSCC() {
		c.SCC = scc.New(mach, &sccEvents{core: c}, func(asserted bool) {
			c.Intc.SetLine(intc.SourceSCC, asserted)
		})
		c.Intc.AttachSCC(c.SCC)
	}

	if mach.HasSCU() {
		c.SCU = scu.New()
	}

	c.Sched = sched.New(c.Clock, c.buildHandlerTable())
	c.IO = c.buildIOTable()

	c.Reset(true)
	return c
}

// readRAM is the DMA sound view of ST RAM.
func (c *Core) readRAM(address uint32) uint8 {
	if int(address) >= len(c.RAM) {
		return 0
	}
	return c.RAM[address]
}

// Reset applies a cold or warm reset. Cold clears everything including the
// LMC1992 volume and tone state; warm keeps the chip settings that survive
// a reset on hardware.
func (c *Core) Reset(cold bool) {
	if cold {
		c.Clock.Reset()
	}

	c.Sched.Reset()
	c.Intc.Reset()
	c.MFP.Reset()
	c.KeyboardACIA.Reset()
	c.MidiACIA.Reset()
	if c.DMASound != nil {
		c.DMASound.Reset(cold)
	}
	if c.SCC != nil {
		c.SCC.Reset()
	}
	if c.SCU != nil {
		c.SCU.Reset()
	}
	c.cpuSpeedReg = 0

	c.hblCount = 0
	c.vblCount = 0

	// Arm the periodic video events and the ACIA bit clocks.
	c.Sched.AddRelative(sched.VideoHBL, CyclesPerLine, clock.CPU)
	c.Sched.AddRelative(sched.VideoVBL, CyclesPerFrame, clock.CPU)
	c.armACIA(sched.ACIAKeyboard, c.KeyboardACIA, 0)
	c.armACIA(sched.ACIAMIDI, c.MidiACIA, 0)

	slog.Debug("core: reset", "machine", c.Machine, "cold", cold)
}

// Step advances the master clock by one instruction's cycle count and fires
// every event that became due. This is the per-instruction entry point of
// the CPU collaborator.
func (c *Core) Step(cycles uint64) {
	c.Clock.Advance(cycles)
	c.Sched.Process()
}

// RunCycles runs the core for a stretch of cycles in instruction sized
// steps.
func (c *Core) RunCycles(total, step uint64) {
	for done := uint64(0); done < total; done += step {
		c.Step(step)
	}
}

// IPL returns the current aggregated interrupt priority level.
func (c *Core) IPL() int {
	return c.ipl
}

// IACK runs the interrupt acknowledge cycle for the CPU collaborator.
func (c *Core) IACK(level int) (vector int, autovector bool) {
	return c.Intc.IACK(level)
}

// HBLCount and VBLCount report the periodic event counters (diagnostics).
func (c *Core) HBLCount() uint64 { return c.hblCount }
func (c *Core) VBLCount() uint64 { return c.vblCount }

// armACIA schedules the next bit clock tick for an ACIA.
func (c *Core) armACIA(id sched.ID, a *acia.ACIA, offset int64) {
	c.Sched.AddRelativeWithOffset(id, a.BitPeriodCycles(clock.CPUFreqPAL), clock.CPU, offset)
}

// buildHandlerTable wires the fixed id to handler mapping. Every enumerated
// identifier gets a function; the MFP timer slots acknowledge and leave the
// timer semantics to the MFP collaborator.
func (c *Core) buildHandlerTable() [sched.Count]sched.Handler {
	var handlers [sched.Count]sched.Handler

	handlers[sched.VideoHBL] = func() {
		c.Sched.Acknowledge()
		c.hblCount++

		if c.DMASound != nil {
			c.DMASound.HBLUpdate()
		}

		// Autovector pulse towards the CPU.
		c.Intc.SetLine(intc.SourceHBL, true)
		c.Intc.SetLine(intc.SourceHBL, false)

		c.Sched.AddAbsolute(sched.VideoHBL, CyclesPerLine, clock.CPU)
	}

	handlers[sched.VideoVBL] = func() {
		c.Sched.Acknowledge()
		c.vblCount++

		c.Intc.SetLine(intc.SourceVBL, true)
		c.Intc.SetLine(intc.SourceVBL, false)

		c.Sched.AddAbsolute(sched.VideoVBL, CyclesPerFrame, clock.CPU)
	}

	handlers[sched.VideoEndLine] = func() {
		c.Sched.Acknowledge()
	}

	for _, id := range []sched.ID{
		sched.MFPTimerA, sched.MFPTimerB, sched.MFPTimerC, sched.MFPTimerD,
	} {
		handlers[id] = func() {
			c.Sched.Acknowledge()
		}
	}

	handlers[sched.ACIAKeyboard] = func() {
		offset := c.Sched.DelayedCycles()
		c.Sched.Acknowledge()
		c.KeyboardACIA.Tick()
		c.armACIA(sched.ACIAKeyboard, c.KeyboardACIA, offset)
	}

	handlers[sched.ACIAMIDI] = func() {
		offset := c.Sched.DelayedCycles()
		c.Sched.Acknowledge()
		c.MidiACIA.Tick()
		c.armACIA(sched.ACIAMIDI, c.MidiACIA, offset)
	}

	handlers[sched.DMASoundMicrowire] = func() {
		c.Sched.Acknowledge()
		if c.DMASound != nil && c.DMASound.MicrowireTick() {
			c.Sched.AddRelative(sched.DMASoundMicrowire, 8, clock.CPU)
		}
	}

	sccHandler := func(handle func(int, int64), chn int) sched.Handler {
		return func() {
			offset := c.Sched.DelayedCycles()
			c.Sched.Acknowledge()
			if c.SCC != nil {
				handle(chn, offset)
			}
		}
	}
	handlers[sched.SCCBRGA] = sccHandler(func(chn int, off int64) { c.SCC.HandleBRG(chn, off) }, 0)
	handlers[sched.SCCBRGB] = sccHandler(func(chn int, off int64) { c.SCC.HandleBRG(chn, off) }, 1)
	handlers[sched.SCCTXRXA] = sccHandler(func(chn int, off int64) { c.SCC.HandleTXRX(chn, off) }, 0)
	handlers[sched.SCCTXRXB] = sccHandler(func(chn int, off int64) { c.SCC.HandleTXRX(chn, off) }, 1)
	handlers[sched.SCCRXA] = sccHandler(func(chn int, off int64) { c.SCC.HandleRX(chn, off) }, 0)
	handlers[sched.SCCRXB] = sccHandler(func(chn int, off int64) { c.SCC.HandleRX(chn, off) }, 1)

	return handlers
}

// sccEvents adapts the scheduler to the SCC's event interface.
type sccEvents struct {
	core *Core
}

var sccEventIDs = map[scc.EventKind]sched.ID{
	scc.EventBRGA:  sched.SCCBRGA,
	scc.EventTXRXA: sched.SCCTXRXA,
	scc.EventRXA:   sched.SCCRXA,
	scc.EventBRGB:  sched.SCCBRGB,
	scc.EventTXRXB: sched.SCCTXRXB,
	scc.EventRXB:   sched.SCCRXB,
}

func (e *sccEvents) Start(ev scc.EventKind, cpuCycles int64, internalOffset int64) {
	e.core.Sched.AddRelativeWithOffset(sccEventIDs[ev], cpuCycles, clock.CPU, internalOffset)
}

func (e *sccEvents) Stop(ev scc.EventKind) {
	e.core.Sched.Remove(sccEventIDs[ev])
}
