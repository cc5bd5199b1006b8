package scc

import (
	"log/slog"

	"github.com/valerio/go-stemu/stemu/machine"
)

// Z85C30 SCC emulation: two independent full duplex channels sharing a
// register pointer, the WR2/WR9 master registers and the interrupt daisy
// chain. Rather than clocking every bit, one scheduler event per character
// frame moves whole bytes between the shift registers and the host port,
// which keeps the status bit timing right at a fraction of the cost.

// WR0 commands (bits 3-5).
const (
	cmdNull           = 0x00
	cmdPointHigh      = 0x01
	cmdResetExtStatus = 0x02
	cmdSendAbort      = 0x03
	cmdIntNextRx      = 0x04
	cmdResetTxIP      = 0x05
	cmdErrorReset     = 0x06
	cmdResetHighIUS   = 0x07
)

// WR9 reset codes (bits 6-7).
const (
	resetNull    = 0x00
	resetChanB   = 0x01
	resetChanA   = 0x02
	resetForceHW = 0x03
)

// WR1 bits.
const (
	wr1ExtIntEnable      = 0x01
	wr1TxIntEnable       = 0x02
	wr1ParitySpecialCond = 0x04
)

// WR1 RX interrupt modes (bits 3-4).
const (
	rxIntOff              = 0x00
	rxIntFirstCharSpecial = 0x01
	rxIntAllCharSpecial   = 0x02
	rxIntSpecialOnly      = 0x03
)

// WR3/WR5 bits.
const (
	wr3RxEnable  = 0x01
	wr5RTS       = 0x02
	wr5TxEnable  = 0x08
	wr5SendBreak = 0x10
	wr5DTR       = 0x80
)

// WR4 bits.
const (
	wr4ParityEnable = 0x01
	wr4ParityEven   = 0x02
)

// WR9 bits.
const (
	wr9VIS           = 0x01 // Vector Includes Status
	wr9NV            = 0x02 // No Vector
	wr9MIE           = 0x08 // Master Interrupt Enable
	wr9StatusHighLow = 0x10
	wr9SoftIntack    = 0x20
)

// WR15 external interrupt enables.
const (
	wr15WR7Prime          = 0x01
	wr15ZeroCountIE       = 0x02
	wr15StatusFIFOEnable  = 0x04
	wr15DCDIE             = 0x08
	wr15SyncHuntIE        = 0x10
	wr15CTSIE             = 0x20
	wr15TxUnderrunIE      = 0x40
	wr15BreakAbortIE      = 0x80
)

// RR0 bits.
const (
	rr0RxCharAvailable = 0x01
	rr0ZeroCount       = 0x02
	rr0TxBufferEmpty   = 0x04
	rr0DCD             = 0x08
	rr0SyncHunt        = 0x10
	rr0CTS             = 0x20
	rr0TxUnderrunEOM   = 0x40
	rr0BreakAbort      = 0x80
)

// RR1 bits.
const (
	rr1AllSent         = 0x01
	rr1ParityError     = 0x10
	rr1RxOverrunError  = 0x20
	rr1CRCFramingError = 0x40
	rr1EOFSDLC         = 0x80
)

// RR3 interrupt pending bits (channel A register), in priority order from
// bit 5 (RX A, highest) down to bit 0 (Ext B, lowest).
const (
	rr3ExtIPB = 0x01
	rr3TxIPB  = 0x02
	rr3RxIPB  = 0x04
	rr3ExtIPA = 0x08
	rr3TxIPA  = 0x10
	rr3RxIPA  = 0x20
)

// Interrupt sources per channel.
const (
	intSrcRxCharAvailable = 1 << 0
	intSrcRxOverrun       = 1 << 1
	intSrcRxFramingError  = 1 << 2
	intSrcRxEOFSDLC       = 1 << 3
	intSrcRxParityError   = 1 << 4
	intSrcTxBufferEmpty   = 1 << 5
	intSrcExtZeroCount    = 1 << 6
	intSrcExtDCD          = 1 << 7
	intSrcExtSyncHunt     = 1 << 8
	intSrcExtCTS          = 1 << 9
	intSrcExtTxUnderrun   = 1 << 10
	intSrcExtBreakAbort   = 1 << 11
)

// EventKind names the six scheduler events the SCC owns.
type EventKind int

const (
	EventBRGA EventKind = iota
	EventTXRXA
	EventRXA
	EventBRGB
	EventTXRXB
	EventRXB
)

func eventBRG(chn int) EventKind {
	if chn == 0 {
		return EventBRGA
	}
	return EventBRGB
}

func eventTXRX(chn int) EventKind {
	if chn == 0 {
		return EventTXRXA
	}
	return EventTXRXB
}

func eventRX(chn int) EventKind {
	if chn == 0 {
		return EventRXA
	}
	return EventRXB
}

// EventScheduler is the SCC's view of the cycle interrupt scheduler: start
// an event after a CPU cycle delay (with an internal cycle phase offset) or
// stop it. Wired by the emulator context.
type EventScheduler interface {
	Start(ev EventKind, cpuCycles int64, internalOffset int64)
	Stop(ev EventKind)
}

// channel holds the per channel register files and transfer state. WR2 and
// WR9 are common to both channels and stored in channel A; RR2A stores the
// vector, RR2B the vector plus status bits; RR3 lives in channel A only.
type channel struct {
	wr   [16]uint8
	wr7p uint8
	rr   [16]uint8

	baudBRG int
	baudTX  int
	baudRX  int

	rr0Latched bool
	rr0NoLatch uint8 // real time bit values, before latching

	txBufferWritten bool // a data reg write happened, needed for TBE int

	txBits     uint8   // 5..8
	rxBits     uint8   // 5..8
	parityBits uint8   // 0 or 1
	stopBits   float64 // 0 (sync), 1, 1.5 or 2

	tsr     uint8
	tsrFull bool

	intSources uint32

	port     Port
	disabled bool
}

// SCC is the chip: two channels plus the shared interrupt state.
type SCC struct {
	chn [2]channel

	irqAsserted bool
	ius         uint8 // interrupt under service, same bits as RR3
	activeReg   int

	mach     machine.Type
	cpuFreq  int64
	pclkFreq int

	events EventScheduler

	// setIRQ propagates the IRQ pin to the interrupt aggregator.
	setIRQ func(asserted bool)
}

// New creates the SCC with both channels on the null port.
func New(mach machine.Type, events EventScheduler, setIRQ func(bool)) *SCC {
	s := &SCC{
		mach:     mach,
		cpuFreq:  machine.SCCFreqPCLK,
		pclkFreq: machine.SCCFreqPCLK,
		events:   events,
		setIRQ:   setIRQ,
	}
	s.chn[0].port = NullPort()
	s.chn[1].port = NullPort()
	s.Reset()
	return s
}

// AttachPort connects a channel to a host port backend. A nil port leaves
// the channel disabled.
func (s *SCC) AttachPort(chn int, port Port) {
	if port == nil {
		s.chn[chn].port = NullPort()
		s.chn[chn].disabled = true
		return
	}
	s.chn[chn].port = port
	s.chn[chn].disabled = false
}

// OpenPorts opens host devices for both channels. An open failure disables
// that channel only; it is logged and not fatal.
func (s *SCC) OpenPorts(deviceA, deviceB string) {
	open := func(chn int, device string) {
		if device == "" {
			return
		}
		port, err := OpenHostPort(device)
		if err != nil {
			slog.Warn("scc: cannot open serial device, channel disabled",
				"channel", chn, "device", device, "error", err)
			s.AttachPort(chn, nil)
			return
		}
		s.AttachPort(chn, port)
	}
	open(0, deviceA)
	open(1, deviceB)
}

// resetChannel applies a channel reset. The bit level keep-masks follow the
// Z85C30 reset table; a hardware reset clears more of WR10/WR11/WR14 than a
// software channel reset does.
func (s *SCC) resetChannel(chn int, hwReset bool) {
	c := &s.chn[chn]

	c.wr[0] = 0x00
	s.activeReg = 0
	c.wr[1] &= 0x24  // keep bits 2 and 5, clear others
	c.wr[3] &= 0xFE  // keep bits 1 to 7, clear bit 0
	c.wr[4] |= 0x04  // set bit 2, keep others
	c.wr[5] &= 0x61  // keep bits 0, 5 and 6, clear others
	c.wr[15] = 0xF8
	c.wr7p = 0x20 // WR7' set bit 5, clear others

	if hwReset {
		// WR9 is common to both channels, stored in channel A.
		s.chn[0].wr[9] &= 0x03 // keep bits 0 and 1, clear others
		s.chn[0].wr[9] |= 0xC0
		s.ius = 0x00 // clearing MIE also clears IUS

		c.wr[10] = 0x00
		c.wr[11] = 0x08
		c.wr[14] &= 0xC0 // keep bits 6 and 7, clear others
		c.wr[14] |= 0x30
	} else {
		s.chn[0].wr[9] &= 0xDF // clear bit 5, keep others

		c.wr[10] &= 0x60 // keep bits 5 and 6, clear others
		c.wr[14] &= 0xC3 // keep bits 0, 1, 6 and 7, clear others
		c.wr[14] |= 0x20
	}

	c.rr[0] &= 0xB8 // keep bits 3, 4 and 5, clear others
	c.rr[0] |= 0x44 // set bits 2 and 6
	c.rr0NoLatch = c.rr[0]
	c.rr0Latched = false
	c.rr[1] &= 0x01 // keep bit 0, clear others
	c.rr[1] |= 0x06
	c.rr[3] = 0x00
	c.rr[10] &= 0x40 // keep bit 6, clear others
	c.txBufferWritten = false
	c.tsrFull = false
}

// resetFull resets both channels. A software full reset (WR9 code 11)
// preserves WR9 bits 2-4.
func (s *SCC) resetFull(hwReset bool) {
	wr9old := s.chn[0].wr[9]

	s.resetChannel(0, true)
	s.resetChannel(1, true)

	if !hwReset {
		s.chn[0].wr[9] &= ^uint8(0x1C)
		s.chn[0].wr[9] |= wr9old & 0x1C
	}

	s.chn[0].intSources = 0
	s.chn[1].intSources = 0
	s.setLineIRQ(false)
}

// Reset performs the power-on hardware reset.
func (s *SCC) Reset() {
	for c := range s.chn {
		s.chn[c].wr = [16]uint8{}
		s.chn[c].rr = [16]uint8{}
	}
	s.resetFull(true)
}

// setLineIRQ drives the IRQ pin.
func (s *SCC) setLineIRQ(asserted bool) {
	s.irqAsserted = asserted
	if s.setIRQ != nil {
		s.setIRQ(asserted)
	}
}

// IRQAsserted reports the IRQ pin state.
func (s *SCC) IRQAsserted() bool {
	return s.irqAsserted
}

// updateIRQ asserts IRQ iff MIE is set and some IP bit is pending with no
// higher-or-equal IUS bit under service.
func (s *SCC) updateIRQ() {
	irq := false
	if s.chn[0].wr[9]&wr9MIE != 0 {
		for i := 5; i >= 0; i-- { // highest priority first
			if s.ius&(1<<i) != 0 {
				break
			}
			if s.chn[0].rr[3]&(1<<i) != 0 {
				irq = true
				break
			}
		}
	}

	if irq != s.irqAsserted {
		s.setLineIRQ(irq)
	}
}

// vectorStatus returns the 3 status bits encoding the highest pending
// interrupt. With nothing pending it returns "Ch B Special Receive
// Condition" (3), per the doc.
func (s *SCC) vectorStatus() uint8 {
	specialMask := func(chn int) uint8 {
		mask := uint8(rr1RxOverrunError | rr1CRCFramingError | rr1EOFSDLC)
		if s.chn[chn].wr[1]&wr1ParitySpecialCond != 0 {
			mask |= rr1ParityError
		}
		return mask
	}

	rr3 := s.chn[0].rr[3]
	switch {
	case rr3&rr3RxIPA != 0:
		if s.chn[0].rr[1]&specialMask(0) != 0 {
			return 7 // Ch A Special Receive Condition
		}
		return 6 // Ch A Receive Char Available
	case rr3&rr3TxIPA != 0:
		return 4
	case rr3&rr3ExtIPA != 0:
		return 5
	case rr3&rr3RxIPB != 0:
		if s.chn[1].rr[1]&specialMask(1) != 0 {
			return 3
		}
		return 2
	case rr3&rr3TxIPB != 0:
		return 0
	case rr3&rr3ExtIPB != 0:
		return 1
	}
	return 3
}

// updateRR2 refreshes RR2A (plain vector) and RR2B (vector plus status
// bits, placed high or low per WR9 bit 4).
func (s *SCC) updateRR2() {
	vector := s.chn[0].wr[2]
	s.chn[0].rr[2] = vector

	status := s.vectorStatus()
	if s.chn[0].wr[9]&wr9StatusHighLow != 0 {
		// Bits 2,1,0 of the status become vector bits 4,5,6.
		status = (status&1)<<2 | (status & 2) | (status&4)>>2
		vector &= 0x8F
		vector |= status << 4
	} else {
		vector &= 0xF1
		vector |= status << 1
	}
	s.chn[1].rr[2] = vector
}

func (s *SCC) updateRR3Bit(set bool, bitMask uint8) {
	if set {
		s.chn[0].rr[3] |= bitMask
	} else {
		s.chn[0].rr[3] &^= bitMask
	}
}

// updateRR0 rebuilds RR0 from the real time bits, honoring the external
// status latches: a bit whose WR15 interrupt enable is set freezes at its
// latched value until a Reset Ext/Status Int command.
func (s *SCC) updateRR0(chn int) {
	c := &s.chn[chn]

	var rr0New uint8
	updateCTS := false
	updateDCD := false

	if !c.rr0Latched {
		rr0New = c.rr0NoLatch
		updateCTS = true
		updateDCD = true
	} else {
		// RX available and TX empty are never latched.
		rr0New = c.rr0NoLatch & (rr0RxCharAvailable | rr0TxBufferEmpty)

		// Zero count is special: it can trigger the latches but is not
		// latched itself.
		rr0New |= c.rr0NoLatch & rr0ZeroCount

		if c.wr[15]&wr15DCDIE != 0 {
			rr0New |= c.rr[0] & rr0DCD
		} else {
			updateDCD = true
		}

		if c.wr[15]&wr15SyncHuntIE != 0 {
			rr0New |= c.rr[0] & rr0SyncHunt
		} else {
			rr0New |= c.rr0NoLatch & rr0SyncHunt
		}

		if c.wr[15]&wr15CTSIE != 0 {
			rr0New |= c.rr[0] & rr0CTS
		} else {
			updateCTS = true
		}

		if c.wr[15]&wr15TxUnderrunIE != 0 {
			rr0New |= c.rr[0] & rr0TxUnderrunEOM
		} else {
			rr0New |= c.rr0NoLatch & rr0TxUnderrunEOM
		}

		if c.wr[15]&wr15BreakAbortIE != 0 {
			rr0New |= c.rr[0] & rr0BreakAbort
		} else {
			rr0New |= c.rr0NoLatch & rr0BreakAbort
		}
	}

	cts, dcd := c.port.Status()
	if updateCTS {
		rr0New &^= rr0CTS
		if cts {
			rr0New |= rr0CTS
		}
	}
	if updateDCD {
		rr0New &^= rr0DCD
		if dcd {
			rr0New |= rr0DCD
		}
	}

	rr0Old := c.rr[0]
	c.rr[0] = rr0New

	// Enabled edges set the Ext IP bit in RR3 and activate the latches.
	// Zero count and TX underrun trigger on the rising edge only; DCD,
	// Sync/Hunt, CTS and Break/Abort on any transition.
	if c.wr[1]&wr1ExtIntEnable == 0 {
		return
	}

	setRR3 := false
	switch {
	case rr0Old&rr0ZeroCount == 0 && rr0New&rr0ZeroCount != 0 &&
		c.wr[15]&wr15ZeroCountIE != 0:
		setRR3 = true
	case rr0Old&rr0DCD != rr0New&rr0DCD && c.wr[15]&wr15DCDIE != 0:
		setRR3 = true
	case rr0Old&rr0SyncHunt != rr0New&rr0SyncHunt && c.wr[15]&wr15SyncHuntIE != 0:
		setRR3 = true
	case rr0Old&rr0CTS != rr0New&rr0CTS && c.wr[15]&wr15CTSIE != 0:
		setRR3 = true
	case rr0Old&rr0TxUnderrunEOM == 0 && rr0New&rr0TxUnderrunEOM != 0 &&
		c.wr[15]&wr15TxUnderrunIE != 0:
		setRR3 = true
	case rr0Old&rr0BreakAbort != rr0New&rr0BreakAbort && c.wr[15]&wr15BreakAbortIE != 0:
		setRR3 = true
	}

	if setRR3 {
		c.rr0Latched = true
		if chn == 1 {
			s.updateRR3Bit(true, rr3ExtIPB)
		} else {
			s.updateRR3Bit(true, rr3ExtIPA)
		}
	}
}

func (s *SCC) rr0Clear(chn int, bits uint8) {
	s.chn[chn].rr0NoLatch &^= bits
}

func (s *SCC) rr0Set(chn int, bits uint8) {
	s.chn[chn].rr0NoLatch |= bits
}

func (s *SCC) rr0LatchOff(chn int) {
	s.chn[chn].rr0Latched = false
	s.updateRR0(chn)
}

// updateRR3 recomputes the RX and TX pending bits for a channel from the
// interrupt enables and the current RR0/RR1 state.
func (s *SCC) updateRR3(chn int) {
	c := &s.chn[chn]

	// RR3 depends on RR0 bits, refresh those first.
	s.updateRR0(chn)

	rxMode := (c.wr[1] >> 3) & 0x03
	intOnRx := rxMode == rxIntFirstCharSpecial || rxMode == rxIntAllCharSpecial
	intOnSpecial := rxMode != rxIntOff

	set := false
	if intOnRx && c.rr[0]&rr0RxCharAvailable != 0 {
		set = true
	}
	if intOnSpecial {
		if c.rr[1]&(rr1RxOverrunError|rr1CRCFramingError|rr1EOFSDLC) != 0 {
			set = true
		}
		if c.rr[1]&rr1ParityError != 0 && c.wr[1]&wr1ParitySpecialCond != 0 {
			set = true
		}
	}
	if chn == 1 {
		s.updateRR3Bit(set, rr3RxIPB)
	} else {
		s.updateRR3Bit(set, rr3RxIPA)
	}

	// TX pending only once the buffer has been written to and emptied.
	set = c.rr[0]&rr0TxBufferEmpty != 0 &&
		c.wr[1]&wr1TxIntEnable != 0 &&
		c.txBufferWritten
	if chn == 1 {
		s.updateRR3Bit(set, rr3TxIPB)
	} else {
		s.updateRR3Bit(set, rr3TxIPA)
	}
}

// intSourcesChange flips interrupt source bits and refreshes RR3/IRQ when
// something actually changed.
func (s *SCC) intSourcesChange(chn int, sources uint32, set bool) {
	c := &s.chn[chn]
	if set {
		if c.intSources&sources == sources {
			return
		}
	} else if c.intSources&sources == 0 {
		return
	}

	s.updateRR3(chn)

	if set {
		c.intSources |= sources
	} else {
		c.intSources &^= sources
	}

	s.updateIRQ()
}

func (s *SCC) intSourcesSet(chn int, sources uint32)   { s.intSourcesChange(chn, sources, true) }
func (s *SCC) intSourcesClear(chn int, sources uint32) { s.intSourcesChange(chn, sources, false) }

// intSourcesClearNoUpdate drops source bits without touching RR3 or IRQ.
func (s *SCC) intSourcesClearNoUpdate(chn int, sources uint32) {
	s.chn[chn].intSources &^= sources
}
