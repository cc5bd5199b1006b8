package acia

import "log/slog"

// MC6850 ACIA emulation. The ST has two of them sharing one MFP interrupt
// line: the keyboard ACIA (500 kHz clock divided by 64, 7812.5 baud) and the
// MIDI ACIA (divided by 16, 31250 baud).
//
// Each direction is a small state machine clocked by its own bit clock
// event: one serial line bit is produced/consumed per tick, with start,
// parity and stop bits assembled around the shift registers.

// Status register bits.
const (
	SRBitRDRF = 0x01 // Receive Data Register Full
	SRBitTDRE = 0x02 // Transmit Data Register Empty
	SRBitDCD  = 0x04 // Data Carrier Detect
	SRBitCTS  = 0x08 // Clear To Send
	SRBitFE   = 0x10 // Framing Error
	SRBitOVRN = 0x20 // Receiver Overrun
	SRBitPE   = 0x40 // Parity Error
	SRBitIRQ  = 0x80 // IRQ
)

// Parity selects the parity mode of a word select encoding.
type Parity int

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// serialParams describes one word select encoding (CR bits 2-4).
type serialParams struct {
	DataBits int
	Parity   Parity
	StopBits int
}

// serialParamsTable reproduces the eight CR word select encodings of the
// MC6850 datasheet.
var serialParamsTable = [8]serialParams{
	{7, ParityEven, 2},
	{7, ParityOdd, 2},
	{7, ParityEven, 1},
	{7, ParityOdd, 1},
	{8, ParityNone, 2},
	{8, ParityNone, 1},
	{8, ParityEven, 1},
	{8, ParityOdd, 1},
}

// Transfer state, one per direction.
type state int

const (
	stateIdle state = iota
	stateData
	stateParity
	stateStop
)

// BaseClockHz is the serial clock fed to both ST ACIAs before division.
const BaseClockHz = 500000

// ACIA models one MC6850.
type ACIA struct {
	Name string

	cr uint8 // control register
	sr uint8 // status register

	tdr    uint8
	tdrNew bool // TDR written but not yet copied to TSR
	tsr    uint8
	txState    state
	txBitsLeft uint8
	txParity   uint8
	txStopLeft uint8

	rdr       uint8
	rsr       uint8
	rxState    state
	rxBitsLeft uint8
	rxDataBits uint8 // latched at frame start for right-justification
	rxParity   uint8
	rxStopLeft uint8
	rxOverrun  bool

	// Line callbacks: the TX output level and the RX input level.
	SetLineTX func(bit uint8)
	GetLineRX func() uint8

	// ChangeIRQ propagates the IRQ output; both ACIAs OR into the shared
	// MFP line one level up.
	ChangeIRQ func(asserted bool)
}

// New creates an ACIA in master reset state.
func New(name string) *ACIA {
	a := &ACIA{Name: name}
	a.Reset()
	return a
}

// Reset performs a master reset. The MC6850 has no reset pin; software
// resets it by writing 0x03 to the CR divider bits, and the machine does the
// equivalent at power on.
func (a *ACIA) Reset() {
	a.sr = SRBitTDRE
	a.tdr = 0
	a.tdrNew = false
	a.tsr = 0
	a.txState = stateIdle
	a.txBitsLeft = 0
	a.txParity = 0
	a.txStopLeft = 0

	a.rdr = 0
	a.rsr = 0
	a.rxState = stateIdle
	a.rxBitsLeft = 0
	a.rxParity = 0
	a.rxStopLeft = 0
	a.rxOverrun = false

	a.updateIRQ()
}

func (a *ACIA) params() serialParams {
	return serialParamsTable[(a.cr>>2)&0x07]
}

func (a *ACIA) divider() int {
	switch a.cr & 0x03 {
	case 0x00:
		return 1
	case 0x01:
		return 16
	default:
		return 64
	}
}

// BitPeriodCycles returns the CPU cycle count of one serial bit at the
// current divider, rounded to nearest.
func (a *ACIA) BitPeriodCycles(cpuFreq int64) int64 {
	div := int64(a.divider())
	return (cpuFreq*div + BaseClockHz/2) / BaseClockHz
}

// MasterResetRequested reports whether the CR divider bits select master
// reset (the state the chip holds until reprogrammed).
func (a *ACIA) MasterResetRequested() bool {
	return a.cr&0x03 == 0x03
}

// ReadSR returns the status register. Reading SR has no side effect.
func (a *ACIA) ReadSR() uint8 {
	return a.sr
}

// WriteCR writes the control register. Divider bits 0x03 force a master
// reset; the CR value itself is kept so word select survives the reset.
func (a *ACIA) WriteCR(value uint8) {
	a.cr = value

	if a.MasterResetRequested() {
		slog.Debug("acia: master reset", "name", a.Name)
		a.Reset()
		return
	}

	a.updateIRQ()
}

// CR returns the control register (snapshots).
func (a *ACIA) CR() uint8 { return a.cr }

// ReadRDR returns the receive data register, clearing RDRF, PE and IRQ.
// The OVRN bit is reported here, at read time, not at the moment the
// overrun happened (per the MC6850 datasheet).
func (a *ACIA) ReadRDR() uint8 {
	a.sr &^= SRBitRDRF | SRBitPE | SRBitIRQ

	if a.rxOverrun {
		a.sr |= SRBitOVRN
		a.rxOverrun = false
	} else {
		a.sr &^= SRBitOVRN
	}

	a.updateIRQ()
	return a.rdr
}

// WriteTDR stores a byte to transmit. If the transmitter is idle the byte
// moves to the shift register at once, otherwise it follows the current
// frame.
func (a *ACIA) WriteTDR(value uint8) {
	a.tdr = value
	a.tdrNew = true
	a.sr &^= SRBitTDRE

	if a.txState == stateIdle {
		a.prepareTX()
	}

	a.updateIRQ()
}

// prepareTX commits TDR to TSR and loads the framing counters. Transmission
// starts on the next ClockTX tick.
func (a *ACIA) prepareTX() {
	p := a.params()
	a.tsr = a.tdr
	a.tdrNew = false
	a.txParity = 0
	a.txBitsLeft = uint8(p.DataBits)
	a.txStopLeft = uint8(p.StopBits)

	a.sr |= SRBitTDRE
}

// prepareRX loads the receive framing counters for a new frame.
func (a *ACIA) prepareRX() {
	p := a.params()
	a.rsr = 0
	a.rxParity = 0
	a.rxBitsLeft = uint8(p.DataBits)
	a.rxDataBits = uint8(p.DataBits)
	a.rxStopLeft = uint8(p.StopBits)
}

// ClockTX emits one bit on the TX line. Bit 0 of TSR goes out first, then
// TSR shifts right.
func (a *ACIA) ClockTX() {
	if a.MasterResetRequested() {
		a.setTX(1)
		return
	}

	switch a.txState {
	case stateIdle:
		// If TSR is empty but a byte is waiting in TDR, commit it now so
		// this tick emits its start bit.
		if a.txBitsLeft == 0 && a.sr&SRBitTDRE == 0 {
			a.prepareTX()
			a.updateIRQ()
		}

		if a.txBitsLeft == 0 {
			a.setTX(1) // mark level while idle
		} else {
			a.setTX(0) // start bit
			a.txState = stateData
		}

	case stateData:
		bit := a.tsr & 1
		a.setTX(bit)
		a.txParity ^= bit
		a.tsr >>= 1
		a.txBitsLeft--

		if a.txBitsLeft == 0 {
			if a.params().Parity != ParityNone {
				a.txState = stateParity
			} else {
				a.txState = stateStop
			}
		}

	case stateParity:
		if a.params().Parity == ParityEven {
			a.setTX(a.txParity)
		} else {
			a.setTX(^a.txParity & 1)
		}
		a.txState = stateStop

	case stateStop:
		a.setTX(1)
		a.txStopLeft--
		if a.txStopLeft == 0 {
			a.txState = stateIdle
		}
	}
}

// ClockRX consumes one bit from the RX line. Incoming bits land in bit 7 of
// RSR, then RSR shifts right, so the first bit received ends up as the LSB.
func (a *ACIA) ClockRX() {
	if a.MasterResetRequested() {
		return
	}

	rxBit := uint8(1)
	if a.GetLineRX != nil {
		rxBit = a.GetLineRX() & 1
	}

	switch a.rxState {
	case stateIdle:
		if rxBit == 0 { // start bit
			a.prepareRX()
			a.rxState = stateData
		}

	case stateData:
		if rxBit != 0 {
			a.rsr |= 0x80
		}
		a.rxParity ^= rxBit
		a.rxBitsLeft--

		if a.rxBitsLeft > 0 {
			a.rsr >>= 1
		} else {
			if a.rxDataBits == 7 {
				a.rsr >>= 1 // right justify 7 bit data
			}
			if a.sr&SRBitRDRF != 0 {
				// RDR still unread; the overrun is reported when RDR is
				// next read.
				a.rxOverrun = true
			}
			if a.params().Parity != ParityNone {
				a.rxState = stateParity
			} else {
				a.rxState = stateStop
			}
		}

	case stateParity:
		if a.params().Parity == ParityEven {
			if a.rxParity != rxBit {
				a.sr |= SRBitPE
			}
		} else if a.rxParity == rxBit {
			a.sr |= SRBitPE
		}
		a.rxState = stateStop

	case stateStop:
		if rxBit == 1 {
			a.rxStopLeft--
			if a.rxStopLeft == 0 {
				a.sr &^= SRBitFE
				a.completeRX()
			}
		} else {
			// Missing stop bit: framing error, but RSR is still copied to
			// RDR (per the A6850 doc).
			a.sr |= SRBitFE
			a.completeRX()
		}
	}
}

func (a *ACIA) completeRX() {
	a.rdr = a.rsr
	a.sr |= SRBitRDRF
	a.rxState = stateIdle
	a.updateIRQ()
}

// Tick runs one bit clock for both directions. TX is clocked first so a
// looped back line presents this tick's output to the receiver.
func (a *ACIA) Tick() {
	a.ClockTX()
	a.ClockRX()
}

func (a *ACIA) setTX(bit uint8) {
	if a.SetLineTX != nil {
		a.SetLineTX(bit)
	}
}

// updateIRQ recomputes the SR IRQ bit from the enable bits in CR and
// propagates the line.
func (a *ACIA) updateIRQ() {
	rxIntEnabled := a.cr&0x80 != 0
	txIntEnabled := (a.cr>>5)&0x03 == 0x01

	irq := false
	if rxIntEnabled && a.sr&SRBitRDRF != 0 {
		irq = true
	}
	if txIntEnabled && a.sr&SRBitTDRE != 0 {
		irq = true
	}

	if irq {
		a.sr |= SRBitIRQ
	} else {
		a.sr &^= SRBitIRQ
	}

	if a.ChangeIRQ != nil {
		a.ChangeIRQ(irq)
	}
}

// IRQAsserted reports the state of the IRQ output.
func (a *ACIA) IRQAsserted() bool {
	return a.sr&SRBitIRQ != 0
}

// Snapshot returns every architectural field in fixed order.
type Snapshot struct {
	CR, SR, TDR, RDR, TSR, RSR uint8
	TXState, RXState           uint8
	TXBitsLeft, RXBitsLeft     uint8
	TXStopLeft, RXStopLeft     uint8
	TXParity, RXParity         uint8
	RXDataBits                 uint8
	TDRNew                     bool
	RXOverrun                  bool
}

// Capture copies the ACIA state for a snapshot.
func (a *ACIA) Capture() Snapshot {
	return Snapshot{
		CR: a.cr, SR: a.sr, TDR: a.tdr, RDR: a.rdr, TSR: a.tsr, RSR: a.rsr,
		TXState: uint8(a.txState), RXState: uint8(a.rxState),
		TXBitsLeft: a.txBitsLeft, RXBitsLeft: a.rxBitsLeft,
		TXStopLeft: a.txStopLeft, RXStopLeft: a.rxStopLeft,
		TXParity: a.txParity, RXParity: a.rxParity,
		RXDataBits: a.rxDataBits,
		TDRNew:     a.tdrNew, RXOverrun: a.rxOverrun,
	}
}

// Restore overwrites the ACIA state from a snapshot.
func (a *ACIA) Restore(s Snapshot) {
	a.cr, a.sr, a.tdr, a.rdr, a.tsr, a.rsr = s.CR, s.SR, s.TDR, s.RDR, s.TSR, s.RSR
	a.txState, a.rxState = state(s.TXState), state(s.RXState)
	a.txBitsLeft, a.rxBitsLeft = s.TXBitsLeft, s.RXBitsLeft
	a.txStopLeft, a.rxStopLeft = s.TXStopLeft, s.RXStopLeft
	a.txParity, a.rxParity = s.TXParity, s.RXParity
	a.rxDataBits = s.RXDataBits
	a.tdrNew, a.rxOverrun = s.TDRNew, s.RXOverrun
}
