package scc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valerio/go-stemu/stemu/addr"
	"github.com/valerio/go-stemu/stemu/machine"
)

// fakeEvents records Start/Stop calls.
type fakeEvents struct {
	started map[EventKind]int64 // latest cpu cycle delay per event
	stopped map[EventKind]bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{started: map[EventKind]int64{}, stopped: map[EventKind]bool{}}
}

func (f *fakeEvents) Start(ev EventKind, cpuCycles int64, internalOffset int64) {
	f.started[ev] = cpuCycles
	delete(f.stopped, ev)
}

func (f *fakeEvents) Stop(ev EventKind) {
	f.stopped[ev] = true
	delete(f.started, ev)
}

// fakePort records writes and the configured baud rate.
type fakePort struct {
	LogSink
	baud int
}

func (p *fakePort) SetBaudRate(baud int) { p.baud = baud }

func newSCC(t *testing.T) (*SCC, *fakeEvents, *bool) {
	t.Helper()
	ev := newFakeEvents()
	irq := false
	s := New(machine.MegaSTE, ev, func(on bool) { irq = on })
	return s, ev, &irq
}

// writeReg programs one SCC register through the control port.
func writeReg(s *SCC, chn int, reg, value uint8) {
	ctrl := uint32(addr.SccCtrlA)
	if chn == 1 {
		ctrl = addr.SccCtrlB
	}
	s.WriteByte(ctrl, reg)
	s.WriteByte(ctrl, value)
}

// readReg reads one SCC register through the control port.
func readReg(s *SCC, chn int, reg uint8) uint8 {
	ctrl := uint32(addr.SccCtrlA)
	if chn == 1 {
		ctrl = addr.SccCtrlB
	}
	s.WriteByte(ctrl, reg)
	return s.ReadByte(ctrl)
}

func TestBaudSnapping9600(t *testing.T) {
	// PCLK 8021248 Hz, BRG from PCLK, x16 clock mode, T=24:
	// 8021248 / (2*26*16) = 9641.4, which must snap to 9600.
	s, ev, _ := newSCC(t)
	port := &fakePort{}
	s.AttachPort(1, port)

	writeReg(s, 1, 4, 0x44) // x16, 1 stop bit
	writeReg(s, 1, 12, 24)  // time constant low
	writeReg(s, 1, 13, 0)   // time constant high
	writeReg(s, 1, 11, 0x50) // TX and RX clock from BRG
	writeReg(s, 1, 14, 0x03) // BRG enable, source PCLK

	baud, startBRG, baudBRG := s.computeBaudRate(1)
	assert.Equal(t, 9641, baud, "nominal baud rate")
	assert.True(t, startBRG)
	assert.Equal(t, 9641, baudBRG)

	assert.Equal(t, 9600, port.baud, "host port must be configured to the snapped rate")
	assert.Contains(t, ev.started, EventTXRXB, "character frame timer must run")
	assert.Contains(t, ev.started, EventBRGB, "BRG timer must run")
}

func TestStandardRatesReachable(t *testing.T) {
	// Every standard rate must be encodable through some clock source and
	// multiplier so that the computed rate snaps back to it exactly.
	s, _, _ := newSCC(t)

	clocks := []struct {
		freq int
		wr14 uint8
	}{
		{machine.SCCFreqPCLK, 0x03},  // BRG from PCLK
		{machine.SCCFreqPCLK4, 0x01}, // BRG from RTxC
	}
	mults := []struct {
		mult int
		wr4  uint8
	}{
		{1, 0x04}, {16, 0x44}, {32, 0x84}, {64, 0xC4},
	}

	for _, want := range standardBaudRates {
		found := false
		for _, clk := range clocks {
			for _, m := range mults {
				tc := (clk.freq+want*m.mult)/(2*want*m.mult) - 2
				if tc < 0 || tc > 0xFFFF {
					continue
				}
				writeReg(s, 0, 4, m.wr4)
				writeReg(s, 0, 12, uint8(tc))
				writeReg(s, 0, 13, uint8(tc>>8))
				writeReg(s, 0, 11, 0x50)
				writeReg(s, 0, 14, clk.wr14)

				baud, _, _ := s.computeBaudRate(0)
				if snapStandardBaudRate(baud) == want {
					found = true
				}
			}
		}
		assert.True(t, found, "rate %d must round trip through some encoding", want)
	}
}

func TestSnapMargin(t *testing.T) {
	assert.Equal(t, 9600, snapStandardBaudRate(9641))
	assert.Equal(t, 9600, snapStandardBaudRate(9505))
	assert.Equal(t, -1, snapStandardBaudRate(10000))
	assert.Equal(t, 50, snapStandardBaudRate(53), "low rates use a 4 baud margin")
	assert.Equal(t, -1, snapStandardBaudRate(55))
}

func TestHardwareResetMasks(t *testing.T) {
	s, _, _ := newSCC(t)

	assert.Equal(t, uint8(0xC0), s.chn[0].wr[9]&0xC0)
	for c := 0; c < 2; c++ {
		assert.Equal(t, uint8(0xF8), s.chn[c].wr[15], "WR15 reset value")
		assert.Equal(t, uint8(0x20), s.chn[c].wr7p, "WR7' reset value")
		assert.Equal(t, uint8(0x08), s.chn[c].wr[11], "WR11 hardware reset value")
		assert.Equal(t, uint8(0x44), s.chn[c].rr[0]&0x47, "TX empty and underrun set after reset")
		assert.Equal(t, uint8(0x06), s.chn[c].rr[1]&0x06)
		assert.Zero(t, s.chn[c].rr[3])
		assert.False(t, s.chn[c].tsrFull)
	}
	assert.Zero(t, s.IUS())
	assert.False(t, s.IRQAsserted())
}

func TestSoftwareChannelResetKeepsBits(t *testing.T) {
	s, _, _ := newSCC(t)

	writeReg(s, 0, 1, 0xFF)
	writeReg(s, 0, 5, 0xFF)
	writeReg(s, 0, 10, 0xFF)

	// WR9 command 10: reset channel A.
	writeReg(s, 0, 9, resetChanA<<6)

	assert.Equal(t, uint8(0x24), s.chn[0].wr[1], "channel reset keeps WR1 bits 2 and 5")
	assert.Equal(t, uint8(0x61), s.chn[0].wr[5], "channel reset keeps WR5 bits 0, 5 and 6")
	assert.Equal(t, uint8(0x60), s.chn[0].wr[10], "software reset keeps WR10 bits 5 and 6")
}

func TestVectorStatusEncoding(t *testing.T) {
	// Property: for every priority and every Status High/Low setting the
	// status bits land at the documented positions.
	cases := []struct {
		rr3    uint8
		status uint8
	}{
		{rr3RxIPA, 6},
		{rr3TxIPA, 4},
		{rr3ExtIPA, 5},
		{rr3RxIPB, 2},
		{rr3TxIPB, 0},
		{rr3ExtIPB, 1},
		{0, 3}, // nothing pending: Ch B Special Receive Condition
	}

	for _, tc := range cases {
		for _, high := range []bool{false, true} {
			t.Run(fmt.Sprintf("rr3_%02X_high_%v", tc.rr3, high), func(t *testing.T) {
				s, _, _ := newSCC(t)
				s.chn[0].wr[2] = 0x60 // base vector
				s.chn[0].rr[3] = tc.rr3
				if high {
					s.chn[0].wr[9] |= wr9StatusHighLow
				} else {
					s.chn[0].wr[9] &^= wr9StatusHighLow
				}

				s.updateRR2()

				assert.Equal(t, uint8(0x60), s.chn[0].rr[2], "RR2A is the plain vector")

				got := s.chn[1].rr[2]
				if high {
					reversed := (tc.status&1)<<2 | (tc.status & 2) | (tc.status&4)>>2
					assert.Equal(t, 0x60&0x8F|reversed<<4, got)
				} else {
					assert.Equal(t, uint8(0x60&0xF1|tc.status<<1), got)
				}
			})
		}
	}
}

// pendRxA makes channel A's receiver pend an interrupt.
func pendRxA(s *SCC, sink *LogSink) {
	writeReg(s, 0, 1, 0x10)  // RX int on all chars
	writeReg(s, 0, 3, 0x01|0xC0) // RX enable, 8 bits
	sink.Feed(0x5A)
	s.processRX(0)
}

// pendTxB makes channel B's transmitter pend an interrupt: the TBE
// interrupt fires when a queued byte moves into the shift register.
func pendTxB(s *SCC) {
	writeReg(s, 1, 1, wr1TxIntEnable)
	writeReg(s, 1, 5, 0xC0|wr5TxEnable) // 8 bits, TX enable
	s.WriteByte(addr.SccDataB, 0x42)    // straight to TSR
	s.WriteByte(addr.SccDataB, 0x43)    // queued, buffer now full
	s.processTX(1)                      // TSR sent, queued byte copied: TBE pends
}

func TestPriorityOrderingSoftIACK(t *testing.T) {
	// Scenario: TX_B and RX_A pending with MIE=1, VIS=1 and software
	// acknowledge enabled. RR2B encodes RX_A (priority 6); the first soft
	// IACK takes it under service.
	s, _, irq := newSCC(t)
	sink := NewLogSink("a")
	s.AttachPort(0, sink)

	writeReg(s, 0, 2, 0x40) // vector base
	writeReg(s, 0, 9, wr9MIE|wr9VIS|wr9SoftIntack)

	pendTxB(s)
	pendRxA(s, sink)

	require.Equal(t, uint8(rr3RxIPA|rr3TxIPB), s.RR3())
	require.True(t, *irq, "both sources pending, IRQ asserted")

	// Soft IACK: read RR2B.
	vector := readReg(s, 1, 2)
	assert.Equal(t, uint8(0x40|6<<1), vector, "RX A status 6 in bits 1-3")
	assert.Equal(t, uint8(0x20), s.IUS(), "RX A under service")
	assert.False(t, *irq, "a higher-or-equal IUS bit masks the pending TX B")

	// The RX A handler reads the character, dropping its IP bit.
	s.ReadByte(addr.SccDataA)
	assert.Zero(t, s.RR3()&rr3RxIPA)

	// Reset Highest IUS releases the daisy chain; TX B comes through.
	writeReg(s, 0, 0, cmdResetHighIUS<<3)
	assert.Zero(t, s.IUS())
	assert.True(t, *irq, "TX B still pending after the IUS reset")

	vector = readReg(s, 1, 2)
	assert.Equal(t, uint8(0x40|0<<1), vector, "TX B status 0")
	assert.Equal(t, uint8(rr3TxIPB), s.IUS()&rr3TxIPB)
}

func TestHardIACKNoVector(t *testing.T) {
	s, _, _ := newSCC(t)
	sink := NewLogSink("a")
	s.AttachPort(0, sink)

	writeReg(s, 0, 2, 0x40)
	writeReg(s, 0, 9, wr9MIE|wr9NV)
	pendRxA(s, sink)

	assert.Equal(t, -1, s.ProcessIACK(), "No Vector mode autovectors")
	assert.Equal(t, uint8(0x20), s.IUS(), "IUS is still taken")
}

func TestHardIACKVectorWithoutVIS(t *testing.T) {
	s, _, _ := newSCC(t)
	sink := NewLogSink("a")
	s.AttachPort(0, sink)

	writeReg(s, 0, 2, 0x40)
	writeReg(s, 0, 9, wr9MIE)
	pendRxA(s, sink)

	assert.Equal(t, 0x40, s.ProcessIACK(),
		"without VIS the vector carries no status bits")
}

func TestTransmitFlow(t *testing.T) {
	s, _, _ := newSCC(t)
	sink := NewLogSink("b")
	s.AttachPort(1, sink)

	writeReg(s, 1, 4, 0x44)
	writeReg(s, 1, 5, 0xC0|wr5TxEnable)

	s.WriteByte(addr.SccDataB, 0x11)
	s.WriteByte(addr.SccDataB, 0x22) // queued behind the TSR

	s.HandleTXRX(1, 0)
	s.HandleTXRX(1, 0)

	assert.Equal(t, []uint8{0x11, 0x22}, sink.Sent())
	assert.NotZero(t, s.chn[1].rr[1]&rr1AllSent)
}

func TestReceiveOverrun(t *testing.T) {
	s, _, _ := newSCC(t)
	sink := NewLogSink("a")
	s.AttachPort(0, sink)

	writeReg(s, 0, 3, 0x01|0xC0)

	sink.Feed(0xAA, 0xBB)
	s.processRX(0)
	require.NotZero(t, s.chn[0].rr[0]&rr0RxCharAvailable)

	// Second byte before the first is read: overrun.
	s.processRX(0)
	assert.NotZero(t, s.chn[0].rr[1]&rr1RxOverrunError)

	// Error Reset clears it.
	writeReg(s, 0, 0, cmdErrorReset<<3)
	assert.Zero(t, s.chn[0].rr[1]&rr1RxOverrunError)
}

func TestExternalStatusLatching(t *testing.T) {
	s, _, _ := newSCC(t)
	sink := NewLogSink("a")
	s.AttachPort(0, sink)

	// Restrict the latches to zero count before enabling external
	// interrupts, so the steady CTS/DCD lines cannot latch first.
	writeReg(s, 0, 15, wr15ZeroCountIE)
	writeReg(s, 0, 1, wr1ExtIntEnable)

	// Zero count pulse from the BRG latches RR0 and pends Ext A.
	s.rr0Set(0, rr0ZeroCount)
	s.intSourcesSet(0, intSrcExtZeroCount)

	assert.True(t, s.chn[0].rr0Latched)
	assert.NotZero(t, s.RR3()&rr3ExtIPA)

	// Further transitions are suppressed until Reset Ext/Status Int.
	writeReg(s, 0, 0, cmdResetExtStatus<<3)
	assert.False(t, s.chn[0].rr0Latched)
	assert.Zero(t, s.RR3()&rr3ExtIPA)
}

func TestWR7PrimeSelection(t *testing.T) {
	s, _, _ := newSCC(t)

	writeReg(s, 0, 15, 0xF8|wr15WR7Prime)
	writeReg(s, 0, 7, 0x55)
	assert.Equal(t, uint8(0x55), s.chn[0].wr7p, "WR15 bit 0 routes WR7 writes to WR7'")

	writeReg(s, 0, 15, 0xF8)
	writeReg(s, 0, 7, 0x66)
	assert.Equal(t, uint8(0x66), s.chn[0].wr[7])
	assert.Equal(t, uint8(0x55), s.chn[0].wr7p)
}

func TestClearingMIEResetsIUS(t *testing.T) {
	s, _, _ := newSCC(t)
	sink := NewLogSink("a")
	s.AttachPort(0, sink)

	writeReg(s, 0, 9, wr9MIE)
	pendRxA(s, sink)
	s.ProcessIACK()
	require.NotZero(t, s.IUS())

	writeReg(s, 0, 9, 0x00)
	assert.Zero(t, s.IUS(), "clearing MIE clears IUS")
	assert.False(t, s.IRQAsserted())
}

func TestCharEventDuration(t *testing.T) {
	s, ev, _ := newSCC(t)

	writeReg(s, 1, 4, 0x44)  // 1 stop bit, x16
	writeReg(s, 1, 3, 0xC0|1) // RX 8 bits
	writeReg(s, 1, 5, 0xC0)  // TX 8 bits
	writeReg(s, 1, 12, 24)
	writeReg(s, 1, 13, 0)
	writeReg(s, 1, 11, 0x50)
	writeReg(s, 1, 14, 0x03)

	// 8 data + 1 start + 1 stop = 10 bit times at 9641 baud.
	bitCycles := int64(machine.SCCFreqPCLK) / 9641
	assert.Equal(t, bitCycles*10, ev.started[EventTXRXB])
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, _, _ := newSCC(t)
	sink := NewLogSink("a")
	s.AttachPort(0, sink)

	writeReg(s, 0, 2, 0x40)
	writeReg(s, 0, 9, wr9MIE|wr9VIS)
	writeReg(s, 0, 4, 0x44)
	writeReg(s, 0, 12, 24)
	writeReg(s, 0, 14, 0x03)
	pendRxA(s, sink)

	snap := s.Capture()

	restored, _, _ := newSCC(t)
	restored.Restore(snap)

	assert.Equal(t, snap, restored.Capture(), "snapshot round trip is lossless")
	assert.Equal(t, s.RR3(), restored.RR3())
}
