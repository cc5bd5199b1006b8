package scc

import "log/slog"

// Baud rate generation. WR12/WR13 form a 16 bit time constant T for the
// BRG; WR14 selects the BRG clock source and gates it; WR11 decides whether
// the TX/RX clocks come from RTxC, TRxC, the BRG or the DPLL (unsupported).
//
//	BaudRate = ClockFreq / (2 * (T + 2) * ClockMult)
//
// Integer division of MHz-class clocks rarely hits a POSIX rate exactly, so
// the nominal rate is snapped to the nearest standard rate within 1% before
// the host port is configured.

// Clock source selectors in WR11 bits 3-4 (TX) and 5-6 (RX).
const (
	clockSourceRTxC = 0
	clockSourceTRxC = 1
	clockSourceBRG  = 2
	clockSourceDPLL = 3
)

// clockModeMult maps WR4 bits 6-7 to the clock multiplier.
var clockModeMult = [4]int{1, 16, 32, 64}

// standardBaudRates are the POSIX rates a host port can be configured to.
var standardBaudRates = []int{
	50, 75, 110, 134, 200, 300, 600, 1200, 1800, 2400,
	4800, 9600, 19200, 38400, 57600, 115200, 230400,
}

// snapStandardBaudRate returns the standard rate a nominal baud rate lies
// within 1% of (with a 4 baud floor on the margin for the low rates), or -1
// when no standard rate matches.
func snapStandardBaudRate(baudRate int) int {
	for _, std := range standardBaudRates {
		margin := float64(std) * 0.01
		if margin < 4 {
			margin = 4
		}
		low := float64(std) - margin
		high := float64(std) + margin
		if low <= float64(baudRate) && float64(baudRate) <= high {
			return std
		}
	}
	return -1
}

// computeBaudRate derives the channel baud rate from WR4, WR11, WR12, WR13
// and WR14. It returns the TX/RX baud rate (-1 when the configuration is
// unsupported or the clock is stopped), whether the BRG should run, and the
// BRG rollover rate.
func (s *SCC) computeBaudRate(chn int) (baudRate int, startBRG bool, baudBRG int) {
	c := &s.chn[chn]

	// Sync modes force a x1 clock.
	clockMult := 1
	if c.wr[4]&0x0C != 0 {
		clockMult = clockModeMult[c.wr[4]>>6]
	}

	timeConstant := int(c.wr[13])<<8 + int(c.wr[12])

	// WR14 bit 0 gates the BRG; bit 1 selects PCLK vs RTxC as its source.
	// The BRG can run even when WR11 routes the data clocks elsewhere.
	if c.wr[14]&1 != 0 {
		startBRG = true
		clockFreq := s.mach.SCCRTxCFreq(chn)
		if c.wr[14]&2 != 0 {
			clockFreq = s.pclkFreq
		}

		div := 2 * clockMult * (timeConstant + 2)
		baudBRG = (clockFreq + div/2) / div
		if baudBRG == 0 {
			baudBRG = 1
		}

		slog.Debug("scc: brg rate", "channel", chn, "mult", clockMult,
			"tc", timeConstant, "baud", baudBRG)
	}

	txClock := int(c.wr[11]>>3) & 3
	rxClock := int(c.wr[11]>>5) & 3
	if txClock != rxClock {
		slog.Debug("scc: unsupported split tx/rx clock modes", "channel", chn,
			"tx", txClock, "rx", rxClock)
		return -1, startBRG, baudBRG
	}

	switch txClock {
	case clockSourceBRG:
		if !startBRG {
			slog.Debug("scc: clock mode BRG but BRG not enabled", "channel", chn)
			return -1, startBRG, baudBRG
		}
		baudRate = baudBRG

	case clockSourceRTxC:
		freq := s.mach.SCCRTxCFreq(chn)
		baudRate = (freq + clockMult/2) / clockMult

	case clockSourceTRxC:
		freq := s.mach.SCCTRxCFreq(chn)
		baudRate = (freq + clockMult/2) / clockMult

	default: // DPLL
		slog.Debug("scc: unsupported dpll clock mode", "channel", chn)
		return -1, startBRG, baudBRG
	}

	return baudRate, startBRG, baudBRG
}

// updateBaudRate regroups everything that happens when a baud rate related
// register changes: recompute the rate, start or stop the BRG and character
// timers, and configure the host port when the rate snaps to a standard one.
func (s *SCC) updateBaudRate(chn int) {
	c := &s.chn[chn]

	baudRate, startBRG, baudBRG := s.computeBaudRate(chn)

	if startBRG {
		c.baudBRG = baudBRG
		s.startBRGEvent(chn, 0)
	} else {
		s.events.Stop(eventBRG(chn))
	}

	c.baudTX = baudRate
	c.baudRX = baudRate

	if baudRate == -1 {
		s.events.Stop(eventTXRX(chn))
		s.events.Stop(eventRX(chn))
		return
	}

	// A single timer serves both directions while the rates match.
	s.startCharEvent(chn, true, 0)
	if c.baudTX != c.baudRX {
		s.startCharEvent(chn, false, 0)
	} else {
		s.events.Stop(eventRX(chn))
	}

	if std := snapStandardBaudRate(baudRate); std > 0 {
		c.port.SetBaudRate(std)
	}
}
