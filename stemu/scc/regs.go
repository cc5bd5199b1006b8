package scc

import "log/slog"

// Register access decode. Each channel answers on two odd addresses:
// control (active_reg indirection) and data (RR8/WR8 shortcut). A control
// write with active_reg=0 selects the next register from bits 0-2 and may
// execute a command from bits 3-5 plus a CRC reset code from bits 6-7.

// readDataReg reads RR8 and drops the RX pending state. The real part has a
// 3 byte deep RX FIFO; we emulate depth 1, so the available bit clears on
// the first read.
func (s *SCC) readDataReg(chn int) uint8 {
	s.rr0Clear(chn, rr0RxCharAvailable)
	s.intSourcesClear(chn, intSrcRxCharAvailable)

	return s.chn[chn].rr[8]
}

// writeDataReg stores a byte for transmission. When the transmitter is
// disabled or the shift register is free the byte moves to TSR at once
// (the copy takes ~3 PCLKs on hardware); otherwise it waits for the current
// frame to finish.
func (s *SCC) writeDataReg(chn int, value uint8) {
	c := &s.chn[chn]
	c.wr[8] = value

	if c.wr[5]&wr5TxEnable == 0 || !c.tsrFull {
		s.copyTDRtoTSR(chn, value)
	} else {
		s.rr0Clear(chn, rr0TxBufferEmpty)
		s.intSourcesClear(chn, intSrcTxBufferEmpty)
	}

	c.txBufferWritten = true // allow TBE interrupts later
}

// copyTDRtoTSR loads the shift register and marks the buffer empty again.
func (s *SCC) copyTDRtoTSR(chn int, tdr uint8) {
	c := &s.chn[chn]
	c.tsr = tdr
	c.tsrFull = true

	c.rr[1] &^= rr1AllSent // new TSR to send
	s.rr0Set(chn, rr0TxBufferEmpty)
	s.intSourcesSet(chn, intSrcTxBufferEmpty)
}

// readControl reads the register selected by the shared pointer.
func (s *SCC) readControl(chn int) uint8 {
	c := &s.chn[chn]
	var value uint8

	switch s.activeReg {
	case 0, 4: // RR0 (RR4 mirrors it)
		s.updateRR0(chn)
		value = c.rr[0]

	case 1, 5: // RR1 (RR5 mirrors it)
		value = c.rr[1]

	case 2:
		// Interrupt vector; performs the IACK sequence in software
		// acknowledge mode.
		s.updateRR2()
		if s.chn[0].wr[9]&wr9SoftIntack != 0 {
			s.doIACK()
		}
		value = c.rr[2] // RR2A plain, RR2B with status bits

	case 3:
		if chn == 0 {
			value = s.chn[0].rr[3]
		}

	case 6, 7:
		if s.chn[0].wr[15]&wr15StatusFIFOEnable != 0 {
			value = c.rr[s.activeReg] // SDLC frame counts, unused here
		} else {
			value = s.chn[0].rr[s.activeReg-4] // mirrors RR2/RR3
		}

	case 8:
		value = s.readDataReg(chn)

	case 10, 14: // DPLL/SDLC status
		value = c.rr[10]

	case 12:
		value = c.wr[12]

	case 13, 9: // RR9 mirrors RR13
		value = c.wr[13]

	case 15, 11: // RR11 mirrors RR15
		value = c.wr[15] & 0xFA // D2 and D0 never read back

	default:
		slog.Debug("scc: unprocessed register read", "reg", s.activeReg)
	}

	slog.Debug("scc: read control", "channel", chn, "reg", s.activeReg, "value", value)
	return value
}

// writeControl writes the register selected by the shared pointer, or, with
// the pointer at 0, selects a register and/or executes a command.
func (s *SCC) writeControl(chn int, value uint8) {
	if s.activeReg == 0 {
		if value <= 15 {
			s.activeReg = int(value & 0x0F)
			return
		}

		command := (value >> 3) & 7
		s.activeReg = int(value & 0x07)
		if command == cmdPointHigh {
			s.activeReg |= 8
		}
		switch command {
		case cmdNull, cmdPointHigh:
			// Register selection only, done above.

		case cmdResetExtStatus:
			// Remove the RR0 latches and allow the interrupt again.
			if chn == 1 {
				s.updateRR3Bit(false, rr3ExtIPB)
			} else {
				s.updateRR3Bit(false, rr3ExtIPA)
			}
			s.rr0LatchOff(chn)
			s.updateRR3(chn)
			s.updateIRQ()

		case cmdSendAbort, cmdIntNextRx:
			// Not emulated.

		case cmdResetTxIP:
			s.chn[chn].txBufferWritten = false
			if chn == 1 {
				s.chn[0].rr[3] &^= rr3TxIPB
			} else {
				s.chn[0].rr[3] &^= rr3TxIPA
			}
			s.updateIRQ()

		case cmdErrorReset:
			s.chn[chn].rr[1] &^= rr1ParityError | rr1RxOverrunError | rr1CRCFramingError
			s.intSourcesClear(chn, intSrcRxParityError|intSrcRxOverrun|intSrcRxFramingError)

		case cmdResetHighIUS:
			for i := 5; i >= 0; i-- {
				if s.ius&(1<<i) != 0 {
					s.ius &^= 1 << i
					break
				}
			}
			s.updateIRQ()
		}
		return
	}

	c := &s.chn[chn]
	slog.Debug("scc: write control", "channel", chn, "reg", s.activeReg, "value", value)

	// WR7' shares the register address with WR7 when WR15 bit 0 is set.
	if s.activeReg == 7 && c.wr[15]&wr15WR7Prime != 0 {
		c.wr7p = value
	} else {
		c.wr[s.activeReg] = value
	}

	switch s.activeReg {
	case 1: // TX/RX interrupt enables
		s.updateRR3(chn)
		s.updateIRQ()

	case 2: // interrupt vector, common to both channels
		s.chn[0].wr[2] = value

	case 3: // receive parameters
		switch (value >> 6) & 3 {
		case 0x00:
			c.rxBits = 5
		case 0x02:
			c.rxBits = 6
		case 0x01:
			c.rxBits = 7
		case 0x03:
			c.rxBits = 8
		}

	case 4: // parity, stop bits, clock mode
		if value&wr4ParityEnable != 0 {
			c.parityBits = 1
		} else {
			c.parityBits = 0
		}
		switch (value >> 2) & 3 {
		case 0x00:
			c.stopBits = 0 // synchronous modes
		case 0x01:
			c.stopBits = 1
		case 0x02:
			c.stopBits = 1.5
		case 0x03:
			c.stopBits = 2
		}
		if (value>>2)&3 != 0 {
			// Asynchronous modes hold TX underrun set.
			s.rr0Set(chn, rr0TxUnderrunEOM)
		}
		s.updateBaudRate(chn)

	case 5: // transmit parameters and modem lines
		c.port.SetRTS(value&wr5RTS != 0)
		c.port.SetBreak(value&wr5SendBreak != 0)
		switch (value >> 6) & 3 {
		case 0x00:
			c.txBits = 5
		case 0x02:
			c.txBits = 6
		case 0x01:
			c.txBits = 7
		case 0x03:
			c.txBits = 8
		}
		c.port.SetDTR(value&wr5DTR != 0)

	case 8:
		s.writeDataReg(chn, value)

	case 9: // master interrupt control, common to both channels
		s.chn[0].wr[9] = value
		if value&wr9MIE == 0 {
			// Clearing MIE resets IUS and IRQ.
			s.ius = 0
		}
		switch (value >> 6) & 3 {
		case resetForceHW:
			s.resetFull(false)
		case resetChanA:
			s.resetChannel(0, false)
		case resetChanB:
			s.resetChannel(1, false)
		case resetNull:
			// Null command; invalid codes cannot occur in 2 bits.
		}
		s.updateIRQ()

	case 11, 12, 13, 14: // clock mode / BRG time constant / BRG control
		s.updateBaudRate(chn)

	case 15: // external status interrupt enables
		if value&wr15ZeroCountIE == 0 {
			s.rr0Clear(chn, rr0ZeroCount)
		}
		s.updateRR3(chn)
		s.updateIRQ()
	}

	s.activeReg = 0 // next access addresses RR0/WR0
}

// ReadByte services a byte read in the SCC address range. Only odd
// addresses are wired; bit 2 selects the channel, bit 1 control vs data.
func (s *SCC) ReadByte(address uint32) uint8 {
	if address&1 == 0 {
		return 0xFF
	}

	chn := int(address>>2) & 1

	var value uint8
	if address&2 != 0 {
		value = s.readDataReg(chn)
	} else {
		value = s.readControl(chn)
	}

	s.activeReg = 0
	return value
}

// WriteByte services a byte write in the SCC address range.
func (s *SCC) WriteByte(address uint32, value uint8) {
	if address&1 == 0 {
		return
	}

	chn := int(address>>2) & 1

	if address&2 != 0 {
		s.writeDataReg(chn, value)
	} else {
		s.writeControl(chn, value)
	}
}

// processTX sends the shift register to the host port and reloads it from
// the data buffer. With both empty the transmitter underruns and the TxD
// pin stays at its latest stop bit state.
func (s *SCC) processTX(chn int) {
	c := &s.chn[chn]

	if c.rr[0]&rr0TxBufferEmpty != 0 && !c.tsrFull {
		return
	}

	if c.tsrFull && c.wr[5]&wr5TxEnable != 0 {
		c.port.WriteByte(c.tsr)
		c.tsrFull = false
		c.rr[1] |= rr1AllSent
	}

	if c.rr[0]&rr0TxBufferEmpty == 0 {
		s.copyTDRtoTSR(chn, c.wr[8])
	}
}

// processRX attempts a non blocking receive into RR8. A byte arriving while
// the previous one is unread raises the overrun error: the hardware FIFO is
// 3 deep but we emulate depth 1.
func (s *SCC) processRX(chn int) {
	c := &s.chn[chn]
	if c.wr[3]&wr3RxEnable == 0 {
		return
	}

	value, ok := c.port.ReadByte()
	if !ok {
		return
	}

	c.rr[8] = value
	if c.rr[0]&rr0RxCharAvailable != 0 {
		c.rr[1] |= rr1RxOverrunError
		s.intSourcesSet(chn, intSrcRxOverrun)
	} else {
		s.rr0Set(chn, rr0RxCharAvailable)
		s.intSourcesSet(chn, intSrcRxCharAvailable)
	}
}

// startBRGEvent arms the BRG rollover event for a channel.
func (s *SCC) startBRGEvent(chn int, internalOffset int64) {
	if s.chn[chn].baudBRG <= 0 {
		return
	}
	cycles := s.cpuFreq / int64(s.chn[chn].baudBRG)
	s.events.Start(eventBRG(chn), cycles, internalOffset)
}

// startCharEvent arms the per character frame event: the duration covers
// start + data + parity + stop bit times at the channel baud rate.
func (s *SCC) startCharEvent(chn int, isTX bool, internalOffset int64) {
	c := &s.chn[chn]

	var baud int
	var dataBits float64
	var ev EventKind
	if isTX {
		baud = c.baudTX
		dataBits = float64(c.txBits)
		ev = eventTXRX(chn)
	} else {
		baud = c.baudRX
		dataBits = float64(c.rxBits)
		ev = eventRX(chn)
	}

	if baud <= 0 {
		return
	}

	bitCycles := s.cpuFreq / int64(baud)
	totalBits := dataBits + 1 + float64(c.parityBits) + c.stopBits
	cycles := int64(float64(bitCycles) * totalBits)

	s.events.Start(ev, cycles, internalOffset)
}

// HandleBRG services the BRG rollover: restart the timer compensating the
// overshoot, then pulse the zero count external status. Emulating the ZC
// bit per count would be far too slow, so it is set, the interrupt state
// updated, and cleared again immediately.
func (s *SCC) HandleBRG(chn int, overshootInternal int64) {
	s.startBRGEvent(chn, overshootInternal)

	s.rr0Set(chn, rr0ZeroCount)
	s.intSourcesSet(chn, intSrcExtZeroCount)
	s.rr0Clear(chn, rr0ZeroCount)
	s.intSourcesClearNoUpdate(chn, intSrcExtZeroCount)
}

// HandleTXRX services the character frame event: restart, transmit, and,
// while TX and RX share a baud rate, receive too (one timer serves both).
func (s *SCC) HandleTXRX(chn int, overshootInternal int64) {
	s.startCharEvent(chn, true, overshootInternal)

	s.processTX(chn)
	if s.chn[chn].baudTX == s.chn[chn].baudRX {
		s.processRX(chn)
	}
}

// HandleRX services the dedicated RX event used when RX and TX baud rates
// differ.
func (s *SCC) HandleRX(chn int, overshootInternal int64) {
	s.startCharEvent(chn, false, overshootInternal)
	s.processRX(chn)
}

// doIACK runs the acknowledge sequence shared by the software and hardware
// paths: drop IRQ, set the IUS bit of the highest pending interrupt, and
// build the vector.
func (s *SCC) doIACK() int {
	s.setLineIRQ(false)

	for i := 5; i >= 0; i-- {
		if s.chn[0].rr[3]&(1<<i) != 0 {
			s.ius |= 1 << i
			break
		}
	}

	s.updateRR2()
	if s.chn[0].wr[9]&wr9VIS != 0 {
		return int(s.chn[1].rr[2]) // vector including status bits
	}
	return int(s.chn[0].rr[2])
}

// ProcessIACK is called by the CPU during a level 5 interrupt acknowledge
// cycle. It returns -1 in No Vector mode, meaning autovector.
func (s *SCC) ProcessIACK() int {
	vector := s.doIACK()
	if s.chn[0].wr[9]&wr9NV != 0 {
		return -1
	}
	return vector
}

// IUS returns the interrupt-under-service bits (tests/diagnostics).
func (s *SCC) IUS() uint8 { return s.ius }

// RR3 returns the channel A interrupt pending register.
func (s *SCC) RR3() uint8 { return s.chn[0].rr[3] }
