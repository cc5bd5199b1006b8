package scu

import (
	"log/slog"

	"github.com/valerio/go-stemu/stemu/addr"
)

// VME SCU (MegaSTE/TT system control unit). Mostly a register block: the
// interrupt routing sits between the board and the VME bus, and only the
// pieces the machine firmware actually touches are modeled. Interrupt state
// registers are read only; the interrupter bits latch their IRQ request.

// SCU holds the register block at 0xFF8E01-0xFF8E0F (odd bytes).
type SCU struct {
	sysIntMask     uint8 // FF8E01, bits 1-7 mask IRQ 0-6
	sysIntState    uint8 // FF8E03, read only
	sysInterrupter uint8 // FF8E05, bit 0 raises IRQ1
	vmeInterrupter uint8 // FF8E07, bit 0 raises IRQ3
	gpr1           uint8 // FF8E09
	gpr2           uint8 // FF8E0B
	vmeIntMask     uint8 // FF8E0D
	vmeIntState    uint8 // FF8E0F, read only
}

// New creates a reset SCU.
func New() *SCU {
	s := &SCU{}
	s.Reset()
	return s
}

// Reset clears all SCU registers. GPR1 keeps the value TOS v2/v3 expect to
// find after reset.
func (s *SCU) Reset() {
	s.sysIntMask = 0
	s.sysIntState = 0
	s.sysInterrupter = 0
	s.vmeInterrupter = 0
	s.gpr1 = 0
	s.gpr2 = 0
	s.vmeIntMask = 0
	s.vmeIntState = 0

	// TOS v2/v3 crash on MegaSTE/TT unless general register 1 reads back
	// this value.
	s.gpr1 = 0x01
}

// ReadByte services a byte read in the SCU range.
func (s *SCU) ReadByte(address uint32) uint8 {
	switch address {
	case addr.ScuSysIntMask:
		return s.sysIntMask
	case addr.ScuSysIntState:
		return s.sysIntState
	case addr.ScuSysInterrupter:
		return s.sysInterrupter
	case addr.ScuVmeInterrupter:
		return s.vmeInterrupter
	case addr.ScuGPR1:
		return s.gpr1
	case addr.ScuGPR2:
		return s.gpr2
	case addr.ScuVmeIntMask:
		return s.vmeIntMask
	case addr.ScuVmeIntState:
		return s.vmeIntState
	}
	return 0xFF
}

// WriteByte services a byte write in the SCU range. Writes to the state
// registers are ignored (they are read only).
func (s *SCU) WriteByte(address uint32, value uint8) {
	switch address {
	case addr.ScuSysIntMask:
		s.sysIntMask = value
	case addr.ScuSysIntState, addr.ScuVmeIntState:
		slog.Debug("scu: write to read-only state register", "addr", address, "value", value)
	case addr.ScuSysInterrupter:
		s.sysInterrupter = value
		slog.Debug("scu: system interrupter", "irq1", value&1 != 0)
	case addr.ScuVmeInterrupter:
		s.vmeInterrupter = value
		slog.Debug("scu: vme interrupter", "irq3", value&1 != 0)
	case addr.ScuGPR1:
		s.gpr1 = value
	case addr.ScuGPR2:
		s.gpr2 = value
	case addr.ScuVmeIntMask:
		s.vmeIntMask = value
	}
}

// Snapshot carries the register block.
type Snapshot struct {
	SysIntMask     uint8
	SysIntState    uint8
	SysInterrupter uint8
	VmeInterrupter uint8
	GPR1           uint8
	GPR2           uint8
	VmeIntMask     uint8
	VmeIntState    uint8
}

// Capture copies the SCU registers.
func (s *SCU) Capture() Snapshot {
	return Snapshot{
		SysIntMask:     s.sysIntMask,
		SysIntState:    s.sysIntState,
		SysInterrupter: s.sysInterrupter,
		VmeInterrupter: s.vmeInterrupter,
		GPR1:           s.gpr1,
		GPR2:           s.gpr2,
		VmeIntMask:     s.vmeIntMask,
		VmeIntState:    s.vmeIntState,
	}
}

// Restore overwrites the SCU registers.
func (s *SCU) Restore(snap Snapshot) {
	s.sysIntMask = snap.SysIntMask
	s.sysIntState = snap.SysIntState
	s.sysInterrupter = snap.SysInterrupter
	s.vmeInterrupter = snap.VmeInterrupter
	s.gpr1 = snap.GPR1
	s.gpr2 = snap.GPR2
	s.vmeIntMask = snap.VmeIntMask
	s.vmeIntState = snap.VmeIntState
}
