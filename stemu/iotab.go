package stemu

import (
	"log/slog"

	"github.com/valerio/go-stemu/stemu/addr"
	"github.com/valerio/go-stemu/stemu/iomem"
	"github.com/valerio/go-stemu/stemu/machine"
)

// Per machine I/O dispatch table construction. Every byte of the hardware
// region starts on a bus error stub; the devices present on the selected
// machine claim their addresses, and the rest keeps faulting like on the
// real bus.

func (c *Core) buildIOTable() *iomem.Table {
	t := iomem.New(func(address uint32, isWrite bool) {
		if c.BusError != nil {
			c.BusError(address, isWrite)
		}
	})

	c.registerACIAs(t)

	if c.Machine.HasDMASound() {
		c.registerDMASound(t)

		// Blitter register block: the blitter is an external collaborator
		// but its registers decode on the bus.
		t.SetRAMRegion(addr.BlitterStart, addr.BlitterEnd)
	}

	if c.Machine.HasSCC() {
		c.registerSCC(t)
	}

	if c.Machine.HasSCU() {
		c.registerSCU(t)
	}

	if c.Machine == machine.MegaSTE {
		t.Register(addr.MegaSteCpuSpeed, 1, c.readCPUSpeed, c.writeCPUSpeed)
	}

	return t
}

// The keyboard and MIDI ACIAs answer on the even addresses of
// 0xFFFC00-0xFFFC07: control/status, then data, per chip.
func (c *Core) registerACIAs(t *iomem.Table) {
	t.Register(addr.AciaKbdCtrl, 1,
		func(uint32) uint8 { return c.KeyboardACIA.ReadSR() },
		func(_ uint32, v uint8) { c.KeyboardACIA.WriteCR(v) })
	t.Register(addr.AciaKbdData, 1,
		func(uint32) uint8 { return c.KeyboardACIA.ReadRDR() },
		func(_ uint32, v uint8) { c.KeyboardACIA.WriteTDR(v) })
	t.Register(addr.AciaMidiCtrl, 1,
		func(uint32) uint8 { return c.MidiACIA.ReadSR() },
		func(_ uint32, v uint8) { c.MidiACIA.WriteCR(v) })
	t.Register(addr.AciaMidiData, 1,
		func(uint32) uint8 { return c.MidiACIA.ReadRDR() },
		func(_ uint32, v uint8) { c.MidiACIA.WriteTDR(v) })
}

func (c *Core) registerDMASound(t *iomem.Table) {
	span := int(addr.MicrowireMask + 2 - addr.DmaSndControl)
	t.Register(addr.DmaSndControl, span, c.DMASound.ReadByte, c.DMASound.WriteByte)

	// The rest of the block up to 0xFF893F reads back as void.
	t.SetVoidRegion(addr.MicrowireMask+2, 0xFF893F)
}

func (c *Core) registerSCC(t *iomem.Table) {
	t.Register(addr.SccStart, int(addr.SccEnd-addr.SccStart+1), c.SCC.ReadByte, c.SCC.WriteByte)
}

// Only the odd bytes of the SCU block are wired; the even neighbours stay
// on the bus error stubs (word accesses still work through the partial
// overlap rule).
func (c *Core) registerSCU(t *iomem.Table) {
	for a := addr.ScuSysIntMask; a <= addr.ScuVmeIntState; a += 2 {
		t.Register(a, 1, c.SCU.ReadByte, c.SCU.WriteByte)
	}
}

func (c *Core) readCPUSpeed(uint32) uint8 {
	return c.cpuSpeedReg
}

// MegaSTE CPU speed / cache register. The selection is latched for the CPU
// collaborator to pick up; deadlines already in the scheduler keep their
// absolute expiration times.
func (c *Core) writeCPUSpeed(_ uint32, value uint8) {
	c.cpuSpeedReg = value & 0x03
	slog.Debug("core: megaste cpu speed", "value", c.cpuSpeedReg,
		"freq16", c.cpuSpeedReg&0x02 != 0)
}

// CPUSpeed16MHz reports the MegaSTE speed selection.
func (c *Core) CPUSpeed16MHz() bool {
	return c.cpuSpeedReg&0x02 != 0
}
