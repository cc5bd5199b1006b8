package iomem

import (
	"log/slog"

	"github.com/valerio/go-stemu/stemu/addr"
)

// Dispatch table for the hardware I/O region 0xFF8000-0xFFFFFF. Every byte
// address has a read and a write handler; unclaimed addresses point at bus
// error stubs. Word and long accesses are split into byte accesses, and a
// bus error is raised only when every byte of the access landed on a bus
// error stub: a partial overlap with real registers is legal.

// ReadHandler services a byte read at an absolute address.
type ReadHandler func(address uint32) uint8

// WriteHandler services a byte write at an absolute address.
type WriteHandler func(address uint32, value uint8)

// BusErrorSignaler is raised towards the CPU when an access faults.
// isWrite reports the faulting direction.
type BusErrorSignaler func(address uint32, isWrite bool)

// Table is the per-machine dispatch table.
type Table struct {
	read  [addr.IoSize]ReadHandler
	write [addr.IoSize]WriteHandler

	// ram backs pass-through registers (e.g. the blitter block, which is
	// an external collaborator but still decodes on the bus).
	ram [addr.IoSize]uint8

	busError BusErrorSignaler

	// busErrorAccesses counts how many bytes of the current multi-byte
	// access faulted.
	busErrorAccesses int
}

// New creates a table with the whole region faulting.
func New(busError BusErrorSignaler) *Table {
	t := &Table{busError: busError}
	t.SetBusErrorRegion(addr.IoStart, addr.IoEnd)
	return t
}

func (t *Table) index(address uint32) uint32 {
	return address - addr.IoStart
}

// SetBusErrorRegion points every byte in [start, end] at the bus error
// stubs. Odd and even addresses use distinct stubs so a word access
// overlapping a real register by one byte does not fault.
func (t *Table) SetBusErrorRegion(start, end uint32) {
	for a := start; a <= end; a++ {
		i := t.index(a)
		if a&1 != 0 {
			t.read[i] = t.busErrorOddRead
			t.write[i] = t.busErrorOddWrite
		} else {
			t.read[i] = t.busErrorEvenRead
			t.write[i] = t.busErrorEvenWrite
		}
	}
}

// SetVoidRegion makes a range read all ones and swallow writes.
func (t *Table) SetVoidRegion(start, end uint32) {
	for a := start; a <= end; a++ {
		i := t.index(a)
		t.read[i] = t.voidRead
		t.write[i] = t.voidWrite
	}
}

// SetRAMRegion backs a range with plain storage.
func (t *Table) SetRAMRegion(start, end uint32) {
	for a := start; a <= end; a++ {
		i := t.index(a)
		t.read[i] = t.ramRead
		t.write[i] = t.ramWrite
	}
}

// Register claims a span of bytes for a device handler pair. A nil read or
// write handler leaves the void stub for that direction.
func (t *Table) Register(start uint32, span int, read ReadHandler, write WriteHandler) {
	for a := start; a < start+uint32(span); a++ {
		i := t.index(a)
		if read != nil {
			t.read[i] = read
		} else {
			t.read[i] = t.voidRead
		}
		if write != nil {
			t.write[i] = write
		} else {
			t.write[i] = t.voidWrite
		}
	}
}

// Bus error stubs. They only count; the access wrappers decide whether the
// whole access faulted.
func (t *Table) busErrorEvenRead(address uint32) uint8 {
	t.busErrorAccesses++
	return 0xFF
}

func (t *Table) busErrorOddRead(address uint32) uint8 {
	t.busErrorAccesses++
	return 0xFF
}

func (t *Table) busErrorEvenWrite(address uint32, value uint8) {
	t.busErrorAccesses++
}

func (t *Table) busErrorOddWrite(address uint32, value uint8) {
	t.busErrorAccesses++
}

func (t *Table) voidRead(address uint32) uint8 {
	// Reading a void location returns all ones, like unconnected lines.
	return 0xFF
}

func (t *Table) voidWrite(address uint32, value uint8) {
	slog.Debug("iomem: write to void register", "addr", address, "value", value)
}

func (t *Table) ramRead(address uint32) uint8 {
	return t.ram[t.index(address)]
}

func (t *Table) ramWrite(address uint32, value uint8) {
	t.ram[t.index(address)] = value
}

func (t *Table) inRegion(address uint32) bool {
	return address >= addr.IoStart && address <= addr.IoEnd
}

// ReadByte dispatches a byte read.
func (t *Table) ReadByte(address uint32) uint8 {
	if !t.inRegion(address) {
		t.signalBusError(address, false)
		return 0xFF
	}

	t.busErrorAccesses = 0
	value := t.read[t.index(address)](address)
	if t.busErrorAccesses == 1 {
		t.signalBusError(address, false)
	}
	return value
}

// WriteByte dispatches a byte write.
func (t *Table) WriteByte(address uint32, value uint8) {
	if !t.inRegion(address) {
		t.signalBusError(address, true)
		return
	}

	t.busErrorAccesses = 0
	t.write[t.index(address)](address, value)
	if t.busErrorAccesses == 1 {
		t.signalBusError(address, true)
	}
}

// ReadWord dispatches a word read as two byte reads. Only a fully
// unclaimed word faults.
func (t *Table) ReadWord(address uint32) uint16 {
	if !t.inRegion(address) || !t.inRegion(address+1) {
		t.signalBusError(address, false)
		return 0xFFFF
	}

	t.busErrorAccesses = 0
	high := t.read[t.index(address)](address)
	low := t.read[t.index(address+1)](address + 1)
	if t.busErrorAccesses == 2 {
		t.signalBusError(address, false)
	}
	return uint16(high)<<8 | uint16(low)
}

// WriteWord dispatches a word write as two byte writes.
func (t *Table) WriteWord(address uint32, value uint16) {
	if !t.inRegion(address) || !t.inRegion(address+1) {
		t.signalBusError(address, true)
		return
	}

	t.busErrorAccesses = 0
	t.write[t.index(address)](address, uint8(value>>8))
	t.write[t.index(address+1)](address+1, uint8(value))
	if t.busErrorAccesses == 2 {
		t.signalBusError(address, true)
	}
}

// ReadLong dispatches a long read as four byte reads.
func (t *Table) ReadLong(address uint32) uint32 {
	if !t.inRegion(address) || !t.inRegion(address+3) {
		t.signalBusError(address, false)
		return 0xFFFFFFFF
	}

	t.busErrorAccesses = 0
	var value uint32
	for i := uint32(0); i < 4; i++ {
		value = value<<8 | uint32(t.read[t.index(address+i)](address+i))
	}
	if t.busErrorAccesses == 4 {
		t.signalBusError(address, false)
	}
	return value
}

// WriteLong dispatches a long write as four byte writes.
func (t *Table) WriteLong(address uint32, value uint32) {
	if !t.inRegion(address) || !t.inRegion(address+3) {
		t.signalBusError(address, true)
		return
	}

	t.busErrorAccesses = 0
	for i := uint32(0); i < 4; i++ {
		t.write[t.index(address+i)](address+i, uint8(value>>(8*(3-i))))
	}
	if t.busErrorAccesses == 4 {
		t.signalBusError(address, true)
	}
}

func (t *Table) signalBusError(address uint32, isWrite bool) {
	slog.Debug("iomem: bus error", "addr", address, "write", isWrite)
	if t.busError != nil {
		t.busError(address, isWrite)
	}
}
