package iomem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valerio/go-stemu/stemu/addr"
)

type busErrorLog struct {
	addrs  []uint32
	writes []bool
}

func (b *busErrorLog) signal(address uint32, isWrite bool) {
	b.addrs = append(b.addrs, address)
	b.writes = append(b.writes, isWrite)
}

func TestUnclaimedByteFaults(t *testing.T) {
	berr := &busErrorLog{}
	tab := New(berr.signal)

	tab.ReadByte(0xFF9000)
	require.Len(t, berr.addrs, 1)
	assert.Equal(t, uint32(0xFF9000), berr.addrs[0])
	assert.False(t, berr.writes[0])

	tab.WriteByte(0xFF9000, 0x12)
	require.Len(t, berr.addrs, 2)
	assert.True(t, berr.writes[1])
}

func TestPartialOverlapDoesNotFault(t *testing.T) {
	berr := &busErrorLog{}
	tab := New(berr.signal)

	// Claim a single byte; the adjacent one stays on the bus error stub.
	var stored uint8
	tab.Register(0xFF8900, 1,
		func(a uint32) uint8 { return stored },
		func(a uint32, v uint8) { stored = v })

	// A word access covering one claimed and one unclaimed byte is legal.
	tab.WriteWord(0xFF8900, 0xAB12)
	assert.Empty(t, berr.addrs, "partial overlap must not raise a bus error")
	assert.Equal(t, uint8(0xAB), stored)

	// A word access with both bytes unclaimed faults once.
	tab.ReadWord(0xFF8902)
	assert.Len(t, berr.addrs, 1)
}

func TestLongAccessSplitsIntoBytes(t *testing.T) {
	berr := &busErrorLog{}
	tab := New(berr.signal)

	var log []uint32
	tab.Register(0xFF8A00, 4,
		func(a uint32) uint8 { return uint8(a) },
		func(a uint32, v uint8) { log = append(log, a) })

	tab.WriteLong(0xFF8A00, 0x01020304)
	assert.Equal(t, []uint32{0xFF8A00, 0xFF8A01, 0xFF8A02, 0xFF8A03}, log)

	value := tab.ReadLong(0xFF8A00)
	assert.Equal(t, uint32(0x00010203), value)
	assert.Empty(t, berr.addrs)

	tab.ReadLong(0xFF8B00)
	assert.Len(t, berr.addrs, 1, "fully unclaimed long faults once")
}

func TestVoidRegion(t *testing.T) {
	berr := &busErrorLog{}
	tab := New(berr.signal)

	tab.SetVoidRegion(0xFF8800, 0xFF8803)

	assert.Equal(t, uint8(0xFF), tab.ReadByte(0xFF8800))
	tab.WriteByte(0xFF8801, 0x42)
	assert.Equal(t, uint8(0xFF), tab.ReadByte(0xFF8801), "void writes are swallowed")
	assert.Empty(t, berr.addrs)
}

func TestRAMRegion(t *testing.T) {
	tab := New(nil)
	tab.SetRAMRegion(addr.BlitterStart, addr.BlitterEnd)

	tab.WriteWord(addr.BlitterStart, 0x1234)
	assert.Equal(t, uint16(0x1234), tab.ReadWord(addr.BlitterStart))
}

func TestOutOfRegionFaults(t *testing.T) {
	berr := &busErrorLog{}
	tab := New(berr.signal)

	tab.ReadByte(0x00FF00)
	assert.Len(t, berr.addrs, 1)

	// A word access straddling the region end faults too.
	tab.ReadWord(addr.IoEnd)
	assert.Len(t, berr.addrs, 2)
}
