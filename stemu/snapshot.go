package stemu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/valerio/go-stemu/stemu/acia"
	"github.com/valerio/go-stemu/stemu/dmasnd"
	"github.com/valerio/go-stemu/stemu/scc"
	"github.com/valerio/go-stemu/stemu/sched"
	"github.com/valerio/go-stemu/stemu/scu"
)

// Snapshot format: a small header (magic, version, machine, payload CRC)
// followed by the little endian payload in fixed field order. Floats travel
// as their IEEE-754 bit patterns so a save/load round trip is bit exact;
// the LMC1992 filter coefficients are never stored, they are recomputed
// from the restored command state.

const (
	snapshotMagic   = "STEMUSNAP\x00"
	snapshotVersion = uint16(1)
)

var (
	// ErrSnapshotMagic is returned when the stream is not a snapshot.
	ErrSnapshotMagic = errors.New("snapshot: bad magic")
	// ErrSnapshotVersion is returned on a version mismatch.
	ErrSnapshotVersion = errors.New("snapshot: unsupported version")
	// ErrSnapshotMachine is returned when the snapshot was taken on a
	// different machine variant.
	ErrSnapshotMachine = errors.New("snapshot: machine type mismatch")
	// ErrSnapshotCorrupt is returned when the payload fails its checksum
	// or contains out of range values.
	ErrSnapshotCorrupt = errors.New("snapshot: corrupt payload")
)

// schedSlot is the wire form of one scheduler entry. The handler id is
// stored instead of any function reference so restores are deterministic.
type schedSlot struct {
	Active    bool
	Cycles    uint64
	Prev      int32
	Next      int32
	HandlerID int32
}

// schedState is the wire form of the scheduler's cached head and overshoot.
type schedState struct {
	Delayed      int64
	ActiveInt    int32
	ActiveCycles uint64
	PendingCount int32
	FromOpcode   bool
}

// SaveSnapshot writes the complete core state.
func (c *Core) SaveSnapshot(w io.Writer) error {
	payload := &bytes.Buffer{}

	put := func(v any) {
		// bytes.Buffer writes cannot fail and every stored type is fixed
		// size, checked at development time by the round trip tests.
		if err := binary.Write(payload, binary.LittleEndian, v); err != nil {
			panic(fmt.Sprintf("snapshot: unencodable field: %v", err))
		}
	}

	put(c.Clock.Cycles())

	for id := sched.ID(0); id < sched.Count; id++ {
		active, cycles, prev, next := c.Sched.Slot(id)
		put(schedSlot{
			Active:    active,
			Cycles:    cycles,
			Prev:      int32(prev),
			Next:      int32(next),
			HandlerID: int32(id),
		})
	}
	put(schedState{
		Delayed:      c.Sched.DelayedCycles(),
		ActiveInt:    int32(c.Sched.ActiveID()),
		ActiveCycles: c.Sched.ActiveCycles(),
		PendingCount: int32(c.Sched.PendingCount()),
		FromOpcode:   c.Sched.FromOpcode(),
	})

	put(c.KeyboardACIA.Capture())
	put(c.MidiACIA.Capture())

	put(c.DMASound != nil)
	if c.DMASound != nil {
		put(c.DMASound.Capture())
	}

	put(c.SCC != nil)
	if c.SCC != nil {
		put(c.SCC.Capture())
	}

	put(c.SCU != nil)
	if c.SCU != nil {
		put(c.SCU.Capture())
	}

	if _, err := w.Write([]byte(snapshotMagic)); err != nil {
		return err
	}
	header := struct {
		Version uint16
		Machine uint8
		CRC     uint32
		Size    uint32
	}{snapshotVersion, uint8(c.Machine), crc32.ChecksumIEEE(payload.Bytes()), uint32(payload.Len())}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// LoadSnapshot restores the complete core state. Validation happens before
// any mutation: a bad magic, version, machine, checksum or handler table is
// rejected with the core untouched.
func (c *Core) LoadSnapshot(r io.Reader) error {
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return ErrSnapshotMagic
	}

	var header struct {
		Version uint16
		Machine uint8
		CRC     uint32
		Size    uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return err
	}
	if header.Version != snapshotVersion {
		return fmt.Errorf("%w: got %d want %d", ErrSnapshotVersion, header.Version, snapshotVersion)
	}
	if header.Machine != uint8(c.Machine) {
		return fmt.Errorf("%w: snapshot is for %d", ErrSnapshotMachine, header.Machine)
	}

	payload := make([]byte, header.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if crc32.ChecksumIEEE(payload) != header.CRC {
		return fmt.Errorf("%w: checksum mismatch", ErrSnapshotCorrupt)
	}

	buf := bytes.NewReader(payload)
	get := func(v any) error {
		return binary.Read(buf, binary.LittleEndian, v)
	}

	var clockCycles uint64
	if err := get(&clockCycles); err != nil {
		return err
	}

	var slots [sched.Count]schedSlot
	for i := range slots {
		if err := get(&slots[i]); err != nil {
			return err
		}
		// The handler table is fixed; a slot claiming a different or out
		// of range handler would dispatch the wrong code after restore.
		if slots[i].HandlerID != int32(i) || slots[i].HandlerID >= int32(sched.Count) {
			return fmt.Errorf("%w: handler id %d in slot %d", ErrSnapshotCorrupt, slots[i].HandlerID, i)
		}
		if slots[i].Prev >= int32(sched.Count) || slots[i].Next >= int32(sched.Count) {
			return fmt.Errorf("%w: slot %d linkage out of range", ErrSnapshotCorrupt, i)
		}
	}

	var state schedState
	if err := get(&state); err != nil {
		return err
	}
	if state.ActiveInt < 0 || state.ActiveInt >= int32(sched.Count) {
		return fmt.Errorf("%w: active interrupt %d out of range", ErrSnapshotCorrupt, state.ActiveInt)
	}

	var kbd, midi acia.Snapshot
	if err := get(&kbd); err != nil {
		return err
	}
	if err := get(&midi); err != nil {
		return err
	}

	var hasDMASound bool
	if err := get(&hasDMASound); err != nil {
		return err
	}
	var dmaSnap dmasnd.Snapshot
	if hasDMASound {
		if err := get(&dmaSnap); err != nil {
			return err
		}
	}
	if hasDMASound != (c.DMASound != nil) {
		return fmt.Errorf("%w: dma sound presence mismatch", ErrSnapshotMachine)
	}

	var hasSCC bool
	if err := get(&hasSCC); err != nil {
		return err
	}
	var sccSnap scc.Snapshot
	if hasSCC {
		if err := get(&sccSnap); err != nil {
			return err
		}
	}
	if hasSCC != (c.SCC != nil) {
		return fmt.Errorf("%w: scc presence mismatch", ErrSnapshotMachine)
	}

	var hasSCU bool
	if err := get(&hasSCU); err != nil {
		return err
	}
	var scuSnap scu.Snapshot
	if hasSCU {
		if err := get(&scuSnap); err != nil {
			return err
		}
	}
	if hasSCU != (c.SCU != nil) {
		return fmt.Errorf("%w: scu presence mismatch", ErrSnapshotMachine)
	}

	// Everything decoded and validated; apply.
	c.Clock.Restore(clockCycles)
	for i := range slots {
		c.Sched.RestoreSlot(sched.ID(i), slots[i].Active, slots[i].Cycles,
			sched.ID(slots[i].Prev), sched.ID(slots[i].Next))
	}
	c.Sched.RestoreState(sched.ID(state.ActiveInt), state.ActiveCycles,
		state.Delayed, state.FromOpcode)

	c.KeyboardACIA.Restore(kbd)
	c.MidiACIA.Restore(midi)
	if c.DMASound != nil {
		c.DMASound.Restore(dmaSnap)
	}
	if c.SCC != nil {
		c.SCC.Restore(sccSnap)
	}
	if c.SCU != nil {
		c.SCU.Restore(scuSnap)
	}

	return nil
}
