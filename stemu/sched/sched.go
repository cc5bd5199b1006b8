package sched

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/valerio/go-stemu/stemu/clock"
)

// The scheduler keeps one statically allocated entry per interrupt source in
// a doubly linked list sorted by expiration time, so the run loop only ever
// compares the master clock against the cached head. Deadlines are stored in
// internal cycles (see the clock package), which lets CPU and MFP driven
// events share one timeline without rounding drift.
//
// Events may fire "late": if an event is due in 4 cycles but the current
// instruction takes 20, the handler runs 16 cycles behind its deadline. The
// overshoot is recorded so periodic handlers can subtract it when rearming
// and keep their long-run frequency exact.

// ID identifies an interrupt handler slot. The Null entry is the list
// sentinel: always active, never expiring.
type ID int

const (
	Null ID = iota
	VideoVBL
	VideoHBL
	VideoEndLine
	MFPTimerA
	MFPTimerB
	MFPTimerC
	MFPTimerD
	ACIAKeyboard
	ACIAMIDI
	DMASoundMicrowire
	SCCBRGA
	SCCTXRXA
	SCCRXA
	SCCBRGB
	SCCTXRXB
	SCCRXB

	Count
)

var idNames = [Count]string{
	"null", "video_vbl", "video_hbl", "video_endline",
	"mfp_timer_a", "mfp_timer_b", "mfp_timer_c", "mfp_timer_d",
	"acia_keyboard", "acia_midi", "dmasound_microwire",
	"scc_brg_a", "scc_txrx_a", "scc_rx_a",
	"scc_brg_b", "scc_txrx_b", "scc_rx_b",
}

func (id ID) String() string {
	if id >= 0 && id < Count {
		return idNames[id]
	}
	return fmt.Sprintf("id(%d)", int(id))
}

// Handler is invoked when an event expires. Handlers run to completion on
// the caller's goroutine and must call Acknowledge (or Remove themselves)
// before returning.
type Handler func()

type entry struct {
	active bool
	cycles uint64 // absolute expiration in internal cycles
	prev   ID     // previous entry sorted by cycles, -1 if none
	next   ID     // next entry sorted by cycles, -1 if none
}

// Scheduler owns the pending event list. All mutations go through its
// methods; it is strictly single threaded.
type Scheduler struct {
	clk      *clock.Clock
	entries  [Count]entry
	handlers [Count]Handler

	activeID     ID
	activeCycles uint64

	// delayed is the overshoot of the handler currently being dispatched,
	// in internal cycles. It is <= 0: 0 when the event fired exactly on
	// its deadline, negative when it fired late.
	delayed int64

	// fromOpcode is set while an event fires in the middle of an opcode's
	// cycle accounting rather than at an instruction boundary.
	fromOpcode bool
}

// New creates a scheduler bound to the master clock. Handlers are fixed at
// construction time: the table maps every ID to a function, which keeps
// snapshots free of function pointers.
func New(clk *clock.Clock, handlers [Count]Handler) *Scheduler {
	s := &Scheduler{clk: clk, handlers: handlers}
	s.Reset()
	return s
}

// Reset clears every entry and reinstates the sentinel as the only element.
func (s *Scheduler) Reset() {
	for i := range s.entries {
		s.entries[i] = entry{prev: -1, next: -1}
	}

	// The Null entry is always active but never triggers; it terminates
	// the list.
	s.entries[Null].active = true
	s.entries[Null].cycles = math.MaxUint64

	s.activeID = Null
	s.activeCycles = s.entries[Null].cycles
	s.delayed = 0
	s.fromOpcode = false
}

// insert links id into the active list, keeping it sorted ascending by
// cycles. Entries with equal deadlines retain insertion order: the walk
// stops at the first strictly greater deadline.
func (s *Scheduler) insert(id ID) {
	n := s.activeID
	prev := s.entries[n].prev
	for n != Null && s.entries[id].cycles >= s.entries[n].cycles {
		n = s.entries[n].next
		if n < 0 {
			panic("sched: active list lost its sentinel")
		}
		prev = s.entries[n].prev
	}

	s.entries[id].next = n
	s.entries[n].prev = id

	if n == s.activeID {
		// New head of the list.
		s.activeID = id
		s.activeCycles = s.entries[id].cycles
		s.entries[id].prev = -1
	} else {
		s.entries[id].prev = prev
		s.entries[prev].next = id
	}
}

// unlink removes an active entry from the list, promoting the next head if
// needed.
func (s *Scheduler) unlink(id ID) {
	s.entries[id].active = false

	if id == s.activeID {
		next := s.entries[id].next
		s.activeID = next
		s.activeCycles = s.entries[next].cycles
		s.entries[next].prev = -1
		return
	}

	prev, next := s.entries[id].prev, s.entries[id].next
	s.entries[prev].next = next
	s.entries[next].prev = prev
}

// AddRelative arms an event to expire delay cycles (of the given kind) from
// now. An already active entry is cancelled and replaced.
func (s *Scheduler) AddRelative(id ID, delay int64, kind clock.Kind) {
	s.AddRelativeWithOffset(id, delay, kind, 0)
}

// AddRelativeWithOffset arms an event delay cycles from now, plus an
// explicit correction in internal cycles. The offset is zero most of the
// time; MFP timer restarts use it to keep exact phase with the instruction
// that expired the previous run.
func (s *Scheduler) AddRelativeWithOffset(id ID, delay int64, kind clock.Kind, offset int64) {
	if s.entries[id].active {
		s.Remove(id)
	}

	due := clock.ToInternal(delay, kind) + offset + int64(s.clk.Internal())

	s.entries[id].active = true
	s.entries[id].cycles = uint64(due)
	s.insert(id)

	slog.Debug("sched: add relative", "id", id, "delay", delay, "kind", kind,
		"offset", offset, "due", due, "clock", s.clk.Internal())
}

// AddAbsolute arms an event relative to the expiration of the previous one,
// not to the current clock: the overshoot of the event being dispatched is
// folded in, so periodic sources such as the HBL/VBL timers never drift.
func (s *Scheduler) AddAbsolute(id ID, delay int64, kind clock.Kind) {
	if s.entries[id].active {
		s.Remove(id)
	}

	due := clock.ToInternal(delay, kind) + s.delayed + int64(s.clk.Internal())

	s.entries[id].active = true
	s.entries[id].cycles = uint64(due)
	s.insert(id)

	slog.Debug("sched: add absolute", "id", id, "delay", delay, "kind", kind,
		"due", due, "clock", s.clk.Internal())
}

// Modify shifts an armed event's deadline by delta cycles of the given
// kind. Delta may be negative. The entry is re-sorted into the list.
func (s *Scheduler) Modify(id ID, delta int64, kind clock.Kind) {
	s.Remove(id)

	s.entries[id].active = true
	s.entries[id].cycles = uint64(int64(s.entries[id].cycles) + clock.ToInternal(delta, kind))
	s.insert(id)
}

// Remove unlinks a pending event without firing it. Removing an inactive
// event is a no-op.
func (s *Scheduler) Remove(id ID) {
	if !s.entries[id].active {
		return
	}
	s.unlink(id)
}

// Acknowledge is called by the running handler to mark its own entry
// inactive and promote the next list head. Acknowledging the sentinel is a
// fatal invariant violation.
func (s *Scheduler) Acknowledge() {
	if s.activeID == Null {
		panic("sched: acknowledge on the null sentinel")
	}

	s.entries[s.activeID].active = false

	next := s.entries[s.activeID].next
	s.activeID = next
	s.activeCycles = s.entries[next].cycles
	s.entries[next].prev = -1
}

// Process fires every event whose deadline has been reached. The loop
// compares the clock only against the cached head: a handler that rearms
// itself with delay zero fires on the next Process call, not in this one
// forever.
func (s *Scheduler) Process() {
	now := s.clk.Internal()
	for s.activeCycles <= now {
		s.dispatch(now)
	}
}

// ProcessStop is Process with an external stop condition, checked between
// handlers.
func (s *Scheduler) ProcessStop(stop *bool) {
	now := s.clk.Internal()
	for s.activeCycles <= now && !*stop {
		s.dispatch(now)
	}
}

func (s *Scheduler) dispatch(now uint64) {
	// Overshoot at the moment the handler fires, <= 0 when late.
	s.delayed = int64(s.activeCycles) - int64(now)

	id := s.activeID
	h := s.handlers[id]
	if h == nil {
		panic(fmt.Sprintf("sched: no handler wired for %v", id))
	}
	h()
}

// DelayedCycles returns the overshoot of the handler currently being
// dispatched, in internal cycles (<= 0). Handlers that rearm themselves
// pass it back through AddRelativeWithOffset to keep their average period.
func (s *Scheduler) DelayedCycles() int64 {
	return s.delayed
}

// InterruptActive reports whether an event is armed.
func (s *Scheduler) InterruptActive(id ID) bool {
	return s.entries[id].active
}

// ActiveID returns the head of the pending list (Null when empty).
func (s *Scheduler) ActiveID() ID {
	return s.activeID
}

// ActiveCycles returns the deadline of the pending list head in internal
// cycles.
func (s *Scheduler) ActiveCycles() uint64 {
	return s.activeCycles
}

// PendingCount returns the number of armed events, sentinel excluded.
// Diagnostic only; the run loop never walks the list.
func (s *Scheduler) PendingCount() int {
	count := 0
	for id := s.activeID; id != Null; id = s.entries[id].next {
		count++
	}
	return count
}

// FindCyclesRemaining returns the number of cycles of the given kind until
// an armed event expires. Negative when the deadline has already passed.
func (s *Scheduler) FindCyclesRemaining(id ID, kind clock.Kind) int64 {
	remaining := int64(s.entries[id].cycles) - int64(s.clk.Internal())
	return clock.FromInternal(remaining, kind)
}

// SetFromOpcode marks (or clears) dispatching from within an opcode. The
// flag travels with snapshots so a restore resumes mid-instruction state
// exactly.
func (s *Scheduler) SetFromOpcode(v bool) { s.fromOpcode = v }

// FromOpcode reports whether the current dispatch happens inside an opcode.
func (s *Scheduler) FromOpcode() bool { return s.fromOpcode }

// Slot exposes one entry for snapshotting: active flag, absolute deadline,
// and list linkage.
func (s *Scheduler) Slot(id ID) (active bool, cycles uint64, prev, next ID) {
	e := &s.entries[id]
	return e.active, e.cycles, e.prev, e.next
}

// RestoreSlot overwrites one entry from a snapshot. The caller is
// responsible for restoring a consistent list across all slots.
func (s *Scheduler) RestoreSlot(id ID, active bool, cycles uint64, prev, next ID) {
	s.entries[id] = entry{active: active, cycles: cycles, prev: prev, next: next}
}

// RestoreState overwrites the cached head and overshoot from a snapshot.
func (s *Scheduler) RestoreState(activeID ID, activeCycles uint64, delayed int64, fromOpcode bool) {
	s.activeID = activeID
	s.activeCycles = activeCycles
	s.delayed = delayed
	s.fromOpcode = fromOpcode
}
