package scc

// ChannelSnapshot carries the architectural state of one channel.
type ChannelSnapshot struct {
	WR   [16]uint8
	WR7p uint8
	RR   [16]uint8

	BaudBRG int32
	BaudTX  int32
	BaudRX  int32

	RR0Latched bool
	RR0NoLatch uint8

	TxBufferWritten bool
	TxBits          uint8
	RxBits          uint8
	ParityBits      uint8
	StopBits        float64
	TSR             uint8
	TSRFull         bool

	IntSources uint32
}

// Snapshot carries both channels plus the shared interrupt state.
type Snapshot struct {
	Chn [2]ChannelSnapshot

	IRQAsserted bool
	IUS         uint8
	ActiveReg   int32
}

// Capture copies the SCC state.
func (s *SCC) Capture() Snapshot {
	var snap Snapshot
	for i := range s.chn {
		c := &s.chn[i]
		snap.Chn[i] = ChannelSnapshot{
			WR:   c.wr,
			WR7p: c.wr7p,
			RR:   c.rr,

			BaudBRG: int32(c.baudBRG),
			BaudTX:  int32(c.baudTX),
			BaudRX:  int32(c.baudRX),

			RR0Latched: c.rr0Latched,
			RR0NoLatch: c.rr0NoLatch,

			TxBufferWritten: c.txBufferWritten,
			TxBits:          c.txBits,
			RxBits:          c.rxBits,
			ParityBits:      c.parityBits,
			StopBits:        c.stopBits,
			TSR:             c.tsr,
			TSRFull:         c.tsrFull,

			IntSources: c.intSources,
		}
	}
	snap.IRQAsserted = s.irqAsserted
	snap.IUS = s.ius
	snap.ActiveReg = int32(s.activeReg)
	return snap
}

// Restore overwrites the SCC state. Host port attachments are untouched.
func (s *SCC) Restore(snap Snapshot) {
	for i := range s.chn {
		c := &s.chn[i]
		cs := &snap.Chn[i]

		c.wr = cs.WR
		c.wr7p = cs.WR7p
		c.rr = cs.RR

		c.baudBRG = int(cs.BaudBRG)
		c.baudTX = int(cs.BaudTX)
		c.baudRX = int(cs.BaudRX)

		c.rr0Latched = cs.RR0Latched
		c.rr0NoLatch = cs.RR0NoLatch

		c.txBufferWritten = cs.TxBufferWritten
		c.txBits = cs.TxBits
		c.rxBits = cs.RxBits
		c.parityBits = cs.ParityBits
		c.stopBits = cs.StopBits
		c.tsr = cs.TSR
		c.tsrFull = cs.TSRFull

		c.intSources = cs.IntSources
	}
	s.irqAsserted = snap.IRQAsserted
	s.ius = snap.IUS
	s.activeReg = int(snap.ActiveReg)
}
