package dmasnd

import "github.com/valerio/go-stemu/stemu/addr"

// Snapshot carries every architectural field of the engine. The five IIR
// coefficients and the shelf tables are deliberately absent: they are a pure
// function of the stored bass/treble/volume state and the host rate, and are
// recomputed on restore.
type Snapshot struct {
	Control   uint16
	SoundMode uint8

	FrameStart uint32
	FrameEnd   uint32
	FrameAddr  uint32
	FrameRegs  [6]uint8 // start hi/mid/lo, end hi/mid/lo raw bytes

	FIFO    [fifoSize]int8
	FIFOPos uint16
	FIFOLen uint16

	FreqRatio   int64
	FreqCounter int64
	InitSample  bool

	FrameMono  int16
	FrameLeft  int16
	FrameRight int16

	LowPassLeft   [4]int16
	LowPassOutL   int16
	LowPassCountL int32
	LowPassRight  [4]int16
	LowPassOutR   int16
	LowPassCountR int32

	MWData         uint16
	MWMask         uint16
	MWDataVisible  uint16
	MWMaskVisible  uint16
	MWSteps        int32
	MWMixing       uint16
	MWBass         uint16
	MWTreble       uint16
	MWMasterVolume uint16
	MWLeftVolume   uint16
	MWRightVolume  uint16

	// Filter histories, stored as IEEE-754 bit patterns by the snapshot
	// writer for a bit exact round trip.
	HistLeft  [2]float64
	HistRight [2]float64
}

var frameRegAddrs = [6]uint32{
	addr.DmaSndFrameStHi, addr.DmaSndFrameStMid, addr.DmaSndFrameStLo,
	addr.DmaSndFrameEndHi, addr.DmaSndFrameEndMid, addr.DmaSndFrameEndLo,
}

// Capture copies the engine state.
func (e *Engine) Capture() Snapshot {
	s := Snapshot{
		Control:    e.control,
		SoundMode:  e.soundMode,
		FrameStart: e.frameStart,
		FrameEnd:   e.frameEnd,
		FrameAddr:  e.frameAddr,

		FIFO:    e.fifo,
		FIFOPos: e.fifoPos,
		FIFOLen: e.fifoLen,

		FreqRatio:   e.freqRatio,
		FreqCounter: e.freqCounter,
		InitSample:  e.initSample,

		FrameMono:  e.frameMono,
		FrameLeft:  e.frameLeft,
		FrameRight: e.frameRight,

		LowPassLeft:   e.lp.loopLeft,
		LowPassOutL:   e.lp.outLeft,
		LowPassCountL: int32(e.lp.countLeft),
		LowPassRight:  e.lp.loopRight,
		LowPassOutR:   e.lp.outRight,
		LowPassCountR: int32(e.lp.countRight),

		MWData:         e.mw.data,
		MWMask:         e.mw.mask,
		MWDataVisible:  e.mw.dataVisible,
		MWMaskVisible:  e.mw.maskVisible,
		MWSteps:        int32(e.mw.transferSteps),
		MWMixing:       e.mw.mixing,
		MWBass:         e.mw.bass,
		MWTreble:       e.mw.treble,
		MWMasterVolume: e.mw.masterVolume,
		MWLeftVolume:   e.mw.leftVolume,
		MWRightVolume:  e.mw.rightVolume,

		HistLeft:  e.lmc.dataLeft,
		HistRight: e.lmc.dataRight,
	}
	for i, a := range frameRegAddrs {
		s.FrameRegs[i] = e.regs[a]
	}
	return s
}

// Restore overwrites the engine state and recomputes the filter tables,
// coefficients and gains from the restored command state.
func (e *Engine) Restore(s Snapshot) {
	e.control = s.Control
	e.soundMode = s.SoundMode
	e.frameStart = s.FrameStart
	e.frameEnd = s.FrameEnd
	e.frameAddr = s.FrameAddr

	e.fifo = s.FIFO
	e.fifoPos = s.FIFOPos
	e.fifoLen = s.FIFOLen

	e.freqRatio = s.FreqRatio
	e.freqCounter = s.FreqCounter
	e.initSample = s.InitSample

	e.frameMono = s.FrameMono
	e.frameLeft = s.FrameLeft
	e.frameRight = s.FrameRight

	e.lp.loopLeft = s.LowPassLeft
	e.lp.outLeft = s.LowPassOutL
	e.lp.countLeft = int(s.LowPassCountL)
	e.lp.loopRight = s.LowPassRight
	e.lp.outRight = s.LowPassOutR
	e.lp.countRight = int(s.LowPassCountR)

	e.mw.data = s.MWData
	e.mw.mask = s.MWMask
	e.mw.dataVisible = s.MWDataVisible
	e.mw.maskVisible = s.MWMaskVisible
	e.mw.transferSteps = int(s.MWSteps)
	e.mw.mixing = s.MWMixing
	e.mw.bass = s.MWBass
	e.mw.treble = s.MWTreble
	e.mw.masterVolume = s.MWMasterVolume
	e.mw.leftVolume = s.MWLeftVolume
	e.mw.rightVolume = s.MWRightVolume

	for i, a := range frameRegAddrs {
		e.regs[a] = s.FrameRegs[i]
	}

	e.initTables()
	e.lmc.dataLeft = s.HistLeft
	e.lmc.dataRight = s.HistRight
}
