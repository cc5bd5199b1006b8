package dmasnd

import (
	"log/slog"

	"github.com/valerio/go-stemu/stemu/addr"
	"github.com/valerio/go-stemu/stemu/bit"
)

// STE DMA sound engine. On real hardware the DMA reads words from memory at
// the end of each horizontal blank into a small 8 byte FIFO, which feeds the
// DAC at the programmed sample rate. We mirror that: the HBL handler refills
// the FIFO, sample generation pulls bytes out at the rate conversion pace,
// and the end-of-frame interrupts (MFP GPIP-7 and timer A event count) fire
// when the frame address reaches the end address.

// Control register bits (0xFF8900).
const (
	CtrlPlay     = 0x01
	CtrlPlayLoop = 0x02
)

// Sound mode register bits (0xFF8921).
const (
	ModeMono    = 0x80
	ModeRateMask = 0x03
)

const (
	fifoSize     = 8
	fifoSizeMask = fifoSize - 1
)

// dmaGain converts 8 bit DMA samples to the 16 bit mix scale: multiply by
// 256 for the width change, 3/4 level relative to the PSG, divide twice by 4
// for the mix buffer and the low pass gain, and invert because the LMC1992
// inverts the signal.
const dmaGain = -((256 * 3 / 4) / 4) / 4

// MemReader reads a byte of ST RAM at a physical address.
type MemReader func(address uint32) uint8

// Engine is the DMA sound engine plus its Microwire/LMC1992 back end.
type Engine struct {
	control   uint16 // sound control register
	soundMode uint8  // sound mode register (masked to 0x8F)

	// Latched frame addresses and the running counter.
	frameStart uint32
	frameEnd   uint32
	frameAddr  uint32

	// Raw register bytes for frame start/end, latched on play start.
	regs map[uint32]uint8

	fifo     [fifoSize]int8
	fifoPos  uint16 // 0..7
	fifoLen  uint16 // 0..8

	// Rate conversion accumulator: 32.32 fixed point, integer part is the
	// number of source bytes to pull per host sample.
	freqRatio   int64
	freqCounter int64
	initSample  bool

	hostFreq int

	// Last samples delivered to the mix stage, held between pulls.
	frameMono  int16
	frameLeft  int16
	frameRight int16

	lp  lowPass
	mw  microwire
	lmc lmc1992

	readMem MemReader

	// OnEndOfFrame is raised when the frame address reaches the end
	// address, regardless of loop mode.
	OnEndOfFrame func()

	// ScheduleMicrowire arms the Microwire shift event (8 CPU cycles).
	ScheduleMicrowire func()
}

// New creates the engine with a cold reset applied.
func New(readMem MemReader, hostFreq int) *Engine {
	e := &Engine{readMem: readMem, hostFreq: hostFreq}
	e.regs = make(map[uint32]uint8)
	e.Reset(true)
	return e
}

// Reset clears the engine. A cold reset also resets the LMC1992 volume and
// tone settings; a warm reset keeps them. The filter tables are recomputed
// in both cases.
func (e *Engine) Reset(cold bool) {
	e.control = 0

	if cold {
		e.soundMode = 0
		e.fifoPos = 0
		e.fifoLen = 0
		e.mw.masterVolume = 7
		e.mw.leftVolume = 655
		e.mw.rightVolume = 655
		e.mw.mixing = 0
		e.mw.bass = 6
		e.mw.treble = 6
	}

	e.initTables()
	e.mw.transferSteps = 0
}

// SetHostFreq changes the host output rate and recomputes the dependent
// filter state.
func (e *Engine) SetHostFreq(hz int) {
	e.hostFreq = hz
	e.initTables()
}

// sampleRate returns the DMA sample frequency selected by the sound mode.
func (e *Engine) sampleRate() int {
	return SampleRates[e.soundMode&ModeRateMask]
}

// mono reports whether the engine plays 8 bit mono frames.
func (e *Engine) mono() bool {
	return e.soundMode&ModeMono != 0
}

// Playing reports whether DMA sound output is on.
func (e *Engine) Playing() bool {
	return e.control&CtrlPlay != 0
}

// refillFIFO tops the FIFO up from memory. The DMA fetches words, so bytes
// arrive in pairs; reaching the frame end raises the end-of-frame interrupts
// and either reloads (loop mode) or stops the DMA.
func (e *Engine) refillFIFO() {
	if e.control&CtrlPlay == 0 {
		return
	}
	if e.frameEnd == e.frameStart {
		return
	}

	for fifoSize-e.fifoLen >= 2 {
		e.fifo[(e.fifoPos+e.fifoLen+0)&fifoSizeMask] = int8(e.readMem(e.frameAddr))
		e.fifo[(e.fifoPos+e.fifoLen+1)&fifoSizeMask] = int8(e.readMem(e.frameAddr + 1))
		e.fifoLen += 2

		e.frameAddr += 2
		if e.frameAddr == e.frameEnd {
			if e.endOfFrame() {
				break
			}
		}
	}
}

// endOfFrame raises the end-of-frame interrupts and returns true when DMA
// processing stops (loop mode off).
func (e *Engine) endOfFrame() bool {
	slog.Debug("dmasnd: end of frame", "loop", e.control&CtrlPlayLoop != 0)

	if e.OnEndOfFrame != nil {
		e.OnEndOfFrame()
	}

	if e.control&CtrlPlayLoop != 0 {
		e.startNewFrame()
		return false
	}

	e.control &^= CtrlPlay
	return true
}

// pullByte takes the oldest sample out of the FIFO. An empty FIFO with DMA
// off yields silence; with DMA on it forces an immediate refill so very low
// host rates still produce correct sound.
func (e *Engine) pullByte() int8 {
	if e.fifoLen == 0 {
		if e.control&CtrlPlay == 0 {
			return 0
		}
		e.refillFIFO()
		if e.fifoLen == 0 {
			return 0
		}
	}

	sample := e.fifo[e.fifoPos]
	e.fifoPos = (e.fifoPos + 1) & fifoSizeMask
	e.fifoLen--
	return sample
}

// setStereo realigns the FIFO when switching from mono to stereo: the left
// byte must sit on an even FIFO position, so an odd position skips one byte.
// Real hardware does the same.
func (e *Engine) setStereo() {
	if e.fifoPos&1 == 0 {
		return
	}

	slog.Debug("dmasnd: realign fifo for stereo", "pos", e.fifoPos, "playing", e.Playing())

	e.fifoPos = (e.fifoPos + 1) & fifoSizeMask
	if e.fifoLen > 0 {
		e.fifoLen--
	}
}

// startNewFrame latches the frame start/end registers into the running
// counters. Bit 0 of the low bytes is forced even: the DMA works on words.
func (e *Engine) startNewFrame() {
	e.frameStart = bit.Combine24(e.regs[addr.DmaSndFrameStHi], e.regs[addr.DmaSndFrameStMid], e.regs[addr.DmaSndFrameStLo]&^1)
	e.frameEnd = bit.Combine24(e.regs[addr.DmaSndFrameEndHi], e.regs[addr.DmaSndFrameEndMid], e.regs[addr.DmaSndFrameEndLo]&^1)
	e.frameAddr = e.frameStart

	slog.Debug("dmasnd: new frame", "start", e.frameStart, "end", e.frameEnd)
}

// frameCount returns the value presented by the frame counter registers:
// the running address while playing, the frame start registers otherwise.
func (e *Engine) frameCount() uint32 {
	var count uint32
	if e.control&CtrlPlay != 0 {
		count = e.frameAddr
	} else {
		count = bit.Combine24(e.regs[addr.DmaSndFrameStHi], e.regs[addr.DmaSndFrameStMid], e.regs[addr.DmaSndFrameStLo])
	}
	return count &^ 1
}

// HBLUpdate keeps the FIFO full; it must be called from the horizontal
// blank handler. The DMA refills when display is off, before and after the
// samples played during the line.
func (e *Engine) HBLUpdate() {
	e.refillFIFO()
}

// FIFOLen returns the number of bytes buffered (diagnostics and tests).
func (e *Engine) FIFOLen() int {
	return int(e.fifoLen)
}

// ReadByte services a byte read in the DMA sound register range.
func (e *Engine) ReadByte(address uint32) uint8 {
	switch address {
	case addr.DmaSndControl:
		return uint8(e.control >> 8)
	case addr.DmaSndControl + 1:
		return uint8(e.control)
	case addr.DmaSndFrameCtHi:
		return uint8(e.frameCount() >> 16)
	case addr.DmaSndFrameCtMid:
		return uint8(e.frameCount() >> 8)
	case addr.DmaSndFrameCtLo:
		return uint8(e.frameCount())
	case addr.DmaSndSoundMode:
		return e.soundMode
	case addr.MicrowireData:
		return uint8(e.mw.dataVisible >> 8)
	case addr.MicrowireData + 1:
		return uint8(e.mw.dataVisible)
	case addr.MicrowireMask:
		return uint8(e.mw.maskVisible >> 8)
	case addr.MicrowireMask + 1:
		return uint8(e.mw.maskVisible)
	default:
		return e.regs[address]
	}
}

// WriteByte services a byte write in the DMA sound register range.
func (e *Engine) WriteByte(address uint32, value uint8) {
	switch address {
	case addr.DmaSndControl:
		// Only the low byte carries control bits.
	case addr.DmaSndControl + 1:
		e.writeControl(uint16(value))
	case addr.DmaSndSoundMode:
		e.writeSoundMode(value)
	case addr.MicrowireData:
		e.mw.pendingData = (e.mw.pendingData & 0x00FF) | uint16(value)<<8
	case addr.MicrowireData + 1:
		e.writeMicrowireData((e.mw.pendingData & 0xFF00) | uint16(value))
	case addr.MicrowireMask:
		e.mw.pendingMask = (e.mw.pendingMask & 0x00FF) | uint16(value)<<8
	case addr.MicrowireMask + 1:
		e.writeMicrowireMask((e.mw.pendingMask & 0xFF00) | uint16(value))
	case addr.DmaSndFrameCtHi, addr.DmaSndFrameCtMid, addr.DmaSndFrameCtLo:
		// Frame counter registers ignore writes.
		slog.Debug("dmasnd: write to read-only frame counter", "addr", address, "value", value)
	default:
		e.regs[address] = value
	}
}

// writeControl starts or stops DMA sound playback.
func (e *Engine) writeControl(value uint16) {
	newCtrl := value & 3

	if e.control&CtrlPlay == 0 && newCtrl&CtrlPlay != 0 {
		slog.Debug("dmasnd: starting dma sound")
		e.initSample = true
		e.freqCounter = 0
		e.control = newCtrl
		e.startNewFrame()
		return
	}

	if e.control&CtrlPlay != 0 && newCtrl&CtrlPlay == 0 {
		slog.Debug("dmasnd: stopping dma sound")
	}
	e.control = newCtrl
}

// writeSoundMode updates the sample rate / mono bits. Only the bits that
// exist on a real STE are kept.
func (e *Engine) writeSoundMode(value uint8) {
	value &= 0x8F

	// Switching from mono to stereo must keep L/R bytes aligned.
	if e.mono() && value&ModeMono == 0 {
		e.setStereo()
	}

	e.soundMode = value
}

// GenerateSamples runs the rate conversion and filters for len(mix) host
// samples. The mix buffer may be prefilled with the PSG contribution; the
// DMA samples are combined according to the Microwire mixing mode and the
// LMC1992 tone/volume stages are applied on the way out.
func (e *Engine) GenerateSamples(mix [][2]int32) {
	// DMA off and FIFO drained: the PSG signal still passes through the
	// LMC1992.
	if e.control&CtrlPlay == 0 && e.fifoLen == 0 {
		for i := range mix {
			switch e.mw.mixing {
			case 1:
				// PSG as is.
			default:
				// PSG - 12dB.
				mix[i][0] /= 4
				mix[i][1] = mix[i][0]
			}
		}
		e.applyLMC(mix)
		return
	}

	e.freqRatio = (int64(e.sampleRate()) << 32) / int64(e.hostFreq)

	if e.mono() {
		e.generateMono(mix)
	} else {
		e.generateStereo(mix)
	}

	e.applyLMC(mix)
}

func (e *Engine) generateMono(mix [][2]int32) {
	for i := range mix {
		if e.initSample {
			mono := int16(e.pullByte())
			e.frameMono = e.lowPassLeft(mono)
			e.lowPassRight(mono) // keep the right history warm, avoids clicks
			e.initSample = false
		}

		frame := int32(e.frameMono) * dmaGain
		switch e.mw.mixing {
		case 1:
			mix[i][0] += frame
		case 2:
			mix[i][0] = frame
		default:
			// PSG - 12dB: 16462 would be exact, 16384 is close enough.
			mix[i][0] = frame + (mix[i][0]*16384)/65536
		}
		mix[i][1] = mix[i][0]

		e.freqCounter += e.freqRatio
		for n := e.freqCounter >> 32; n > 0; n-- {
			mono := int16(e.pullByte())
			e.frameMono = e.lowPassLeft(mono)
			e.lowPassRight(mono)
		}
		e.freqCounter &= 0xFFFFFFFF
	}
}

func (e *Engine) generateStereo(mix [][2]int32) {
	for i := range mix {
		if e.initSample {
			e.frameLeft = e.lowPassLeft(int16(e.pullByte()))
			e.frameRight = e.lowPassRight(int16(e.pullByte()))
			e.initSample = false
		}

		left := int32(e.frameLeft) * dmaGain
		right := int32(e.frameRight) * dmaGain
		switch e.mw.mixing {
		case 1:
			mix[i][0] += left
			mix[i][1] += right
		case 2:
			mix[i][0] = left
			mix[i][1] = right
		default:
			mix[i][0] = left + (mix[i][0]*16384)/65536
			mix[i][1] = right + (mix[i][1]*16384)/65536
		}

		e.freqCounter += e.freqRatio
		for n := e.freqCounter >> 32; n > 0; n-- {
			e.frameLeft = e.lowPassLeft(int16(e.pullByte()))
			e.frameRight = e.lowPassRight(int16(e.pullByte()))
		}
		e.freqCounter &= 0xFFFFFFFF
	}
}
