package addr

// Hardware register addresses for the ST family I/O region (0xFF8000-0xFFFFFF).
// All addresses are byte granular; word registers name their even byte.

// I/O region boundaries.
const (
	IoStart uint32 = 0xFF8000
	IoEnd   uint32 = 0xFFFFFF
	IoSize         = 0x8000
)

// STE DMA sound + Microwire (0xFF8900-0xFF893F).
const (
	DmaSndControl    uint32 = 0xFF8900 // DMA sound control register (word)
	DmaSndFrameStHi  uint32 = 0xFF8903 // Frame start high byte
	DmaSndFrameStMid uint32 = 0xFF8905 // Frame start mid byte
	DmaSndFrameStLo  uint32 = 0xFF8907 // Frame start low byte
	DmaSndFrameCtHi  uint32 = 0xFF8909 // Frame counter high byte (read only)
	DmaSndFrameCtMid uint32 = 0xFF890B // Frame counter mid byte (read only)
	DmaSndFrameCtLo  uint32 = 0xFF890D // Frame counter low byte (read only)
	DmaSndFrameEndHi uint32 = 0xFF890F // Frame end high byte
	DmaSndFrameEndMid uint32 = 0xFF8911 // Frame end mid byte
	DmaSndFrameEndLo uint32 = 0xFF8913 // Frame end low byte
	DmaSndSoundMode  uint32 = 0xFF8921 // Sound mode control (freq, mono/stereo)
	MicrowireData    uint32 = 0xFF8922 // Microwire data register (word)
	MicrowireMask    uint32 = 0xFF8924 // Microwire mask register (word)
)

// Blitter register block (0xFF8A00-0xFF8A3D). The blitter itself is an
// external collaborator; the dispatch table only exposes the block.
const (
	BlitterStart uint32 = 0xFF8A00
	BlitterEnd   uint32 = 0xFF8A3D
)

// SCC data/control registers, MegaSTE/TT/Falcon (0xFF8C80-0xFF8C87).
// Only odd addresses are connected; bit 2 selects the channel, bit 1
// selects control vs data.
const (
	SccStart    uint32 = 0xFF8C80
	SccCtrlA    uint32 = 0xFF8C81
	SccDataA    uint32 = 0xFF8C83
	SccCtrlB    uint32 = 0xFF8C85
	SccDataB    uint32 = 0xFF8C87
	SccEnd      uint32 = 0xFF8C87
)

// VME SCU registers, MegaSTE/TT only (0xFF8E01-0xFF8E0F).
const (
	ScuSysIntMask     uint32 = 0xFF8E01
	ScuSysIntState    uint32 = 0xFF8E03
	ScuSysInterrupter uint32 = 0xFF8E05
	ScuVmeInterrupter uint32 = 0xFF8E07
	ScuGPR1           uint32 = 0xFF8E09
	ScuGPR2           uint32 = 0xFF8E0B
	ScuVmeIntMask     uint32 = 0xFF8E0D
	ScuVmeIntState    uint32 = 0xFF8E0F
)

// MegaSTE cache/CPU speed register.
const MegaSteCpuSpeed uint32 = 0xFF8E21

// Keyboard and MIDI ACIAs (0xFFFC00-0xFFFC07).
const (
	AciaKbdCtrl  uint32 = 0xFFFC00 // Keyboard ACIA control (write) / status (read)
	AciaKbdData  uint32 = 0xFFFC02 // Keyboard ACIA data
	AciaMidiCtrl uint32 = 0xFFFC04 // MIDI ACIA control (write) / status (read)
	AciaMidiData uint32 = 0xFFFC06 // MIDI ACIA data
)
