package dmasnd

// LMC1992 gain tables. dB = 20log(gain) : gain = antilog(dB/20)
// Table gain values = (int)(powf(10.0, dB/20.0)*65536.0 + 0.5), 2dB steps.

// MasterVolumeTable holds the 64 master volume attenuation values (*65536).
var MasterVolumeTable = [64]uint16{
	7, 8, 10, 13, 16, 21, 26, 33, 41, 52, /* -80dB */
	66, 83, 104, 131, 165, 207, 261, 328, 414, 521, /* -60dB */
	655, 825, 1039, 1308, 1646, 2072, 2609, 3285, 4135, 5206, /* -40dB */
	6554, 8250, 10387, 13076, 16462, 20724, 26090, 32846, 41350, 52057, /* -20dB */
	65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, /*   0dB */
	65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, /*   0dB */
	65535, 65535, 65535, 65535, /*   0dB */
}

// LeftRightVolumeTable holds the 32 per-channel volume values (*65536).
var LeftRightVolumeTable = [32]uint16{
	655, 825, 1039, 1308, 1646, 2072, 2609, 3285, 4135, 5206, /* -40dB */
	6554, 8250, 10387, 13076, 16462, 20724, 26090, 32846, 41350, 52057, /* -20dB */
	65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, 65535, /*   0dB */
	65535, 65535, /*   0dB */
}

// BassTrebleTable clamps the 4 bit bass/treble command field to the 13 tone
// steps (0 through 12 correspond with -12dB to +12dB in 2dB steps).
var BassTrebleTable = [16]int16{
	0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 12, 12, 12,
}

// SampleRates maps the 2 low bits of the sound mode register to the DMA
// sample frequency in Hz.
var SampleRates = [4]int{
	6258, 12517, 25033, 50066,
}
