package dmasnd

import "math"

// LMC1992 tone control. A first order bass shelf is multiplied with a first
// order treble shelf to make a single second order IIR shelf filter; sound
// is stereo filtered by boosting or cutting bass and treble by +/-12dB in
// 2dB steps. This filter sounds exactly as the Atari TT or STE.
//   Bass turnover = 118.276Hz   (8.2nF on LMC1992 bass)
//   Treble turnover = 8438.756Hz (8.2nF on LMC1992 treble)

const toneSteps = 13

type firstOrder struct {
	a1, b0, b1 float64
}

type lmc1992 struct {
	bassTable [toneSteps]firstOrder
	trebTable [toneSteps]firstOrder

	coef [5]float64 // IIR coefficients, recomputed, never snapshotted

	leftGain  float64
	rightGain float64

	// Two sample history per channel for the biquad.
	dataLeft  [2]float64
	dataRight [2]float64
}

// lowPass is the anti-alias filter in front of the LMC1992: a four sample
// moving sum per channel, gain 4. It is bypassed (plain shift) when the
// host rate matches the 50066 Hz hardware rate closely enough.
type lowPass struct {
	enabled bool

	loopLeft   [4]int16
	outLeft    int16
	countLeft  int
	loopRight  [4]int16
	outRight   int16
	countRight int
}

func (e *Engine) lowPassLeft(in int16) int16 {
	lp := &e.lp
	if !lp.enabled {
		return in << 2
	}

	lp.countLeft--
	if lp.countLeft < 0 {
		lp.countLeft = 3
	}
	lp.outLeft -= lp.loopLeft[lp.countLeft]
	lp.loopLeft[lp.countLeft] = in
	lp.outLeft += in
	return lp.outLeft // filter gain = 4
}

func (e *Engine) lowPassRight(in int16) int16 {
	lp := &e.lp
	if !lp.enabled {
		return in << 2
	}

	lp.countRight--
	if lp.countRight < 0 {
		lp.countRight = 3
	}
	lp.outRight -= lp.loopRight[lp.countRight]
	lp.loopRight[lp.countRight] = in
	lp.outRight += in
	return lp.outRight
}

// iirLeft runs the left channel through the biquad.
// The 'a' coefficients are subtracted (biquad direct form II).
func (e *Engine) iirLeft(xn float64) float64 {
	l := &e.lmc
	a := l.leftGain * xn
	a -= l.coef[0] * l.dataLeft[0]
	a -= l.coef[1] * l.dataLeft[1]

	yn := l.coef[2] * a
	yn += l.coef[3] * l.dataLeft[0]
	yn += l.coef[4] * l.dataLeft[1]

	l.dataLeft[1] = l.dataLeft[0]
	l.dataLeft[0] = a
	return yn
}

func (e *Engine) iirRight(xn float64) float64 {
	l := &e.lmc
	a := l.rightGain * xn
	a -= l.coef[0] * l.dataRight[0]
	a -= l.coef[1] * l.dataRight[1]

	yn := l.coef[2] * a
	yn += l.coef[3] * l.dataRight[0]
	yn += l.coef[4] * l.dataRight[1]

	l.dataRight[1] = l.dataRight[0]
	l.dataRight[0] = a
	return yn
}

// applyLMC runs the whole mix buffer through the tone and volume stages.
func (e *Engine) applyLMC(mix [][2]int32) {
	for i := range mix {
		mix[i][0] = int32(e.iirLeft(float64(mix[i][0])))
		mix[i][1] = int32(e.iirRight(float64(mix[i][1])))
	}
}

// setToneLevel combines the selected bass and treble shelves into the five
// biquad coefficients. Levels are 0..12 for -12dB..+12dB in 2dB steps.
func (e *Engine) setToneLevel(bassLevel, trebLevel int16) {
	l := &e.lmc
	bass := &l.bassTable[bassLevel]
	treb := &l.trebTable[trebLevel]

	l.coef[0] = treb.a1 + bass.a1
	l.coef[1] = treb.a1 * bass.a1
	l.coef[2] = treb.b0 * bass.b0
	l.coef[3] = treb.b0*bass.b1 + treb.b1*bass.b0
	l.coef[4] = treb.b1 * bass.b1
}

// bassShelf computes a first order bass shelf for gain g at cutoff fc and
// sampling rate fs.
func bassShelf(g, fc, fs float64) firstOrder {
	var shelf firstOrder
	var a1 float64

	if g < 1.0 {
		a1 = (math.Tan(math.Pi*fc/fs) - g) / (math.Tan(math.Pi*fc/fs) + g)
	} else {
		a1 = (math.Tan(math.Pi*fc/fs) - 1.0) / (math.Tan(math.Pi*fc/fs) + 1.0)
	}
	shelf.a1 = a1
	shelf.b0 = (1.0+a1)*(g-1.0)/2.0 + 1.0
	shelf.b1 = (1.0+a1)*(g-1.0)/2.0 + a1
	return shelf
}

// trebleShelf computes a first order treble shelf for gain g at cutoff fc
// and sampling rate fs.
func trebleShelf(g, fc, fs float64) firstOrder {
	var shelf firstOrder
	var a1 float64

	if g < 1.0 {
		a1 = (g*math.Tan(math.Pi*fc/fs) - 1.0) / (g*math.Tan(math.Pi*fc/fs) + 1.0)
	} else {
		a1 = (math.Tan(math.Pi*fc/fs) - 1.0) / (math.Tan(math.Pi*fc/fs) + 1.0)
	}
	shelf.a1 = a1
	shelf.b0 = 1.0 + (1.0-a1)*(g-1.0)/2.0
	shelf.b1 = a1 + (a1-1.0)*(g-1.0)/2.0
	return shelf
}

// initTables computes the bass and treble shelf tables for the host rate,
// rebuilds the active coefficients and gains, and decides whether the
// anti-alias low pass is needed.
func (e *Engine) initTables() {
	const (
		fcBass   = 118.2763
		fcTreble = 8438.756
	)

	fs := float64(e.hostFreq)
	if fs < 8000.0 || fs > 96000.0 {
		fs = 44100.0
	}

	// If the treble turnover does not fit under the host Nyquist band,
	// stretch the gain steps to compensate.
	fcTT := fcTreble
	dbStep := 2.0
	if fcTT > 0.5*0.8*fs {
		fcTT = 0.5 * 0.8 * fs
		dbStep = 2.0 * 0.5 * 0.8 * fs / fcTT
	}

	for n, db := toneSteps-1, dbStep*(toneSteps-1)/2; n >= 0; n, db = n-1, db-dbStep {
		g := math.Pow(10.0, db/20.0) // +12dB down to -12dB
		e.lmc.trebTable[n] = trebleShelf(g, fcTT, fs)
	}

	for n, db := toneSteps-1, 12.0; n >= 0; n, db = n-1, db-2.0 {
		g := math.Pow(10.0, db/20.0)
		e.lmc.bassTable[n] = bassShelf(g, fcBass, fs)
	}

	e.setToneLevel(BassTrebleTable[e.mw.bass&0xF], BassTrebleTable[e.mw.treble&0xF])
	e.recomputeGains()

	// The anti-alias filter is not required when the host rate matches the
	// 50066 Hz hardware rate.
	e.lp.enabled = !(e.hostFreq > 50000 && e.hostFreq < 50100)
}

// recomputeGains derives the IIR input gains from the channel and master
// volumes.
func (e *Engine) recomputeGains() {
	e.lmc.leftGain = float64(uint32(e.mw.leftVolume)*uint32(e.mw.masterVolume)) * (1.0 / (65536.0 * 65536.0))
	e.lmc.rightGain = float64(uint32(e.mw.rightVolume)*uint32(e.mw.masterVolume)) * (1.0 / (65536.0 * 65536.0))
}

// Coefficients returns the five active IIR coefficients (tests/diagnostics).
func (e *Engine) Coefficients() [5]float64 {
	return e.lmc.coef
}

// Gains returns the left and right IIR input gains.
func (e *Engine) Gains() (left, right float64) {
	return e.lmc.leftGain, e.lmc.rightGain
}
