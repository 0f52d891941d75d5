package rac

import (
	"math"
	"sync/atomic"

	"github.com/klauspost/cpuid/v2"

	"github.com/thestuu/engine/internal/logging"
)

// Spectrum tap parameters: a 2048-sample Hann-windowed Goertzel bank over
// 96 logarithmically spaced frequencies from 20 Hz to
// min(20 kHz, 0.92*Nyquist).
const (
	spectrumWindow = 2048
	SpectrumBins   = 96
	spectrumLoHz   = 20.0
	spectrumHiHz   = 20000.0
)

// spectrumTap runs the Goertzel bank incrementally: each master-bus sample
// updates all 96 resonators, so no per-window buffering or FFT scratch is
// needed on the audio thread. Finished magnitude frames are published
// through an atomic pointer flip between two pre-allocated arrays.
type spectrumTap struct {
	coeffs [SpectrumBins]float64 // 2*cos(2*pi*f/fs) per bin
	hann   [spectrumWindow]float64

	s1  [SpectrumBins]float64
	s2  [SpectrumBins]float64
	pos int

	frames    [2][SpectrumBins]float64
	published atomic.Pointer[[SpectrumBins]float64]
	writeIdx  int
}

func newSpectrumTap(sampleRate int) *spectrumTap {
	t := &spectrumTap{}
	nyquist := float64(sampleRate) / 2
	hi := math.Min(spectrumHiHz, 0.92*nyquist)
	for i := 0; i < SpectrumBins; i++ {
		// Logarithmic spacing lo..hi inclusive.
		f := spectrumLoHz * math.Pow(hi/spectrumLoHz, float64(i)/float64(SpectrumBins-1))
		t.coeffs[i] = 2 * math.Cos(2*math.Pi*f/float64(sampleRate))
	}
	for i := 0; i < spectrumWindow; i++ {
		t.hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(spectrumWindow-1)))
	}

	logging.ForService("rac").Info("spectrum tap initialized",
		"bins", SpectrumBins, "window", spectrumWindow,
		"hi_hz", hi, "cpu", cpuid.CPU.BrandName,
		"avx2", cpuid.CPU.Supports(cpuid.AVX2))
	return t
}

// feed consumes one mono master sample. Allocation-free.
func (t *spectrumTap) feed(x float64) {
	w := x * t.hann[t.pos]
	for i := 0; i < SpectrumBins; i++ {
		s0 := w + t.coeffs[i]*t.s1[i] - t.s2[i]
		t.s2[i] = t.s1[i]
		t.s1[i] = s0
	}
	t.pos++
	if t.pos == spectrumWindow {
		t.finalize()
	}
}

func (t *spectrumTap) finalize() {
	out := &t.frames[t.writeIdx]
	for i := 0; i < SpectrumBins; i++ {
		mag := math.Sqrt(t.s1[i]*t.s1[i] + t.s2[i]*t.s2[i] - t.coeffs[i]*t.s1[i]*t.s2[i])
		out[i] = mag / (spectrumWindow / 2)
		t.s1[i] = 0
		t.s2[i] = 0
	}
	t.published.Store(out)
	t.writeIdx = 1 - t.writeIdx
	t.pos = 0
}

// Magnitudes returns the most recently completed frame, or nil before the
// first full window. Safe from any thread.
func (t *spectrumTap) Magnitudes() *[SpectrumBins]float64 {
	return t.published.Load()
}
