package rac

import (
	"github.com/thestuu/engine/internal/project"
)

// transportClock is the sample-accurate musical clock, owned exclusively
// by the audio thread. Position is tracked in beats as a float64 advanced
// by exactly blockFrames/sampleRate seconds per block, so bars<->seconds
// stays deterministic: seconds = bars * (num*4/den) * 60 / bpm.
type transportClock struct {
	sampleRate float64
	bpm        float64
	sig        project.TimeSignature

	playing   bool
	recording bool
	beats     float64 // current position in beats
}

func newTransportClock(sampleRate int, bpm int, sig project.TimeSignature) *transportClock {
	return &transportClock{
		sampleRate: float64(sampleRate),
		bpm:        float64(bpm),
		sig:        sig,
	}
}

// advance moves the clock by one block and returns the beat range the block
// covers. A stopped clock returns an empty range at the current position.
func (t *transportClock) advance(frames int) (startBeat, endBeat float64) {
	startBeat = t.beats
	if !t.playing {
		return startBeat, startBeat
	}
	seconds := float64(frames) / t.sampleRate
	t.beats += seconds * t.bpm / 60.0
	return startBeat, t.beats
}

func (t *transportClock) beatsPerBar() float64 {
	num := t.sig.Numerator
	den := t.sig.Denominator
	if num < 1 {
		num = 4
	}
	if den < 1 {
		den = 4
	}
	return float64(num) * 4.0 / float64(den)
}

// bars returns the current position in bars.
func (t *transportClock) bars() float64 { return t.beats / t.beatsPerBar() }

func (t *transportClock) seek(beats float64) {
	if beats < 0 {
		beats = 0
	}
	t.beats = beats
}

func (t *transportClock) setBPM(bpm float64) {
	if bpm < project.MinBPM {
		bpm = project.MinBPM
	}
	if bpm > project.MaxBPM {
		bpm = project.MaxBPM
	}
	t.bpm = bpm
}

// TransportSnapshot is the client-facing transport position decomposition
// used by engine:transport events: bar/beat/step are 1-based display
// values, stepIndex is the absolute 1/16-grid step.
type TransportSnapshot struct {
	Playing       bool
	Recording     bool
	PositionBeats float64
	PositionBars  float64
	Bar           int
	Beat          int
	Step          int
	StepIndex     int
	BPM           float64
}

// snapshotTransport decomposes a beat position under a time signature.
func snapshotTransport(beats, bpm float64, sig project.TimeSignature, playing, recording bool) TransportSnapshot {
	num := sig.Numerator
	if num < 1 {
		num = 4
	}
	den := sig.Denominator
	if den < 1 {
		den = 4
	}
	beatsPerBar := float64(num) * 4.0 / float64(den)
	bars := beats / beatsPerBar
	barIdx := int(bars)
	beatInBar := beats - float64(barIdx)*beatsPerBar
	stepInBeat := (beatInBar - float64(int(beatInBar))) * 4 // 1 beat = 4 steps

	return TransportSnapshot{
		Playing:       playing,
		Recording:     recording,
		PositionBeats: beats,
		PositionBars:  bars,
		Bar:           barIdx + 1,
		Beat:          int(beatInBar) + 1,
		Step:          int(stepInBeat) + 1,
		StepIndex:     int(beats * 4),
		BPM:           bpm,
	}
}
