package rac

import "math"

// metronome synthesizes a click at each beat, accenting the first beat
// of the bar per the time signature. Phase derives from the transport
// clock, so the click stays aligned across pause/resume and seek without
// any internal counter to drift.
type metronome struct {
	sampleRate float64
	env        float64
	freq       float64
	phase      float64
}

const (
	clickDecayPerSample = 0.9985
	clickAccentHz       = 1760.0
	clickBeatHz         = 880.0
	clickLevel          = 0.4
)

func newMetronome(sampleRate int) *metronome {
	return &metronome{sampleRate: float64(sampleRate)}
}

// render adds click audio for the block's beat range into the stereo pair.
// beatsPerBar positions the accent; startBeat/endBeat come straight from
// the clock's advance.
func (m *metronome) render(outL, outR []float32, startBeat, endBeat, beatsPerBar float64, frames int) {
	if frames == 0 || endBeat <= startBeat {
		return
	}
	beatsPerFrame := (endBeat - startBeat) / float64(frames)
	for i := 0; i < frames; i++ {
		beat := startBeat + float64(i)*beatsPerFrame
		next := beat + beatsPerFrame
		if crossed := math.Floor(next) > math.Floor(beat) || (i == 0 && beat == math.Floor(beat)); crossed {
			beatIdx := math.Floor(next)
			if i == 0 && beat == math.Floor(beat) {
				beatIdx = beat
			}
			m.env = 1
			m.phase = 0
			if beatsPerBar > 0 && math.Mod(beatIdx, beatsPerBar) == 0 {
				m.freq = clickAccentHz
			} else {
				m.freq = clickBeatHz
			}
		}
		if m.env > 0.001 {
			s := float32(clickLevel * m.env * math.Sin(m.phase))
			outL[i] += s
			outR[i] += s
			m.phase += 2 * math.Pi * m.freq / m.sampleRate
			m.env *= clickDecayPerSample
		}
	}
}
