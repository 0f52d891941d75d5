package project

import "math"

// SnapStep resolves one of the six grid snap modes to a concrete
// bar-length step, so clip.create/move/resize can snap deterministically
// server-side without trusting a client-supplied step. `auto` is
// recomputed here from the zoom level, because the session orchestrator
// is the sole writer and must validate start/length without a client
// round-trip.
//
// A bar is (numerator*4/denominator) beats; a beat divides into four
// cells on the default 1/16 grid, so "beat" and "bar" are expressed
// directly in bars, while "cell"/"line"/"half_beat" scale off the current
// time signature.
func SnapStep(mode SnapMode, bpm int, sig TimeSignature, zoomBarWidth float64) float64 {
	beatsPerBar := beatsPerBar(sig)
	barsPerBeat := 1.0 / beatsPerBar
	barsPerStep := barsPerBeat / 4 // 1/16 grid default

	switch mode {
	case SnapBar:
		return 1.0
	case SnapBeat:
		return barsPerBeat
	case SnapHalfBeat:
		return barsPerBeat / 2
	case SnapCell:
		return barsPerStep
	case SnapLine:
		return barsPerStep / 4
	case SnapAuto:
		return autoSnapStep(zoomBarWidth, barsPerBeat)
	default:
		return barsPerStep
	}
}

func beatsPerBar(sig TimeSignature) float64 {
	num := sig.Numerator
	den := sig.Denominator
	if num < 1 {
		num = 4
	}
	if !ValidDenominators[den] {
		den = 4
	}
	return float64(num) * 4.0 / float64(den)
}

// autoSnapStep halves the snap step as the bar grows on-screen, so a more
// zoomed-in view exposes finer grid resolution: at or below 20px/bar snaps
// to whole bars; each doubling of zoomBarWidth past that halves the step
// down to the floor of one 1/16-grid cell (a quarter beat).
func autoSnapStep(zoomBarWidth, barsPerBeat float64) float64 {
	const baseWidth = 20.0
	floor := barsPerBeat / 4 // finest: one 1/16 grid cell
	if zoomBarWidth <= baseWidth {
		return 1.0
	}
	doublings := math.Log2(zoomBarWidth / baseWidth)
	step := 1.0 / math.Pow(2, math.Floor(doublings))
	if step < floor {
		return floor
	}
	return step
}

// SnapValue rounds v to the nearest multiple of step (halves away from
// zero), never producing a value below 0.
func SnapValue(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	snapped := math.Round(v/step) * step
	if snapped < 0 {
		return 0
	}
	return snapped
}

// BarsToSeconds converts a bar count to wall-clock seconds:
// seconds = bars * (numerator*4/denominator) * 60 / bpm, exact to double
// precision.
func BarsToSeconds(bars float64, bpm int, sig TimeSignature) float64 {
	return bars * beatsPerBar(sig) * 60.0 / float64(bpm)
}

// SecondsToBars is the inverse of BarsToSeconds.
func SecondsToBars(seconds float64, bpm int, sig TimeSignature) float64 {
	bpb := beatsPerBar(sig)
	if bpb == 0 {
		return 0
	}
	return seconds * float64(bpm) / (60.0 * bpb)
}

// BarsToBeats converts a bar count to beats under the current time signature.
func BarsToBeats(bars float64, sig TimeSignature) float64 {
	return bars * beatsPerBar(sig)
}
