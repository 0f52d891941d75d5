package ph

import (
	"math"

	"github.com/thestuu/engine/internal/project"
)

// builtinFactories registers the shipped plugins. External scanners append
// to the same registry through RegisterExternal.
func builtinFactories() map[string]Factory {
	return map[string]Factory{
		UIDUltrasound: func(sr int) Plugin { return newUltrasound(sr) },
		UID4BandEq:    func(sr int) Plugin { return newFourBandEq(sr) },
		UIDReverb:     func(sr int) Plugin { return newReverb(sr) },
		UIDChorus:     func(sr int) Plugin { return newChorus(sr) },
	}
}

// paramBank is the shared parameter bookkeeping for built-ins: a fixed
// schema with normalized values, index and id addressable.
type paramBank struct {
	schema []project.ParamSchema
	byID   map[string]int
	hints  []string
}

func newParamBank(entries []project.ParamSchema, hints []string) *paramBank {
	b := &paramBank{schema: entries, byID: make(map[string]int, len(entries)), hints: hints}
	for i := range entries {
		b.byID[entries[i].ID] = i
	}
	return b
}

func (b *paramBank) set(index int, v float64) {
	if index < 0 || index >= len(b.schema) {
		return
	}
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	b.schema[index].Value = v
}

func (b *paramBank) get(index int) float64 { return b.schema[index].Value }

func (b *paramBank) params() []project.ParamSchema {
	out := make([]project.ParamSchema, len(b.schema))
	copy(out, b.schema)
	return out
}

func (b *paramBank) index(id string) int {
	if i, ok := b.byID[id]; ok {
		return i
	}
	return -1
}

func (b *paramBank) hintRows() []ParamHint {
	rows := make([]ParamHint, len(b.schema))
	for i := range b.schema {
		rows[i] = ParamHint{ParamSchema: b.schema[i]}
		if i < len(b.hints) {
			rows[i].Hint = b.hints[i]
		}
	}
	return rows
}

// norm maps a normalized value into [lo,hi] linearly.
func norm(v, lo, hi float64) float64 { return lo + v*(hi-lo) }

// ---------------------------------------------------------------------------
// Ultrasound: the built-in step-triggered drum/lead synth.

const ultrasoundVoices = 8

type usVoice struct {
	phase float64
	freq  float64
	env   float64
	decay float64
}

type ultrasound struct {
	bank       *paramBank
	sampleRate float64
	voices     [ultrasoundVoices]usVoice
	next       int
	lpState    float64
}

// laneFreqs maps pattern lanes to oscillator pitches. Lanes are assigned
// ids in first-seen order at graph build; the classic drum layout lands on
// the low end of this table.
var laneFreqs = [...]float64{55, 110, 196, 294, 392, 523, 659, 880, 1175, 1568}

func newUltrasound(sr int) *ultrasound {
	return &ultrasound{
		sampleRate: float64(sr),
		bank: newParamBank([]project.ParamSchema{
			{ID: "cutoff", Name: "Cutoff", Min: 0, Max: 1, Value: 0.8},
			{ID: "resonance", Name: "Resonance", Min: 0, Max: 1, Value: 0.2},
			{ID: "decay", Name: "Decay", Min: 0, Max: 1, Value: 0.4},
			{ID: "level", Name: "Level", Min: 0, Max: 1, Value: 0.8},
		}, []string{
			"Brightness of the sound; lower values are darker",
			"Emphasis right at the cutoff point",
			"How long each hit rings out",
			"Output volume of the synth",
		}),
	}
}

func (u *ultrasound) Info() PluginInfo {
	return PluginInfo{
		UID: UIDUltrasound, Name: "Ultrasound", Type: "synth",
		Kind: KindInstrument, IsNative: true, Parameters: u.bank.params(),
	}
}

func (u *ultrasound) Parameters() []project.ParamSchema { return u.bank.params() }
func (u *ultrasound) ParamIndex(id string) int          { return u.bank.index(id) }
func (u *ultrasound) ParamHints() []ParamHint           { return u.bank.hintRows() }
func (u *ultrasound) HasNativeEditor() bool             { return false }
func (u *ultrasound) SetParam(index int, v float64)     { u.bank.set(index, v) }

// Trigger starts the next voice in round-robin at the lane's pitch.
func (u *ultrasound) Trigger(lane int32, velocity float64) {
	idx := int(lane)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(laneFreqs) {
		idx = len(laneFreqs) - 1
	}
	decaySec := norm(u.bank.get(2), 0.04, 1.2)
	v := &u.voices[u.next]
	u.next = (u.next + 1) % ultrasoundVoices
	v.freq = laneFreqs[idx]
	v.phase = 0
	v.env = velocity
	v.decay = math.Exp(-1 / (decaySec * u.sampleRate))
}

func (u *ultrasound) Process(left, right []float32) {
	level := norm(u.bank.get(3), 0, 1)
	cutoff := norm(u.bank.get(0), 200, 12000)
	alpha := 1 - math.Exp(-2*math.Pi*cutoff/u.sampleRate)
	res := norm(u.bank.get(1), 0, 0.9)

	for i := range left {
		var s float64
		for vi := range u.voices {
			v := &u.voices[vi]
			if v.env < 1e-4 {
				continue
			}
			// Sine fundamental plus a soft saw partial for bite.
			s += v.env * (math.Sin(v.phase) + 0.3*math.Sin(2*v.phase))
			v.phase += 2 * math.Pi * v.freq / u.sampleRate
			v.env *= v.decay
		}
		// One-pole lowpass with resonance feedback.
		u.lpState += alpha * (s - u.lpState + res*(u.lpState-s)*0.5)
		out := float32(u.lpState * level * 0.5)
		left[i] += out
		right[i] += out
	}
}

// ---------------------------------------------------------------------------
// 4-band EQ: four peaking biquads at fixed centers with gain parameters.

type biquad struct {
	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     float64
}

func (f *biquad) setPeaking(sampleRate, freq, q, gainDB float64) {
	a := math.Pow(10, gainDB/40)
	w := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w) / (2 * q)
	b0 := 1 + alpha*a
	b1 := -2 * math.Cos(w)
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * math.Cos(w)
	a2 := 1 - alpha/a
	f.b0 = b0 / a0
	f.b1 = b1 / a0
	f.b2 = b2 / a0
	f.a1 = a1 / a0
	f.a2 = a2 / a0
}

func (f *biquad) process(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

var eqCenters = [4]float64{100, 500, 2000, 8000}

type fourBandEq struct {
	bank       *paramBank
	sampleRate float64
	filtL      [4]biquad
	filtR      [4]biquad
	dirty      bool
}

func newFourBandEq(sr int) *fourBandEq {
	eq := &fourBandEq{
		sampleRate: float64(sr),
		bank: newParamBank([]project.ParamSchema{
			{ID: "low", Name: "Low (100 Hz)", Min: 0, Max: 1, Value: 0.5},
			{ID: "low_mid", Name: "Low Mid (500 Hz)", Min: 0, Max: 1, Value: 0.5},
			{ID: "high_mid", Name: "High Mid (2 kHz)", Min: 0, Max: 1, Value: 0.5},
			{ID: "high", Name: "High (8 kHz)", Min: 0, Max: 1, Value: 0.5},
		}, []string{
			"Boost or cut the bass around 100 Hz",
			"Boost or cut warmth around 500 Hz",
			"Boost or cut presence around 2 kHz",
			"Boost or cut air around 8 kHz",
		}),
		dirty: true,
	}
	return eq
}

func (e *fourBandEq) Info() PluginInfo {
	return PluginInfo{
		UID: UID4BandEq, Name: "4-Band EQ", Type: "eq",
		Kind: KindEffect, IsNative: true, Parameters: e.bank.params(),
	}
}

func (e *fourBandEq) Parameters() []project.ParamSchema { return e.bank.params() }
func (e *fourBandEq) ParamIndex(id string) int          { return e.bank.index(id) }
func (e *fourBandEq) ParamHints() []ParamHint           { return e.bank.hintRows() }
func (e *fourBandEq) HasNativeEditor() bool             { return false }

func (e *fourBandEq) SetParam(index int, v float64) {
	e.bank.set(index, v)
	e.dirty = true
}

func (e *fourBandEq) refresh() {
	for b := 0; b < 4; b++ {
		gainDB := norm(e.bank.get(b), -12, 12)
		e.filtL[b].setPeaking(e.sampleRate, eqCenters[b], 0.9, gainDB)
		e.filtR[b].setPeaking(e.sampleRate, eqCenters[b], 0.9, gainDB)
	}
	e.dirty = false
}

func (e *fourBandEq) Process(left, right []float32) {
	if e.dirty {
		e.refresh()
	}
	for i := range left {
		l := float64(left[i])
		r := float64(right[i])
		for b := 0; b < 4; b++ {
			l = e.filtL[b].process(l)
			r = e.filtR[b].process(r)
		}
		left[i] = float32(l)
		right[i] = float32(r)
	}
}

// ---------------------------------------------------------------------------
// Reverb: Schroeder topology, four combs + two allpasses per channel.

var combTunings = [4]float64{0.0297, 0.0371, 0.0411, 0.0437} // seconds
var allpassTunings = [2]float64{0.005, 0.0017}

type combFilter struct {
	buf      []float64
	pos      int
	feedback float64
	damp     float64
	state    float64
}

func (c *combFilter) process(x float64) float64 {
	y := c.buf[c.pos]
	c.state = y*(1-c.damp) + c.state*c.damp
	c.buf[c.pos] = x + c.state*c.feedback
	c.pos = (c.pos + 1) % len(c.buf)
	return y
}

type allpassFilter struct {
	buf []float64
	pos int
}

func (a *allpassFilter) process(x float64) float64 {
	y := a.buf[a.pos]
	a.buf[a.pos] = x + y*0.5
	a.pos = (a.pos + 1) % len(a.buf)
	return y - x*0.5
}

type reverb struct {
	bank       *paramBank
	combsL     [4]combFilter
	combsR     [4]combFilter
	allpassL   [2]allpassFilter
	allpassR   [2]allpassFilter
}

func newReverb(sr int) *reverb {
	r := &reverb{
		bank: newParamBank([]project.ParamSchema{
			{ID: "room_size", Name: "Room Size", Min: 0, Max: 1, Value: 0.5},
			{ID: "damp", Name: "Damping", Min: 0, Max: 1, Value: 0.5},
			{ID: "mix", Name: "Mix", Min: 0, Max: 1, Value: 0.3},
		}, []string{
			"Apparent size of the space",
			"How quickly high frequencies fade in the tail",
			"Balance between dry signal and reverb",
		}),
	}
	for i := range r.combsL {
		// Right channel detuned slightly for stereo spread.
		r.combsL[i].buf = make([]float64, int(combTunings[i]*float64(sr)))
		r.combsR[i].buf = make([]float64, int((combTunings[i]+0.0011)*float64(sr)))
	}
	for i := range r.allpassL {
		r.allpassL[i].buf = make([]float64, int(allpassTunings[i]*float64(sr)))
		r.allpassR[i].buf = make([]float64, int((allpassTunings[i]+0.0003)*float64(sr)))
	}
	return r
}

func (r *reverb) Info() PluginInfo {
	return PluginInfo{
		UID: UIDReverb, Name: "Reverb", Type: "reverb",
		Kind: KindEffect, IsNative: true, Parameters: r.bank.params(),
	}
}

func (r *reverb) Parameters() []project.ParamSchema { return r.bank.params() }
func (r *reverb) ParamIndex(id string) int          { return r.bank.index(id) }
func (r *reverb) ParamHints() []ParamHint           { return r.bank.hintRows() }
func (r *reverb) HasNativeEditor() bool             { return false }
func (r *reverb) SetParam(index int, v float64)     { r.bank.set(index, v) }

func (r *reverb) Process(left, right []float32) {
	feedback := norm(r.bank.get(0), 0.7, 0.95)
	damp := norm(r.bank.get(1), 0, 0.8)
	mix := r.bank.get(2)

	for i := range left {
		dryL := float64(left[i])
		dryR := float64(right[i])
		input := (dryL + dryR) * 0.5

		var wetL, wetR float64
		for c := range r.combsL {
			r.combsL[c].feedback = feedback
			r.combsL[c].damp = damp
			r.combsR[c].feedback = feedback
			r.combsR[c].damp = damp
			wetL += r.combsL[c].process(input)
			wetR += r.combsR[c].process(input)
		}
		for a := range r.allpassL {
			wetL = r.allpassL[a].process(wetL)
			wetR = r.allpassR[a].process(wetR)
		}
		wetL *= 0.25
		wetR *= 0.25

		left[i] = float32(dryL*(1-mix) + wetL*mix)
		right[i] = float32(dryR*(1-mix) + wetR*mix)
	}
}

// ---------------------------------------------------------------------------
// Chorus: modulated delay line per channel.

type chorus struct {
	bank       *paramBank
	sampleRate float64
	bufL       []float64
	bufR       []float64
	pos        int
	lfoPhase   float64
}

func newChorus(sr int) *chorus {
	size := sr / 20 // 50 ms max delay
	return &chorus{
		sampleRate: float64(sr),
		bufL:       make([]float64, size),
		bufR:       make([]float64, size),
		bank: newParamBank([]project.ParamSchema{
			{ID: "rate", Name: "Rate", Min: 0, Max: 1, Value: 0.3},
			{ID: "depth", Name: "Depth", Min: 0, Max: 1, Value: 0.4},
			{ID: "mix", Name: "Mix", Min: 0, Max: 1, Value: 0.5},
		}, []string{
			"Speed of the shimmer movement",
			"How far the pitch wobbles",
			"Balance between dry signal and chorus",
		}),
	}
}

func (c *chorus) Info() PluginInfo {
	return PluginInfo{
		UID: UIDChorus, Name: "Chorus", Type: "chorus",
		Kind: KindEffect, IsNative: true, Parameters: c.bank.params(),
	}
}

func (c *chorus) Parameters() []project.ParamSchema { return c.bank.params() }
func (c *chorus) ParamIndex(id string) int          { return c.bank.index(id) }
func (c *chorus) ParamHints() []ParamHint           { return c.bank.hintRows() }
func (c *chorus) HasNativeEditor() bool             { return false }
func (c *chorus) SetParam(index int, v float64)     { c.bank.set(index, v) }

func (c *chorus) Process(left, right []float32) {
	rate := norm(c.bank.get(0), 0.1, 4)
	depthSamples := norm(c.bank.get(1), 0, 0.008) * c.sampleRate
	mix := c.bank.get(2)
	baseDelay := 0.015 * c.sampleRate
	size := len(c.bufL)

	for i := range left {
		c.bufL[c.pos] = float64(left[i])
		c.bufR[c.pos] = float64(right[i])

		lfo := math.Sin(c.lfoPhase)
		c.lfoPhase += 2 * math.Pi * rate / c.sampleRate
		if c.lfoPhase > 2*math.Pi {
			c.lfoPhase -= 2 * math.Pi
		}

		// Right channel modulates in antiphase for width.
		dl := baseDelay + lfo*depthSamples
		dr := baseDelay - lfo*depthSamples
		wetL := readDelay(c.bufL, c.pos, dl, size)
		wetR := readDelay(c.bufR, c.pos, dr, size)

		left[i] = float32(float64(left[i])*(1-mix) + wetL*mix)
		right[i] = float32(float64(right[i])*(1-mix) + wetR*mix)

		c.pos = (c.pos + 1) % size
	}
}

func readDelay(buf []float64, pos int, delay float64, size int) float64 {
	read := float64(pos) - delay
	for read < 0 {
		read += float64(size)
	}
	i := int(read) % size
	j := (i + 1) % size
	frac := read - math.Floor(read)
	return buf[i]*(1-frac) + buf[j]*frac
}
