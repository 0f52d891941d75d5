package rac

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestuu/engine/internal/project"
)

func sig44() project.TimeSignature {
	return project.TimeSignature{Numerator: 4, Denominator: 4}
}

func TestCommandQueueRoundTrip(t *testing.T) {
	q := NewCommandQueue(8)
	in := []Command{
		{Op: CmdPlay},
		{Op: CmdSeek, F1: 3.25},
		{Op: CmdSetVolume, I1: 4, F1: 0.92},
		{Op: CmdSetParam, I1: 17, I2: 3, F1: 0.5, F2: 1},
	}
	for _, c := range in {
		q.Push(c)
	}
	for _, want := range in {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestCommandQueueFullPanics(t *testing.T) {
	q := NewCommandQueue(2)
	q.Push(Command{Op: CmdPlay})
	q.Push(Command{Op: CmdPause})
	assert.Panics(t, func() { q.Push(Command{Op: CmdStop}) })
}

func TestNotificationQueueDropsWhenFull(t *testing.T) {
	q := NewNotificationQueue(1)
	assert.True(t, q.Push(Notification{Op: NotifyMeter, I1: 1}, true))
	assert.False(t, q.Push(Notification{Op: NotifyMeter, I1: 2}, true))
	assert.Zero(t, q.DroppedCritical())

	assert.False(t, q.Push(Notification{Op: NotifyRecordDone, I1: 3}, false))
	assert.Equal(t, uint64(1), q.DroppedCritical())

	n, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, int32(1), n.I1)
}

func TestTransportClockAdvance(t *testing.T) {
	c := newTransportClock(48000, 120, sig44())
	c.playing = true

	// One second of blocks at 120 bpm is exactly 2 beats.
	for i := 0; i < 48000/512; i++ {
		c.advance(512)
	}
	c.advance(48000 % 512)
	assert.InDelta(t, 2.0, c.beats, 1e-9)
	assert.InDelta(t, 0.5, c.bars(), 1e-9)
}

func TestTransportClockSeekClamps(t *testing.T) {
	c := newTransportClock(48000, 120, sig44())
	c.seek(-5)
	assert.Zero(t, c.beats)
	c.setBPM(10)
	assert.Equal(t, float64(project.MinBPM), c.bpm)
	c.setBPM(1000)
	assert.Equal(t, float64(project.MaxBPM), c.bpm)
}

func TestSnapshotTransportDecomposition(t *testing.T) {
	s := snapshotTransport(5.5, 120, sig44(), true, false)
	assert.Equal(t, 2, s.Bar)  // beats 0..3 are bar 1
	assert.Equal(t, 2, s.Beat) // beat 5.5 is the second beat of bar 2
	assert.Equal(t, 3, s.Step) // half a beat = 2 full steps in
	assert.Equal(t, 22, s.StepIndex)
	assert.InDelta(t, 1.375, s.PositionBars, 1e-9)
}

func TestFlattenStepsSwingAndLoop(t *testing.T) {
	pat := &project.Pattern{
		ID: "p", Type: "drum", Length: 16, Swing: 0.5,
		Steps: []project.Step{
			{Lane: "Kick", Index: 0, Velocity: 1},
			{Lane: "Snare", Index: 1, Velocity: 0.8},
			{Lane: "Gone", Index: 4, Velocity: 0}, // velocity 0: removed
		},
	}
	// Clip spanning two pattern repetitions (16 steps = 4 beats each).
	events := flattenSteps(pat, 0, 8)
	require.Len(t, events, 4)
	assert.InDelta(t, 0.0, events[0].beat, 1e-9)
	// Odd step delayed by swing * half a cell = 0.5*0.125 beats.
	assert.InDelta(t, 0.25+0.0625, events[1].beat, 1e-9)
	assert.InDelta(t, 4.0, events[2].beat, 1e-9)
	assert.InDelta(t, 4.3125, events[3].beat, 1e-9)
}

// testSynth is a minimal instrument: each trigger adds a DC burst so tests
// can see exactly when it fired.
type testSynth struct {
	triggers []int32
	level    float32
	param    float64
}

func (s *testSynth) Process(left, right []float32) {
	for i := range left {
		left[i] += s.level
		right[i] += s.level
	}
	s.level *= 0.5
}
func (s *testSynth) SetParam(i int, v float64) { s.param = v }
func (s *testSynth) Trigger(lane int32, velocity float64) {
	s.triggers = append(s.triggers, lane)
	s.level = float32(velocity)
}

func testProject() *project.Project {
	p := project.Default("Graph Test", 120)
	p.Playlist = []project.Track{{
		TrackID: 1, Name: "Drums", ChainEnabled: true,
		NodeIDs: []string{"node-1"},
		Clips: []project.Clip{{
			ID: "c1", Start: 0, Length: 1, Type: project.ClipPattern, PatternID: "pat",
		}},
	}}
	p.Patterns = []project.Pattern{{
		ID: "pat", Type: "drum", Length: 16,
		Steps: []project.Step{{Lane: "Kick", Index: 0, Velocity: 1}},
	}}
	p.Mixer = []project.MixerChannel{{TrackID: 1, Volume: 1.0}}
	p.Nodes = []project.Node{{
		ID: "node-1", Type: project.NodeVSTInstrument,
		PluginUID: "internal:ultrasound", TrackID: 1, PluginIndex: 0,
	}}
	return p
}

func newTestEngine() *Engine {
	return NewEngine(Config{SampleRate: 48000, BlockFrames: 512}, nil, 120, sig44())
}

func TestEngineGraphSwapAndPatternTrigger(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	synth := &testSynth{}
	e.InstallGraph(testProject(), func(nodeID string) (Processor, bool) {
		return synth, nodeID == "node-1"
	}, nil)

	e.cmds.Push(Command{Op: CmdPlay})

	outL := make([]float32, 512)
	outR := make([]float32, 512)
	inBuf := make([]float32, 512)
	e.renderBlock(outL, outR, inBuf, inBuf, 512)

	require.Len(t, synth.triggers, 1, "the step at beat 0 fires in the first block")
	assert.Positive(t, outL[0], "triggered synth output reaches the mix bus")
	assert.Equal(t, uint64(1), e.blocksRendered.Load())
}

func TestEngineAudioClipRender(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	p := project.Default("Audio Test", 120)
	p.Playlist = []project.Track{{
		TrackID: 1, Name: "Audio",
		Clips: []project.Clip{{
			ID: "a1", Start: 0, Length: 4, Type: project.ClipAudio,
			Audio: &project.AudioClipData{SourcePath: "x.wav"},
		}},
	}}
	p.Mixer = []project.MixerChannel{{TrackID: 1, Volume: 1.0}}

	src := &AudioSource{SampleRate: 48000, Samples: [][]float32{make([]float32, 48000)}}
	for i := range src.Samples[0] {
		src.Samples[0][i] = 0.5
	}
	e.InstallGraph(p, func(string) (Processor, bool) { return nil, false },
		map[string]*AudioSource{"a1": src})

	e.cmds.Push(Command{Op: CmdPlay})
	outL := make([]float32, 512)
	outR := make([]float32, 512)
	silent := make([]float32, 512)
	e.renderBlock(outL, outR, silent, silent, 512)

	// Equal-power center pan at unity volume: gain = cos(pi/4).
	want := 0.5 * float32(math.Cos(math.Pi/4))
	assert.InDelta(t, want, outL[100], 0.01)
	assert.InDelta(t, want, outR[100], 0.01)
}

func TestEngineMuteAndSolo(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	p := project.Default("MS Test", 120)
	p.Playlist = []project.Track{
		{TrackID: 1, Clips: []project.Clip{{ID: "a1", Start: 0, Length: 4, Type: project.ClipAudio, Audio: &project.AudioClipData{}}}},
		{TrackID: 2, Clips: []project.Clip{{ID: "a2", Start: 0, Length: 4, Type: project.ClipAudio, Audio: &project.AudioClipData{}}}},
	}
	p.Mixer = []project.MixerChannel{
		{TrackID: 1, Volume: 1.0},
		{TrackID: 2, Volume: 1.0, Solo: true},
	}
	ones := &AudioSource{SampleRate: 48000, Samples: [][]float32{make([]float32, 48000)}}
	for i := range ones.Samples[0] {
		ones.Samples[0][i] = 0.25
	}
	e.InstallGraph(p, func(string) (Processor, bool) { return nil, false },
		map[string]*AudioSource{"a1": ones, "a2": ones})

	e.cmds.Push(Command{Op: CmdPlay})
	outL := make([]float32, 512)
	outR := make([]float32, 512)
	silent := make([]float32, 512)
	e.renderBlock(outL, outR, silent, silent, 512)

	// Only the solo track sums; a non-solo track under an active solo is cut.
	want := 0.25 * float32(math.Cos(math.Pi/4))
	assert.InDelta(t, want, outL[10], 0.01)

	// The muted meter stays at zero while the solo track meters normally.
	tr1 := e.active.track(1)
	tr2 := e.active.track(2)
	assert.Zero(t, tr1.peak)
	assert.Positive(t, tr2.peak)
}

func TestEngineVolumeCommandInterpolates(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	p := project.Default("Vol Test", 120)
	p.Playlist = []project.Track{{TrackID: 1}}
	p.Mixer = []project.MixerChannel{{TrackID: 1, Volume: 1.0}}
	e.InstallGraph(p, func(string) (Processor, bool) { return nil, false }, nil)

	outL := make([]float32, 512)
	outR := make([]float32, 512)
	silent := make([]float32, 512)
	e.renderBlock(outL, outR, silent, silent, 512) // claim the graph

	e.cmds.Push(Command{Op: CmdSetVolume, I1: 1, F1: 0.2})
	e.renderBlock(outL, outR, silent, silent, 512)

	tr := e.active.track(1)
	assert.InDelta(t, 0.2, tr.volume, 1e-9, "volume reaches its target within one block")
}

func TestSpectrumTapDetectsTone(t *testing.T) {
	tap := newSpectrumTap(48000)
	freq := 1000.0
	for i := 0; i < spectrumWindow; i++ {
		tap.feed(math.Sin(2 * math.Pi * freq * float64(i) / 48000))
	}
	mags := tap.Magnitudes()
	require.NotNil(t, mags)

	// The strongest bin should sit near 1 kHz.
	best := 0
	for i, m := range mags {
		if m > mags[best] {
			best = i
		}
	}
	nyquist := 24000.0
	hi := math.Min(spectrumHiHz, 0.92*nyquist)
	binFreq := spectrumLoHz * math.Pow(hi/spectrumLoHz, float64(best)/float64(SpectrumBins-1))
	assert.InDelta(t, freq, binFreq, 120, "peak bin frequency")
}

func TestRecorderSpillRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "take.wav")
	rec, err := newRecorder(path, 1.0, 8000, 1)
	require.NoError(t, err)

	raw := make([]byte, 4*8000)
	for i := 0; i < 8000; i++ {
		putFloat32LE(raw[i*4:], float32(math.Sin(2*math.Pi*220*float64(i)/8000)))
	}
	require.True(t, rec.capture(raw))
	require.NoError(t, rec.finish())

	assert.FileExists(t, path)
}

func putFloat32LE(b []byte, f float32) {
	bits := math.Float32bits(f)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
}

func TestBufferPoolShape(t *testing.T) {
	p := NewBufferPool(256, 2)
	buf := p.Get()
	require.Len(t, buf, 2)
	require.Len(t, buf[0], 256)
	buf[0][0] = 1
	p.Put(buf)
	buf2 := p.Get()
	assert.Zero(t, buf2[0][0], "pooled buffers come back zeroed")
}

func TestSlotIDStability(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	a := e.SlotIDFor("node-a")
	b := e.SlotIDFor("node-b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, e.SlotIDFor("node-a"))
	e.ReleaseSlotID("node-a")
	assert.NotEqual(t, a, e.SlotIDFor("node-a"), "released ids are not reused")
}
