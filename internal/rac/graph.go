package rac

import (
	"sort"

	"github.com/thestuu/engine/internal/project"
)

// Processor is the audio-thread-facing surface of a plugin instance. The
// plugin host's instances satisfy it; rac never imports the host package.
// Process runs in place on one block's stereo pair and must be
// allocation-free.
type Processor interface {
	Process(left, right []float32)
	SetParam(index int, normalized float64)
}

// Instrument extends Processor with step triggering for pattern clips:
// steps intersecting the block are evaluated at their beat positions into
// the track's instrument.
type Instrument interface {
	Processor
	Trigger(lane int32, velocity float64)
}

// AudioSource is a fully decoded audio clip source, prepared off the audio
// thread at graph-build time so the callback only copies samples.
type AudioSource struct {
	SampleRate int
	// Samples is per-channel; mono sources have one channel which the
	// renderer duplicates to both outputs.
	Samples         [][]float32
	DurationSeconds float64
}

// frameAt linearly interpolates the source at the given source-frame
// position, returning left/right.
func (s *AudioSource) frameAt(pos float64) (float32, float32) {
	if len(s.Samples) == 0 {
		return 0, 0
	}
	n := len(s.Samples[0])
	i := int(pos)
	if i < 0 || i >= n {
		return 0, 0
	}
	frac := float32(pos - float64(i))
	j := i + 1
	if j >= n {
		j = i
	}
	l := s.Samples[0][i] + (s.Samples[0][j]-s.Samples[0][i])*frac
	r := l
	if len(s.Samples) > 1 {
		r = s.Samples[1][i] + (s.Samples[1][j]-s.Samples[1][i])*frac
	}
	return l, r
}

// PluginSlot is one position in a track's chain. skip implements phase one
// of the two-phase teardown: the audio thread is told to skip the
// slot before the host releases the instance. All fields are written only
// by the audio thread after the description goes live.
type PluginSlot struct {
	SlotID   int32
	Proc     Processor
	bypassed bool
	skip     bool
}

type stepEvent struct {
	beat     float64
	lane     int32
	velocity float64
}

type clipKind uint8

const (
	clipAudio clipKind = iota + 1
	clipPattern
)

// renderClip is a playback-ready clip: positions pre-converted to beats,
// pattern steps flattened to sorted absolute beat events.
type renderClip struct {
	kind      clipKind
	startBeat float64
	endBeat   float64
	muted     bool
	source    *AudioSource
	events    []stepEvent
}

// trackRender is one track's slice of the graph. volume/pan carry both the
// current (ramping) and target values for one-block interpolation.
type trackRender struct {
	trackID      int32
	chainEnabled bool
	clips        []renderClip
	chain        []*PluginSlot
	instrument   *PluginSlot

	volume       float64
	volumeTarget float64
	pan          float64
	panTarget    float64
	mute         bool
	solo         bool
	armed        bool

	// Pre-sized per-track render buffer, owned by the description.
	bufL []float32
	bufR []float32

	// Per-block meter state, read by the publisher after rendering.
	peak float64
	rms  float64
}

// GraphDescription is the immutable-per-block playback graph. Built off
// the audio thread, installed via an atomic pointer exchange at a block
// boundary, reclaimed through the retire ring.
type GraphDescription struct {
	generation uint64
	tracks     []*trackRender
	slotsByID  map[int32]*PluginSlot
	metronome  bool
}

// slot finds a plugin slot by id; nil when the slot is gone.
func (g *GraphDescription) slot(id int32) *PluginSlot {
	if g == nil {
		return nil
	}
	return g.slotsByID[id]
}

func (g *GraphDescription) track(id int32) *trackRender {
	if g == nil {
		return nil
	}
	for _, tr := range g.tracks {
		if tr.trackID == id {
			return tr
		}
	}
	return nil
}

// GraphInputs is everything BuildGraph needs beyond the document: resolved
// plugin processors by node id and decoded audio sources by clip id.
type GraphInputs struct {
	// Resolve returns the live processor for a node id, or false when the
	// host has no instance (the slot is then built skipped).
	Resolve func(nodeID string) (Processor, bool)
	// Sources maps clip id -> decoded source for audio clips.
	Sources map[string]*AudioSource
	// SlotID returns a stable int32 for a node id, so command-queue
	// references survive rebuilds.
	SlotID func(nodeID string) int32
}

// BuildGraph converts a project snapshot into a playback description.
// Runs on a non-audio thread; all allocation happens here.
func BuildGraph(p *project.Project, in GraphInputs, generation uint64, blockFrames int) *GraphDescription {
	g := &GraphDescription{
		generation: generation,
		slotsByID:  make(map[int32]*PluginSlot),
		metronome:  p.MetronomeEnabled,
	}
	beatsPerBar := project.BarsToBeats(1, p.TimeSignature)

	for ti := range p.Playlist {
		src := &p.Playlist[ti]
		tr := &trackRender{
			trackID:      int32(src.TrackID),
			chainEnabled: src.ChainEnabled,
			volume:       project.DefaultVolume,
			volumeTarget: project.DefaultVolume,
			bufL:         make([]float32, blockFrames),
			bufR:         make([]float32, blockFrames),
		}
		if mc := p.MixerByTrackID(src.TrackID); mc != nil {
			tr.volume, tr.volumeTarget = mc.Volume, mc.Volume
			tr.pan, tr.panTarget = mc.Pan, mc.Pan
			tr.mute = mc.Mute
			tr.solo = mc.Solo
			tr.armed = mc.RecordArmed
		}

		for ci := range src.Clips {
			c := &src.Clips[ci]
			rc := renderClip{
				startBeat: c.Start * beatsPerBar,
				endBeat:   (c.Start + c.Length) * beatsPerBar,
				muted:     c.Muted,
			}
			switch c.Type {
			case project.ClipAudio:
				rc.kind = clipAudio
				rc.source = in.Sources[c.ID]
				if rc.source == nil {
					continue
				}
			case project.ClipPattern:
				rc.kind = clipPattern
				pat := p.PatternByID(c.PatternID)
				if pat == nil {
					continue
				}
				rc.events = flattenSteps(pat, rc.startBeat, rc.endBeat)
			default:
				continue // midi clips pass through to a hosted instrument, nothing to render
			}
			tr.clips = append(tr.clips, rc)
		}

		for _, nodeID := range src.NodeIDs {
			node := p.NodeByID(nodeID)
			if node == nil {
				continue
			}
			slot := &PluginSlot{SlotID: in.SlotID(nodeID), bypassed: node.Bypassed}
			if proc, ok := in.Resolve(nodeID); ok {
				slot.Proc = proc
			} else {
				slot.skip = true
			}
			g.slotsByID[slot.SlotID] = slot
			tr.chain = append(tr.chain, slot)
			if tr.instrument == nil && node.Type == project.NodeVSTInstrument {
				tr.instrument = slot
			}
		}

		g.tracks = append(g.tracks, tr)
	}
	return g
}

// flattenSteps converts a pattern's step grid into absolute beat events for
// one clip placement, looping the pattern across the clip length. One
// pattern step is one 1/16-grid cell (1/4 beat); swing delays every odd
// step by swing * half a cell.
func flattenSteps(pat *project.Pattern, clipStartBeat, clipEndBeat float64) []stepEvent {
	if pat.Length <= 0 {
		return nil
	}
	lanes := make(map[string]int32)
	laneOf := func(name string) int32 {
		if id, ok := lanes[name]; ok {
			return id
		}
		id := int32(len(lanes))
		lanes[name] = id
		return id
	}

	const beatsPerStep = 0.25
	patternBeats := float64(pat.Length) * beatsPerStep
	var events []stepEvent
	for rep := 0; ; rep++ {
		repStart := clipStartBeat + float64(rep)*patternBeats
		if repStart >= clipEndBeat {
			break
		}
		for _, s := range pat.Steps {
			if s.Velocity <= 0 || s.Index < 0 || s.Index >= pat.Length {
				continue
			}
			beat := repStart + float64(s.Index)*beatsPerStep
			if s.Index%2 == 1 {
				beat += pat.Swing * beatsPerStep / 2
			}
			if beat >= clipEndBeat {
				continue
			}
			events = append(events, stepEvent{beat: beat, lane: laneOf(s.Lane), velocity: s.Velocity})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].beat < events[j].beat })
	return events
}
