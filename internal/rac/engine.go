package rac

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/metrics"
	"github.com/thestuu/engine/internal/project"
)

// Config sizes the engine. Every transient buffer is pre-allocated from
// these figures so the callback never allocates.
type Config struct {
	SampleRate  int
	BlockFrames int
	MaxChannels int
	InputDevice  string
	OutputDevice string
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 48000
	}
	if c.BlockFrames <= 0 {
		c.BlockFrames = 512
	}
	// The mix path is stereo throughout; fewer than two channels would
	// alias the left/right scratch buffers.
	if c.MaxChannels < 2 {
		c.MaxChannels = 2
	}
}

// retireRingSize bounds in-flight retired graph descriptions. The audio
// thread produces at most one per swap; the reclaim goroutine drains
// continuously, so 64 slots is far beyond any realistic burst.
const retireRingSize = 64

// Engine owns the audio callback and all realtime state. Construction and
// graph installation happen off the audio thread; renderBlock is the only
// code that runs on it.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	m      *metrics.RACMetrics

	cmds  *CommandQueue
	notes *NotificationQueue

	// Audio-thread-owned state.
	active *GraphDescription
	clock  *transportClock
	metro  *metronome
	spec   *spectrumTap
	mixL   []float32
	mixR   []float32
	recRaw []byte

	// Cross-thread handoff.
	pending atomic.Pointer[GraphDescription]
	rec     atomic.Pointer[recorder]

	// Retire ring: audio-thread producer, reclaim-goroutine consumer.
	retired     [retireRingSize]atomic.Pointer[GraphDescription]
	retireHead  atomic.Uint64 // producer
	retireTail  atomic.Uint64 // consumer
	reclaimStop chan struct{}
	reclaimDone chan struct{}

	// Stable node-id -> slot-id mapping, non-audio threads only.
	slotMu   sync.Mutex
	slotIDs  map[string]int32
	nextSlot int32

	generation atomic.Uint64

	blocksRendered atomic.Uint64
	underruns      atomic.Uint64
	spillDrops     atomic.Uint64
	deviceRunning  atomic.Bool

	notifyEvery int // blocks between meter/transport publishes (<=30 Hz)
	notifyCount int

	pool   *BufferPool
	device *device
}

// NewEngine builds an engine with all realtime buffers pre-sized. The
// device is not opened until StartDevice.
func NewEngine(cfg Config, m *metrics.RACMetrics, bpm int, sig project.TimeSignature) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:         cfg,
		logger:      logging.ForService("rac"),
		m:           m,
		cmds:        NewCommandQueue(512),
		notes:       NewNotificationQueue(2048),
		clock:       newTransportClock(cfg.SampleRate, bpm, sig),
		metro:       newMetronome(cfg.SampleRate),
		spec:        newSpectrumTap(cfg.SampleRate),
		mixL:        make([]float32, cfg.BlockFrames),
		mixR:        make([]float32, cfg.BlockFrames),
		recRaw:      make([]byte, cfg.BlockFrames*cfg.MaxChannels*4),
		slotIDs:     make(map[string]int32),
		pool:        NewBufferPool(cfg.BlockFrames, cfg.MaxChannels),
		reclaimStop: make(chan struct{}),
		reclaimDone: make(chan struct{}),
	}
	// Round up so the publish rate never exceeds 30 Hz.
	e.notifyEvery = (cfg.SampleRate + cfg.BlockFrames*30 - 1) / (cfg.BlockFrames * 30)
	if e.notifyEvery < 1 {
		e.notifyEvery = 1
	}
	go e.reclaimLoop()
	return e
}

// Commands returns the inbound command queue. The session worker is the
// single producer.
func (e *Engine) Commands() *CommandQueue { return e.cmds }

// Notifications returns the outbound queue. The session worker is the
// single consumer.
func (e *Engine) Notifications() *NotificationQueue { return e.notes }

// Spectrum returns the latest master spectrum frame, or nil.
func (e *Engine) Spectrum() *[SpectrumBins]float64 { return e.spec.Magnitudes() }

// SlotIDFor returns the stable slot id for a node, allocating on first use.
// Command-queue references to plugin slots survive graph rebuilds through
// this mapping.
func (e *Engine) SlotIDFor(nodeID string) int32 {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	if id, ok := e.slotIDs[nodeID]; ok {
		return id
	}
	e.nextSlot++
	e.slotIDs[nodeID] = e.nextSlot
	return e.nextSlot
}

// ReleaseSlotID drops the mapping for a deleted node.
func (e *Engine) ReleaseSlotID(nodeID string) {
	e.slotMu.Lock()
	defer e.slotMu.Unlock()
	delete(e.slotIDs, nodeID)
}

// InstallGraph builds a fresh description from the snapshot and stages it
// for pickup at the next block boundary. Called from the session worker.
func (e *Engine) InstallGraph(p *project.Project, resolve func(nodeID string) (Processor, bool), sources map[string]*AudioSource) {
	gen := e.generation.Add(1)
	g := BuildGraph(p, GraphInputs{
		Resolve: resolve,
		Sources: sources,
		SlotID:  e.SlotIDFor,
	}, gen, e.cfg.BlockFrames)

	// Replacing a not-yet-claimed pending description retires it here, on
	// the producer side; the audio thread never saw it.
	if old := e.pending.Swap(g); old != nil {
		e.retire(old)
	}
	e.logger.Debug("graph staged", "generation", gen, "tracks", len(g.tracks))
}

// ArmRecording prepares the spill writer and starts capture. startBars is
// the transport position the take begins at; the resulting clip lands
// there. Called from the session worker before the record transition.
func (e *Engine) ArmRecording(spillPath string, startBars float64) error {
	rec, err := newRecorder(spillPath, startBars, e.cfg.SampleRate, e.cfg.MaxChannels)
	if err != nil {
		return err
	}
	e.rec.Store(rec)
	e.cmds.Push(Command{Op: CmdRecordStart, F1: startBars})
	return nil
}

// FinishRecording finalizes the spill file after the audio thread has
// acknowledged the stop (the caller must have consumed NotifyRecordDone
// first, so no capture call can race the close). Returns the spill path.
func (e *Engine) FinishRecording() (string, error) {
	rec := e.rec.Swap(nil)
	if rec == nil {
		return "", nil
	}
	return rec.path, rec.finish()
}

// Close stops the device and the reclaim goroutine.
func (e *Engine) Close() {
	e.StopDevice()
	close(e.reclaimStop)
	<-e.reclaimDone
}

// retire hands a description to the reclaim goroutine. Audio-thread safe:
// a full ring (never expected) leaks the description to GC instead of
// blocking.
func (e *Engine) retire(g *GraphDescription) {
	head := e.retireHead.Load()
	if head-e.retireTail.Load() >= retireRingSize {
		return
	}
	e.retired[head%retireRingSize].Store(g)
	e.retireHead.Store(head + 1)
}

func (e *Engine) reclaimLoop() {
	defer close(e.reclaimDone)
	for {
		select {
		case <-e.reclaimStop:
			return
		default:
		}
		tail := e.retireTail.Load()
		if tail == e.retireHead.Load() {
			waitReclaim()
			continue
		}
		slot := &e.retired[tail%retireRingSize]
		if g := slot.Swap(nil); g != nil && e.m != nil {
			e.m.RetiredGraphs.Inc()
		}
		e.retireTail.Store(tail + 1)
	}
}

// waitReclaim idles the reclaim goroutine between drains.
func waitReclaim() { time.Sleep(5 * time.Millisecond) }

// renderBlock is the audio callback body: swap the graph, drain commands,
// advance the clock, render tracks into the mix, feed the taps, publish.
// outL/outR/inL/inR are the engine's deinterleaved device buffers; frames
// never exceeds cfg.BlockFrames.
func (e *Engine) renderBlock(outL, outR, inL, inR []float32, frames int) {
	// Swap in a staged graph at the block boundary, before draining
	// commands: a command enqueued after InstallGraph must not observe the
	// previous description.
	if g := e.pending.Swap(nil); g != nil {
		old := e.active
		e.active = g
		if old != nil {
			e.retire(old)
		}
		if e.m != nil {
			e.m.GraphSwaps.Inc()
		}
	}

	e.drainCommands()

	startBeat, endBeat := e.clock.advance(frames)

	clear(e.mixL[:frames])
	clear(e.mixR[:frames])

	g := e.active
	if g != nil {
		anySolo := false
		for _, tr := range g.tracks {
			if tr.solo {
				anySolo = true
				break
			}
		}
		for _, tr := range g.tracks {
			e.renderTrack(tr, startBeat, endBeat, frames, anySolo)
		}
		if g.metronome && e.clock.playing {
			e.metro.render(e.mixL[:frames], e.mixR[:frames],
				startBeat, endBeat, e.clock.beatsPerBar(), frames)
		}
	}

	for i := 0; i < frames; i++ {
		e.spec.feed(float64(e.mixL[i]+e.mixR[i]) * 0.5)
	}

	copy(outL[:frames], e.mixL[:frames])
	copy(outR[:frames], e.mixR[:frames])

	if e.clock.recording {
		e.captureInput(inL, inR, frames)
	}

	e.blocksRendered.Add(1)
	e.publishNotifications(g, frames)
}

func (e *Engine) drainCommands() {
	for {
		c, ok := e.cmds.Pop()
		if !ok {
			return
		}
		switch c.Op {
		case CmdPlay:
			e.clock.playing = true
		case CmdPause:
			e.clock.playing = false
			e.clock.recording = false
		case CmdStop:
			if e.clock.recording {
				e.emitRecordDone()
			}
			e.clock.playing = false
			e.clock.recording = false
			e.clock.seek(0)
		case CmdSeek:
			e.clock.seek(c.F1)
		case CmdSetBPM:
			e.clock.setBPM(c.F1)
		case CmdSetVolume:
			if tr := e.active.track(c.I1); tr != nil {
				tr.volumeTarget = c.F1
			}
		case CmdSetPan:
			if tr := e.active.track(c.I1); tr != nil {
				tr.panTarget = c.F1
			}
		case CmdSetMute:
			if tr := e.active.track(c.I1); tr != nil {
				tr.mute = c.F1 != 0
			}
		case CmdSetSolo:
			if tr := e.active.track(c.I1); tr != nil {
				tr.solo = c.F1 != 0
			}
		case CmdSetParam:
			if slot := e.active.slot(c.I1); slot != nil && slot.Proc != nil && !slot.skip {
				slot.Proc.SetParam(int(c.I2), c.F1)
			}
		case CmdSetBypass:
			if slot := e.active.slot(c.I1); slot != nil {
				slot.bypassed = c.F1 != 0
			}
		case CmdSkipSlot:
			if slot := e.active.slot(c.I1); slot != nil {
				slot.skip = true
			}
		case CmdRecordStart:
			e.clock.recording = true
			e.clock.playing = true
		case CmdRecordStop:
			if e.clock.recording {
				e.emitRecordDone()
			}
			e.clock.recording = false
		case CmdMetronome:
			if e.active != nil {
				e.active.metronome = c.F1 != 0
			}
		}
	}
}

// emitRecordDone notifies the session worker once per armed track with the
// take's placement. Non-droppable.
func (e *Engine) emitRecordDone() {
	rec := e.rec.Load()
	if rec == nil {
		return
	}
	duration := project.BarsToSeconds(e.clock.bars()-rec.startBars,
		int(e.clock.bpm), e.clock.sig)
	if duration < 0 {
		duration = 0
	}
	if e.active != nil {
		for _, tr := range e.active.tracks {
			if tr.armed {
				e.notes.Push(Notification{
					Op: NotifyRecordDone, I1: tr.trackID,
					F1: rec.startBars, F2: duration,
				}, false)
			}
		}
	}
}

func (e *Engine) renderTrack(tr *trackRender, startBeat, endBeat float64, frames int, anySolo bool) {
	bufL := tr.bufL[:frames]
	bufR := tr.bufR[:frames]
	clear(bufL)
	clear(bufR)

	secondsPerBeat := 60.0 / e.clock.bpm
	beatsPerFrame := 0.0
	if e.clock.playing && frames > 0 {
		beatsPerFrame = (endBeat - startBeat) / float64(frames)
	}

	for ci := range tr.clips {
		c := &tr.clips[ci]
		if c.muted || !e.clock.playing {
			continue
		}
		if c.endBeat <= startBeat || c.startBeat >= endBeat {
			continue
		}
		switch c.kind {
		case clipAudio:
			srcRate := float64(c.source.SampleRate)
			for i := 0; i < frames; i++ {
				beat := startBeat + float64(i)*beatsPerFrame
				if beat < c.startBeat || beat >= c.endBeat {
					continue
				}
				srcPos := (beat - c.startBeat) * secondsPerBeat * srcRate
				l, r := c.source.frameAt(srcPos)
				bufL[i] += l
				bufR[i] += r
			}
		case clipPattern:
			if tr.instrument == nil || tr.instrument.skip || tr.instrument.Proc == nil {
				continue
			}
			inst, ok := tr.instrument.Proc.(Instrument)
			if !ok {
				continue
			}
			for _, ev := range c.events {
				if ev.beat >= startBeat && ev.beat < endBeat {
					inst.Trigger(ev.lane, ev.velocity)
				}
			}
		}
	}

	// Chain: the instrument generates into the buffer every block (envelope
	// tails survive silence); effect slots run only while the chain is
	// enabled.
	for _, slot := range tr.chain {
		if slot.skip || slot.bypassed || slot.Proc == nil {
			continue
		}
		if slot != tr.instrument && !tr.chainEnabled {
			continue
		}
		slot.Proc.Process(bufL, bufR)
	}

	// Volume/pan with a one-block ramp to the target (zipper-noise rule).
	audible := !tr.mute && (!anySolo || tr.solo)
	volStep := (tr.volumeTarget - tr.volume) / float64(frames)
	panStep := (tr.panTarget - tr.pan) / float64(frames)
	var sumSq float64
	var peak float64
	for i := 0; i < frames; i++ {
		tr.volume += volStep
		tr.pan += panStep
		angle := (tr.pan + 1) * math.Pi / 4
		gl := float32(tr.volume * math.Cos(angle))
		gr := float32(tr.volume * math.Sin(angle))
		l := bufL[i] * gl
		r := bufR[i] * gr
		bufL[i] = l
		bufR[i] = r
		if audible {
			e.mixL[i] += l
			e.mixR[i] += r
		}
		amp := math.Abs(float64(l))
		if ar := math.Abs(float64(r)); ar > amp {
			amp = ar
		}
		if amp > peak {
			peak = amp
		}
		sumSq += float64(l)*float64(l) + float64(r)*float64(r)
	}
	tr.volume = tr.volumeTarget
	tr.pan = tr.panTarget
	if !audible {
		peak, sumSq = 0, 0
	}
	tr.peak = math.Min(peak, 1)
	tr.rms = math.Min(math.Sqrt(sumSq/float64(2*frames)), 1)
}

func (e *Engine) captureInput(inL, inR []float32, frames int) {
	rec := e.rec.Load()
	if rec == nil {
		return
	}
	channels := e.cfg.MaxChannels
	if channels > 2 {
		channels = 2
	}
	n := 0
	for i := 0; i < frames; i++ {
		binary.LittleEndian.PutUint32(e.recRaw[n:], math.Float32bits(inL[i]))
		n += 4
		if channels == 2 {
			binary.LittleEndian.PutUint32(e.recRaw[n:], math.Float32bits(inR[i]))
			n += 4
		}
	}
	if !rec.capture(e.recRaw[:n]) {
		e.spillDrops.Add(1)
	}
}

func (e *Engine) publishNotifications(g *GraphDescription, frames int) {
	e.notifyCount++
	if e.notifyCount < e.notifyEvery {
		return
	}
	e.notifyCount = 0

	playing := int32(0)
	if e.clock.playing {
		playing = 1
	}
	if e.clock.recording {
		playing |= 2
	}
	e.notes.Push(Notification{
		Op: NotifyTransport, I1: playing,
		F1: e.clock.beats, F2: e.clock.bpm,
	}, true)

	if g != nil {
		for _, tr := range g.tracks {
			e.notes.Push(Notification{
				Op: NotifyMeter, I1: tr.trackID,
				F1: tr.peak, F2: tr.rms,
			}, true)
		}
	}
}

// TransportView decodes a transport notification into the client-facing
// snapshot, using the project's time signature.
func TransportView(n Notification, sig project.TimeSignature) TransportSnapshot {
	return snapshotTransport(n.F1, n.F2, sig, n.I1&1 != 0, n.I1&2 != 0)
}
