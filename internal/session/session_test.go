package session

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestuu/engine/internal/persistence"
	"github.com/thestuu/engine/internal/ph"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
)

type fixture struct {
	s      *Session
	cancel context.CancelFunc
}

func newFixture(t *testing.T, p *project.Project) *fixture {
	t.Helper()
	dir := t.TempDir()
	engine := rac.NewEngine(rac.Config{SampleRate: 48000, BlockFrames: 512}, nil,
		p.BPM, p.TimeSignature)
	host := ph.NewHost(48000)

	s := New(Config{
		Engine:      engine,
		Host:        host,
		ProjectPath: filepath.Join(dir, "test.stu"),
		MediaDir:    filepath.Join(dir, "media"),
	}, p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	// Give the worker a beat to start draining.
	time.Sleep(10 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		host.Close()
		engine.Close()
	})
	return &fixture{s: s, cancel: cancel}
}

func (f *fixture) submit(t *testing.T, op string, payload any) Reply {
	t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		raw = b
	}
	return f.s.Submit(context.Background(), op, raw)
}

func (f *fixture) mustSubmit(t *testing.T, op string, payload any) Reply {
	t.Helper()
	reply := f.submit(t, op, payload)
	require.True(t, reply.OK, "%s failed: %s %s", op, reply.Error, reply.Message)
	return reply
}

func TestTrackCreateAssignsDenseIDs(t *testing.T) {
	f := newFixture(t, project.Default("Dense", 120))

	for i := 0; i < 3; i++ {
		f.mustSubmit(t, OpTrackCreate, map[string]any{"name": "Track"})
	}
	p := f.s.Snapshot()
	require.Len(t, p.Playlist, 3)
	for i, tr := range p.Playlist {
		assert.Equal(t, i+1, tr.TrackID)
	}
	// One MixerChannel per track, default volume.
	require.Len(t, p.Mixer, 3)
	assert.Equal(t, project.DefaultVolume, p.Mixer[0].Volume)
}

func TestTrackDeleteRenumbersAndDropsMixer(t *testing.T) {
	f := newFixture(t, project.Default("Del", 120))
	for i := 0; i < 3; i++ {
		f.mustSubmit(t, OpTrackCreate, nil)
	}
	f.mustSubmit(t, OpTrackDelete, map[string]any{"track_id": 2})

	p := f.s.Snapshot()
	require.Len(t, p.Playlist, 2)
	assert.Equal(t, 1, p.Playlist[0].TrackID)
	assert.Equal(t, 2, p.Playlist[1].TrackID)
	assert.Len(t, p.Mixer, 2)
	assert.Empty(t, p.Validate())
}

func TestTrackDeleteUnknownFailsAtomically(t *testing.T) {
	f := newFixture(t, project.Default("Atomic", 120))
	f.mustSubmit(t, OpTrackCreate, nil)

	reply := f.submit(t, OpTrackDelete, map[string]any{"track_id": 99})
	assert.False(t, reply.OK)
	assert.Equal(t, "not_found", reply.Error)

	p := f.s.Snapshot()
	assert.Len(t, p.Playlist, 1, "failed mutation leaves the project untouched")
}

func TestTrackIDZeroRejected(t *testing.T) {
	f := newFixture(t, project.Default("Zero", 120))
	reply := f.submit(t, OpTrackSetVolume, map[string]any{"track_id": 0, "value": 0.5})
	assert.False(t, reply.OK)
	assert.Equal(t, "not_found", reply.Error)
}

func TestMixerBoundsAndIdempotency(t *testing.T) {
	f := newFixture(t, project.Default("Mix", 120))
	f.mustSubmit(t, OpTrackCreate, nil)

	reply := f.submit(t, OpTrackSetVolume, map[string]any{"track_id": 1, "value": 1.5})
	assert.Equal(t, "out_of_range", reply.Error)

	f.mustSubmit(t, OpTrackSetVolume, map[string]any{"track_id": 1, "value": 1.2})
	f.mustSubmit(t, OpTrackSetMute, map[string]any{"track_id": 1, "on": true})
	// Idempotent repeat.
	f.mustSubmit(t, OpTrackSetMute, map[string]any{"track_id": 1, "on": true})
	f.mustSubmit(t, OpTrackSetRecordArm, map[string]any{"track_id": 1, "on": true})
	f.mustSubmit(t, OpTrackSetRecordArm, map[string]any{"track_id": 1, "on": true})

	p := f.s.Snapshot()
	mc := p.MixerByTrackID(1)
	require.NotNil(t, mc)
	assert.Equal(t, 1.2, mc.Volume)
	assert.True(t, mc.Mute)
	assert.True(t, mc.RecordArmed)
}

func TestBPMClamped(t *testing.T) {
	f := newFixture(t, project.Default("BPM", 120))

	f.mustSubmit(t, OpTransportSetBPM, map[string]any{"bpm": 19})
	assert.Equal(t, 20, f.s.Snapshot().BPM)

	f.mustSubmit(t, OpTransportSetBPM, map[string]any{"bpm": 301})
	assert.Equal(t, 300, f.s.Snapshot().BPM)
}

func TestViewBarsClamped(t *testing.T) {
	f := newFixture(t, project.Default("View", 120))

	f.mustSubmit(t, OpProjectUpdateView, map[string]any{"playlist_view_bars": 4})
	assert.Equal(t, project.MinViewBars, f.s.Snapshot().PlaylistViewBars)

	f.mustSubmit(t, OpProjectUpdateView, map[string]any{"playlist_view_bars": 10000})
	assert.Equal(t, project.MaxViewBars, f.s.Snapshot().PlaylistViewBars)
}

func TestClipCreateRequiresPattern(t *testing.T) {
	f := newFixture(t, project.Default("Clip", 120))
	f.mustSubmit(t, OpTrackCreate, nil)

	reply := f.submit(t, OpClipCreate, map[string]any{
		"track_id": 1, "start": 0, "length": 1, "pattern_id": "missing",
	})
	assert.Equal(t, "not_found", reply.Error)

	f.mustSubmit(t, OpPatternCreate, map[string]any{
		"pattern_id": "drums", "type": "drum", "length": 16,
	})
	f.mustSubmit(t, OpClipCreate, map[string]any{
		"track_id": 1, "start": 0, "length": 1, "pattern_id": "drums",
	})

	p := f.s.Snapshot()
	require.Len(t, p.Playlist[0].Clips, 1)
	assert.Empty(t, p.Validate())
}

func TestClipZeroLengthRejected(t *testing.T) {
	f := newFixture(t, project.Default("ZeroLen", 120))
	f.mustSubmit(t, OpTrackCreate, nil)
	f.mustSubmit(t, OpPatternCreate, map[string]any{"pattern_id": "p", "length": 16})

	reply := f.submit(t, OpClipCreate, map[string]any{
		"track_id": 1, "start": 0, "length": 0, "pattern_id": "p",
	})
	assert.False(t, reply.OK)
	assert.Equal(t, "out_of_range", reply.Error)
}

func TestClipSnapsToGrid(t *testing.T) {
	f := newFixture(t, project.Default("Snap", 120))
	f.mustSubmit(t, OpTrackCreate, nil)
	f.mustSubmit(t, OpPatternCreate, map[string]any{"pattern_id": "p", "length": 16})

	// beat snap in 4/4: step = 0.25 bars.
	f.mustSubmit(t, OpClipCreate, map[string]any{
		"track_id": 1, "start": 1.1, "length": 0.8, "pattern_id": "p", "snap_mode": "beat",
	})
	p := f.s.Snapshot()
	clip := p.Playlist[0].Clips[0]
	assert.InDelta(t, 1.0, clip.Start, 1e-9)
	assert.InDelta(t, 0.75, clip.Length, 1e-9)
}

func TestClipResizeEnforcesMinimum(t *testing.T) {
	f := newFixture(t, project.Default("Resize", 120))
	f.mustSubmit(t, OpTrackCreate, nil)
	f.mustSubmit(t, OpPatternCreate, map[string]any{"pattern_id": "p", "length": 16})
	reply := f.mustSubmit(t, OpClipCreate, map[string]any{
		"track_id": 1, "start": 0, "length": 1, "pattern_id": "p", "snap_mode": "beat",
	})
	clipID := reply.Data["clip_id"].(string)

	f.mustSubmit(t, OpClipResize, map[string]any{
		"clip_id": clipID, "length": 0.01, "snap_mode": "beat",
	})
	p := f.s.Snapshot()
	assert.InDelta(t, 0.25, p.Playlist[0].Clips[0].Length, 1e-9,
		"resize clamps to one grid step")
}

func TestPatternUpdateStepUpsertAndRemove(t *testing.T) {
	f := newFixture(t, project.Default("Steps", 120))
	f.mustSubmit(t, OpPatternCreate, map[string]any{"pattern_id": "p", "length": 16})

	f.mustSubmit(t, OpPatternUpdateStep, map[string]any{
		"pattern_id": "p", "lane": "Kick", "index": 0, "velocity": 1.0,
	})
	f.mustSubmit(t, OpPatternUpdateStep, map[string]any{
		"pattern_id": "p", "lane": "Kick", "index": 0, "velocity": 0.5,
	})
	p := f.s.Snapshot()
	pat := p.PatternByID("p")
	require.Len(t, pat.Steps, 1)
	assert.Equal(t, 0.5, pat.Steps[0].Velocity)

	// Velocity 0 removes.
	f.mustSubmit(t, OpPatternUpdateStep, map[string]any{
		"pattern_id": "p", "lane": "Kick", "index": 0, "velocity": 0,
	})
	assert.Empty(t, f.s.Snapshot().PatternByID("p").Steps)
}

func TestVSTAddWritesNode(t *testing.T) {
	f := newFixture(t, project.Default("VST", 120))
	f.mustSubmit(t, OpTrackCreate, nil)

	reply := f.mustSubmit(t, OpVSTAdd, map[string]any{
		"track_id": 1, "uid": ph.UIDUltrasound, "insert_index": 0,
	})
	nodeID := reply.Data["node_id"].(string)
	require.NotEmpty(t, nodeID)

	p := f.s.Snapshot()
	require.Len(t, p.Nodes, 1)
	node := p.Nodes[0]
	assert.Equal(t, project.NodeVSTInstrument, node.Type)
	assert.Equal(t, 0, node.PluginIndex)
	assert.NotEmpty(t, node.ParameterSchema)
	assert.Equal(t, []string{nodeID}, p.Playlist[0].NodeIDs)
	assert.Empty(t, p.Validate())
}

func TestVSTChainReorderKeepsDenseIndices(t *testing.T) {
	f := newFixture(t, project.Default("Chain", 120))
	f.mustSubmit(t, OpTrackCreate, nil)
	f.mustSubmit(t, OpVSTAdd, map[string]any{"track_id": 1, "uid": ph.UIDUltrasound})
	f.mustSubmit(t, OpVSTAdd, map[string]any{"track_id": 1, "uid": ph.UIDReverb, "insert_index": 1})
	f.mustSubmit(t, OpVSTAdd, map[string]any{"track_id": 1, "uid": ph.UIDChorus, "insert_index": 2})

	f.mustSubmit(t, OpVSTReorder, map[string]any{"track_id": 1, "from": 2, "to": 0})

	p := f.s.Snapshot()
	require.Len(t, p.Playlist[0].NodeIDs, 3)
	for i, id := range p.Playlist[0].NodeIDs {
		node := p.NodeByID(id)
		require.NotNil(t, node)
		assert.Equal(t, i, node.PluginIndex)
	}
	assert.Equal(t, "internal:tracktion:chorus", p.NodeByID(p.Playlist[0].NodeIDs[0]).PluginUID)
	assert.Empty(t, p.Validate())
}

func TestVSTParamSetClampsAndMirrors(t *testing.T) {
	f := newFixture(t, project.Default("Param", 120))
	f.mustSubmit(t, OpTrackCreate, nil)
	reply := f.mustSubmit(t, OpVSTAdd, map[string]any{"track_id": 1, "uid": ph.UIDReverb})
	nodeID := reply.Data["node_id"].(string)

	f.mustSubmit(t, OpVSTParamSet, map[string]any{
		"node_id": nodeID, "param_id": "mix", "value": 2.5,
	})
	p := f.s.Snapshot()
	node := p.NodeByID(nodeID)
	assert.Equal(t, 1.0, node.Params["mix"], "value clamps to [0,1]")
}

func TestVSTRemoveRenumbers(t *testing.T) {
	f := newFixture(t, project.Default("Remove", 120))
	f.mustSubmit(t, OpTrackCreate, nil)
	r1 := f.mustSubmit(t, OpVSTAdd, map[string]any{"track_id": 1, "uid": ph.UIDReverb})
	f.mustSubmit(t, OpVSTAdd, map[string]any{"track_id": 1, "uid": ph.UIDChorus, "insert_index": 1})

	f.mustSubmit(t, OpVSTRemove, map[string]any{"node_id": r1.Data["node_id"]})

	p := f.s.Snapshot()
	require.Len(t, p.Nodes, 1)
	assert.Equal(t, 0, p.Nodes[0].PluginIndex)
	assert.Empty(t, p.Validate())
}

func TestProjectSaveRoundTrip(t *testing.T) {
	f := newFixture(t, project.Default("Roundtrip Session", 120))
	f.mustSubmit(t, OpTrackCreate, nil)
	f.mustSubmit(t, OpPatternCreate, map[string]any{
		"pattern_id": "drum_custom", "type": "drum", "length": 16, "swing": 0.2,
		"steps": []map[string]any{
			{"lane": "Kick", "index": 0, "velocity": 1},
			{"lane": "OH", "index": 7, "velocity": 0.6},
		},
	})
	f.mustSubmit(t, OpClipCreate, map[string]any{
		"track_id": 1, "start": 1.25, "length": 0.75,
		"pattern_id": "drum_custom", "snap_mode": "beat",
	})
	reply := f.mustSubmit(t, OpProjectSave, nil)
	path := reply.Data["path"].(string)

	loaded, err := persistence.Load(path)
	require.NoError(t, err)
	pat := loaded.Project.PatternByID("drum_custom")
	require.NotNil(t, pat)
	assert.Equal(t, 0.2, pat.Swing)
	require.Len(t, pat.Steps, 2)

	clip := loaded.Project.Playlist[0].Clips[0]
	assert.Equal(t, 1.25, clip.Start)
	assert.Equal(t, 0.75, clip.Length)
	assert.Equal(t, "drum_custom", clip.PatternID)
}

func TestTransportPlayIdempotent(t *testing.T) {
	f := newFixture(t, project.Default("Play", 120))
	f.mustSubmit(t, OpTransportPlay, nil)
	f.mustSubmit(t, OpTransportPlay, nil)
	assert.Equal(t, statePlaying, f.s.transportStateForTest())
	f.mustSubmit(t, OpTransportPause, nil)
	assert.Equal(t, statePaused, f.s.transportStateForTest())
	f.mustSubmit(t, OpTransportPlay, nil)
	assert.Equal(t, statePlaying, f.s.transportStateForTest())
	f.mustSubmit(t, OpTransportStop, nil)
	assert.Equal(t, stateStopped, f.s.transportStateForTest())
}

func TestSeekClampsNegative(t *testing.T) {
	f := newFixture(t, project.Default("Seek", 120))
	reply := f.mustSubmit(t, OpTransportSeek, map[string]any{"position_bars": -3.0})
	assert.Equal(t, 0.0, reply.Data["position_bars"])
}

func TestUnknownOperation(t *testing.T) {
	f := newFixture(t, project.Default("Unknown", 120))
	reply := f.submit(t, "bogus.op", nil)
	assert.False(t, reply.OK)
	assert.Equal(t, "invalid_request", reply.Error)
}

func TestInternalOpsRejectedFromWire(t *testing.T) {
	f := newFixture(t, project.Default("Internal", 120))
	reply := f.s.Submit(context.Background(), opRecordDone, nil)
	assert.False(t, reply.OK)
}

func TestSubscribeReceivesStateBroadcast(t *testing.T) {
	f := newFixture(t, project.Default("Sub", 120))
	events, cancel := f.s.Subscribe(16)
	defer cancel()

	f.mustSubmit(t, OpTrackCreate, nil)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Name == EventState {
				p, ok := ev.Payload.(*project.Project)
				require.True(t, ok)
				assert.Len(t, p.Playlist, 1)
				return
			}
		case <-deadline:
			t.Fatal("no state broadcast received")
		}
	}
}
