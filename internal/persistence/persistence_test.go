package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestuu/engine/internal/project"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.stu")

	p := project.Default("My Session", 140)
	p.Playlist = []project.Track{{TrackID: 1, Name: "Drums"}}
	p.Mixer = []project.MixerChannel{{TrackID: 1, Volume: project.DefaultVolume}}

	require.NoError(t, Save(path, p))

	res, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "My Session", res.Project.Title)
	assert.Equal(t, 140, res.Project.BPM)
	assert.Empty(t, res.Warnings)
}

func TestLoadSurfacesValidationFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.stu")

	p := project.Default("Broken", 120)
	p.Playlist = []project.Track{{TrackID: 1, Name: "Drums"}}
	p.Mixer = []project.MixerChannel{{TrackID: 1, Volume: project.DefaultVolume}}
	p.Playlist[0].Clips = []project.Clip{{ID: "c1", Start: 0, Length: 1, Type: project.ClipPattern, PatternID: "missing"}}

	require.NoError(t, Save(path, p))

	_, err := Load(path)
	require.Error(t, err)
	var vf *ValidationFailure
	require.ErrorAs(t, err, &vf)
	assert.NotEmpty(t, vf.Errors)
}

func TestViewDebounceCoalesces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "view.stu")

	var errs []error
	d := NewViewDebounce(path, func(err error) { errs = append(errs, err) })

	p1 := project.Default("First", 100)
	p2 := project.Default("Second", 110)
	d.Queue(p1)
	d.Queue(p2)
	d.Flush()

	require.Empty(t, errs)
	res, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Second", res.Project.Title)
}

func TestViewDebounceRespectsInterval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "view2.stu")
	d := NewViewDebounce(path, nil)
	d.Queue(project.Default("X", 100))

	_, err := Load(path)
	assert.Error(t, err, "write should not have happened yet")

	time.Sleep(200 * time.Millisecond)
	_, err = Load(path)
	assert.NoError(t, err)
}

func TestNodeRoundTripPreservesSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vst.stu")

	p := project.Default("VST Session", 120)
	for i := 1; i <= 3; i++ {
		p.Playlist = append(p.Playlist, project.Track{TrackID: i, Name: "T"})
		p.Mixer = append(p.Mixer, project.MixerChannel{TrackID: i, Volume: project.DefaultVolume})
	}
	node := project.Node{
		ID:          "node_1",
		Type:        project.NodeVSTInstrument,
		PluginUID:   "internal:ultrasound",
		TrackID:     3,
		PluginIndex: 0,
		Bypassed:    true,
		Params:      map[string]float64{"cutoff": 0.42, "resonance": 0.31},
		ParameterSchema: []project.ParamSchema{
			{ID: "cutoff", Name: "Cutoff", Min: 0, Max: 1, Value: 0.42},
			{ID: "resonance", Name: "Resonance", Min: 0, Max: 1, Value: 0.31},
		},
	}
	p.Nodes = append(p.Nodes, node)
	p.Playlist[2].NodeIDs = []string{"node_1"}

	require.NoError(t, Save(path, p))
	res, err := Load(path)
	require.NoError(t, err)

	loaded := res.Project.NodeByID("node_1")
	require.NotNil(t, loaded)
	assert.Equal(t, node.Type, loaded.Type)
	assert.Equal(t, node.PluginUID, loaded.PluginUID)
	assert.Equal(t, node.TrackID, loaded.TrackID)
	assert.True(t, loaded.Bypassed)
	assert.Equal(t, node.Params, loaded.Params)
	assert.Equal(t, node.ParameterSchema, loaded.ParameterSchema)
}
