package project

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withTrackAndMixer(p *Project, name string) int {
	id := len(p.Playlist) + 1
	p.Playlist = append(p.Playlist, Track{TrackID: id, Name: name})
	p.Mixer = append(p.Mixer, MixerChannel{TrackID: id, Volume: DefaultVolume})
	return id
}

func TestRoundTripPatternAndClip(t *testing.T) {
	p := Default("Roundtrip Session", 120)
	trackID := withTrackAndMixer(p, "Drums")

	p.Patterns = append(p.Patterns, Pattern{
		ID: "drum_custom", Type: "drum", Length: 16, Swing: 0.2,
		Steps: []Step{{Lane: "Kick", Index: 0, Velocity: 1}, {Lane: "OH", Index: 7, Velocity: 0.6}},
	})
	p.TrackByID(trackID).Clips = append(p.TrackByID(trackID).Clips, Clip{
		ID: "clip_custom", Start: 1.25, Length: 0.75, Type: ClipPattern, PatternID: "drum_custom",
	})

	errs := p.Validate()
	assert.Empty(t, errs)

	clone := p.Clone()
	assert.Equal(t, p.Patterns, clone.Patterns)
	_, clip := clone.ClipByID("clip_custom")
	require.NotNil(t, clip)
	assert.Equal(t, "drum_custom", clip.PatternID)
}

func TestLegacyUpgrade(t *testing.T) {
	raw := []byte(`{
		"project_name": "Legacy Session",
		"bpm": 120,
		"time_signature": {"numerator": 4, "denominator": 4},
		"playlist": [{"track_id": 1, "name": "A", "clips": [{"start": 0, "length": 4, "pattern": "midi_legacy_1"}]}],
		"patterns": [], "mixer": [{"track_id": 1, "volume": 0.85}], "nodes": []
	}`)

	p := &Project{}
	require.NoError(t, json.Unmarshal(raw, p))
	require.NoError(t, p.UpgradeLegacyShapes(raw))
	p.Normalize()

	assert.Equal(t, "Legacy Session", p.Title)
	require.Len(t, p.Patterns, 1)
	assert.Equal(t, "midi_legacy_1", p.Patterns[0].ID)
	assert.Equal(t, "drum", p.Patterns[0].Type)

	_, clip := p.ClipByID(p.Playlist[0].Clips[0].ID)
	require.NotNil(t, clip)
	assert.Equal(t, "midi_legacy_1", clip.PatternID)
	assert.NotEmpty(t, clip.ID)
}

func TestValidateAudioClipFailures(t *testing.T) {
	p := Default("T", 120)
	withTrackAndMixer(p, "Vox")
	p.Playlist[0].Clips = append(p.Playlist[0].Clips, Clip{
		ID: "c1", Start: 0, Length: 1, Type: ClipAudio,
		Audio: &AudioClipData{SourceDurationSeconds: -1, WaveformPeaks: []float64{0.2, 1.4}},
	})

	errs := p.Validate()
	var sawDuration, sawPeaks bool
	for _, e := range errs {
		if e.Field == "source_duration_seconds" {
			sawDuration = true
		}
		if e.Field == "waveform_peaks" {
			sawPeaks = true
		}
	}
	assert.True(t, sawDuration)
	assert.True(t, sawPeaks)
}

func TestValidateUnknownPatternReference(t *testing.T) {
	p := Default("T", 120)
	withTrackAndMixer(p, "Drums")
	p.Playlist[0].Clips = append(p.Playlist[0].Clips, Clip{
		ID: "c1", Start: 0, Length: 1, Type: ClipPattern, PatternID: "missing_pattern",
	})

	errs := p.Validate()
	require.NotEmpty(t, errs)
	found := false
	for _, e := range errs {
		if e.Field == "pattern_id" {
			found = true
			assert.Contains(t, e.Message, "unknown pattern")
		}
	}
	assert.True(t, found)
}

func TestBPMBoundaryClamp(t *testing.T) {
	p := Default("T", 120)
	p.BPM = 19
	p.Normalize()
	assert.Equal(t, MinBPM, p.BPM)

	p.BPM = 301
	p.Normalize()
	assert.Equal(t, MaxBPM, p.BPM)
}

func TestViewBarsBoundaryClamp(t *testing.T) {
	p := Default("T", 120)
	p.PlaylistViewBars = 4
	p.Normalize()
	assert.Equal(t, MinViewBars, p.PlaylistViewBars)

	p.PlaylistViewBars = 10000
	p.Normalize()
	assert.Equal(t, MaxViewBars, p.PlaylistViewBars)
}

func TestDenseTrackIDsAfterRenumber(t *testing.T) {
	p := Default("T", 120)
	p.Playlist = []Track{{TrackID: 1, Name: "A"}, {TrackID: 5, Name: "B"}, {TrackID: 9, Name: "C"}}
	p.Nodes = []Node{{ID: "n1", Type: NodeVSTEffect, PluginUID: "internal:tracktion:reverb", TrackID: 5, PluginIndex: 0, Params: map[string]float64{}}}

	p.RenumberTrackIDs()

	assert.Equal(t, 1, p.Playlist[0].TrackID)
	assert.Equal(t, 2, p.Playlist[1].TrackID)
	assert.Equal(t, 3, p.Playlist[2].TrackID)
	assert.Equal(t, 2, p.Nodes[0].TrackID)
}

func TestBarsToSecondsExact(t *testing.T) {
	sig := TimeSignature{Numerator: 4, Denominator: 4}
	got := BarsToSeconds(1, 120, sig)
	assert.InDelta(t, 2.0, got, 1e-12)
}

func TestSnapStepModes(t *testing.T) {
	sig := TimeSignature{Numerator: 4, Denominator: 4}
	assert.Equal(t, 1.0, SnapStep(SnapBar, 120, sig, 40))
	assert.InDelta(t, 0.25, SnapStep(SnapBeat, 120, sig, 40), 1e-9)
	assert.InDelta(t, 0.125, SnapStep(SnapHalfBeat, 120, sig, 40), 1e-9)
}
