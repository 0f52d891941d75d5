// Package project implements the in-memory Project document: the root
// aggregate owning Tracks, Patterns, MixerChannels, and Nodes, plus
// validation and normalization. It has no knowledge of the realtime audio
// graph, the plugin host, or the wire protocol — those consume an
// immutable snapshot of this model (see internal/session).
package project

import "time"

// ClipType enumerates the tagged-variant discriminator for Clip.
type ClipType string

const (
	ClipPattern ClipType = "pattern"
	ClipAudio   ClipType = "audio"
	ClipMIDI    ClipType = "midi"
)

// NodeType enumerates the two plugin node kinds.
type NodeType string

const (
	NodeVSTInstrument NodeType = "vst_instrument"
	NodeVSTEffect     NodeType = "vst_effect"
)

// SnapMode enumerates the grid snap modes the editor exposes.
type SnapMode string

const (
	SnapAuto     SnapMode = "auto"
	SnapLine     SnapMode = "line"
	SnapCell     SnapMode = "cell"
	SnapHalfBeat SnapMode = "half_beat"
	SnapBeat     SnapMode = "beat"
	SnapBar      SnapMode = "bar"
)

// TimeSignature is the project's numerator/denominator pair.
type TimeSignature struct {
	Numerator   int `json:"numerator"`
	Denominator int `json:"denominator"`
}

// Step is one (lane, index) cell of a Pattern.
type Step struct {
	Lane     string  `json:"lane"`
	Index    int     `json:"index"`
	Velocity float64 `json:"velocity"`
}

// Pattern is a reusable sequence of steps referenced by pattern clips.
type Pattern struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Length int     `json:"length"`
	Swing  float64 `json:"swing"`
	Steps  []Step  `json:"steps"`
}

// Clip is a time-positioned piece of content on a Track. It is modeled as a
// tagged variant: shared fields (ID/Start/Length/Type/Muted) plus
// variant-specific fields; validation dispatches on the tag.
type Clip struct {
	ID     string   `json:"id"`
	Start  float64  `json:"start"`  // bars
	Length float64  `json:"length"` // bars
	Type   ClipType `json:"type"`

	// Persisted: muted affects the playback graph build and must survive
	// save/load, so it cannot live client-side only.
	Muted bool `json:"muted"`

	// ClipPattern
	PatternID string `json:"pattern_id,omitempty"`

	// ClipAudio
	Audio *AudioClipData `json:"audio,omitempty"`

	// ClipMIDI: out of scope for rendering (no MIDI instrument beyond
	// hosting a plugin); the field set is kept minimal — only a source
	// reference, no note data model, since MIDI playback is a pass-through
	// to a hosted instrument plugin rather than an engine concern.
	MIDISourcePath string `json:"midi_source_path,omitempty"`
}

// AudioClipData holds the variant-specific fields of an AudioClip.
type AudioClipData struct {
	SourceName            string    `json:"source_name"`
	SourceFormat          string    `json:"source_format"`
	SourceMIME            string    `json:"source_mime,omitempty"`
	SourcePath            string    `json:"source_path"`
	SourceSizeBytes       int64     `json:"source_size_bytes,omitempty"`
	SourceDurationSeconds float64   `json:"source_duration_seconds,omitempty"`
	WaveformPeaks         []float64 `json:"waveform_peaks,omitempty"`
}

// Node is a plugin instance placed in a Track's plugin chain.
type Node struct {
	ID              string             `json:"id"`
	Type            NodeType           `json:"type"`
	PluginUID       string             `json:"plugin_uid"`
	TrackID         int                `json:"track_id"`
	PluginIndex     int                `json:"plugin_index"`
	Bypassed        bool               `json:"bypassed"`
	Params          map[string]float64 `json:"params"`
	ParameterSchema []ParamSchema      `json:"parameter_schema"`
}

// ParamSchema describes one automatable plugin parameter, recorded at
// instantiation time so clients can render without re-interrogating PH.
type ParamSchema struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Value float64 `json:"value"`
}

// MixerChannel is the one-per-Track mixing state.
type MixerChannel struct {
	TrackID     int     `json:"track_id"`
	Volume      float64 `json:"volume"`
	Pan         float64 `json:"pan"`
	Mute        bool    `json:"mute"`
	Solo        bool    `json:"solo"`
	RecordArmed bool    `json:"record_armed"`
}

// Track owns an ordered clip list and an ordered plugin-chain (by node id).
type Track struct {
	TrackID        int      `json:"track_id"`
	Name           string   `json:"name"`
	ChainEnabled   bool     `json:"chain_enabled"`
	ChainCollapsed bool     `json:"chain_collapsed"`
	NodeIDs        []string `json:"node_ids"`
	Clips          []Clip   `json:"clips"`
}

// Project is the root document.
type Project struct {
	Title                    string         `json:"title"`
	BPM                      int            `json:"bpm"`
	TimeSignature            TimeSignature  `json:"time_signature"`
	MetronomeEnabled         bool           `json:"metronome_enabled"`
	PlaylistViewBars         int            `json:"playlist_view_bars"`
	PlaylistBarWidth         float64        `json:"playlist_bar_width"`
	PlaylistShowTrackNodes   bool           `json:"playlist_show_track_nodes"`
	Playlist                 []Track        `json:"playlist"`
	Patterns                 []Pattern      `json:"patterns"`
	Mixer                    []MixerChannel `json:"mixer"`
	Nodes                    []Node         `json:"nodes"`

	// Not persisted to .stu; tracked for catalog/debounce bookkeeping.
	lastModified time.Time `json:"-"`
}

// Default returns a new Project with the conventional defaults (4/4,
// empty playlist, default view preferences), used both for "create default
// project" recovery and for brand-new sessions.
func Default(title string, bpm int) *Project {
	if bpm < MinBPM || bpm > MaxBPM {
		bpm = 120
	}
	return &Project{
		Title:                  title,
		BPM:                    bpm,
		TimeSignature:          TimeSignature{Numerator: 4, Denominator: 4},
		MetronomeEnabled:       false,
		PlaylistViewBars:       DefaultViewBars,
		PlaylistBarWidth:       40,
		PlaylistShowTrackNodes: true,
		Playlist:               []Track{},
		Patterns:               []Pattern{},
		Mixer:                  []MixerChannel{},
		Nodes:                  []Node{},
	}
}
