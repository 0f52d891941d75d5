// Package ph is the plugin host: discovery, instantiation, parameter
// mirroring, and editor-window lifecycle for built-in and external
// plugins.
//
// Thread discipline: every instantiation, editor open, and teardown
// executes on one designated UI/message goroutine; cross-thread calls are
// marshaled through dispatch() with a bounded wait. The audio thread only
// ever sees a plugin through its Process/SetParam surface, handed over
// inside a graph description.
package ph

import (
	"github.com/thestuu/engine/internal/project"
)

// PluginKind mirrors the scan result's kind field.
type PluginKind string

const (
	KindInstrument PluginKind = "instrument"
	KindEffect     PluginKind = "effect"
)

// Built-in plugin UIDs.
const (
	UIDUltrasound = "internal:ultrasound"
	UID4BandEq    = "internal:tracktion:4bandEq"
	UIDReverb     = "internal:tracktion:reverb"
	UIDChorus     = "internal:tracktion:chorus"
)

// PluginInfo is one scan() result entry.
type PluginInfo struct {
	UID        string                `json:"uid"`
	Name       string                `json:"name"`
	Type       string                `json:"type"`
	Kind       PluginKind            `json:"kind"`
	IsNative   bool                  `json:"is_native"`
	Parameters []project.ParamSchema `json:"parameters"`
}

// Plugin is one live instance. Process and SetParam are the audio-thread
// surface (they satisfy the realtime core's processor contract
// structurally); everything else is host-side.
type Plugin interface {
	// Process runs in place on one block's stereo pair. Realtime-safe.
	Process(left, right []float32)
	// SetParam sets a parameter by schema index to a normalized value.
	// Called from the audio thread via the command queue; implementations
	// smooth internally where audible.
	SetParam(index int, normalized float64)

	// Info describes the plugin class.
	Info() PluginInfo
	// Parameters returns the current schema with live values.
	Parameters() []project.ParamSchema
	// ParamIndex resolves a parameter id to its schema index, -1 if unknown.
	ParamIndex(id string) int
	// HasNativeEditor reports whether OpenEditor can show a plugin-drawn
	// window; false selects the fallback slider editor.
	HasNativeEditor() bool
}

// Factory constructs a fresh instance at the engine sample rate.
type Factory func(sampleRate int) Plugin

// Hinter is implemented by plugins that provide plain-language hints for
// the fallback editor's sliders.
type Hinter interface {
	ParamHints() []ParamHint
}

// ParamHint is one row of the fallback editor: the schema entry plus a
// plain-language hint for its labeled slider.
type ParamHint struct {
	project.ParamSchema
	Hint string `json:"hint"`
}

// EditorView is what open_editor returns to the client: either a handle to
// a native window or the fallback parameter list.
type EditorView struct {
	NodeID   string      `json:"node_id"`
	Title    string      `json:"title"`
	Native   bool        `json:"native"`
	Fallback []ParamHint `json:"fallback,omitempty"`
}
