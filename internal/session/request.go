// Package session is the Session Orchestrator: the single writer of the
// Project document. Requests enter one FIFO queue; a dedicated worker
// validates each against a working copy, issues the derived realtime-core
// and plugin-host calls, commits, and broadcasts the resulting state. All
// other threads observe immutable clones.
//
// An explicit request queue, rather than a mutex, because the orchestrator
// must serialize *and* sequence heterogeneous side effects, not just
// exclude writers.
package session

import (
	"context"
	"encoding/json"
)

// Operation names, matching the wire request catalog.
const (
	OpTransportPlay   = "transport.play"
	OpTransportPause  = "transport.pause"
	OpTransportStop   = "transport.stop"
	OpTransportSeek   = "transport.seek"
	OpTransportSetBPM = "transport.set_bpm"

	OpTrackCreate          = "track.create"
	OpTrackInsert          = "track.insert"
	OpTrackDuplicate       = "track.duplicate"
	OpTrackDelete          = "track.delete"
	OpTrackBulkDelete      = "track.bulk_delete"
	OpTrackReorder         = "track.reorder"
	OpTrackRename          = "track.rename"
	OpTrackSetChainEnabled = "track.set_chain_enabled"
	OpTrackSetVolume       = "track.set_volume"
	OpTrackSetPan          = "track.set_pan"
	OpTrackSetMute         = "track.set_mute"
	OpTrackSetSolo         = "track.set_solo"
	OpTrackSetRecordArm    = "track.set_record_arm"

	OpClipCreate     = "clip.create"
	OpClipMove       = "clip.move"
	OpClipResize     = "clip.resize"
	OpClipDelete     = "clip.delete"
	OpClipImportFile = "clip.import_file"

	OpPatternCreate     = "pattern.create"
	OpPatternUpdate     = "pattern.update"
	OpPatternUpdateStep = "pattern.update_step"

	OpVSTScan       = "vst.scan"
	OpVSTAdd        = "vst.add"
	OpVSTRemove     = "vst.remove"
	OpVSTReorder    = "vst.reorder"
	OpVSTParamSet   = "vst.param_set"
	OpVSTBypassSet  = "vst.bypass_set"
	OpVSTOpenEditor = "vst.open_editor"

	OpProjectSave       = "project.save"
	OpProjectUpdateView = "project.update_view"

	OpSetMetronome = "project.set_metronome"

	// Internal operation enqueued by the notification pump when RAC
	// reports a finished take; never accepted from the wire.
	opRecordDone = "internal.record_done"
)

// Request is one queued mutation.
type Request struct {
	Op      string
	Payload json.RawMessage
	// Ctx carries the submitting client's cancellation: a disconnected
	// client's reply is dropped, but the mutation still runs to
	// completion.
	Ctx   context.Context
	reply chan Reply
}

// Reply is the {ok, ...} acknowledgment for one request.
type Reply struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"-"`
}

// Event is one broadcast to subscribers (state pushes, transport ticks,
// meters).
type Event struct {
	Name    string
	Payload any
}

// Broadcast event names.
const (
	EventReady     = "engine:ready"
	EventState     = "engine:state"
	EventTransport = "engine:transport"
	EventMeter     = "engine:meter"
	EventWarning   = "engine:warning"
)
