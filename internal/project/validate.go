package project

import (
	"fmt"
	"math"
)

// ValidationError describes one failed invariant. EntityID/Field let a
// client render the offending location.
type ValidationError struct {
	Entity   string // "project", "track", "clip", "pattern", "node", "mixer"
	EntityID string
	Field    string
	Message  string
}

func (e ValidationError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s %s: %s: %s", e.Entity, e.EntityID, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Entity, e.Field, e.Message)
}

func verr(entity, id, field, msg string) ValidationError {
	return ValidationError{Entity: entity, EntityID: id, Field: field, Message: msg}
}

// Validate checks every document invariant across the whole
// document. It never mutates p; normalization is a separate, explicit step
// (see normalize.go) so load-time clamping and pure validation stay
// distinguishable in callers and tests.
func (p *Project) Validate() []ValidationError {
	var errs []ValidationError

	if p.BPM < MinBPM || p.BPM > MaxBPM {
		errs = append(errs, verr("project", "", "bpm", fmt.Sprintf("must be in [%d,%d]", MinBPM, MaxBPM)))
	}
	if p.TimeSignature.Numerator < 1 {
		errs = append(errs, verr("project", "", "time_signature.numerator", "must be >= 1"))
	}
	if !ValidDenominators[p.TimeSignature.Denominator] {
		errs = append(errs, verr("project", "", "time_signature.denominator", "must be one of 1,2,4,8,16"))
	}
	if p.PlaylistViewBars < MinViewBars || p.PlaylistViewBars > MaxViewBars {
		errs = append(errs, verr("project", "", "playlist_view_bars", fmt.Sprintf("must be in [%d,%d]", MinViewBars, MaxViewBars)))
	}

	patternsByID := make(map[string]*Pattern, len(p.Patterns))
	for i := range p.Patterns {
		pat := &p.Patterns[i]
		patternsByID[pat.ID] = pat
		errs = append(errs, pat.Validate()...)
	}

	seenTrackIDs := make(map[int]bool, len(p.Playlist))
	maxTrackID := 0
	for i := range p.Playlist {
		tr := &p.Playlist[i]
		errs = append(errs, tr.Validate()...)
		if seenTrackIDs[tr.TrackID] {
			errs = append(errs, verr("track", fmt.Sprint(tr.TrackID), "track_id", "duplicate track_id"))
		}
		seenTrackIDs[tr.TrackID] = true
		if tr.TrackID > maxTrackID {
			maxTrackID = tr.TrackID
		}
		for _, c := range tr.Clips {
			errs = append(errs, c.Validate()...)
			if c.Type == ClipPattern {
				if _, ok := patternsByID[c.PatternID]; !ok {
					errs = append(errs, verr("clip", c.ID, "pattern_id", fmt.Sprintf("unknown pattern %q", c.PatternID)))
				}
			}
		}
	}
	// Dense track_id invariant: 1..N after any mutation.
	if len(p.Playlist) > 0 {
		if maxTrackID != len(p.Playlist) {
			errs = append(errs, verr("project", "", "playlist", "track_id assignment is not dense (1..N)"))
		} else {
			for id := 1; id <= maxTrackID; id++ {
				if !seenTrackIDs[id] {
					errs = append(errs, verr("project", "", "playlist", fmt.Sprintf("missing track_id %d in dense range", id)))
					break
				}
			}
		}
	}

	mixerByTrack := make(map[int]bool, len(p.Mixer))
	for i := range p.Mixer {
		mc := &p.Mixer[i]
		errs = append(errs, mc.Validate()...)
		if mixerByTrack[mc.TrackID] {
			errs = append(errs, verr("mixer", fmt.Sprint(mc.TrackID), "track_id", "duplicate MixerChannel for track"))
		}
		mixerByTrack[mc.TrackID] = true
		if !seenTrackIDs[mc.TrackID] {
			errs = append(errs, verr("mixer", fmt.Sprint(mc.TrackID), "track_id", "refers to non-existent track"))
		}
	}
	for id := range seenTrackIDs {
		if !mixerByTrack[id] {
			errs = append(errs, verr("mixer", fmt.Sprint(id), "track_id", "missing MixerChannel for existing track"))
		}
	}

	errs = append(errs, validateNodes(p)...)

	return errs
}

func validateNodes(p *Project) []ValidationError {
	var errs []ValidationError
	type slotKey struct {
		track int
		index int
	}
	seenSlots := make(map[slotKey]bool, len(p.Nodes))
	perTrackIndices := make(map[int][]int)

	trackExists := make(map[int]bool, len(p.Playlist))
	for i := range p.Playlist {
		trackExists[p.Playlist[i].TrackID] = true
	}

	for i := range p.Nodes {
		n := &p.Nodes[i]
		errs = append(errs, n.Validate()...)
		if !trackExists[n.TrackID] {
			errs = append(errs, verr("node", n.ID, "track_id", "refers to non-existent track"))
		}
		k := slotKey{n.TrackID, n.PluginIndex}
		if seenSlots[k] {
			errs = append(errs, verr("node", n.ID, "plugin_index", "duplicate (track_id, plugin_index)"))
		}
		seenSlots[k] = true
		perTrackIndices[n.TrackID] = append(perTrackIndices[n.TrackID], n.PluginIndex)
	}
	for track, indices := range perTrackIndices {
		if !isDense(indices) {
			errs = append(errs, verr("track", fmt.Sprint(track), "plugin_index", "plugin_index assignment is not dense within track"))
		}
	}
	return errs
}

func isDense(indices []int) bool {
	seen := make(map[int]bool, len(indices))
	for _, i := range indices {
		seen[i] = true
	}
	for i := 0; i < len(indices); i++ {
		if !seen[i] {
			return false
		}
	}
	return true
}

// Validate checks a single Track's own invariants (not cross-entity ones,
// which Project.Validate composes).
func (t *Track) Validate() []ValidationError {
	var errs []ValidationError
	if t.TrackID < 1 {
		errs = append(errs, verr("track", fmt.Sprint(t.TrackID), "track_id", "must be >= 1"))
	}
	if len(t.Name) > MaxTrackNameLen {
		errs = append(errs, verr("track", fmt.Sprint(t.TrackID), "name", fmt.Sprintf("must be <= %d chars", MaxTrackNameLen)))
	}
	return errs
}

// Validate checks a single Clip's own invariants.
func (c *Clip) Validate() []ValidationError {
	var errs []ValidationError
	if c.Start < 0 {
		errs = append(errs, verr("clip", c.ID, "start", "must be >= 0"))
	}
	if c.Length <= 0 {
		errs = append(errs, verr("clip", c.ID, "length", "must be > 0"))
	}
	switch c.Type {
	case ClipPattern:
		if c.PatternID == "" {
			errs = append(errs, verr("clip", c.ID, "pattern_id", "required for pattern clips"))
		}
	case ClipAudio:
		if c.Audio == nil {
			errs = append(errs, verr("clip", c.ID, "audio", "required for audio clips"))
		} else {
			errs = append(errs, c.Audio.Validate(c.ID)...)
		}
	case ClipMIDI:
		// no further constraints: MIDI rendering is out of scope beyond
		// hosting a plugin, so there is no note-data model to validate.
	default:
		errs = append(errs, verr("clip", c.ID, "type", fmt.Sprintf("unknown clip type %q", c.Type)))
	}
	return errs
}

// Validate checks an AudioClipData payload.
func (a *AudioClipData) Validate(clipID string) []ValidationError {
	var errs []ValidationError
	if a.SourceDurationSeconds < 0 {
		errs = append(errs, verr("clip", clipID, "source_duration_seconds", "must be >= 0"))
	}
	for i, v := range a.WaveformPeaks {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			errs = append(errs, verr("clip", clipID, "waveform_peaks", fmt.Sprintf("index %d (%v) must be finite and in [0,1]", i, v)))
			break
		}
	}
	return errs
}

// Validate checks a Pattern's own invariants.
func (pat *Pattern) Validate() []ValidationError {
	var errs []ValidationError
	if !ValidPatternLengths[pat.Length] {
		errs = append(errs, verr("pattern", pat.ID, "length", "must be one of 8,16,32,64"))
	}
	if pat.Swing < MinSwing || pat.Swing > MaxSwing {
		errs = append(errs, verr("pattern", pat.ID, "swing", fmt.Sprintf("must be in [%.2f,%.2f]", MinSwing, MaxSwing)))
	}
	laneIndex := make(map[string]bool, len(pat.Steps))
	for _, s := range pat.Steps {
		if s.Velocity < MinVelocity || s.Velocity > MaxVelocity {
			errs = append(errs, verr("pattern", pat.ID, "steps", fmt.Sprintf("velocity %v out of range for lane %q index %d", s.Velocity, s.Lane, s.Index)))
		}
		k := fmt.Sprintf("%s\x00%d", s.Lane, s.Index)
		if laneIndex[k] {
			errs = append(errs, verr("pattern", pat.ID, "steps", fmt.Sprintf("duplicate (lane,index) = (%q,%d)", s.Lane, s.Index)))
		}
		laneIndex[k] = true
	}
	return errs
}

// Validate checks a MixerChannel's own invariants.
func (m *MixerChannel) Validate() []ValidationError {
	var errs []ValidationError
	if m.Volume < MinVolume || m.Volume > MaxVolume {
		errs = append(errs, verr("mixer", fmt.Sprint(m.TrackID), "volume", fmt.Sprintf("must be in [%.1f,%.1f]", MinVolume, MaxVolume)))
	}
	if m.Pan < MinPan || m.Pan > MaxPan {
		errs = append(errs, verr("mixer", fmt.Sprint(m.TrackID), "pan", fmt.Sprintf("must be in [%.1f,%.1f]", MinPan, MaxPan)))
	}
	return errs
}

// Validate checks a Node's own invariants.
func (n *Node) Validate() []ValidationError {
	var errs []ValidationError
	if n.Type != NodeVSTInstrument && n.Type != NodeVSTEffect {
		errs = append(errs, verr("node", n.ID, "type", fmt.Sprintf("unknown node type %q", n.Type)))
	}
	if n.PluginUID == "" {
		errs = append(errs, verr("node", n.ID, "plugin_uid", "required"))
	}
	if n.PluginIndex < 0 {
		errs = append(errs, verr("node", n.ID, "plugin_index", "must be >= 0"))
	}
	for id, v := range n.Params {
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, verr("node", n.ID, "params", fmt.Sprintf("param %q = %v out of [0,1]", id, v)))
		}
	}
	return errs
}
