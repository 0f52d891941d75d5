package project

import (
	"math"
	"strings"
)

// clampInt and clampFloat pin the Project's numeric fields to their
// domains.
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Normalize clamps every out-of-range numeric field to its valid domain
// and trims names. It does not touch referential
// invariants (dense ids, pattern references) — RenumberTrackIDs and
// UpgradeLegacyShapes handle those. Call order on load: UpgradeLegacyShapes,
// Normalize, RenumberTrackIDs, then Validate.
func (p *Project) Normalize() {
	if p.TimeSignature.Numerator < 1 {
		p.TimeSignature.Numerator = 4
	}
	if !ValidDenominators[p.TimeSignature.Denominator] {
		p.TimeSignature.Denominator = 4
	}
	p.BPM = clampInt(p.BPM, MinBPM, MaxBPM)
	p.PlaylistViewBars = clampInt(p.PlaylistViewBars, MinViewBars, MaxViewBars)
	if p.PlaylistBarWidth <= 0 {
		p.PlaylistBarWidth = 40
	}
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		p.Title = "Untitled Session"
	}

	for i := range p.Playlist {
		tr := &p.Playlist[i]
		tr.Name = strings.TrimSpace(tr.Name)
		if len(tr.Name) > MaxTrackNameLen {
			tr.Name = tr.Name[:MaxTrackNameLen]
		}
		for j := range tr.Clips {
			c := &tr.Clips[j]
			if c.Start < 0 {
				c.Start = 0
			}
			if c.Length <= 0 {
				c.Length = MinGridStep
			}
			if c.Audio != nil {
				c.Audio.normalize()
			}
		}
	}

	for i := range p.Patterns {
		pat := &p.Patterns[i]
		if !ValidPatternLengths[pat.Length] {
			pat.Length = nearestPatternLength(pat.Length)
		}
		pat.Swing = clampFloat(pat.Swing, MinSwing, MaxSwing)
		for j := range pat.Steps {
			pat.Steps[j].Velocity = clampFloat(pat.Steps[j].Velocity, MinVelocity, MaxVelocity)
		}
	}

	for i := range p.Mixer {
		mc := &p.Mixer[i]
		mc.Volume = clampFloat(mc.Volume, MinVolume, MaxVolume)
		mc.Pan = clampFloat(mc.Pan, MinPan, MaxPan)
	}

	for i := range p.Nodes {
		n := &p.Nodes[i]
		for id, v := range n.Params {
			n.Params[id] = clampFloat(v, 0, 1)
		}
	}

	p.synthesizeMissingMixerChannels()
}

func (a *AudioClipData) normalize() {
	if a.SourceDurationSeconds < 0 {
		a.SourceDurationSeconds = 0
	}
	for i, v := range a.WaveformPeaks {
		a.WaveformPeaks[i] = clampFloat(v, 0, 1)
	}
}

func nearestPatternLength(n int) int {
	best, bestDist := 16, math.MaxInt
	for l := range ValidPatternLengths {
		d := l - n
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = l, d
		}
	}
	return best
}

// synthesizeMissingMixerChannels creates a default MixerChannel for any
// Track that lacks one: exactly one channel per existing Track, default
// volume 0.85.
func (p *Project) synthesizeMissingMixerChannels() {
	haveChannel := make(map[int]bool, len(p.Mixer))
	for i := range p.Mixer {
		haveChannel[p.Mixer[i].TrackID] = true
	}
	for i := range p.Playlist {
		id := p.Playlist[i].TrackID
		if haveChannel[id] {
			continue
		}
		p.Mixer = append(p.Mixer, MixerChannel{
			TrackID: id,
			Volume:  DefaultVolume,
			Pan:     0,
		})
		haveChannel[id] = true
	}
	// Drop channels whose track no longer exists (e.g. after track.delete
	// without a corresponding renumber having run yet).
	trackExists := make(map[int]bool, len(p.Playlist))
	for i := range p.Playlist {
		trackExists[p.Playlist[i].TrackID] = true
	}
	kept := p.Mixer[:0]
	for _, mc := range p.Mixer {
		if trackExists[mc.TrackID] {
			kept = append(kept, mc)
		}
	}
	p.Mixer = kept
}

// RenumberTrackIDs enforces the dense 1..N track_id invariant after any
// deletion or reorder, rewriting owning track_id on MixerChannels and
// Nodes so references survive the renumber. Tracks are renumbered in
// their current slice order, so
// callers control ordering via track.reorder before calling this.
func (p *Project) RenumberTrackIDs() {
	remap := make(map[int]int, len(p.Playlist))
	for i := range p.Playlist {
		oldID := p.Playlist[i].TrackID
		newID := i + 1
		remap[oldID] = newID
		p.Playlist[i].TrackID = newID
	}
	for i := range p.Mixer {
		if newID, ok := remap[p.Mixer[i].TrackID]; ok {
			p.Mixer[i].TrackID = newID
		}
	}
	for i := range p.Nodes {
		if newID, ok := remap[p.Nodes[i].TrackID]; ok {
			p.Nodes[i].TrackID = newID
		}
	}
}

// RenumberPluginIndices enforces the dense plugin_index-per-track invariant
//, rewriting the
// owning Track's NodeIDs order to match.
func (p *Project) RenumberPluginIndices(trackID int) {
	type entry struct {
		idx  int
		node *Node
	}
	var entries []entry
	for i := range p.Nodes {
		if p.Nodes[i].TrackID == trackID {
			entries = append(entries, entry{p.Nodes[i].PluginIndex, &p.Nodes[i]})
		}
	}
	// Stable sort by current index to preserve relative order on ties.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].idx < entries[j-1].idx; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	ids := make([]string, 0, len(entries))
	for i, e := range entries {
		e.node.PluginIndex = i
		ids = append(ids, e.node.ID)
	}
	for i := range p.Playlist {
		if p.Playlist[i].TrackID == trackID {
			p.Playlist[i].NodeIDs = ids
		}
	}
}
