package project

import "github.com/google/uuid"

// NewID generates a random entity id for clips/patterns/nodes created by
// a mutation.
func NewID() string { return uuid.NewString() }

// TrackByID returns a pointer to the Track with the given id, or nil.
func (p *Project) TrackByID(id int) *Track {
	for i := range p.Playlist {
		if p.Playlist[i].TrackID == id {
			return &p.Playlist[i]
		}
	}
	return nil
}

// PatternByID returns a pointer to the Pattern with the given id, or nil.
func (p *Project) PatternByID(id string) *Pattern {
	for i := range p.Patterns {
		if p.Patterns[i].ID == id {
			return &p.Patterns[i]
		}
	}
	return nil
}

// MixerByTrackID returns a pointer to the MixerChannel for the given track,
// or nil.
func (p *Project) MixerByTrackID(id int) *MixerChannel {
	for i := range p.Mixer {
		if p.Mixer[i].TrackID == id {
			return &p.Mixer[i]
		}
	}
	return nil
}

// NodeByID returns a pointer to the Node with the given id, or nil.
func (p *Project) NodeByID(id string) *Node {
	for i := range p.Nodes {
		if p.Nodes[i].ID == id {
			return &p.Nodes[i]
		}
	}
	return nil
}

// ClipByID searches every track for a clip with the given id, returning the
// owning track id alongside a pointer to the clip.
func (p *Project) ClipByID(id string) (trackID int, clip *Clip) {
	for i := range p.Playlist {
		tr := &p.Playlist[i]
		for j := range tr.Clips {
			if tr.Clips[j].ID == id {
				return tr.TrackID, &tr.Clips[j]
			}
		}
	}
	return 0, nil
}

// Clone returns a deep copy of the Project, used by the session worker to
// hand out immutable snapshots without other components ever touching the
// authoritative document.
func (p *Project) Clone() *Project {
	cp := *p
	cp.Playlist = append([]Track(nil), p.Playlist...)
	for i := range cp.Playlist {
		cp.Playlist[i].NodeIDs = append([]string(nil), p.Playlist[i].NodeIDs...)
		cp.Playlist[i].Clips = append([]Clip(nil), p.Playlist[i].Clips...)
		for j := range cp.Playlist[i].Clips {
			if cp.Playlist[i].Clips[j].Audio != nil {
				a := *cp.Playlist[i].Clips[j].Audio
				a.WaveformPeaks = append([]float64(nil), p.Playlist[i].Clips[j].Audio.WaveformPeaks...)
				cp.Playlist[i].Clips[j].Audio = &a
			}
		}
	}
	cp.Patterns = append([]Pattern(nil), p.Patterns...)
	for i := range cp.Patterns {
		cp.Patterns[i].Steps = append([]Step(nil), p.Patterns[i].Steps...)
	}
	cp.Mixer = append([]MixerChannel(nil), p.Mixer...)
	cp.Nodes = append([]Node(nil), p.Nodes...)
	for i := range cp.Nodes {
		cp.Nodes[i].Params = make(map[string]float64, len(p.Nodes[i].Params))
		for k, v := range p.Nodes[i].Params {
			cp.Nodes[i].Params[k] = v
		}
		cp.Nodes[i].ParameterSchema = append([]ParamSchema(nil), p.Nodes[i].ParameterSchema...)
	}
	return &cp
}
