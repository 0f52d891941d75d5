package session

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
)

type trackPayload struct {
	TrackID int    `json:"track_id"`
	Name    string `json:"name"`
	Index   int    `json:"index"`
	From    int    `json:"from"`
	To      int    `json:"to"`
	Enabled bool   `json:"enabled"`
	IDs     []int  `json:"track_ids"`
	Value   float64 `json:"value"`
	On      bool    `json:"on"`
}

func (s *Session) handleTrack(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	var req trackPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err)
		}
	}
	res := &opResult{rebuildGraph: true, broadcastState: true}

	switch op {
	case OpTrackCreate:
		tr := newTrack(p, req.Name)
		p.Playlist = append(p.Playlist, tr)
		p.RenumberTrackIDs()
		res.data = map[string]any{"track_id": p.Playlist[len(p.Playlist)-1].TrackID}

	case OpTrackInsert:
		idx := req.Index
		if idx < 0 || idx > len(p.Playlist) {
			idx = len(p.Playlist)
		}
		tr := newTrack(p, req.Name)
		p.Playlist = append(p.Playlist[:idx],
			append([]project.Track{tr}, p.Playlist[idx:]...)...)
		p.RenumberTrackIDs()
		res.data = map[string]any{"track_id": p.Playlist[idx].TrackID}

	case OpTrackDuplicate:
		src := p.TrackByID(req.TrackID)
		if src == nil {
			return nil, notFound("track", req.TrackID)
		}
		dup := duplicateTrack(p, src)
		idx := trackIndex(p, req.TrackID) + 1
		p.Playlist = append(p.Playlist[:idx],
			append([]project.Track{dup}, p.Playlist[idx:]...)...)
		p.RenumberTrackIDs()
		// Duplicated clips need their own source entries for playback.
		for _, c := range p.Playlist[idx].Clips {
			if c.Type == project.ClipAudio && c.Audio != nil {
				if src, err := s.decodeSource(c.Audio.SourcePath); err == nil {
					s.sources[c.ID] = src
				}
			}
		}
		res.data = map[string]any{"track_id": p.Playlist[idx].TrackID}

	case OpTrackDelete:
		if err := s.deleteTracks(p, []int{req.TrackID}); err != nil {
			return nil, err
		}

	case OpTrackBulkDelete:
		if len(req.IDs) == 0 {
			return nil, errors.Newf("track.bulk_delete requires track_ids").
				Component(errors.ComponentSession).
				Category(errors.CategoryInvalidRequest).
				Build()
		}
		if err := s.deleteTracks(p, req.IDs); err != nil {
			return nil, err
		}

	case OpTrackReorder:
		if req.From < 0 || req.From >= len(p.Playlist) ||
			req.To < 0 || req.To >= len(p.Playlist) {
			return nil, outOfRange("from/to", "outside the playlist")
		}
		tr := p.Playlist[req.From]
		p.Playlist = append(p.Playlist[:req.From], p.Playlist[req.From+1:]...)
		p.Playlist = append(p.Playlist[:req.To],
			append([]project.Track{tr}, p.Playlist[req.To:]...)...)
		p.RenumberTrackIDs()

	case OpTrackRename:
		tr := p.TrackByID(req.TrackID)
		if tr == nil {
			return nil, notFound("track", req.TrackID)
		}
		name := strings.TrimSpace(req.Name)
		if len(name) > project.MaxTrackNameLen {
			name = name[:project.MaxTrackNameLen]
		}
		tr.Name = name
		res.rebuildGraph = false

	case OpTrackSetChainEnabled:
		tr := p.TrackByID(req.TrackID)
		if tr == nil {
			return nil, notFound("track", req.TrackID)
		}
		tr.ChainEnabled = req.Enabled
	}

	// Structural track changes may have created or orphaned mixer
	// channels; normalization synthesizes/drops them so exactly one
	// exists per Track.
	p.Normalize()
	return res, nil
}

// handleMixer covers track.set_{volume,pan,mute,solo,record_arm}: these
// push straight to RAC without rebuilding the graph.
func (s *Session) handleMixer(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	var req trackPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, invalidPayload(err)
	}
	mc := p.MixerByTrackID(req.TrackID)
	if mc == nil {
		return nil, notFound("track", req.TrackID)
	}
	res := &opResult{broadcastState: true}
	tid := int32(req.TrackID)

	switch op {
	case OpTrackSetVolume:
		if req.Value < project.MinVolume || req.Value > project.MaxVolume {
			return nil, outOfRange("volume",
				fmt.Sprintf("must be in [%.1f,%.1f]", project.MinVolume, project.MaxVolume))
		}
		mc.Volume = req.Value
		res.commands = append(res.commands, rac.Command{Op: rac.CmdSetVolume, I1: tid, F1: req.Value})

	case OpTrackSetPan:
		if req.Value < project.MinPan || req.Value > project.MaxPan {
			return nil, outOfRange("pan", "must be in [-1,1]")
		}
		mc.Pan = req.Value
		res.commands = append(res.commands, rac.Command{Op: rac.CmdSetPan, I1: tid, F1: req.Value})

	case OpTrackSetMute:
		mc.Mute = req.On
		res.commands = append(res.commands, rac.Command{Op: rac.CmdSetMute, I1: tid, F1: boolFloat(req.On)})

	case OpTrackSetSolo:
		mc.Solo = req.On
		res.commands = append(res.commands, rac.Command{Op: rac.CmdSetSolo, I1: tid, F1: boolFloat(req.On)})

	case OpTrackSetRecordArm:
		// Arming only matters at the next record transition; no RAC
		// command until then.
		mc.RecordArmed = req.On
	}

	return res, nil
}

func newTrack(p *project.Project, name string) project.Track {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Track %d", len(p.Playlist)+1)
	}
	if len(name) > project.MaxTrackNameLen {
		name = name[:project.MaxTrackNameLen]
	}
	return project.Track{
		Name:         name,
		ChainEnabled: true,
		NodeIDs:      []string{},
		Clips:        []project.Clip{},
	}
}

func duplicateTrack(p *project.Project, src *project.Track) project.Track {
	dup := *src
	dup.Name = src.Name
	if len(dup.Name)+2 <= project.MaxTrackNameLen {
		dup.Name += " 2"
	}
	dup.Clips = make([]project.Clip, len(src.Clips))
	for i, c := range src.Clips {
		dup.Clips[i] = c
		dup.Clips[i].ID = project.NewID()
		if c.Audio != nil {
			a := *c.Audio
			a.WaveformPeaks = append([]float64(nil), c.Audio.WaveformPeaks...)
			dup.Clips[i].Audio = &a
		}
	}
	// Plugin chains are not duplicated: plugin instances are single-owner
	// (the host would need a fresh instantiate per node), so the duplicate
	// starts with an empty chain.
	dup.NodeIDs = []string{}
	return dup
}

func trackIndex(p *project.Project, trackID int) int {
	for i := range p.Playlist {
		if p.Playlist[i].TrackID == trackID {
			return i
		}
	}
	return -1
}

// deleteTracks removes tracks and their dependents: clips die with the
// track, nodes are released on the UI thread after the audio thread is
// told to skip their slots.
func (s *Session) deleteTracks(p *project.Project, ids []int) error {
	for _, id := range ids {
		tr := p.TrackByID(id)
		if tr == nil {
			return notFound("track", id)
		}
		for _, nodeID := range tr.NodeIDs {
			s.engine.Commands().Push(rac.Command{
				Op: rac.CmdSkipSlot, I1: s.engine.SlotIDFor(nodeID),
			})
			if err := s.host.Release(nodeID); err != nil {
				s.logger.Warn("node release failed during track delete",
					"node_id", nodeID, "error", err)
			}
			s.engine.ReleaseSlotID(nodeID)
			removeNode(p, nodeID)
		}
		for _, c := range tr.Clips {
			delete(s.sources, c.ID)
		}
		// Drop the track's mixer channel before the renumber, which would
		// otherwise leave it holding an id that a surviving track takes over.
		for i := range p.Mixer {
			if p.Mixer[i].TrackID == id {
				p.Mixer = append(p.Mixer[:i], p.Mixer[i+1:]...)
				break
			}
		}
		idx := trackIndex(p, id)
		p.Playlist = append(p.Playlist[:idx], p.Playlist[idx+1:]...)
	}
	p.RenumberTrackIDs()
	return nil
}

func removeNode(p *project.Project, nodeID string) {
	for i := range p.Nodes {
		if p.Nodes[i].ID == nodeID {
			p.Nodes = append(p.Nodes[:i], p.Nodes[i+1:]...)
			return
		}
	}
}
