package session

import (
	"encoding/json"
	"os"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/media"
	"github.com/thestuu/engine/internal/project"
)

type clipPayload struct {
	ClipID    string  `json:"clip_id"`
	TrackID   int     `json:"track_id"`
	Start     float64 `json:"start"`
	Length    float64 `json:"length"`
	PatternID string  `json:"pattern_id"`
	SnapMode  string  `json:"snap_mode"`

	// clip.import_file
	Path     string `json:"path"`
	Name     string `json:"name"`
	MIMEType string `json:"mime"`
}

// snapStepFor resolves the effective grid step for a request. An absent or
// unknown snap mode falls back to the 1/16-grid cell.
func snapStepFor(p *project.Project, mode string) float64 {
	m := project.SnapMode(mode)
	if mode == "" {
		m = project.SnapCell
	}
	return project.SnapStep(m, p.BPM, p.TimeSignature, p.PlaylistBarWidth)
}

func (s *Session) handleClip(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	var req clipPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, invalidPayload(err)
	}
	res := &opResult{rebuildGraph: true, broadcastState: true}
	step := snapStepFor(p, req.SnapMode)

	switch op {
	case OpClipCreate:
		tr := p.TrackByID(req.TrackID)
		if tr == nil {
			return nil, notFound("track", req.TrackID)
		}
		if p.PatternByID(req.PatternID) == nil {
			return nil, notFound("pattern", req.PatternID)
		}
		start, length, err := snapPlacement(req.Start, req.Length, step)
		if err != nil {
			return nil, err
		}
		clip := project.Clip{
			ID:        project.NewID(),
			Start:     start,
			Length:    length,
			Type:      project.ClipPattern,
			PatternID: req.PatternID,
		}
		tr.Clips = append(tr.Clips, clip)
		res.data = map[string]any{"clip_id": clip.ID}

	case OpClipMove:
		trackID, clip := p.ClipByID(req.ClipID)
		if clip == nil {
			return nil, notFound("clip", req.ClipID)
		}
		start := project.SnapValue(req.Start, step)
		if start < 0 {
			start = 0
		}
		clip.Start = start
		// A move may also re-home the clip to another track.
		if req.TrackID != 0 && req.TrackID != trackID {
			dest := p.TrackByID(req.TrackID)
			if dest == nil {
				return nil, notFound("track", req.TrackID)
			}
			moved := *clip
			removeClip(p, req.ClipID)
			dest.Clips = append(dest.Clips, moved)
		}

	case OpClipResize:
		_, clip := p.ClipByID(req.ClipID)
		if clip == nil {
			return nil, notFound("clip", req.ClipID)
		}
		length := project.SnapValue(req.Length, step)
		if length < step {
			length = step // minimum length = grid step
		}
		clip.Length = length

	case OpClipDelete:
		_, clip := p.ClipByID(req.ClipID)
		if clip == nil {
			return nil, notFound("clip", req.ClipID)
		}
		delete(s.sources, req.ClipID)
		removeClip(p, req.ClipID)

	case OpClipImportFile:
		tr := p.TrackByID(req.TrackID)
		if tr == nil {
			return nil, notFound("track", req.TrackID)
		}
		if req.Path == "" {
			return nil, errors.Newf("clip.import_file requires a previously uploaded path").
				Component(errors.ComponentSession).
				Category(errors.CategoryInvalidRequest).
				Build()
		}
		info, err := os.Stat(req.Path)
		if err != nil {
			return nil, errors.New(err).
				Component(errors.ComponentSession).
				Category(errors.CategoryNotFound).
				Context("path", req.Path).
				Build()
		}
		clip, err := s.buildAudioClip(p, &req, info.Size(), step)
		if err != nil {
			return nil, err
		}
		tr.Clips = append(tr.Clips, *clip)
		res.data = map[string]any{"clip_id": clip.ID}
	}

	return res, nil
}

// buildAudioClip analyses and decodes an uploaded source into an
// AudioClip, registering its playback source.
func (s *Session) buildAudioClip(p *project.Project, req *clipPayload, size int64, step float64) (*project.Clip, error) {
	kind := media.Classify(req.Path)
	if kind == media.KindUnsupported {
		return nil, errors.Newf("unsupported source format %q", media.Format(req.Path)).
			Component(errors.ComponentSession).
			Category(errors.CategoryUnsupportedFormat).
			Build()
	}

	start, err := snapStart(req.Start, step)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = req.Path
	}

	clip := &project.Clip{
		ID:    project.NewID(),
		Start: start,
		Type:  project.ClipAudio,
	}
	if kind == media.KindMIDI {
		clip.Type = project.ClipMIDI
		clip.MIDISourcePath = req.Path
		clip.Length = project.SnapValue(4, step) // default 4 bars until a hosted instrument sizes it
		if clip.Length < step {
			clip.Length = step
		}
		return clip, nil
	}

	analysis, err := media.Analyze(req.Path)
	if err != nil {
		return nil, errors.New(err).
			Component(errors.ComponentSession).
			Category(errors.CategoryIOError).
			Context("path", req.Path).
			Build()
	}
	if analysis.Title != "" {
		name = analysis.Title
	}
	clip.Audio = &project.AudioClipData{
		SourceName:            name,
		SourceFormat:          media.Format(req.Path),
		SourceMIME:            firstNonEmpty(req.MIMEType, analysis.MIMEType),
		SourcePath:            req.Path,
		SourceSizeBytes:       size,
		SourceDurationSeconds: analysis.DurationSeconds,
		WaveformPeaks:         analysis.Peaks,
	}

	// Length derives from the source duration, snapped to the nearest grid
	// step and never shorter than one step.
	lengthBars := project.SecondsToBars(analysis.DurationSeconds, p.BPM, p.TimeSignature)
	clip.Length = project.SnapValue(lengthBars, step)
	if clip.Length < step {
		clip.Length = step
	}

	if src, err := s.decodeSource(req.Path); err == nil {
		s.sources[clip.ID] = src
	} else {
		s.logger.Warn("imported clip not decodable for playback",
			"path", req.Path, "error", err)
	}
	return clip, nil
}

func snapPlacement(start, length, step float64) (float64, float64, error) {
	snappedStart, err := snapStart(start, step)
	if err != nil {
		return 0, 0, err
	}
	if length <= 0 {
		return 0, 0, outOfRange("length", "must be positive")
	}
	snappedLength := project.SnapValue(length, step)
	if snappedLength < step {
		snappedLength = step
	}
	return snappedStart, snappedLength, nil
}

func snapStart(start, step float64) (float64, error) {
	if start < 0 {
		return 0, outOfRange("start", "must be >= 0")
	}
	return project.SnapValue(start, step), nil
}

func removeClip(p *project.Project, clipID string) {
	for ti := range p.Playlist {
		tr := &p.Playlist[ti]
		for ci := range tr.Clips {
			if tr.Clips[ci].ID == clipID {
				tr.Clips = append(tr.Clips[:ci], tr.Clips[ci+1:]...)
				return
			}
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
