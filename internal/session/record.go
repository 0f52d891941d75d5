package session

import (
	"encoding/json"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/media"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
)

// handleRecordDone commits a finished take. The realtime core notifies
// one (track, start_bars, duration) event per armed track; the first
// event for a take finalizes and analyses the spill file, and every event
// places a clip on its track at the record start position.
func (s *Session) handleRecordDone(p *project.Project, payload json.RawMessage) (*opResult, error) {
	var req recordDonePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, invalidPayload(err)
	}

	if s.recTake == nil {
		spillPath, err := s.engine.FinishRecording()
		if err != nil {
			return nil, errors.New(err).
				Component(errors.ComponentSession).
				Category(errors.CategoryIOError).
				Build()
		}
		if spillPath == "" {
			return nil, errors.Newf("no recording in progress").
				Component(errors.ComponentSession).
				Category(errors.CategoryInvalidRequest).
				Build()
		}
		take := &takeInfo{spillPath: spillPath}
		if analysis, err := media.Analyze(spillPath); err == nil {
			take.analysis = analysis
		} else {
			s.logger.Warn("take analysis failed", "path", spillPath, "error", err)
		}
		if pcm, err := media.Decode(spillPath); err == nil {
			take.pcm = pcm
		}
		s.recTake = take
		s.transport = stateStopped
	}

	tr := p.TrackByID(req.TrackID)
	if tr == nil {
		return nil, notFound("track", req.TrackID)
	}

	clip := project.Clip{
		ID:    project.NewID(),
		Start: req.StartBars,
		Type:  project.ClipAudio,
		Audio: &project.AudioClipData{
			SourceName:            "Recording",
			SourceFormat:          "wav",
			SourceMIME:            "audio/wav",
			SourcePath:            s.recTake.spillPath,
			SourceDurationSeconds: req.Duration,
		},
	}
	if s.recTake.analysis != nil {
		clip.Audio.WaveformPeaks = s.recTake.analysis.Peaks
	}

	lengthBars := project.SecondsToBars(req.Duration, p.BPM, p.TimeSignature)
	step := snapStepFor(p, "")
	clip.Length = project.SnapValue(lengthBars, step)
	if clip.Length < step {
		clip.Length = step
	}
	tr.Clips = append(tr.Clips, clip)

	if s.recTake.pcm != nil {
		s.sources[clip.ID] = &rac.AudioSource{
			SampleRate:      s.recTake.pcm.SampleRate,
			Samples:         s.recTake.pcm.Channels,
			DurationSeconds: s.recTake.pcm.DurationSeconds,
		}
	}

	s.logger.Info("recorded clip committed",
		"track_id", req.TrackID, "start_bars", req.StartBars,
		"duration_sec", req.Duration, "clip_id", clip.ID)
	return &opResult{rebuildGraph: true, broadcastState: true}, nil
}
