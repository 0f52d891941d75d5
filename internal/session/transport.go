package session

import (
	"encoding/json"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
)

// transportState is the orchestrator-side transport state machine:
// Stopped, Playing, Paused, Recording. The realtime core owns the clock;
// this mirror decides which commands a transport request translates to.
type transportState int

const (
	stateStopped transportState = iota
	statePlaying
	statePaused
	stateRecording
)

func (t transportState) String() string {
	switch t {
	case statePlaying:
		return "playing"
	case statePaused:
		return "paused"
	case stateRecording:
		return "recording"
	default:
		return "stopped"
	}
}

type seekPayload struct {
	PositionBars float64 `json:"position_bars"`
}

type bpmPayload struct {
	BPM int `json:"bpm"`
}

type metronomePayload struct {
	Enabled bool `json:"enabled"`
}

func (s *Session) handleTransport(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	if err := s.requireBackend(); err != nil {
		return nil, err
	}
	res := &opResult{}

	switch op {
	case OpTransportPlay:
		switch s.transport {
		case statePlaying, stateRecording:
			// Idempotent while playing.
			return res, nil
		case stateStopped, statePaused:
			if anyRecordArmed(p) {
				startBars := s.positionBeats() / project.BarsToBeats(1, p.TimeSignature)
				s.recTake = nil
				if err := s.engine.ArmRecording(s.spillPath(), startBars); err != nil {
					return nil, errors.New(err).
						Component(errors.ComponentSession).
						Category(errors.CategoryIOError).
						Build()
				}
				// ArmRecording pushed CmdRecordStart; the clock starts
				// rolling with capture enabled.
				s.transport = stateRecording
				return res, nil
			}
			res.commands = append(res.commands, rac.Command{Op: rac.CmdPlay})
			s.transport = statePlaying
		}

	case OpTransportPause:
		switch s.transport {
		case stateRecording:
			// Commit the take, then hold position.
			res.commands = append(res.commands,
				rac.Command{Op: rac.CmdRecordStop},
				rac.Command{Op: rac.CmdPause})
			s.transport = statePaused
		case statePlaying:
			res.commands = append(res.commands, rac.Command{Op: rac.CmdPause})
			s.transport = statePaused
		default:
			// Pausing while stopped/paused is a no-op ack.
		}

	case OpTransportStop:
		res.commands = append(res.commands, rac.Command{Op: rac.CmdStop})
		s.transport = stateStopped
		s.posMu.Lock()
		s.lastBeats = 0
		s.posMu.Unlock()

	case OpTransportSeek:
		var req seekPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err)
		}
		bars := req.PositionBars
		if bars < 0 {
			bars = 0
		}
		beats := project.BarsToBeats(bars, p.TimeSignature)
		res.commands = append(res.commands, rac.Command{Op: rac.CmdSeek, F1: beats})
		s.posMu.Lock()
		s.lastBeats = beats
		s.posMu.Unlock()
		res.data = map[string]any{"position_bars": bars}

	case OpTransportSetBPM:
		var req bpmPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err)
		}
		bpm := req.BPM
		if bpm < project.MinBPM {
			bpm = project.MinBPM
		}
		if bpm > project.MaxBPM {
			bpm = project.MaxBPM
		}
		p.BPM = bpm
		res.commands = append(res.commands, rac.Command{Op: rac.CmdSetBPM, F1: float64(bpm)})
		res.broadcastState = true
		res.data = map[string]any{"bpm": bpm}

	case OpSetMetronome:
		var req metronomePayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err)
		}
		p.MetronomeEnabled = req.Enabled
		res.commands = append(res.commands, rac.Command{Op: rac.CmdMetronome, F1: boolFloat(req.Enabled)})
		res.broadcastState = true
	}

	return res, nil
}

func anyRecordArmed(p *project.Project) bool {
	for i := range p.Mixer {
		if p.Mixer[i].RecordArmed {
			return true
		}
	}
	return false
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func invalidPayload(err error) error {
	return errors.New(err).
		Component(errors.ComponentSession).
		Category(errors.CategoryInvalidRequest).
		Build()
}
