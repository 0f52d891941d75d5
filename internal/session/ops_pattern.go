package session

import (
	"encoding/json"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/project"
)

type patternPayload struct {
	PatternID string  `json:"pattern_id"`
	Type      string  `json:"type"`
	Length    int     `json:"length"`
	Swing     float64 `json:"swing"`

	// pattern.update_step: upsert by (lane,index); velocity 0 removes.
	Lane     string  `json:"lane"`
	Index    int     `json:"index"`
	Velocity float64 `json:"velocity"`

	Steps []project.Step `json:"steps"`
}

func (s *Session) handlePattern(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	var req patternPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, invalidPayload(err)
	}
	res := &opResult{rebuildGraph: true, broadcastState: true}

	switch op {
	case OpPatternCreate:
		id := req.PatternID
		if id == "" {
			id = project.NewID()
		}
		if p.PatternByID(id) != nil {
			return nil, errors.Newf("pattern %q already exists", id).
				Component(errors.ComponentSession).
				Category(errors.CategoryConflict).
				Context("pattern_id", id).
				Build()
		}
		pat := project.Pattern{
			ID:     id,
			Type:   req.Type,
			Length: req.Length,
			Swing:  req.Swing,
			Steps:  req.Steps,
		}
		if pat.Type == "" {
			pat.Type = "drum"
		}
		if pat.Steps == nil {
			pat.Steps = []project.Step{}
		}
		if err := validatePatternFields(&pat); err != nil {
			return nil, err
		}
		p.Patterns = append(p.Patterns, pat)
		res.data = map[string]any{"pattern_id": id}

	case OpPatternUpdate:
		pat := p.PatternByID(req.PatternID)
		if pat == nil {
			return nil, notFound("pattern", req.PatternID)
		}
		updated := *pat
		if req.Length != 0 {
			updated.Length = req.Length
		}
		updated.Swing = req.Swing
		if req.Steps != nil {
			updated.Steps = req.Steps
		}
		if err := validatePatternFields(&updated); err != nil {
			return nil, err
		}
		*pat = updated

	case OpPatternUpdateStep:
		pat := p.PatternByID(req.PatternID)
		if pat == nil {
			return nil, notFound("pattern", req.PatternID)
		}
		if req.Index < 0 || req.Index >= pat.Length {
			return nil, outOfRange("index", "outside the pattern length")
		}
		if req.Velocity < 0 || req.Velocity > 1 {
			return nil, outOfRange("velocity", "must be in [0,1]")
		}
		upsertStep(pat, req.Lane, req.Index, req.Velocity)
	}

	return res, nil
}

func validatePatternFields(pat *project.Pattern) error {
	if !project.ValidPatternLengths[pat.Length] {
		return outOfRange("length", "must be one of 8, 16, 32, 64")
	}
	if pat.Swing < project.MinSwing || pat.Swing > project.MaxSwing {
		return outOfRange("swing", "must be in [0,0.75]")
	}
	seen := make(map[[2]any]bool, len(pat.Steps))
	for _, st := range pat.Steps {
		if st.Velocity < 0 || st.Velocity > 1 {
			return outOfRange("velocity", "must be in [0,1]")
		}
		if st.Index < 0 || st.Index >= pat.Length {
			return outOfRange("index", "outside the pattern length")
		}
		key := [2]any{st.Lane, st.Index}
		if seen[key] {
			return errors.Newf("duplicate step at (%s,%d)", st.Lane, st.Index).
				Component(errors.ComponentSession).
				Category(errors.CategoryConflict).
				Build()
		}
		seen[key] = true
	}
	return nil
}

// upsertStep implements pattern.update_step's semantics: velocity 0 removes
// the (lane,index) cell, anything else inserts or replaces it.
func upsertStep(pat *project.Pattern, lane string, index int, velocity float64) {
	for i := range pat.Steps {
		if pat.Steps[i].Lane == lane && pat.Steps[i].Index == index {
			if velocity == 0 {
				pat.Steps = append(pat.Steps[:i], pat.Steps[i+1:]...)
			} else {
				pat.Steps[i].Velocity = velocity
			}
			return
		}
	}
	if velocity > 0 {
		pat.Steps = append(pat.Steps, project.Step{Lane: lane, Index: index, Velocity: velocity})
	}
}
