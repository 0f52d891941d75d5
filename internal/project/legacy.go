package project

import (
	"encoding/json"

	"github.com/google/uuid"
)

// legacyClip mirrors the pre-upgrade on-disk shape of a Clip: the string
// `pattern` field that newer documents express as `pattern_id` plus a
// real Pattern back-reference.
type legacyClip struct {
	Clip
	LegacyPattern string `json:"pattern,omitempty"`
}

// legacyProject mirrors the pre-upgrade on-disk Project shape, accepting
// `project_name` in place of `title`.
type legacyProject struct {
	Title       string `json:"title"`
	ProjectName string `json:"project_name,omitempty"`
}

// UpgradeLegacyShapes rewrites legacy on-disk fields into their current
// form: `project_name` -> `title`, and a clip's string `pattern` field into
// a `pattern_id` reference plus, if no Pattern with that id exists, a
// synthesized stub of type `drum` so the reference resolves. Must run
// before Normalize/Validate on load.
func (p *Project) UpgradeLegacyShapes(raw []byte) error {
	var lp legacyProject
	if err := json.Unmarshal(raw, &lp); err == nil {
		if p.Title == "" && lp.ProjectName != "" {
			p.Title = lp.ProjectName
		}
	}

	var shape struct {
		Playlist []struct {
			Clips []json.RawMessage `json:"clips"`
		} `json:"playlist"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil // malformed shape: leave p as already unmarshaled, caller validates
	}

	existingPatterns := make(map[string]bool, len(p.Patterns))
	for _, pat := range p.Patterns {
		existingPatterns[pat.ID] = true
	}

	for ti := range p.Playlist {
		for ci := range p.Playlist[ti].Clips {
			if ti >= len(shape.Playlist) || ci >= len(shape.Playlist[ti].Clips) {
				continue
			}
			var lc legacyClip
			if err := json.Unmarshal(shape.Playlist[ti].Clips[ci], &lc); err != nil {
				continue
			}
			if lc.LegacyPattern == "" {
				continue
			}
			clip := &p.Playlist[ti].Clips[ci]
			clip.Type = ClipPattern
			clip.PatternID = lc.LegacyPattern
			if clip.ID == "" {
				clip.ID = uuid.NewString()
			}
			if !existingPatterns[lc.LegacyPattern] {
				p.Patterns = append(p.Patterns, Pattern{
					ID:     lc.LegacyPattern,
					Type:   "drum",
					Length: 16,
					Steps:  []Step{},
				})
				existingPatterns[lc.LegacyPattern] = true
			}
		}
	}
	return nil
}
