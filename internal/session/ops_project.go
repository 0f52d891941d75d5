package session

import (
	"encoding/json"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/persistence"
	"github.com/thestuu/engine/internal/project"
)

type viewPayload struct {
	Title          *string  `json:"title"`
	ViewBars       *int     `json:"playlist_view_bars"`
	BarWidth       *float64 `json:"playlist_bar_width"`
	ShowTrackNodes *bool    `json:"playlist_show_track_nodes"`
}

func (s *Session) handleProject(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	res := &opResult{}

	switch op {
	case OpProjectSave:
		p.Normalize()
		if errs := p.Validate(); len(errs) > 0 {
			return nil, errors.Newf("project failed validation: %s", errs[0].Error()).
				Component(errors.ComponentSession).
				Category(errors.CategoryConflict).
				Context("error_count", len(errs)).
				Build()
		}
		if err := persistence.Save(s.projectPath, p); err != nil {
			if s.notifier != nil {
				s.notifier.Alertf("TheStuu engine", "project save failed: %v", err)
			}
			return nil, errors.New(err).
				Component(errors.ComponentSession).
				Category(errors.CategoryIOError).
				Context("path", s.projectPath).
				Build()
		}
		if s.m != nil {
			s.m.Saves.Inc()
		}
		if s.catalog != nil {
			s.catalog.RecordSave(s.projectPath, p)
		}
		res.data = map[string]any{"path": s.projectPath}

	case OpProjectUpdateView:
		var req viewPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err)
		}
		if req.Title != nil {
			p.Title = *req.Title
		}
		if req.ViewBars != nil {
			v := *req.ViewBars
			if v < project.MinViewBars {
				v = project.MinViewBars
			}
			if v > project.MaxViewBars {
				v = project.MaxViewBars
			}
			p.PlaylistViewBars = v
		}
		if req.BarWidth != nil && *req.BarWidth > 0 {
			p.PlaylistBarWidth = *req.BarWidth
		}
		if req.ShowTrackNodes != nil {
			p.PlaylistShowTrackNodes = *req.ShowTrackNodes
		}
		p.Normalize()
		// View preferences persist on a 140ms debounce, never
		// synchronously on the request path.
		s.debounce.Queue(p.Clone())
		res.broadcastState = true
	}

	return res, nil
}
