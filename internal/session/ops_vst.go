package session

import (
	"encoding/json"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
)

type vstPayload struct {
	TrackID     int     `json:"track_id"`
	NodeID      string  `json:"node_id"`
	UID         string  `json:"uid"`
	InsertIndex int     `json:"insert_index"`
	From        int     `json:"from"`
	To          int     `json:"to"`
	ParamID     string  `json:"param_id"`
	Value       float64 `json:"value"`
	Bypassed    bool    `json:"bypassed"`
}

// handleVST drives the plugin host. Every call into PH suspends on the UI
// goroutine with the bounded timeout; a PH failure surfaces as the
// operation's error and the working copy is discarded untouched.
func (s *Session) handleVST(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	var req vstPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err)
		}
	}
	res := &opResult{broadcastState: true}

	switch op {
	case OpVSTScan:
		infos, err := s.host.Scan()
		if err != nil {
			return nil, err
		}
		res.broadcastState = false
		res.data = map[string]any{"plugins": infos}

	case OpVSTAdd:
		tr := p.TrackByID(req.TrackID)
		if tr == nil {
			return nil, notFound("track", req.TrackID)
		}
		result, err := s.host.Instantiate(req.UID, req.InsertIndex, len(tr.NodeIDs))
		if err != nil {
			return nil, err
		}

		nodeType := project.NodeVSTEffect
		if result.Kind == "instrument" {
			nodeType = project.NodeVSTInstrument
		}
		params := make(map[string]float64, len(result.Parameters))
		for _, ps := range result.Parameters {
			params[ps.ID] = ps.Value
		}
		node := project.Node{
			ID:              result.NodeID,
			Type:            nodeType,
			PluginUID:       req.UID,
			TrackID:         req.TrackID,
			PluginIndex:     result.PluginIndex,
			Params:          params,
			ParameterSchema: result.Parameters,
		}

		// Shift existing indices at and after the insert point, then slot
		// the node in; plugin_index stays dense within the track.
		for i := range p.Nodes {
			if p.Nodes[i].TrackID == req.TrackID && p.Nodes[i].PluginIndex >= result.PluginIndex {
				p.Nodes[i].PluginIndex++
			}
		}
		p.Nodes = append(p.Nodes, node)
		tr.NodeIDs = insertAt(tr.NodeIDs, result.PluginIndex, result.NodeID)
		p.RenumberPluginIndices(req.TrackID)

		res.rebuildGraph = true
		res.data = map[string]any{
			"node_id":          result.NodeID,
			"plugin_index":     result.PluginIndex,
			"parameter_schema": result.Parameters,
		}

	case OpVSTRemove:
		node := p.NodeByID(req.NodeID)
		if node == nil {
			return nil, notFound("node", req.NodeID)
		}
		// Two-phase teardown: the audio thread skips the slot first, the
		// host releases the instance after.
		s.engine.Commands().Push(rac.Command{
			Op: rac.CmdSkipSlot, I1: s.engine.SlotIDFor(req.NodeID),
		})
		if err := s.host.Release(req.NodeID); err != nil {
			return nil, err
		}
		s.engine.ReleaseSlotID(req.NodeID)

		trackID := node.TrackID
		removeNode(p, req.NodeID)
		if tr := p.TrackByID(trackID); tr != nil {
			tr.NodeIDs = removeString(tr.NodeIDs, req.NodeID)
		}
		p.RenumberPluginIndices(trackID)
		res.rebuildGraph = true

	case OpVSTReorder:
		tr := p.TrackByID(req.TrackID)
		if tr == nil {
			return nil, notFound("track", req.TrackID)
		}
		if req.From < 0 || req.From >= len(tr.NodeIDs) ||
			req.To < 0 || req.To >= len(tr.NodeIDs) {
			return nil, outOfRange("from/to", "outside the plugin chain")
		}
		id := tr.NodeIDs[req.From]
		tr.NodeIDs = append(tr.NodeIDs[:req.From], tr.NodeIDs[req.From+1:]...)
		tr.NodeIDs = insertAt(tr.NodeIDs, req.To, id)
		for i := range tr.NodeIDs {
			if n := p.NodeByID(tr.NodeIDs[i]); n != nil {
				n.PluginIndex = i
			}
		}
		res.rebuildGraph = true

	case OpVSTParamSet:
		node := p.NodeByID(req.NodeID)
		if node == nil {
			return nil, notFound("node", req.NodeID)
		}
		index, clamped, err := s.host.SetParam(req.NodeID, req.ParamID, req.Value)
		if err != nil {
			return nil, err
		}
		if node.Params == nil {
			node.Params = make(map[string]float64)
		}
		node.Params[req.ParamID] = clamped
		for i := range node.ParameterSchema {
			if node.ParameterSchema[i].ID == req.ParamID {
				node.ParameterSchema[i].Value = clamped
			}
		}
		// The audio thread interpolates to the target within one block.
		res.commands = append(res.commands, rac.Command{
			Op: rac.CmdSetParam,
			I1: s.engine.SlotIDFor(req.NodeID),
			I2: int32(index),
			F1: clamped,
		})
		res.data = map[string]any{"value": clamped}

	case OpVSTBypassSet:
		node := p.NodeByID(req.NodeID)
		if node == nil {
			return nil, notFound("node", req.NodeID)
		}
		node.Bypassed = req.Bypassed
		res.commands = append(res.commands, rac.Command{
			Op: rac.CmdSetBypass,
			I1: s.engine.SlotIDFor(req.NodeID),
			F1: boolFloat(req.Bypassed),
		})

	case OpVSTOpenEditor:
		if p.NodeByID(req.NodeID) == nil {
			return nil, notFound("node", req.NodeID)
		}
		view, err := s.host.OpenEditor(req.NodeID)
		if err != nil {
			return nil, err
		}
		res.broadcastState = false
		res.data = map[string]any{"editor": view}

	default:
		return nil, errors.Newf("unknown vst operation %q", op).
			Component(errors.ComponentSession).
			Category(errors.CategoryInvalidRequest).
			Build()
	}

	return res, nil
}

func insertAt(list []string, index int, value string) []string {
	if index < 0 || index > len(list) {
		index = len(list)
	}
	list = append(list, "")
	copy(list[index+1:], list[index:])
	list[index] = value
	return list
}

func removeString(list []string, value string) []string {
	for i, v := range list {
		if v == value {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
