package session

import (
	"encoding/json"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/project"
)

// dispatch routes one request to its handler. Handlers mutate the working
// copy and report side effects; the pipeline in handle() commits or
// discards.
func (s *Session) dispatch(op string, p *project.Project, payload json.RawMessage) (*opResult, error) {
	switch op {
	case OpTransportPlay, OpTransportPause, OpTransportStop,
		OpTransportSeek, OpTransportSetBPM, OpSetMetronome:
		return s.handleTransport(op, p, payload)

	case OpTrackCreate, OpTrackInsert, OpTrackDuplicate, OpTrackDelete,
		OpTrackBulkDelete, OpTrackReorder, OpTrackRename, OpTrackSetChainEnabled:
		return s.handleTrack(op, p, payload)

	case OpTrackSetVolume, OpTrackSetPan, OpTrackSetMute,
		OpTrackSetSolo, OpTrackSetRecordArm:
		return s.handleMixer(op, p, payload)

	case OpClipCreate, OpClipMove, OpClipResize, OpClipDelete, OpClipImportFile:
		return s.handleClip(op, p, payload)

	case OpPatternCreate, OpPatternUpdate, OpPatternUpdateStep:
		return s.handlePattern(op, p, payload)

	case OpVSTScan, OpVSTAdd, OpVSTRemove, OpVSTReorder,
		OpVSTParamSet, OpVSTBypassSet, OpVSTOpenEditor:
		return s.handleVST(op, p, payload)

	case OpProjectSave, OpProjectUpdateView:
		return s.handleProject(op, p, payload)

	case opRecordDone:
		return s.handleRecordDone(p, payload)

	default:
		return nil, errors.Newf("unknown operation %q", op).
			Component(errors.ComponentSession).
			Category(errors.CategoryInvalidRequest).
			Context("op", op).
			Build()
	}
}

// notFound builds the stable not_found error for a missing entity.
func notFound(entity string, id any) error {
	return errors.Newf("%s %v does not exist", entity, id).
		Component(errors.ComponentSession).
		Category(errors.CategoryNotFound).
		Context("entity", entity).
		Context("id", id).
		Build()
}

// outOfRange builds the stable out_of_range error.
func outOfRange(field string, msg string) error {
	return errors.Newf("%s %s", field, msg).
		Component(errors.ComponentSession).
		Category(errors.CategoryOutOfRange).
		Context("field", field).
		Build()
}
