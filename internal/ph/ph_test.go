package ph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/project"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h := NewHost(48000)
	t.Cleanup(h.Close)
	return h
}

func TestScanListsBuiltins(t *testing.T) {
	h := newTestHost(t)
	infos, err := h.Scan()
	require.NoError(t, err)
	require.Len(t, infos, 4)

	uids := make(map[string]PluginInfo, len(infos))
	for _, info := range infos {
		uids[info.UID] = info
	}
	require.Contains(t, uids, UIDUltrasound)
	assert.Equal(t, KindInstrument, uids[UIDUltrasound].Kind)
	assert.Equal(t, KindEffect, uids[UIDReverb].Kind)
	assert.NotEmpty(t, uids[UID4BandEq].Parameters)
}

func TestScanCacheSurvivesRepeatCalls(t *testing.T) {
	h := newTestHost(t)
	first, err := h.Scan()
	require.NoError(t, err)
	second, err := h.Scan()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRegisterExternalInvalidatesCache(t *testing.T) {
	h := newTestHost(t)
	_, err := h.Scan()
	require.NoError(t, err)

	h.RegisterExternal(PluginInfo{
		UID: "vst3:fake:gain", Name: "Fake Gain", Type: "gain", Kind: KindEffect,
	}, func(sr int) Plugin { return newFourBandEq(sr) })

	infos, err := h.Scan()
	require.NoError(t, err)
	assert.Len(t, infos, 5)
}

func TestInstantiateAssignsIndexAndSchema(t *testing.T) {
	h := newTestHost(t)

	res, err := h.Instantiate(UIDUltrasound, 0, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.NodeID)
	assert.Zero(t, res.PluginIndex)
	assert.Equal(t, KindInstrument, res.Kind)
	require.NotEmpty(t, res.Parameters)

	// Out-of-range insert index appends.
	res2, err := h.Instantiate(UIDReverb, 99, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res2.PluginIndex)

	_, ok := h.Instance(res.NodeID)
	assert.True(t, ok)
}

func TestInstantiateUnknownUID(t *testing.T) {
	h := newTestHost(t)
	_, err := h.Instantiate("internal:doesnotexist", 0, 0)
	require.Error(t, err)
	var ee *errors.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "plugin_error", ee.Code())
}

func TestSetParamClampsAndResolves(t *testing.T) {
	h := newTestHost(t)
	res, err := h.Instantiate(UIDReverb, 0, 0)
	require.NoError(t, err)

	index, clamped, err := h.SetParam(res.NodeID, "mix", 1.7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, clamped)
	assert.GreaterOrEqual(t, index, 0)

	_, _, err = h.SetParam(res.NodeID, "nope", 0.5)
	require.Error(t, err)
	var ee *errors.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "not_found", ee.Code())
}

func TestReleaseClosesEditorFirst(t *testing.T) {
	h := newTestHost(t)
	res, err := h.Instantiate(UIDChorus, 0, 0)
	require.NoError(t, err)

	view, err := h.OpenEditor(res.NodeID)
	require.NoError(t, err)
	assert.False(t, view.Native)
	require.NotEmpty(t, view.Fallback)
	assert.NotEmpty(t, view.Fallback[0].Hint)

	require.NoError(t, h.Release(res.NodeID))
	_, ok := h.Instance(res.NodeID)
	assert.False(t, ok)

	_, err = h.OpenEditor(res.NodeID)
	require.Error(t, err)
}

func TestOpenEditorIdempotent(t *testing.T) {
	h := newTestHost(t)
	res, err := h.Instantiate(UID4BandEq, 0, 0)
	require.NoError(t, err)

	v1, err := h.OpenEditor(res.NodeID)
	require.NoError(t, err)
	v2, err := h.OpenEditor(res.NodeID)
	require.NoError(t, err)
	assert.Same(t, v1, v2, "reopening reveals the existing window")
}

func TestBuiltinProcessStability(t *testing.T) {
	// Every builtin must survive a silence block and a triggered block
	// without NaNs: this is the audio-thread contract.
	for uid, factory := range builtinFactories() {
		p := factory(48000)
		left := make([]float32, 512)
		right := make([]float32, 512)
		p.Process(left, right)

		if synth, ok := p.(interface {
			Trigger(lane int32, velocity float64)
		}); ok {
			synth.Trigger(0, 1.0)
		}
		for i := range left {
			left[i] = 0.5
			right[i] = -0.5
		}
		p.Process(left, right)
		for i := range left {
			require.False(t, left[i] != left[i], "%s produced NaN at %d", uid, i)
		}
	}
}

func TestParamSchemaNormalizedRange(t *testing.T) {
	for uid, factory := range builtinFactories() {
		p := factory(48000)
		for _, schema := range p.Parameters() {
			assert.GreaterOrEqual(t, schema.Value, 0.0, "%s %s", uid, schema.ID)
			assert.LessOrEqual(t, schema.Value, 1.0, "%s %s", uid, schema.ID)
		}
		// SetParam out of range clamps.
		p.SetParam(0, 5)
		assert.LessOrEqual(t, p.Parameters()[0].Value, 1.0, uid)
	}
}

func TestParamSchemaType(t *testing.T) {
	var _ []project.ParamSchema = newReverb(48000).Parameters()
}
