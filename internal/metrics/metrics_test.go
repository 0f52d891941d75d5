package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewEngine(reg)
	require.NoError(t, err)

	m.RAC.BlocksRendered.Inc()
	m.RAC.TrackPeak.WithLabelValues("1").Set(0.7)
	m.Session.MutationLatency.WithLabelValues("track").Observe(0.001)
	m.Wire.Clients.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["thestuu_rac_blocks_rendered_total"])
	assert.True(t, names["thestuu_session_mutation_seconds"])
	assert.True(t, names["thestuu_wire_clients"])
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewEngine(reg)
	require.NoError(t, err)
	_, err = NewEngine(reg)
	assert.Error(t, err)
}
