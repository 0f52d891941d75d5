// Package metrics exposes the engine's Prometheus instrumentation: RAC
// meter levels and underrun counters, session mutation latency, wire
// client/broadcast accounting. One struct per subsystem, all collectors
// registered against a caller-supplied registry so tests can use an
// isolated one.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Engine aggregates every subsystem's collectors.
type Engine struct {
	RAC     *RACMetrics
	Session *SessionMetrics
	Wire    *WireMetrics
}

// NewEngine creates and registers all engine collectors on reg.
func NewEngine(reg prometheus.Registerer) (*Engine, error) {
	rac, err := NewRACMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: rac: %w", err)
	}
	session, err := NewSessionMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: session: %w", err)
	}
	wire, err := NewWireMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: wire: %w", err)
	}
	return &Engine{RAC: rac, Session: session, Wire: wire}, nil
}

// RACMetrics covers the realtime audio core.
type RACMetrics struct {
	TrackPeak        *prometheus.GaugeVec
	TrackRMS         *prometheus.GaugeVec
	TransportBeats   prometheus.Gauge
	BlocksRendered   prometheus.Counter
	Underruns        prometheus.Counter
	CommandQueueLoad prometheus.Gauge
	GraphSwaps       prometheus.Counter
	RetiredGraphs    prometheus.Counter
}

// NewRACMetrics registers the RAC collectors.
func NewRACMetrics(reg prometheus.Registerer) (*RACMetrics, error) {
	m := &RACMetrics{
		TrackPeak: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thestuu_rac_track_peak",
			Help: "Most recent per-track peak level (0..1)",
		}, []string{"track_id"}),
		TrackRMS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "thestuu_rac_track_rms",
			Help: "Most recent per-track RMS level (0..1)",
		}, []string{"track_id"}),
		TransportBeats: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thestuu_rac_transport_position_beats",
			Help: "Transport position in beats",
		}),
		BlocksRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thestuu_rac_blocks_rendered_total",
			Help: "Total audio blocks rendered by the callback",
		}),
		Underruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thestuu_rac_underruns_total",
			Help: "Blocks where the render deadline was missed",
		}),
		CommandQueueLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thestuu_rac_command_queue_bytes",
			Help: "Occupied bytes in the audio-thread command queue",
		}),
		GraphSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thestuu_rac_graph_swaps_total",
			Help: "Graph description pointer exchanges",
		}),
		RetiredGraphs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thestuu_rac_graphs_retired_total",
			Help: "Graph descriptions reclaimed off the audio thread",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.TrackPeak, m.TrackRMS, m.TransportBeats, m.BlocksRendered,
		m.Underruns, m.CommandQueueLoad, m.GraphSwaps, m.RetiredGraphs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SessionMetrics covers the session orchestrator.
type SessionMetrics struct {
	MutationLatency *prometheus.HistogramVec
	MutationErrors  *prometheus.CounterVec
	QueueDepth      prometheus.Gauge
	Saves           prometheus.Counter
}

// NewSessionMetrics registers the session collectors.
func NewSessionMetrics(reg prometheus.Registerer) (*SessionMetrics, error) {
	m := &SessionMetrics{
		MutationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "thestuu_session_mutation_seconds",
			Help:    "Latency of one applied mutation, by operation family",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		MutationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thestuu_session_mutation_errors_total",
			Help: "Rejected mutations by error code",
		}, []string{"code"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thestuu_session_queue_depth",
			Help: "Pending requests in the mutation queue",
		}),
		Saves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thestuu_session_saves_total",
			Help: "Project documents written to disk",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.MutationLatency, m.MutationErrors, m.QueueDepth, m.Saves,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WireMetrics covers the gateway.
type WireMetrics struct {
	Clients          prometheus.Gauge
	BroadcastsSent   *prometheus.CounterVec
	BroadcastsDropped *prometheus.CounterVec
	UploadsAccepted  prometheus.Counter
	UploadsRejected  prometheus.Counter
}

// NewWireMetrics registers the gateway collectors.
func NewWireMetrics(reg prometheus.Registerer) (*WireMetrics, error) {
	m := &WireMetrics{
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "thestuu_wire_clients",
			Help: "Connected control-channel clients",
		}),
		BroadcastsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thestuu_wire_broadcasts_sent_total",
			Help: "Broadcast events delivered, by event name",
		}, []string{"event"}),
		BroadcastsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thestuu_wire_broadcasts_dropped_total",
			Help: "Broadcast events dropped under backpressure, by event name",
		}, []string{"event"}),
		UploadsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thestuu_wire_uploads_accepted_total",
			Help: "Media uploads stored and analysed",
		}),
		UploadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thestuu_wire_uploads_rejected_total",
			Help: "Media uploads rejected (format, size, disk)",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.Clients, m.BroadcastsSent, m.BroadcastsDropped,
		m.UploadsAccepted, m.UploadsRejected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
