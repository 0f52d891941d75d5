package rac

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/metrics"
)

// HealthMonitor watches the audio callback's vital signs from outside
// the realtime path: blocks rendered, underruns (deadline misses),
// spill-ring drops, and command-queue load, via periodic sampling of
// counters the hot path bumps atomically. No restart policy — a wedged
// audio device is surfaced as backend_unavailable rather than silently
// reinitialized.
type HealthMonitor struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.RACMetrics

	lastBlocks    uint64
	stalledChecks int
	available     atomic.Bool
}

// NewHealthMonitor wires a monitor to the engine. m may be nil.
func NewHealthMonitor(e *Engine, m *metrics.RACMetrics, interval time.Duration) *HealthMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	h := &HealthMonitor{
		engine:   e,
		interval: interval,
		logger:   logging.ForService("rac"),
		metrics:  m,
	}
	h.available.Store(true)
	return h
}

// Available reports whether the audio backend is making progress. False
// maps to the backend_unavailable error code on operations that need a
// live graph.
func (h *HealthMonitor) Available() bool { return h.available.Load() }

// Run samples until ctx is cancelled.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *HealthMonitor) check() {
	e := h.engine
	blocks := e.blocksRendered.Load()
	underruns := e.underruns.Load()
	spillDrops := e.spillDrops.Load()

	if h.metrics != nil {
		h.metrics.CommandQueueLoad.Set(float64(e.cmds.OccupiedBytes()))
	}

	// A started device that stops advancing for two consecutive checks is
	// considered unavailable.
	if e.deviceRunning.Load() {
		if blocks == h.lastBlocks {
			h.stalledChecks++
		} else {
			h.stalledChecks = 0
		}
		wasAvailable := h.available.Load()
		nowAvailable := h.stalledChecks < 2
		h.available.Store(nowAvailable)
		if wasAvailable && !nowAvailable {
			h.logger.Error("audio callback stalled",
				"blocks", blocks, "checks", h.stalledChecks)
		} else if !wasAvailable && nowAvailable {
			h.logger.Info("audio callback recovered", "blocks", blocks)
		}
	} else {
		h.available.Store(true)
		h.stalledChecks = 0
	}
	h.lastBlocks = blocks

	if underruns > 0 || spillDrops > 0 {
		h.logger.Debug("render pressure",
			"blocks", blocks, "underruns", underruns, "spill_drops", spillDrops)
	}
}
