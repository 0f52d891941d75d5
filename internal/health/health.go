// Package health samples host resource pressure for the engine: free disk
// under the user-data root (guards media uploads and recording spills) and
// CPU load (feeds the audio health monitor's underrun diagnostics). Plain
// sampling only — the engine reacts to pressure by refusing work
// (backend_unavailable), not by degrading it.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/thestuu/engine/internal/logging"
)

// Snapshot is one point-in-time resource reading.
type Snapshot struct {
	DiskFreeBytes  uint64
	DiskUsedPct    float64
	CPUPct         float64
	SampledAt      time.Time
}

// Monitor periodically samples disk and CPU state for a single path.
type Monitor struct {
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last Snapshot
}

// NewMonitor builds a monitor over the given directory. interval <= 0
// selects the 10s default.
func NewMonitor(path string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		path:     path,
		interval: interval,
		logger:   logging.ForService("health"),
	}
}

// Run samples until ctx is cancelled. The first sample happens immediately
// so Last() is useful as soon as Run has started.
func (m *Monitor) Run(ctx context.Context) {
	m.sample()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Monitor) sample() {
	snap := Snapshot{SampledAt: time.Now()}

	if usage, err := disk.Usage(m.path); err == nil {
		snap.DiskFreeBytes = usage.Free
		snap.DiskUsedPct = usage.UsedPercent
	} else {
		m.logger.Warn("disk usage sample failed", "path", m.path, "error", err)
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPct = pcts[0]
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	if snap.DiskUsedPct > 95 {
		m.logger.Warn("disk nearly full", "path", m.path, "used_pct", snap.DiskUsedPct)
	}
}

// Last returns the most recent snapshot (zero value before the first sample).
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// HasDiskFor reports whether at least n bytes are free at the monitored
// path, per the last sample. A monitor that has never sampled reports true
// so a slow first sample cannot block uploads at startup.
func (m *Monitor) HasDiskFor(n uint64) bool {
	snap := m.Last()
	if snap.SampledAt.IsZero() {
		return true
	}
	return snap.DiskFreeBytes >= n
}
