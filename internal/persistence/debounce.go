package persistence

import (
	"sync"
	"time"

	"github.com/thestuu/engine/internal/project"
)

// ViewDebounce coalesces rapid `project.update_view` writes into a single
// save at a minimum 140ms spacing, so dragging a zoom slider does not
// hammer the disk. Uses the same write-then-replace path as Save, behind
// a time.Timer restarted on every call.
type ViewDebounce struct {
	path     string
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	pending *project.Project
	onError func(error)
}

// NewViewDebounce constructs a debounced writer targeting path, invoking
// onError (if non-nil) for any background Save failure.
func NewViewDebounce(path string, onError func(error)) *ViewDebounce {
	return &ViewDebounce{path: path, interval: 140 * time.Millisecond, onError: onError}
}

// Queue schedules p to be saved after the debounce interval, replacing any
// still-pending write with the latest snapshot.
func (d *ViewDebounce) Queue(p *project.Project) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = p
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, d.flush)
}

func (d *ViewDebounce) flush() {
	d.mu.Lock()
	p := d.pending
	d.pending = nil
	d.mu.Unlock()

	if p == nil {
		return
	}
	if err := Save(d.path, p); err != nil && d.onError != nil {
		d.onError(err)
	}
}

// Flush forces any pending write to happen immediately, used on clean
// shutdown so the last view-preference change is not lost.
func (d *ViewDebounce) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.flush()
}
