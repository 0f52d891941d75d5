package ph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/project"
)

// DispatchTimeout bounds every cross-thread call into the UI/message
// goroutine.
const DispatchTimeout = 10 * time.Second

// Instance is one live plugin placed on a track.
type Instance struct {
	NodeID string
	UID    string
	Plugin Plugin
}

// InstantiateResult is what the session orchestrator writes into the
// project's Node after a successful vst.add.
type InstantiateResult struct {
	NodeID      string
	PluginIndex int
	Kind        PluginKind
	Parameters  []project.ParamSchema
}

type uiRequest struct {
	fn    func() (any, error)
	reply chan uiReply
}

type uiReply struct {
	value any
	err   error
}

// Host owns plugin discovery and every live instance. One goroutine — the
// designated UI/message thread — executes all instantiation, editor, and
// teardown work; public methods marshal onto it and park with a timeout.
type Host struct {
	sampleRate int
	logger     *slog.Logger

	factoriesMu sync.RWMutex
	factories   map[string]Factory
	external    map[string]PluginInfo

	// scan() results cached keyed by uid, no expiry: repeat scans reuse
	// the cached entries, and only RegisterExternal flushes the cache.
	scanCache *gocache.Cache

	instMu    sync.RWMutex
	instances map[string]*Instance

	editorsMu sync.Mutex
	editors   map[string]*EditorView

	requests chan uiRequest
	stop     chan struct{}
	stopped  chan struct{}
}

// NewHost builds the host and starts its UI/message goroutine.
func NewHost(sampleRate int) *Host {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	h := &Host{
		sampleRate: sampleRate,
		logger:     logging.ForService("ph"),
		factories:  builtinFactories(),
		external:   make(map[string]PluginInfo),
		scanCache:  gocache.New(gocache.NoExpiration, 0),
		instances:  make(map[string]*Instance),
		editors:    make(map[string]*EditorView),
		requests:   make(chan uiRequest, 32),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go h.uiLoop()
	return h
}

// Close shuts the UI goroutine down after tearing down every instance.
func (h *Host) Close() {
	_, _ = h.dispatch(func() (any, error) {
		h.instMu.Lock()
		for id := range h.instances {
			delete(h.instances, id)
		}
		h.instMu.Unlock()
		h.editorsMu.Lock()
		clear(h.editors)
		h.editorsMu.Unlock()
		return nil, nil
	})
	close(h.stop)
	<-h.stopped
}

func (h *Host) uiLoop() {
	defer close(h.stopped)
	for {
		select {
		case <-h.stop:
			return
		case req := <-h.requests:
			value, err := req.fn()
			req.reply <- uiReply{value: value, err: err}
		}
	}
}

// dispatch marshals fn onto the UI goroutine and waits for its ack with
// the bounded timeout. Timeout produces the stable `timeout` error code;
// the request is abandoned, never retried.
func (h *Host) dispatch(fn func() (any, error)) (any, error) {
	req := uiRequest{fn: fn, reply: make(chan uiReply, 1)}
	ctx, cancel := context.WithTimeout(context.Background(), DispatchTimeout)
	defer cancel()

	select {
	case h.requests <- req:
	case <-ctx.Done():
		return nil, errors.Newf("ph: UI thread busy, dispatch queue full").
			Component(errors.ComponentPH).
			Category(errors.CategoryTimeout).
			Build()
	}
	select {
	case reply := <-req.reply:
		return reply.value, reply.err
	case <-ctx.Done():
		return nil, errors.Newf("ph: UI thread did not acknowledge within %s", DispatchTimeout).
			Component(errors.ComponentPH).
			Category(errors.CategoryTimeout).
			Build()
	}
}

// RegisterExternal adds a process-local external plugin to the registry.
// Real embedded-framework scanners plug in through this same hook, so the
// host contract is identical for built-ins and externals.
func (h *Host) RegisterExternal(info PluginInfo, factory Factory) {
	h.factoriesMu.Lock()
	h.factories[info.UID] = factory
	h.external[info.UID] = info
	h.factoriesMu.Unlock()
	h.scanCache.Flush()
}

// Scan enumerates every known plugin. Runs on the UI goroutine, like all
// plugin-framework calls; results are cached keyed by uid, and a repeat
// Scan returns the cached entries until RegisterExternal flushes them.
func (h *Host) Scan() ([]PluginInfo, error) {
	value, err := h.dispatch(func() (any, error) {
		h.factoriesMu.RLock()
		defer h.factoriesMu.RUnlock()

		infos := make([]PluginInfo, 0, len(h.factories))
		for uid, factory := range h.factories {
			if cached, ok := h.scanCache.Get(uid); ok {
				infos = append(infos, cached.(PluginInfo))
				continue
			}
			var info PluginInfo
			if ext, ok := h.external[uid]; ok {
				info = ext
			} else {
				// Probe instance: built-ins are cheap to construct and the
				// probe never touches the audio path.
				info = factory(h.sampleRate).Info()
			}
			h.scanCache.Set(uid, info, gocache.NoExpiration)
			infos = append(infos, info)
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].UID < infos[j].UID })
		return infos, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]PluginInfo), nil
}

// Instantiate creates an instance of uid for a chain currently chainLen
// long, inserting at insertIndex (appended when out of range). The node id
// is assigned here so the session can reference the instance before it
// writes the Node into the document.
func (h *Host) Instantiate(uid string, insertIndex, chainLen int) (*InstantiateResult, error) {
	value, err := h.dispatch(func() (any, error) {
		h.factoriesMu.RLock()
		factory, ok := h.factories[uid]
		h.factoriesMu.RUnlock()
		if !ok {
			return nil, errors.Newf("ph: unknown plugin uid %q", uid).
				Component(errors.ComponentPH).
				Category(errors.CategoryPluginError).
				Context("uid", uid).
				Build()
		}

		plugin := factory(h.sampleRate)
		if plugin == nil {
			return nil, errors.Newf("ph: plugin %q failed to instantiate", uid).
				Component(errors.ComponentPH).
				Category(errors.CategoryPluginError).
				Context("uid", uid).
				Build()
		}

		pluginIndex := insertIndex
		if pluginIndex < 0 || pluginIndex > chainLen {
			pluginIndex = chainLen
		}

		inst := &Instance{NodeID: project.NewID(), UID: uid, Plugin: plugin}
		h.instMu.Lock()
		h.instances[inst.NodeID] = inst
		h.instMu.Unlock()

		h.logger.Info("plugin instantiated",
			"uid", uid, "node_id", inst.NodeID, "plugin_index", pluginIndex)
		return &InstantiateResult{
			NodeID:      inst.NodeID,
			PluginIndex: pluginIndex,
			Kind:        plugin.Info().Kind,
			Parameters:  plugin.Parameters(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*InstantiateResult), nil
}

// Release tears an instance down on the UI goroutine, closing its editor
// window first. The caller must already have told the audio thread to
// skip the slot.
func (h *Host) Release(nodeID string) error {
	_, err := h.dispatch(func() (any, error) {
		h.editorsMu.Lock()
		delete(h.editors, nodeID)
		h.editorsMu.Unlock()

		h.instMu.Lock()
		_, ok := h.instances[nodeID]
		delete(h.instances, nodeID)
		h.instMu.Unlock()
		if !ok {
			return nil, errors.Newf("ph: no instance for node %q", nodeID).
				Component(errors.ComponentPH).
				Category(errors.CategoryNotFound).
				Build()
		}
		h.logger.Info("plugin released", "node_id", nodeID)
		return nil, nil
	})
	return err
}

// Instance returns the live instance for a node id.
func (h *Host) Instance(nodeID string) (*Instance, bool) {
	h.instMu.RLock()
	defer h.instMu.RUnlock()
	inst, ok := h.instances[nodeID]
	return inst, ok
}

// SetParam resolves a parameter's index and clamps a normalized value to
// [0,1]; it stores nothing. The caller mirrors the clamped value into the
// project (what clients read back) and posts the change to the audio
// thread's command queue.
func (h *Host) SetParam(nodeID, paramID string, normalized float64) (index int, clamped float64, err error) {
	inst, ok := h.Instance(nodeID)
	if !ok {
		return 0, 0, errors.Newf("ph: no instance for node %q", nodeID).
			Component(errors.ComponentPH).
			Category(errors.CategoryNotFound).
			Build()
	}
	index = inst.Plugin.ParamIndex(paramID)
	if index < 0 {
		return 0, 0, errors.Newf("ph: plugin %q has no parameter %q", inst.UID, paramID).
			Component(errors.ComponentPH).
			Category(errors.CategoryNotFound).
			Context("param", paramID).
			Build()
	}
	clamped = normalized
	if clamped < 0 {
		clamped = 0
	} else if clamped > 1 {
		clamped = 1
	}
	return index, clamped, nil
}

// OpenEditor creates or reveals the editor for a node on the UI goroutine.
// Built-ins have no native window, so the fallback parameter editor is
// returned.
func (h *Host) OpenEditor(nodeID string) (*EditorView, error) {
	value, err := h.dispatch(func() (any, error) {
		inst, ok := h.Instance(nodeID)
		if !ok {
			return nil, errors.Newf("ph: no instance for node %q", nodeID).
				Component(errors.ComponentPH).
				Category(errors.CategoryNotFound).
				Build()
		}

		h.editorsMu.Lock()
		defer h.editorsMu.Unlock()
		if view, open := h.editors[nodeID]; open {
			return view, nil
		}

		view := &EditorView{
			NodeID: nodeID,
			Title:  fmt.Sprintf("%s — %s", inst.Plugin.Info().Name, nodeID[:8]),
			Native: inst.Plugin.HasNativeEditor(),
		}
		if !view.Native {
			if hinter, ok := inst.Plugin.(Hinter); ok {
				view.Fallback = hinter.ParamHints()
			} else {
				for _, p := range inst.Plugin.Parameters() {
					view.Fallback = append(view.Fallback, ParamHint{ParamSchema: p})
				}
			}
		}
		h.editors[nodeID] = view
		h.logger.Debug("editor opened", "node_id", nodeID, "native", view.Native)
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*EditorView), nil
}

// CloseEditor tears down a node's editor window if open.
func (h *Host) CloseEditor(nodeID string) {
	_, _ = h.dispatch(func() (any, error) {
		h.editorsMu.Lock()
		delete(h.editors, nodeID)
		h.editorsMu.Unlock()
		return nil, nil
	})
}
