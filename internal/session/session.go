package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thestuu/engine/internal/errors"
	"github.com/thestuu/engine/internal/logging"
	"github.com/thestuu/engine/internal/media"
	"github.com/thestuu/engine/internal/metrics"
	"github.com/thestuu/engine/internal/notify"
	"github.com/thestuu/engine/internal/persistence"
	"github.com/thestuu/engine/internal/ph"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
	"github.com/thestuu/engine/internal/securefs"
)

// Catalog is the optional project-index sink; the catalog package
// implements it. Nil disables indexing.
type Catalog interface {
	RecordSave(path string, p *project.Project)
}

// DiskGuard gates disk-heavy work on free space; the health monitor
// implements it. Nil disables the guard.
type DiskGuard interface {
	HasDiskFor(n uint64) bool
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Engine      *rac.Engine
	Host        *ph.Host
	Health      *rac.HealthMonitor
	Metrics     *metrics.SessionMetrics
	Notifier    *notify.Notifier
	Catalog     Catalog
	Disk        DiskGuard
	ProjectPath string
	MediaDir    string
	QueueDepth  int
}

// takeInfo caches one finished recording's analysis so every armed track's
// record_done event reuses it.
type takeInfo struct {
	spillPath string
	analysis  *media.Analysis
	pcm       *media.PCM
}

// Session is the orchestrator. The worker goroutine started by Run is the
// only writer of proj; every public entry point goes through the queue.
type Session struct {
	logger *slog.Logger
	m      *metrics.SessionMetrics

	engine   *rac.Engine
	host     *ph.Host
	hm       *rac.HealthMonitor
	notifier *notify.Notifier
	catalog  Catalog
	disk     DiskGuard

	queue chan *Request

	// Worker-owned state. projMu only guards the pointer swap at commit so
	// the pump can read the time signature without racing it.
	projMu    sync.RWMutex
	proj      *project.Project
	transport transportState
	sources   map[string]*rac.AudioSource
	recTake   *takeInfo

	projectPath string
	mediaDir    string
	media       *securefs.SecureFS
	debounce    *persistence.ViewDebounce

	// Transport position mirrored from RAC notifications, read by the
	// worker for record placement; seek and stop overwrite it directly.
	posMu     sync.Mutex
	lastBeats float64

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New builds the orchestrator around a loaded (or default) project.
func New(cfg Config, p *project.Project) *Session {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 256
	}
	s := &Session{
		logger:      logging.ForService("session"),
		m:           cfg.Metrics,
		engine:      cfg.Engine,
		host:        cfg.Host,
		hm:          cfg.Health,
		notifier:    cfg.Notifier,
		catalog:     cfg.Catalog,
		disk:        cfg.Disk,
		queue:       make(chan *Request, depth),
		proj:        p,
		sources:     make(map[string]*rac.AudioSource),
		projectPath: cfg.ProjectPath,
		mediaDir:    cfg.MediaDir,
		subs:        make(map[int]chan Event),
	}
	s.debounce = persistence.NewViewDebounce(cfg.ProjectPath, func(err error) {
		s.logger.Error("debounced view save failed", "error", err)
	})
	// Recording spills and uploads both land here, always through the
	// root-confined filesystem; opening it up front also creates the
	// directory so the record transition never fails on a missing one.
	sfs, err := securefs.New(cfg.MediaDir)
	if err != nil {
		s.logger.Warn("media directory unavailable", "dir", cfg.MediaDir, "error", err)
	} else {
		s.media = sfs
	}
	return s
}

// Run starts the worker and the RAC notification pump, blocking until ctx
// is cancelled. Uses errgroup for coordinated shutdown.
func (s *Session) Run(ctx context.Context) error {
	// Decode every audio clip referenced by the loaded project, then stage
	// the first graph.
	s.reloadSources()
	s.installGraph()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.workerLoop(ctx) })
	g.Go(func() error { return s.pumpLoop(ctx) })
	err := g.Wait()
	s.debounce.Flush()
	return err
}

// Submit enqueues a request and waits for its ack. A cancelled ctx
// abandons the reply; an already-enqueued mutation still runs to
// completion.
func (s *Session) Submit(ctx context.Context, op string, payload json.RawMessage) Reply {
	if op == opRecordDone || op == opSnapshot {
		return errorReply(errors.Newf("unknown operation %q", op).
			Component(errors.ComponentSession).
			Category(errors.CategoryInvalidRequest).
			Build())
	}
	return s.submit(ctx, op, payload)
}

func (s *Session) submit(ctx context.Context, op string, payload json.RawMessage) Reply {
	if ctx == nil {
		ctx = context.Background()
	}
	req := &Request{Op: op, Payload: payload, Ctx: ctx, reply: make(chan Reply, 1)}
	select {
	case s.queue <- req:
	case <-ctx.Done():
		return errorReply(errors.New(ctx.Err()).
			Component(errors.ComponentSession).
			Category(errors.CategoryTimeout).
			Build())
	}
	if s.m != nil {
		s.m.QueueDepth.Set(float64(len(s.queue)))
	}
	select {
	case reply := <-req.reply:
		return reply
	case <-ctx.Done():
		return errorReply(errors.New(ctx.Err()).
			Component(errors.ComponentSession).
			Category(errors.CategoryTimeout).
			Build())
	}
}

// Subscribe registers a broadcast listener. The returned cancel must be
// called on disconnect. Sends to a full subscriber are dropped here for
// every event, state pushes included; the gateway applies its own
// per-event policy to what reaches it.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.subMu.Unlock()
	}
}

func (s *Session) broadcast(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber saturated; the gateway layer disconnects slow
			// clients, so dropping here only affects doomed connections.
		}
	}
}

// Snapshot returns an immutable clone for new connections.
func (s *Session) Snapshot() *project.Project {
	reply := s.submit(context.Background(), opSnapshot, nil)
	if p, ok := reply.Data["project"].(*project.Project); ok {
		return p
	}
	return project.Default("Untitled Session", 120)
}

// opSnapshot is internal: serialized through the queue so the clone
// happens on the worker, never racing a mutation.
const opSnapshot = "internal.snapshot"

func (s *Session) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-s.queue:
			start := time.Now()
			reply := s.handle(req)
			if s.m != nil {
				s.m.MutationLatency.WithLabelValues(opFamily(req.Op)).
					Observe(time.Since(start).Seconds())
				if !reply.OK {
					s.m.MutationErrors.WithLabelValues(reply.Error).Inc()
				}
				s.m.QueueDepth.Set(float64(len(s.queue)))
			}
			select {
			case req.reply <- reply:
			default:
			}
		}
	}
}

func opFamily(op string) string {
	for i := 0; i < len(op); i++ {
		if op[i] == '.' {
			return op[:i]
		}
	}
	return op
}

// handle runs one mutation: clone, dispatch, commit-or-discard, broadcast.
func (s *Session) handle(req *Request) Reply {
	if req.Op == opSnapshot {
		return Reply{OK: true, Data: map[string]any{"project": s.proj.Clone()}}
	}

	working := s.proj.Clone()
	result, err := s.dispatch(req.Op, working, req.Payload)
	if err != nil {
		s.logger.Debug("mutation rejected", "op", req.Op, "error", err)
		return errorReply(err)
	}

	s.projMu.Lock()
	s.proj = working
	s.projMu.Unlock()

	if result.rebuildGraph {
		s.installGraph()
	}
	for _, cmd := range result.commands {
		s.engine.Commands().Push(cmd)
	}
	if result.broadcastState {
		s.broadcast(Event{Name: EventState, Payload: s.proj.Clone()})
	}

	reply := Reply{OK: true, Data: result.data}
	return reply
}

// opResult is what a handler reports back to the pipeline.
type opResult struct {
	rebuildGraph   bool
	broadcastState bool
	commands       []rac.Command
	data           map[string]any
}

func errorReply(err error) Reply {
	var ee *errors.EngineError
	if errors.As(err, &ee) {
		return Reply{OK: false, Error: ee.Code(), Message: ee.Error()}
	}
	return Reply{OK: false, Error: string(errors.CategoryInvalidRequest), Message: err.Error()}
}

// requireBackend gates operations that need a live audio graph.
func (s *Session) requireBackend() error {
	if s.hm != nil && !s.hm.Available() {
		return errors.Newf("audio backend is not available").
			Component(errors.ComponentSession).
			Category(errors.CategoryBackendUnavailable).
			Build()
	}
	return nil
}

// installGraph stages a new graph description from the committed project.
func (s *Session) installGraph() {
	s.engine.InstallGraph(s.proj, func(nodeID string) (rac.Processor, bool) {
		inst, ok := s.host.Instance(nodeID)
		if !ok {
			return nil, false
		}
		return inst.Plugin, true
	}, s.sources)
}

// reloadSources decodes every audio clip's backing file. Missing or
// undecodable sources render silence; the clip stays on the timeline.
func (s *Session) reloadSources() {
	for ti := range s.proj.Playlist {
		for _, c := range s.proj.Playlist[ti].Clips {
			if c.Type != project.ClipAudio || c.Audio == nil {
				continue
			}
			if _, ok := s.sources[c.ID]; ok {
				continue
			}
			src, err := s.decodeSource(c.Audio.SourcePath)
			if err != nil {
				s.logger.Warn("audio clip source unavailable",
					"clip_id", c.ID, "path", c.Audio.SourcePath, "error", err)
				continue
			}
			s.sources[c.ID] = src
		}
	}
}

func (s *Session) decodeSource(path string) (*rac.AudioSource, error) {
	pcm, err := media.Decode(path)
	if err != nil {
		return nil, err
	}
	return &rac.AudioSource{
		SampleRate:      pcm.SampleRate,
		Samples:         pcm.Channels,
		DurationSeconds: pcm.DurationSeconds,
	}, nil
}

// pumpLoop drains RAC notifications into broadcasts and internal requests.
func (s *Session) pumpLoop(ctx context.Context) error {
	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	type meterEntry struct {
		TrackID int32   `json:"trackId"`
		Peak    float64 `json:"peak"`
		RMS     float64 `json:"rms"`
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var meters []meterEntry
		for {
			n, ok := s.engine.Notifications().Pop()
			if !ok {
				break
			}
			switch n.Op {
			case rac.NotifyTransport:
				s.posMu.Lock()
				s.lastBeats = n.F1
				s.posMu.Unlock()
				view := rac.TransportView(n, s.timeSignature())
				s.broadcast(Event{Name: EventTransport, Payload: transportPayload(view)})
			case rac.NotifyMeter:
				meters = append(meters, meterEntry{TrackID: n.I1, Peak: n.F1, RMS: n.F2})
			case rac.NotifyRecordDone:
				payload, _ := json.Marshal(recordDonePayload{
					TrackID:   int(n.I1),
					StartBars: n.F1,
					Duration:  n.F2,
				})
				go s.submit(context.Background(), opRecordDone, payload)
			}
		}
		if len(meters) > 0 {
			s.broadcast(Event{Name: EventMeter, Payload: map[string]any{"meters": meters}})
		}
	}
}

func (s *Session) timeSignature() project.TimeSignature {
	s.projMu.RLock()
	defer s.projMu.RUnlock()
	return s.proj.TimeSignature
}

func (s *Session) positionBeats() float64 {
	s.posMu.Lock()
	defer s.posMu.Unlock()
	return s.lastBeats
}

func transportPayload(v rac.TransportSnapshot) map[string]any {
	return map[string]any{
		"playing":       v.Playing,
		"recording":     v.Recording,
		"bar":           v.Bar,
		"beat":          v.Beat,
		"step":          v.Step,
		"stepIndex":     v.StepIndex,
		"positionBars":  v.PositionBars,
		"positionBeats": v.PositionBeats,
		"timestamp":     time.Now().UnixMilli(),
	}
}

type recordDonePayload struct {
	TrackID   int     `json:"track_id"`
	StartBars float64 `json:"start_bars"`
	Duration  float64 `json:"duration"`
}

// Upload stores and analyses a media file. Runs on the caller's goroutine
// (a gateway worker), never on the session worker, so upload I/O cannot
// stall mutations. It does not mutate the project; the subsequent
// clip.import_file does.
func (s *Session) Upload(filename string, body io.Reader, maxBytes int64) Reply {
	if s.disk != nil && !s.disk.HasDiskFor(uint64(maxBytes)) {
		return errorReply(errors.Newf("not enough free disk for upload").
			Component(errors.ComponentMedia).
			Category(errors.CategoryBackendUnavailable).
			Build())
	}
	if media.Classify(filename) == media.KindUnsupported {
		return errorReply(errors.Newf("unsupported file extension on %q", filename).
			Component(errors.ComponentMedia).
			Category(errors.CategoryUnsupportedFormat).
			Build())
	}
	if s.media == nil {
		return errorReply(errors.Newf("media storage is not available").
			Component(errors.ComponentMedia).
			Category(errors.CategoryIOError).
			Build())
	}

	path, size, err := media.Store(s.media, filename, body, maxBytes)
	if err != nil {
		return errorReply(errors.New(err).
			Component(errors.ComponentMedia).
			Category(errors.CategoryIOError).
			Build())
	}

	data := map[string]any{"path": path, "size": size}
	if media.Classify(filename) == media.KindAudio {
		analysis, err := media.Analyze(path)
		if err != nil {
			s.logger.Warn("upload analysis failed", "path", path, "error", err)
		} else {
			if analysis.DurationSeconds > 0 {
				data["duration_sec"] = analysis.DurationSeconds
			}
			if len(analysis.Peaks) > 0 {
				data["waveform_peaks"] = analysis.Peaks
			}
			if analysis.MIMEType != "" {
				data["mime"] = analysis.MIMEType
			}
		}
	}
	return Reply{OK: true, Data: data}
}

// spillPath names the recording spill file for the current take, under
// the confined media root.
func (s *Session) spillPath() string {
	dir := s.mediaDir
	if s.media != nil {
		dir = s.media.Root()
	}
	return filepath.Join(dir, fmt.Sprintf("take-%s.wav", project.NewID()[:8]))
}
