package wire

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/thestuu/engine/internal/session"
)

const (
	// Backpressure tuning.
	maxConsecutiveDrops   = 3
	transportMinSpacing   = 120 * time.Millisecond
	stateSendDeadline     = 5 * time.Second
	clientSendBuffer      = 256
	writeDeadline         = 10 * time.Second
	maxInboundFrameBytes  = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 16384,
	// The engine binds loopback and serves a local desktop UI; origin
	// enforcement belongs to the launcher that exposes it, if any.
	CheckOrigin: func(*http.Request) bool { return true },
}

// inboundFrame is one client request.
type inboundFrame struct {
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// outboundFrame is one server event or ack.
type outboundFrame struct {
	Event         string `json:"event"`
	Payload       any    `json:"payload,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	OK            *bool  `json:"ok,omitempty"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
	Data          any    `json:"data,omitempty"`
}

// client is one control-channel connection: a reader goroutine decoding
// requests, a writer goroutine draining the send queue, and
// consecutive-drop health tracking for droppable events.
type client struct {
	gw   *Gateway
	conn *websocket.Conn

	send chan outboundFrame
	done chan struct{}
	once sync.Once

	consecutiveDrops int
	lastTransport    time.Time

	inflightMu sync.Mutex
	inflight   map[string]bool
}

func (g *Gateway) handleControl(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	cl := &client{
		gw:       g,
		conn:     conn,
		send:     make(chan outboundFrame, clientSendBuffer),
		done:     make(chan struct{}),
		inflight: make(map[string]bool),
	}
	if g.m != nil {
		g.m.Clients.Inc()
	}
	g.logger.Info("control client connected", "remote", conn.RemoteAddr().String())

	events, unsubscribe := g.session.Subscribe(clientSendBuffer)

	go cl.writeLoop()
	go cl.fanoutLoop(events)

	// Initial handshake: ready marker plus a full snapshot (never dropped).
	cl.enqueueState(outboundFrame{
		Event:   session.EventReady,
		Payload: map[string]any{"enginePort": g.listen},
	})
	cl.enqueueState(outboundFrame{
		Event:   session.EventState,
		Payload: g.session.Snapshot(),
	})

	cl.readLoop()

	cl.close()
	unsubscribe()
	if g.m != nil {
		g.m.Clients.Dec()
	}
	g.logger.Info("control client disconnected", "remote", conn.RemoteAddr().String())
	return nil
}

func (cl *client) close() {
	cl.once.Do(func() {
		close(cl.done)
		_ = cl.conn.Close()
	})
}

// readLoop decodes requests and posts them to the session queue. Each
// request's reply is sent as an ack frame with the same correlation id.
func (cl *client) readLoop() {
	cl.conn.SetReadLimit(maxInboundFrameBytes)
	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			cl.ack(outboundFrame{
				Event: "ack", OK: boolPtr(false),
				Error: "invalid_request", Message: "malformed frame",
			})
			continue
		}
		if frame.Event == "" {
			cl.ack(outboundFrame{
				Event: "ack", OK: boolPtr(false),
				Error: "invalid_request", Message: "frame has no event name",
				CorrelationID: frame.CorrelationID,
			})
			continue
		}

		// At most one in-flight request per correlation id.
		if frame.CorrelationID != "" {
			cl.inflightMu.Lock()
			if cl.inflight[frame.CorrelationID] {
				cl.inflightMu.Unlock()
				cl.ack(outboundFrame{
					Event: "ack", OK: boolPtr(false),
					Error: "conflict", Message: "correlation id already in flight",
					CorrelationID: frame.CorrelationID,
				})
				continue
			}
			cl.inflight[frame.CorrelationID] = true
			cl.inflightMu.Unlock()
		}

		go cl.dispatch(frame)
	}
}

// dispatch runs one request to completion. Client disconnect cancels only
// the reply delivery; the mutation still runs.
func (cl *client) dispatch(frame inboundFrame) {
	reply := cl.gw.session.Submit(context.Background(), frame.Event, frame.Payload)

	if frame.CorrelationID != "" {
		cl.inflightMu.Lock()
		delete(cl.inflight, frame.CorrelationID)
		cl.inflightMu.Unlock()
	}

	ack := outboundFrame{
		Event:         "ack",
		CorrelationID: frame.CorrelationID,
		OK:            boolPtr(reply.OK),
		Error:         reply.Error,
		Message:       reply.Message,
	}
	if len(reply.Data) > 0 {
		ack.Data = reply.Data
	}
	cl.ack(ack)
}

// ack enqueues a reply; acknowledgment is mandatory, so it uses the
// blocking state path.
func (cl *client) ack(frame outboundFrame) {
	cl.enqueueState(frame)
}

// fanoutLoop translates session broadcasts into outbound frames, each
// event class with its own backpressure policy.
func (cl *client) fanoutLoop(events <-chan session.Event) {
	for {
		select {
		case <-cl.done:
			return
		case ev, ok := <-events:
			if !ok {
				cl.close()
				return
			}
			switch ev.Name {
			case session.EventState:
				cl.enqueueState(outboundFrame{Event: ev.Name, Payload: ev.Payload})
			case session.EventTransport:
				// Throttled to >=120ms spacing while playing.
				if time.Since(cl.lastTransport) < transportMinSpacing {
					continue
				}
				cl.lastTransport = time.Now()
				cl.enqueueDroppable(outboundFrame{Event: ev.Name, Payload: ev.Payload})
			default:
				cl.enqueueDroppable(outboundFrame{Event: ev.Name, Payload: ev.Payload})
			}
		}
	}
}

// enqueueDroppable: a saturated outbound queue drops the event, and
// three consecutive drops disconnect the client.
func (cl *client) enqueueDroppable(frame outboundFrame) {
	select {
	case cl.send <- frame:
		cl.consecutiveDrops = 0
		if cl.gw.m != nil {
			cl.gw.m.BroadcastsSent.WithLabelValues(frame.Event).Inc()
		}
	default:
		cl.consecutiveDrops++
		if cl.gw.m != nil {
			cl.gw.m.BroadcastsDropped.WithLabelValues(frame.Event).Inc()
		}
		if cl.consecutiveDrops >= maxConsecutiveDrops {
			cl.gw.logger.Warn("client dropped too many events, disconnecting",
				"remote", cl.conn.RemoteAddr().String())
			cl.close()
		}
	}
}

// enqueueState blocks briefly rather than dropping: snapshots and acks are
// never dropped. A client that cannot absorb one within the
// deadline is disconnected.
func (cl *client) enqueueState(frame outboundFrame) {
	select {
	case cl.send <- frame:
		if cl.gw.m != nil {
			cl.gw.m.BroadcastsSent.WithLabelValues(frame.Event).Inc()
		}
	case <-time.After(stateSendDeadline):
		cl.gw.logger.Warn("client stalled on state send, disconnecting",
			"remote", cl.conn.RemoteAddr().String())
		cl.close()
	case <-cl.done:
	}
}

func (cl *client) writeLoop() {
	for {
		select {
		case <-cl.done:
			return
		case frame := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := cl.conn.WriteJSON(frame); err != nil {
				cl.close()
				return
			}
		}
	}
}

func boolPtr(b bool) *bool { return &b }
