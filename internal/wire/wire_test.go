package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/thestuu/engine/internal/ph"
	"github.com/thestuu/engine/internal/project"
	"github.com/thestuu/engine/internal/rac"
	"github.com/thestuu/engine/internal/session"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	dir := t.TempDir()
	p := project.Default("Wire Test", 120)
	engine := rac.NewEngine(rac.Config{SampleRate: 48000, BlockFrames: 512}, nil,
		p.BPM, p.TimeSignature)
	host := ph.NewHost(48000)
	s := session.New(session.Config{
		Engine:      engine,
		Host:        host,
		ProjectPath: filepath.Join(dir, "wire.stu"),
		MediaDir:    filepath.Join(dir, "media"),
	}, p)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)

	t.Cleanup(func() {
		cancel()
		host.Close()
		engine.Close()
	})
	return New(Config{Session: s, Listen: "127.0.0.1:0", MaxUploadMB: 4})
}

func doUpload(t *testing.T, g *Gateway, filename string, body []byte) (*httptest.ResponseRecorder, uploadResponse) {
	t.Helper()
	e := echo.New()
	url := "/media/upload"
	if filename != "" {
		url += "?filename=" + filename
	}
	req := httptest.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	require.NoError(t, g.handleUpload(c))

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func testWAVBytes(t *testing.T) []byte {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{SampleRate: 8000, NumChannels: 1},
		SourceBitDepth: 16,
		Data:           make([]int, 8000),
	}
	for i := range buf.Data {
		buf.Data[i] = int(20000 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestUploadWAVReturnsAnalysis(t *testing.T) {
	g := newTestGateway(t)
	rec, resp := doUpload(t, g, "tone.wav", testWAVBytes(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.OK, "upload failed: %s %s", resp.Error, resp.Message)
	assert.NotEmpty(t, resp.Path)
	assert.Positive(t, resp.Size)
	assert.InDelta(t, 1.0, resp.DurationSec, 0.02)
	assert.NotEmpty(t, resp.WaveformPeaks)
	for _, p := range resp.WaveformPeaks {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
	assert.FileExists(t, resp.Path)
}

func TestUploadUnsupportedFormat(t *testing.T) {
	g := newTestGateway(t)
	rec, resp := doUpload(t, g, "notes.txt", []byte("hello"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.OK)
	assert.Equal(t, "unsupported_format", resp.Error)
}

func TestUploadMissingFilename(t *testing.T) {
	g := newTestGateway(t)
	rec, resp := doUpload(t, g, "", []byte("x"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", resp.Error)
}

func TestUploadMIDIAccepted(t *testing.T) {
	g := newTestGateway(t)
	_, resp := doUpload(t, g, "riff.mid", []byte("MThd fake midi"))
	require.True(t, resp.OK)
	assert.Zero(t, resp.DurationSec, "MIDI uploads carry no audio analysis")
}

func TestInboundFrameDecoding(t *testing.T) {
	raw := []byte(`{"event":"transport.set_bpm","payload":{"bpm":140},"correlationId":"c-1"}`)
	var frame inboundFrame
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "transport.set_bpm", frame.Event)
	assert.Equal(t, "c-1", frame.CorrelationID)

	var payload struct {
		BPM int `json:"bpm"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, 140, payload.BPM)
}

func TestOutboundAckShape(t *testing.T) {
	ok := true
	frame := outboundFrame{
		Event: "ack", CorrelationID: "c-7", OK: &ok,
		Data: map[string]any{"track_id": 3},
	}
	raw, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "c-7", decoded["correlationId"])
	assert.Equal(t, true, decoded["ok"])
	assert.NotContains(t, decoded, "error", "empty error is omitted")
}

// TestControlChannelGoroutineCleanup verifies that a full client lifecycle
// — connect, handshake, one request/ack round-trip, disconnect — releases
// the connection's reader, writer, fanout, and dispatch goroutines. The
// per-connection goroutine pattern regresses silently without this; goleak
// catches anything still running after teardown.
func TestControlChannelGoroutineCleanup(t *testing.T) {
	// Baseline before the fixture spins anything up, so only goroutines
	// created (and not reaped) by this test are flagged.
	opt := goleak.IgnoreCurrent()

	dir := t.TempDir()
	p := project.Default("Leak Check", 120)
	engine := rac.NewEngine(rac.Config{SampleRate: 48000, BlockFrames: 512}, nil,
		p.BPM, p.TimeSignature)
	host := ph.NewHost(48000)
	s := session.New(session.Config{
		Engine:      engine,
		Host:        host,
		ProjectPath: filepath.Join(dir, "leak.stu"),
		MediaDir:    filepath.Join(dir, "media"),
	}, p)
	ctx, cancel := context.WithCancel(context.Background())
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		_ = s.Run(ctx)
	}()
	time.Sleep(10 * time.Millisecond)

	g := New(Config{Session: s, Listen: "127.0.0.1:0", MaxUploadMB: 4})
	srv := httptest.NewServer(g.Handler())

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	// Handshake: ready marker then the full snapshot.
	var ready map[string]any
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, "engine:ready", ready["event"])
	var state map[string]any
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, "engine:state", state["event"])

	// One request through the dispatch goroutine path.
	require.NoError(t, conn.WriteJSON(map[string]any{
		"event":         "transport.set_bpm",
		"payload":       map[string]any{"bpm": 140},
		"correlationId": "leak-1",
	}))
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no ack before deadline")
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		var frame map[string]any
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["correlationId"] == "leak-1" {
			assert.Equal(t, true, frame["ok"])
			break
		}
	}

	// Disconnect and tear the whole stack down before checking for leaks.
	require.NoError(t, conn.Close())
	srv.Close()
	cancel()
	<-sessionDone
	host.Close()
	engine.Close()

	goleak.VerifyNone(t, opt)
}
