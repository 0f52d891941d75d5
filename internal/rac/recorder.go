package rac

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/smallnest/ringbuffer"

	"github.com/thestuu/engine/internal/logging"
)

// recorder captures the device input during Recording. The audio thread
// writes raw float32 frames into a spill ring; a dedicated writer
// goroutine drains the ring to a 16-bit WAV spill file, keeping file I/O
// off the audio thread.
type recorder struct {
	path       string
	startBars  float64
	sampleRate int
	channels   int

	ring    *ringbuffer.RingBuffer
	file    *os.File
	enc     *wav.Encoder
	stop    chan struct{}
	drained chan struct{}
}

// spillRingSeconds sizes the spill ring; at 48k stereo f32 this is ~1.5MB
// in all (384KB per buffered second), giving the writer ample slack for
// disk stalls.
const spillRingSeconds = 4

func newRecorder(path string, startBars float64, sampleRate, channels int) (*recorder, error) {
	if channels < 1 {
		channels = 1
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rac: create spill file: %w", err)
	}
	r := &recorder{
		path:       path,
		startBars:  startBars,
		sampleRate: sampleRate,
		channels:   channels,
		ring:       ringbuffer.New(sampleRate * channels * 4 * spillRingSeconds),
		file:       f,
		enc:        wav.NewEncoder(f, sampleRate, 16, channels, 1),
		stop:       make(chan struct{}),
		drained:    make(chan struct{}),
	}
	go r.drainLoop()
	return r, nil
}

// capture is called from the audio thread with interleaved f32 frames
// already encoded as little-endian bytes. Allocation-free; a full ring
// drops the block (an audible gap in the take, surfaced by the health
// monitor's spill-drop counter).
func (r *recorder) capture(raw []byte) bool {
	if r.ring.Free() < len(raw) {
		return false
	}
	_, err := r.ring.TryWrite(raw)
	return err == nil
}

func (r *recorder) drainLoop() {
	defer close(r.drained)
	logger := logging.ForService("rac")
	chunk := make([]byte, 32*1024)
	samples := make([]int, len(chunk)/4)
	intBuf := &audio.IntBuffer{
		Format: &audio.Format{SampleRate: r.sampleRate, NumChannels: r.channels},
	}

	flush := func() bool {
		n, err := r.ring.TryRead(chunk)
		if err != nil || n == 0 {
			return false
		}
		n -= n % 4
		count := n / 4
		for i := 0; i < count; i++ {
			f := math.Float32frombits(binary.LittleEndian.Uint32(chunk[i*4:]))
			if f > 1 {
				f = 1
			} else if f < -1 {
				f = -1
			}
			samples[i] = int(f * 32767)
		}
		intBuf.Data = samples[:count]
		if err := r.enc.Write(intBuf); err != nil {
			logger.Error("spill write failed", "path", r.path, "error", err)
		}
		return true
	}

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			for flush() {
			}
			return
		case <-ticker.C:
			for flush() {
			}
		}
	}
}

// finish stops the drain loop, flushes remaining frames, and finalizes the
// WAV header. Called off the audio thread, after the audio callback has
// observed the record-stop command (so no further capture calls race the
// close).
func (r *recorder) finish() error {
	close(r.stop)
	<-r.drained
	if err := r.enc.Close(); err != nil {
		r.file.Close()
		return fmt.Errorf("rac: finalize spill: %w", err)
	}
	return r.file.Close()
}
