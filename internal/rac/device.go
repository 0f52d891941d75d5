package rac

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/gen2brain/malgo"

	"github.com/thestuu/engine/internal/errors"
)

// device wraps the malgo duplex device: capture feeds the recorder,
// playback drains the mix bus.
type device struct {
	ctx    *malgo.AllocatedContext
	dev    *malgo.Device
	engine *Engine

	// Deinterleave scratch, one block each, leased from the engine pool.
	inBuf, outBuf [][]float32
	inL, inR      []float32
	outL, outR    []float32
}

// StartDevice opens the configured duplex device and begins the callback.
// Engines used headless (tests, offline render) never call this; they
// drive renderBlock directly.
func (e *Engine) StartDevice() error {
	if e.deviceRunning.Load() {
		return nil
	}
	// Deinterleave scratch comes from the block pool; returned on stop.
	inBuf := e.pool.Get()
	outBuf := e.pool.Get()
	d := &device{
		engine: e,
		inBuf:  inBuf,
		outBuf: outBuf,
		inL:    inBuf[0],
		inR:    inBuf[min(1, len(inBuf)-1)],
		outL:   outBuf[0],
		outR:   outBuf[min(1, len(outBuf)-1)],
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component(errors.ComponentRAC).
			Category(errors.CategoryBackendUnavailable).
			Context("operation", "init_context").
			Build()
	}
	d.ctx = ctx

	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.SampleRate = uint32(e.cfg.SampleRate)
	cfg.PeriodSizeInFrames = uint32(e.cfg.BlockFrames)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 2
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = uint32(min(e.cfg.MaxChannels, 2))
	cfg.Alsa.NoMMap = 1

	if id, ok := d.findDevice(malgo.Playback, e.cfg.OutputDevice); ok {
		cfg.Playback.DeviceID = id.Pointer()
	}
	if id, ok := d.findDevice(malgo.Capture, e.cfg.InputDevice); ok {
		cfg.Capture.DeviceID = id.Pointer()
	}

	captureChans := int(cfg.Capture.Channels)
	callbacks := malgo.DeviceCallbacks{
		Data: func(output, input []byte, frameCount uint32) {
			d.onData(output, input, int(frameCount), captureChans)
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return errors.New(err).
			Component(errors.ComponentRAC).
			Category(errors.CategoryBackendUnavailable).
			Context("operation", "init_device").
			Context("output_device", e.cfg.OutputDevice).
			Build()
	}
	d.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return errors.New(err).
			Component(errors.ComponentRAC).
			Category(errors.CategoryBackendUnavailable).
			Context("operation", "start_device").
			Build()
	}

	e.device = d
	e.deviceRunning.Store(true)
	e.logger.Info("audio device started",
		"sample_rate", e.cfg.SampleRate, "block_frames", e.cfg.BlockFrames)
	return nil
}

// StopDevice stops and releases the device. Idempotent.
func (e *Engine) StopDevice() {
	d := e.device
	if d == nil {
		return
	}
	e.deviceRunning.Store(false)
	if d.dev != nil {
		d.dev.Uninit()
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
	}
	e.pool.Put(d.inBuf)
	e.pool.Put(d.outBuf)
	e.device = nil
	e.logger.Info("audio device stopped")
}

// findDevice matches a configured device name (substring,
// case-insensitive) against the enumerated devices.
func (d *device) findDevice(kind malgo.DeviceType, name string) (malgo.DeviceID, bool) {
	var zero malgo.DeviceID
	if name == "" {
		return zero, false
	}
	infos, err := d.ctx.Devices(kind)
	if err != nil {
		return zero, false
	}
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), strings.ToLower(name)) {
			return infos[i].ID, true
		}
	}
	return zero, false
}

// onData is the malgo data callback: deinterleave input, render, reinterleave
// output. Handles frame counts larger than one block by chunking.
func (d *device) onData(output, input []byte, frameCount, captureChans int) {
	e := d.engine
	block := e.cfg.BlockFrames
	for offset := 0; offset < frameCount; offset += block {
		frames := min(block, frameCount-offset)

		clear(d.inL[:frames])
		clear(d.inR[:frames])
		if input != nil {
			base := offset * captureChans * 4
			for i := 0; i < frames; i++ {
				p := base + i*captureChans*4
				if p+4 <= len(input) {
					d.inL[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[p:]))
				}
				if captureChans > 1 && p+8 <= len(input) {
					d.inR[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[p+4:]))
				} else {
					d.inR[i] = d.inL[i]
				}
			}
		}

		e.renderBlock(d.outL, d.outR, d.inL, d.inR, frames)

		if output != nil {
			base := offset * 2 * 4
			for i := 0; i < frames; i++ {
				p := base + i*8
				if p+8 <= len(output) {
					binary.LittleEndian.PutUint32(output[p:], math.Float32bits(d.outL[i]))
					binary.LittleEndian.PutUint32(output[p+4:], math.Float32bits(d.outR[i]))
				}
			}
		}
	}
}

// EnumerateOutputDevices lists playback device names for config validation
// and the serve command's startup log.
func EnumerateOutputDevices() ([]string, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("rac: init context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()
	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("rac: enumerate devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for i := range infos {
		names = append(names, infos[i].Name())
	}
	return names, nil
}
