package rac

import (
	"sync"
)

// BufferPool hands out pre-sized float32 block buffers for graph builds
// and the device's deinterleave scratch. The audio callback itself never
// touches the pool: its buffers are leased once at device start. A single
// tier suffices since every buffer here is exactly one block.
type BufferPool struct {
	frames   int
	channels int
	pool     sync.Pool

	mu       sync.Mutex
	gets     uint64
	puts     uint64
	misses   uint64
}

// NewBufferPool sizes the pool for blocks of frames x channels samples.
func NewBufferPool(frames, channels int) *BufferPool {
	if frames <= 0 {
		frames = 512
	}
	if channels <= 0 {
		channels = 2
	}
	p := &BufferPool{frames: frames, channels: channels}
	p.pool.New = func() any {
		p.mu.Lock()
		p.misses++
		p.mu.Unlock()
		buf := make([][]float32, channels)
		for i := range buf {
			buf[i] = make([]float32, frames)
		}
		return buf
	}
	return p
}

// Get returns a zeroed block buffer.
func (p *BufferPool) Get() [][]float32 {
	buf := p.pool.Get().([][]float32)
	for i := range buf {
		clear(buf[i])
	}
	p.mu.Lock()
	p.gets++
	p.mu.Unlock()
	return buf
}

// Put returns a buffer obtained from Get.
func (p *BufferPool) Put(buf [][]float32) {
	if len(buf) != p.channels || len(buf[0]) != p.frames {
		return // wrong shape, let it be collected
	}
	p.mu.Lock()
	p.puts++
	p.mu.Unlock()
	p.pool.Put(buf)
}

// Stats reports pool traffic for the health monitor.
func (p *BufferPool) Stats() (gets, puts, misses uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gets, p.puts, p.misses
}
