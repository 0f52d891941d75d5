package rac

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime/debug"

	"github.com/smallnest/ringbuffer"
)

// Command opcodes carried over the SPSC command queue into the audio
// thread. Each command is one fixed-size binary record so the audio-thread
// drain never allocates or parses variable-length data.
type CommandOp uint8

const (
	CmdPlay CommandOp = iota + 1
	CmdPause
	CmdStop
	CmdSeek      // F1 = position in beats
	CmdSetBPM    // F1 = bpm
	CmdSetVolume // I1 = track id, F1 = volume
	CmdSetPan    // I1 = track id, F1 = pan
	CmdSetMute   // I1 = track id, F1 != 0 mutes
	CmdSetSolo   // I1 = track id, F1 != 0 solos
	CmdSetParam  // I1 = slot id, I2 = param index, F1 = normalized target
	CmdSetBypass // I1 = slot id, F1 != 0 bypasses
	CmdSkipSlot  // I1 = slot id; phase one of the two-phase node teardown
	CmdRecordStart
	CmdRecordStop
	CmdMetronome // F1 != 0 enables
)

// Command is one record on the queue.
type Command struct {
	Op CommandOp
	I1 int32
	I2 int32
	F1 float64
	F2 float64
}

const commandSize = 1 + 3 + 4 + 4 + 8 + 8 // op + pad + i1 + i2 + f1 + f2 = 28

func encodeCommand(dst []byte, c Command) {
	dst[0] = byte(c.Op)
	dst[1], dst[2], dst[3] = 0, 0, 0
	binary.LittleEndian.PutUint32(dst[4:], uint32(c.I1))
	binary.LittleEndian.PutUint32(dst[8:], uint32(c.I2))
	binary.LittleEndian.PutUint64(dst[12:], math.Float64bits(c.F1))
	binary.LittleEndian.PutUint64(dst[20:], math.Float64bits(c.F2))
}

func decodeCommand(src []byte) Command {
	return Command{
		Op: CommandOp(src[0]),
		I1: int32(binary.LittleEndian.Uint32(src[4:])),
		I2: int32(binary.LittleEndian.Uint32(src[8:])),
		F1: math.Float64frombits(binary.LittleEndian.Uint64(src[12:])),
		F2: math.Float64frombits(binary.LittleEndian.Uint64(src[20:])),
	}
}

// CommandQueue is the single-producer (session worker) / single-consumer
// (audio thread) command path. Built on smallnest/ringbuffer, used
// strictly in non-blocking mode on both sides.
type CommandQueue struct {
	rb      *ringbuffer.RingBuffer
	scratch [commandSize]byte // consumer-side scratch, audio thread only
}

// NewCommandQueue sizes the queue for capacity commands.
func NewCommandQueue(capacity int) *CommandQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &CommandQueue{rb: ringbuffer.New(capacity * commandSize)}
}

// Push enqueues a command from the producer side. A full queue is a
// programming error and aborts the process with diagnostics: the producer
// is the session worker, which is rate-limited by its own FIFO, so
// overflow means the audio thread stopped draining.
func (q *CommandQueue) Push(c Command) {
	var buf [commandSize]byte
	encodeCommand(buf[:], c)
	if q.rb.Free() < commandSize {
		panic(fmt.Sprintf("rac: command queue full (op=%d, occupied=%d bytes)\n%s",
			c.Op, q.rb.Length(), debug.Stack()))
	}
	if _, err := q.rb.TryWrite(buf[:]); err != nil {
		panic(fmt.Sprintf("rac: command queue write failed: %v\n%s", err, debug.Stack()))
	}
}

// Pop dequeues one command on the consumer side, returning false when the
// queue is empty. Allocation-free.
func (q *CommandQueue) Pop() (Command, bool) {
	if q.rb.Length() < commandSize {
		return Command{}, false
	}
	if _, err := q.rb.TryRead(q.scratch[:]); err != nil {
		return Command{}, false
	}
	return decodeCommand(q.scratch[:]), true
}

// OccupiedBytes reports the queue load for metrics.
func (q *CommandQueue) OccupiedBytes() int { return q.rb.Length() }

// Notification opcodes flowing out of the audio thread.
type NotificationOp uint8

const (
	NotifyMeter NotificationOp = iota + 1 // I1 = track id, F1 = peak, F2 = rms
	NotifyTransport                       // I1 = bit 0 playing, bit 1 recording; F1 = beats, F2 = bpm
	NotifyRecordDone                      // I1 = track id, F1 = start bars, F2 = duration seconds
	NotifyUnderrun                        // I1 = consecutive count
)

// Notification is one record on the outbound queue.
type Notification struct {
	Op NotificationOp
	I1 int32
	I2 int32
	F1 float64
	F2 float64
}

// NotificationQueue is the audio-thread-to-session SPSC path. Meters and
// transport ticks are droppable: when the queue has no room for a record
// the producer silently skips them (a later publish replaces them anyway).
// NotifyRecordDone is pushed as non-droppable, which means a full queue
// still loses it but counts the loss in DroppedCritical.
type NotificationQueue struct {
	rb      *ringbuffer.RingBuffer
	scratch [commandSize]byte // consumer-side scratch
	dropped uint64            // producer side only
}

// NewNotificationQueue sizes the queue for capacity notifications.
func NewNotificationQueue(capacity int) *NotificationQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &NotificationQueue{rb: ringbuffer.New(capacity * commandSize)}
}

// Push enqueues from the audio thread. Droppable notifications vanish
// when the queue lacks space. Spinning for room is not an option on the
// audio thread, so non-droppable ones are also dropped, but counted — the
// consumer is expected to size the queue so this never happens for record
// events.
func (q *NotificationQueue) Push(n Notification, droppable bool) bool {
	if q.rb.Free() < commandSize {
		if !droppable {
			q.dropped++
		}
		return false
	}
	var buf [commandSize]byte
	encodeCommand(buf[:], Command{Op: CommandOp(n.Op), I1: n.I1, I2: n.I2, F1: n.F1, F2: n.F2})
	_, err := q.rb.TryWrite(buf[:])
	return err == nil
}

// Pop dequeues one notification on the consumer (session) side.
func (q *NotificationQueue) Pop() (Notification, bool) {
	if q.rb.Length() < commandSize {
		return Notification{}, false
	}
	if _, err := q.rb.TryRead(q.scratch[:]); err != nil {
		return Notification{}, false
	}
	c := decodeCommand(q.scratch[:])
	return Notification{Op: NotificationOp(c.Op), I1: c.I1, I2: c.I2, F1: c.F1, F2: c.F2}, true
}

// DroppedCritical reports how many non-droppable notifications were lost.
func (q *NotificationQueue) DroppedCritical() uint64 { return q.dropped }
