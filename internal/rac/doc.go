// Package rac is the realtime audio core: the device callback, the
// playback graph (tracks -> plugin chains -> mix bus -> output), the
// sample-accurate transport clock, the metering and spectrum taps, and the
// recording capture path.
//
// Realtime rules: the render path never allocates, never takes a
// blocking lock, never touches files or logs. Everything crossing into
// or out of the audio thread goes through single-producer/single-consumer
// ring buffers (commands in, notifications out) or the atomically swapped
// graph description pointer. Transient buffers are pre-sized from
// (max_block x max_channels) at engine construction.
package rac
