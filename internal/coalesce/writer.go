// Package coalesce implements a per-connection batching writer: messages
// accumulate until a count, byte, or delay limit is hit, then flush as a
// single framed batch, trading a little latency for fewer syscalls under
// load.
package coalesce

import (
	"sync"
	"time"

	"github.com/maxiokv/dkvd/internal/wire"
)

// Limits bounds how long messages accumulate before a flush.
type Limits struct {
	MaxBatchCount int
	MaxBatchBytes int
	MaxDelay      time.Duration
}

// Preset names the common Limits configurations.
type Preset string

const (
	PresetConservative  Preset = "conservative"
	PresetBalanced      Preset = "balanced"
	PresetHighThroughput Preset = "high_throughput"
	PresetAggressive    Preset = "aggressive"
)

// LimitsForPreset returns the named preset's Limits.
func LimitsForPreset(p Preset) Limits {
	switch p {
	case PresetConservative:
		return Limits{MaxBatchCount: 4, MaxBatchBytes: 16 << 10, MaxDelay: 2 * time.Millisecond}
	case PresetHighThroughput:
		return Limits{MaxBatchCount: 256, MaxBatchBytes: 1 << 20, MaxDelay: 20 * time.Millisecond}
	case PresetAggressive:
		return Limits{MaxBatchCount: 1024, MaxBatchBytes: 4 << 20, MaxDelay: 50 * time.Millisecond}
	case PresetBalanced:
		fallthrough
	default:
		return Limits{MaxBatchCount: 32, MaxBatchBytes: 64 << 10, MaxDelay: 5 * time.Millisecond}
	}
}

// FlushFunc sends a completed batch of frames to the transport.
type FlushFunc func(frames []wire.Frame) error

// Writer batches frames for one connection and flushes them on whichever
// limit is hit first, or on an explicit immediate write.
type Writer struct {
	limits Limits
	flush  FlushFunc

	mu        sync.Mutex
	pending   []wire.Frame
	pendingBytes int
	timer     *time.Timer
	closed    bool
}

// New constructs a Writer that calls flush whenever a batch is ready.
func New(limits Limits, flush FlushFunc) *Writer {
	return &Writer{limits: limits, flush: flush}
}

// Write appends m to the pending batch. If flushImmediately is true, or a
// limit is already exceeded, the batch (including m) is flushed synchronously.
func (w *Writer) Write(f wire.Frame, flushImmediately bool) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.pending = append(w.pending, f)
	w.pendingBytes += len(f.Payload) + 5 // length prefix + type byte

	shouldFlush := flushImmediately ||
		len(w.pending) >= w.limits.MaxBatchCount ||
		w.pendingBytes >= w.limits.MaxBatchBytes

	if shouldFlush {
		batch := w.drainLocked()
		w.mu.Unlock()
		return w.flush(batch)
	}

	if w.timer == nil {
		w.timer = time.AfterFunc(w.limits.MaxDelay, w.flushOnTimer)
	}
	w.mu.Unlock()
	return nil
}

func (w *Writer) flushOnTimer() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.timer = nil
		w.mu.Unlock()
		return
	}
	batch := w.drainLocked()
	w.mu.Unlock()
	w.flush(batch)
}

// drainLocked must be called with w.mu held; it returns and clears the
// pending batch, stopping any outstanding timer.
func (w *Writer) drainLocked() []wire.Frame {
	batch := w.pending
	w.pending = nil
	w.pendingBytes = 0
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return batch
}

// Flush forces an immediate flush of any pending frames.
func (w *Writer) Flush() error {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.drainLocked()
	w.mu.Unlock()
	return w.flush(batch)
}

// Close flushes any remaining pending frames and marks the writer closed.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	batch := w.drainLocked()
	w.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	return w.flush(batch)
}

// Pending returns the number of frames currently buffered.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
