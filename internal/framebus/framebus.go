// Package framebus implements the single-producer/many-consumer frame slots
// described as Frame Bus: a latest-wins register for JPEG, H.264-NAL, and
// fault-detect source payloads. Publish never blocks and never fails except
// on an oversized payload; snapshot never tears.
//
// Implementation is a seqlock: an even generation counter means the buffer is
// stable, odd means a writer is mid-copy. Readers retry when the generation
// changes across their copy, per the generation-counter double-buffer design
// noted for this component.
package framebus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Slot is one named frame register (jpeg, h264, or fd_source).
type Slot struct {
	maxSize int

	gen  atomic.Uint64
	mu   sync.Mutex // serializes writers only; readers never take it
	buf  []byte
	n    int
	seq  uint64
	tsMs int64
}

// NewSlot creates a slot that rejects payloads larger than maxSize.
func NewSlot(maxSize int) *Slot {
	return &Slot{
		maxSize: maxSize,
		buf:     make([]byte, maxSize),
	}
}

// NewJPEGSlot is the jpeg slot, capped at 512 KiB per the data model.
func NewJPEGSlot() *Slot { return NewSlot(512 * 1024) }

// NewH264Slot is the h264 slot, capped at 256 KiB per the data model.
func NewH264Slot() *Slot { return NewSlot(256 * 1024) }

// NewFDSourceSlot is the fd_source slot, capped at 512 KiB (same as jpeg,
// since it is a copy of the current JPEG frame).
func NewFDSourceSlot() *Slot { return NewSlot(512 * 1024) }

// ErrOversized is returned by Publish when payload exceeds the slot's cap.
// Per the failure semantics, the caller logs a one-line diagnostic and moves
// on; there is no backpressure.
type ErrOversized struct {
	Size, Max int
}

func (e *ErrOversized) Error() string {
	return "framebus: payload exceeds slot capacity"
}

// Publish atomically replaces the slot's payload with a copy of payload,
// assigns the next sequence number, and stamps ts. It never blocks readers.
func (s *Slot) Publish(payload []byte, ts time.Time) error {
	if len(payload) > s.maxSize {
		return &ErrOversized{Size: len(payload), Max: s.maxSize}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen.Add(1) // now odd: writer in progress
	copy(s.buf, payload)
	s.n = len(payload)
	s.seq++
	s.tsMs = ts.UnixMilli()
	s.gen.Add(1) // now even: stable again

	return nil
}

// Snapshot copies the current payload into out (which must have capacity
// out_cap ≥ slot's max size to always succeed) and returns the number of
// bytes written, the sequence number, and the timestamp. ok is false until
// the first publish.
func (s *Slot) Snapshot(out []byte) (n int, seq uint64, ts time.Time, ok bool) {
	for {
		g1 := s.gen.Load()
		if g1%2 == 1 {
			continue // writer mid-copy, retry
		}
		n = s.n
		seq = s.seq
		tsMs := s.tsMs
		if n > len(out) {
			n = len(out)
		}
		copy(out, s.buf[:n])
		g2 := s.gen.Load()
		if g1 == g2 {
			if seq == 0 {
				return 0, 0, time.Time{}, false
			}
			return n, seq, time.UnixMilli(tsMs), true
		}
		// generation moved mid-read: retry
	}
}

// MaxSize returns the slot's payload capacity.
func (s *Slot) MaxSize() int { return s.maxSize }

// Seq returns the current sequence number without copying the payload.
func (s *Slot) Seq() uint64 {
	return s.seq
}

// Bus groups the three named slots used by a single capture pipeline.
type Bus struct {
	JPEG     *Slot
	H264     *Slot
	FDSource *Slot
}

// New creates a Bus with the three slots at their documented size caps.
func New() *Bus {
	return &Bus{
		JPEG:     NewJPEGSlot(),
		H264:     NewH264Slot(),
		FDSource: NewFDSourceSlot(),
	}
}
