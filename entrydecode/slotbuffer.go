package entrydecode

import (
	"shredlead/clock"
)

// SlotBuffer is the ordered, contiguous-prefix-aware byte assembly for one
// slot's data shreds (spec.md §3 SlotBuffer). It exposes only the
// contiguous run starting at index 0: the decoder never sees a hole.
type SlotBuffer struct {
	Slot uint64

	pending map[uint32]shredEntry // indices not yet joined to the contiguous prefix

	contiguous  []byte           // concatenated payloads for shreds [0, contigCount)
	boundaries  []int            // boundaries[i] = byte offset where shred i's payload starts
	cumMinRecv  []clock.MonoTime // cumMinRecv[i] = min(recvTime) over shreds [0, i]
	contigCount uint32

	DataCompleteIdx *uint32
	LastInSlot      bool
}

type shredEntry struct {
	payload  []byte
	recvTime clock.MonoTime
}

// NewSlotBuffer constructs an empty buffer for the given slot.
func NewSlotBuffer(slot uint64) *SlotBuffer {
	return &SlotBuffer{
		Slot:    slot,
		pending: make(map[uint32]shredEntry),
	}
}

// Add inserts one data shred's payload (including a recovered shred's
// reconstructed payload) at its index. Per invariant I1 a given index is
// placed at most once.
func (b *SlotBuffer) Add(index uint32, payload []byte, recvTime clock.MonoTime, dataComplete, lastInSlot bool) {
	if index < b.contigCount {
		return // already part of the contiguous prefix; duplicate admission
	}
	if _, exists := b.pending[index]; exists {
		return
	}
	b.pending[index] = shredEntry{payload: payload, recvTime: recvTime}

	if dataComplete {
		idx := index
		b.DataCompleteIdx = &idx
	}
	if lastInSlot {
		b.LastInSlot = true
	}

	for {
		e, ok := b.pending[b.contigCount]
		if !ok {
			break
		}
		delete(b.pending, b.contigCount)
		b.boundaries = append(b.boundaries, len(b.contiguous))
		b.contiguous = append(b.contiguous, e.payload...)

		min := e.recvTime
		if n := len(b.cumMinRecv); n > 0 && b.cumMinRecv[n-1] < min {
			min = b.cumMinRecv[n-1]
		}
		b.cumMinRecv = append(b.cumMinRecv, min)
		b.contigCount++
	}
}

// ContiguousBytes returns the current contiguous byte run available for
// decoding.
func (b *SlotBuffer) ContiguousBytes() []byte {
	return b.contiguous
}

// ShredsSeen is the number of distinct data-shred indices admitted so far
// (contiguous or not), used for coverage reporting.
func (b *SlotBuffer) ShredsSeen() uint64 {
	return uint64(b.contigCount) + uint64(len(b.pending))
}

// Coverage computes shreds_seen / (data_complete_idx+1), or NaN-equivalent
// (ok=false) when the terminal index is not yet known (invariant I4).
func (b *SlotBuffer) Coverage() (pct float64, ok bool) {
	if b.DataCompleteIdx == nil {
		return 0, false
	}
	expected := float64(*b.DataCompleteIdx + 1)
	if expected <= 0 {
		return 0, false
	}
	return float64(b.ShredsSeen()) / expected, true
}

// recvTimeForOffset returns the earliest (minimum) recv_time among the
// shreds that contributed bytes up to and including byteOffset, per
// spec.md §4.4's "recv_time of the earliest shred that contributed to the
// contiguous prefix ending at or before the transaction".
func (b *SlotBuffer) recvTimeForOffset(byteOffset int) clock.MonoTime {
	// binary search over boundaries for the last shred whose start <= byteOffset
	lo, hi := 0, len(b.boundaries)-1
	shredIdx := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if b.boundaries[mid] <= byteOffset {
			shredIdx = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if shredIdx < len(b.cumMinRecv) {
		return b.cumMinRecv[shredIdx]
	}
	return 0
}
