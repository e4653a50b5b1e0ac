// Package entrydecode assembles a slot's contiguous data-shred payload
// prefix into decoded transactions (spec.md §4.4 EntryDecoder).
package entrydecode

import (
	"shredlead/clock"
	"shredlead/types"
)

// DefaultActiveSlotWindow mirrors the FEC assembler's default (32 slots,
// about 12.8s), since both structures track the same notion of "recent".
const DefaultActiveSlotWindow = 32

type slotState struct {
	buf        *SlotBuffer
	cursor     int
	anyDecoded bool
}

// Decoder holds one SlotBuffer + decode cursor per in-flight slot for a
// single shred-tier source.
type Decoder struct {
	SourceId     types.SourceId
	activeWindow uint64
	maxSlotSeen  uint64
	slots        map[uint64]*slotState
}

// NewDecoder constructs a Decoder for one shred-tier source.
func NewDecoder(sourceId types.SourceId, activeWindow uint64) *Decoder {
	if activeWindow == 0 {
		activeWindow = DefaultActiveSlotWindow
	}
	return &Decoder{
		SourceId:     sourceId,
		activeWindow: activeWindow,
		slots:        make(map[uint64]*slotState),
	}
}

// Admit adds one (possibly recovered) data shred's payload to its slot and
// attempts to decode any newly-available transactions. It returns the
// DecodedTx events produced by this admission, unfiltered by any program-id
// allowlist — filtering is the glue layer's responsibility (spec.md §4.4:
// baseline sources are always exempt, so the decoder itself stays
// allowlist-agnostic).
func (d *Decoder) Admit(slot uint64, index uint32, payload []byte, recvTime clock.MonoTime, dataComplete, lastInSlot bool) []types.DecodedTx {
	if slot > d.maxSlotSeen {
		d.maxSlotSeen = slot
	}

	st, ok := d.slots[slot]
	if !ok {
		st = &slotState{buf: NewSlotBuffer(slot)}
		d.slots[slot] = st
	}
	st.buf.Add(index, payload, recvTime, dataComplete, lastInSlot)

	return d.tryDecode(st, slot)
}

func (d *Decoder) tryDecode(st *slotState, slot uint64) []types.DecodedTx {
	contiguous := st.buf.ContiguousBytes()
	if st.cursor >= len(contiguous) {
		return nil
	}

	entries, consumed, err := decodeEntries(contiguous[st.cursor:])
	if err != nil || consumed == 0 {
		return nil
	}

	endOffset := st.cursor + consumed
	recvTime := st.buf.recvTimeForOffset(endOffset - 1)
	st.cursor = endOffset

	var out []types.DecodedTx
	for _, e := range entries {
		for _, tx := range e.txs {
			st.anyDecoded = true
			out = append(out, types.DecodedTx{
				SourceId: d.SourceId,
				Slot:     slot,
				Sig:      tx.sig,
				RecvTime: recvTime,
				Programs: tx.programs,
			})
		}
	}
	return out
}

// SlotOutcome reports the buffer-driven classification for a slot: complete
// when the contiguous prefix reaches data_complete_idx, partial when it has
// not but at least one transaction has been decoded, open otherwise (also
// whenever data_complete_idx is still unknown).
func (d *Decoder) SlotOutcome(slot uint64) (types.SlotOutcome, bool) {
	st, ok := d.slots[slot]
	if !ok {
		return types.SlotOpen, false
	}
	if st.buf.DataCompleteIdx == nil {
		return types.SlotOpen, true
	}
	if uint32(len(st.buf.boundaries)) > *st.buf.DataCompleteIdx {
		return types.SlotComplete, true
	}
	if st.anyDecoded {
		return types.SlotPartial, true
	}
	return types.SlotOpen, true
}

// EvictedSlot is one finalized (aged-out) slot returned by Evict.
type EvictedSlot struct {
	Slot        uint64
	Outcome     types.SlotOutcome
	ShredsSeen  uint64
	CoveragePct *float64 // nil when data_complete_idx was never observed (I4)
}

// Evict drops slot state older than the active window and reports a
// terminal outcome for each, per spec.md §3's SlotBuffer lifecycle and
// §4.4/§7's "dropped without progress" rule.
func (d *Decoder) Evict() []EvictedSlot {
	if d.maxSlotSeen < d.activeWindow {
		return nil
	}
	threshold := d.maxSlotSeen - d.activeWindow

	var out []EvictedSlot
	for slot, st := range d.slots {
		if slot >= threshold {
			continue
		}
		outcome, _ := d.SlotOutcome(slot)
		if outcome == types.SlotOpen && !st.anyDecoded {
			outcome = types.SlotDropped
		}
		ev := EvictedSlot{Slot: slot, Outcome: outcome, ShredsSeen: st.buf.ShredsSeen()}
		if pct, ok := st.buf.Coverage(); ok {
			ev.CoveragePct = &pct
		}
		out = append(out, ev)
		delete(d.slots, slot)
	}
	return out
}
