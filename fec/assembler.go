// Package fec implements FEC-set assembly and Reed-Solomon recovery of
// partial data-shred runs within a slot.
package fec

import (
	"log/slog"
	"sync"

	"github.com/klauspost/reedsolomon"

	"shredlead/types"
)

// DefaultActiveSlotWindow is the number of trailing slots kept live; sets
// belonging to older slots are evicted.
const DefaultActiveSlotWindow = 32

// fecSetKey identifies one FEC set.
type fecSetKey struct {
	slot        uint64
	fecSetIndex uint32
}

// fecSet is the per-(slot,fec_set_index) recovery unit. It is single-writer:
// owned exclusively by the decode thread that calls Assembler.Admit.
type fecSet struct {
	data      map[uint32][]byte // data shard position (0..NumData-1) -> payload
	coding    map[uint16][]byte // fec position (0..NumCoding-1) -> payload
	numData   uint16
	numCoding uint16
	haveCount bool
	completed bool
}

func newFecSet() *fecSet {
	return &fecSet{
		data:   make(map[uint32][]byte),
		coding: make(map[uint16][]byte),
	}
}

// Assembler maintains all active FEC sets and performs Reed-Solomon recovery
// when a set has enough shards present but is missing some data shreds.
type Assembler struct {
	mu sync.Mutex // guards against concurrent use only for tests; production callers are single-writer per spec §5.

	log *slog.Logger

	activeWindow uint64
	maxSlotSeen  uint64

	sets map[fecSetKey]*fecSet

	FecRecovered     uint64
	FecDropped       uint64
	NumCountConflict uint64
}

// NewAssembler constructs an Assembler with the given active-slot window
// (0 uses DefaultActiveSlotWindow).
func NewAssembler(activeWindow uint64, log *slog.Logger) *Assembler {
	if activeWindow == 0 {
		activeWindow = DefaultActiveSlotWindow
	}
	return &Assembler{
		activeWindow: activeWindow,
		log:          log,
		sets:         make(map[fecSetKey]*fecSet),
	}
}

// Admit inserts a parsed shred into its FEC set. It returns any data shreds
// that became newly available — either the shred itself (if Data) or
// recovered shreds produced by this admission — plus whether the set
// completed as a result.
func (a *Assembler) Admit(s types.Shred) (newData []types.Shred, completed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s.Slot > a.maxSlotSeen {
		a.maxSlotSeen = s.Slot
	}

	key := fecSetKey{slot: s.Slot, fecSetIndex: s.FecSetIndex}
	set, ok := a.sets[key]
	if !ok {
		set = newFecSet()
		a.sets[key] = set
	}
	if set.completed {
		return nil, true
	}

	switch s.Kind {
	case types.ShredKindData:
		pos := s.Index - s.FecSetIndex
		if _, exists := set.data[pos]; !exists {
			set.data[pos] = s.Payload
			newData = append(newData, s)
		}
	case types.ShredKindCoding:
		a.observeCounts(set, s.NumData, s.NumCoding)
		if _, exists := set.coding[s.FecPosition]; !exists {
			set.coding[s.FecPosition] = s.Payload
		}
	}

	if set.haveCount && uint16(len(set.data)) >= set.numData {
		set.completed = true
		return newData, true
	}

	if set.haveCount && uint16(len(set.data)+len(set.coding)) >= set.numData {
		recovered, err := a.recover(set, s.Slot, s.FecSetIndex)
		if err != nil {
			if a.log != nil {
				a.log.Debug("fec recovery failed", "slot", s.Slot, "fec_set_index", s.FecSetIndex, "err", err)
			}
			return newData, false
		}
		if recovered != nil {
			set.completed = true
			a.FecRecovered += uint64(len(recovered))
			newData = append(newData, recovered...)
			completed = true
		}
	}

	return newData, completed
}

// observeCounts records (num_data, num_coding) learned from a coding shred.
// Per the "prefer most recently observed counts" Open Question decision, a
// disagreement overwrites the prior counts, bumps NumCountConflict and logs a
// warning, each time a coding shred's counts differ from the set's current
// ones.
func (a *Assembler) observeCounts(set *fecSet, numData, numCoding uint16) {
	if set.haveCount && (set.numData != numData || set.numCoding != numCoding) {
		a.NumCountConflict++
		if a.log != nil {
			a.log.Warn("fec set num_data/num_coding disagreement", "prev_num_data", set.numData, "prev_num_coding", set.numCoding, "new_num_data", numData, "new_num_coding", numCoding)
		}
	}
	set.numData = numData
	set.numCoding = numCoding
	set.haveCount = true
}

// recover runs Reed-Solomon reconstruction over the full shard vector and
// returns synthetic Shred values for any data positions that were missing.
func (a *Assembler) recover(set *fecSet, slot uint64, fecSetIndex uint32) ([]types.Shred, error) {
	total := int(set.numData) + int(set.numCoding)
	if total == 0 {
		return nil, nil
	}

	shardSize := 0
	for _, p := range set.data {
		if len(p) > shardSize {
			shardSize = len(p)
		}
	}
	for _, p := range set.coding {
		if len(p) > shardSize {
			shardSize = len(p)
		}
	}

	shards := make([][]byte, total)
	missing := make([]uint32, 0, int(set.numData))
	for i := 0; i < int(set.numData); i++ {
		if p, ok := set.data[uint32(i)]; ok {
			shards[i] = padTo(p, shardSize)
		} else {
			missing = append(missing, uint32(i))
		}
	}
	for i := 0; i < int(set.numCoding); i++ {
		if p, ok := set.coding[uint16(i)]; ok {
			shards[int(set.numData)+i] = padTo(p, shardSize)
		}
	}

	enc, err := reedsolomon.New(int(set.numData), int(set.numCoding))
	if err != nil {
		return nil, err
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, err
	}

	recovered := make([]types.Shred, 0, len(missing))
	for _, pos := range missing {
		payload := shards[pos]
		set.data[pos] = payload
		recovered = append(recovered, types.Shred{
			Slot:        slot,
			Index:       fecSetIndex + pos,
			FecSetIndex: fecSetIndex,
			Kind:        types.ShredKindData,
			Payload:     payload,
		})
	}
	return recovered, nil
}

func padTo(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Evict drops all FEC sets belonging to slots older than the active
// window, counting any set that never completed as dropped for its slot.
func (a *Assembler) Evict() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.maxSlotSeen < a.activeWindow {
		return
	}
	threshold := a.maxSlotSeen - a.activeWindow
	for key, set := range a.sets {
		if key.slot < threshold {
			if !set.completed {
				a.FecDropped++
			}
			delete(a.sets, key)
		}
	}
}
