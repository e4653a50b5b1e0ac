package matcher

import (
	"shredlead/clock"
	"shredlead/types"
)

// RaceKey identifies one (slot, shred_index) race between two or more
// shred-tier sources.
type RaceKey struct {
	Slot  uint64
	Index uint32
}

// RaceResult is the outcome of one shred-vs-shred race: which source's
// shred arrived first and by how much.
type RaceResult struct {
	Winner types.SourceId
	Loser  types.SourceId
	LeadNs int64
}

// PairMetrics accumulates win/loss counts and a running lead-time sum
// between two specific shred-tier sources, grounded on the Rust original's
// shred_race.rs ShredPairMetrics.
type PairMetrics struct {
	WinsA      uint64
	WinsB      uint64
	SumLeadNsA int64 // sum of lead time (ns) for A's wins
	SumLeadNsB int64
}

// RaceTracker tracks first-arrival races between shred-tier sources,
// independent of the signature-based transaction matcher. It exists only
// when two or more shred-tier sources are configured.
type RaceTracker struct {
	retentionNs int64
	arrivals    map[RaceKey]raceEntry
	pairs       map[racePairKey]*PairMetrics

	OnResult func(RaceKey, RaceResult)
}

type raceEntry struct {
	source types.SourceId
	time   clock.MonoTime
}

type racePairKey struct {
	a, b string // canonicalized source names, a < b
}

func pairKey(a, b types.SourceId) (racePairKey, bool) {
	if a.Name == b.Name {
		return racePairKey{}, false
	}
	if a.Name < b.Name {
		return racePairKey{a: a.Name, b: b.Name}, true
	}
	return racePairKey{a: b.Name, b: a.Name}, true
}

// NewRaceTracker constructs a tracker with the given retention window in
// nanoseconds for unresolved entries (default 30s, matching the matcher's
// retention window); resolved races are removed as soon as they resolve.
func NewRaceTracker(retentionNs int64) *RaceTracker {
	if retentionNs == 0 {
		retentionNs = DefaultRetentionWindowNs
	}
	return &RaceTracker{
		retentionNs: retentionNs,
		arrivals:    make(map[RaceKey]raceEntry),
		pairs:       make(map[racePairKey]*PairMetrics),
	}
}

// Observe records one shred-tier source's arrival for (slot, index). The
// first arrival wins; a later arrival from a different source resolves the
// race and updates the pair's PairMetrics.
func (t *RaceTracker) Observe(slot uint64, index uint32, src types.SourceId, recvTime clock.MonoTime) {
	key := RaceKey{Slot: slot, Index: index}
	first, ok := t.arrivals[key]
	if !ok {
		t.arrivals[key] = raceEntry{source: src, time: recvTime}
		return
	}
	if first.source == src {
		return // duplicate/retransmit from the same source; first arrival already recorded
	}

	winner, loser := first, raceEntry{source: src, time: recvTime}
	if recvTime < first.time {
		winner, loser = loser, winner
	}
	lead := loser.time.Sub(winner.time)

	pk, ok := pairKey(winner.source, loser.source)
	if ok {
		pm, exists := t.pairs[pk]
		if !exists {
			pm = &PairMetrics{}
			t.pairs[pk] = pm
		}
		if winner.source.Name == pk.a {
			pm.WinsA++
			pm.SumLeadNsA += lead
		} else {
			pm.WinsB++
			pm.SumLeadNsB += lead
		}
	}

	if t.OnResult != nil {
		t.OnResult(key, RaceResult{Winner: winner.source, Loser: loser.source, LeadNs: lead})
	}
	delete(t.arrivals, key)
}

// PairMetricsFor returns the accumulated metrics for a named pair of shred
// sources, if any races have been observed between them.
func (t *RaceTracker) PairMetricsFor(a, b types.SourceId) (PairMetrics, bool) {
	pk, ok := pairKey(a, b)
	if !ok {
		return PairMetrics{}, false
	}
	pm, exists := t.pairs[pk]
	if !exists {
		return PairMetrics{}, false
	}
	return *pm, true
}

// Sweep drops unresolved race entries (only one source has reported) once
// they have been open longer than the retention window.
func (t *RaceTracker) Sweep(now clock.MonoTime) {
	for key, e := range t.arrivals {
		if now.Sub(e.time) > t.retentionNs {
			delete(t.arrivals, key)
		}
	}
}
