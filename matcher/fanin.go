// Package matcher implements the cross-source FanIn/Matcher (spec.md §4.6):
// a single-writer signature->Match table that computes per-pair lead-time
// samples, plus the supplemented shred-vs-shred race tracker.
package matcher

import (
	"log/slog"

	"shredlead/clock"
	"shredlead/types"
)

// DefaultRetentionWindowNs is the idle-timer eviction window (30s).
const DefaultRetentionWindowNs = 30_000_000_000

// DefaultMatchHorizonSlots bounds how far behind the newest slot seen a
// match may lag before being force-closed (150 slots).
const DefaultMatchHorizonSlots = 150

// matchEntry is one in-flight signature's per-source first-arrival times.
type matchEntry struct {
	slot        uint64
	times       map[types.SourceId]clock.MonoTime
	lastUpdated clock.MonoTime
}

// Matcher is single-writer: every caller must route DecodedTx events to it
// through one goroutine (spec.md §5's "single-writer by routing all
// sources through one queue").
type Matcher struct {
	log *slog.Logger

	configuredSources map[types.SourceId]struct{}
	matches           map[types.Signature]*matchEntry

	maxSlotSeen uint64

	OnLeadSample func(types.LeadSample)
	OnMissed     func(sourceId types.SourceId, slot uint64)

	Closed  uint64
	Expired uint64
}

// NewMatcher constructs a Matcher aware of the full configured source set
// (used to decide when a match has "all sources reported").
func NewMatcher(sources []types.SourceId, log *slog.Logger) *Matcher {
	set := make(map[types.SourceId]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}
	return &Matcher{
		log:               log,
		configuredSources: set,
		matches:           make(map[types.Signature]*matchEntry),
	}
}

// Admit processes one DecodedTx. It implements invariants I3 (earliest
// wins) and the pairwise LeadSample emission of spec.md §4.6.
func (m *Matcher) Admit(tx types.DecodedTx) {
	if tx.Slot > m.maxSlotSeen {
		m.maxSlotSeen = tx.Slot
	}

	e, ok := m.matches[tx.Sig]
	if !ok {
		e = &matchEntry{
			slot:  tx.Slot,
			times: map[types.SourceId]clock.MonoTime{tx.SourceId: tx.RecvTime},
		}
		e.lastUpdated = tx.RecvTime
		m.matches[tx.Sig] = e
		return
	}

	if _, seen := e.times[tx.SourceId]; seen {
		return // I3: later sightings never overwrite
	}

	e.times[tx.SourceId] = tx.RecvTime
	e.lastUpdated = tx.RecvTime

	for existingSrc, existingTime := range e.times {
		if existingSrc == tx.SourceId {
			continue
		}
		m.emitPairSample(existingSrc, existingTime, tx.SourceId, tx.RecvTime)
	}

	if len(e.times) >= len(m.configuredSources) && len(m.configuredSources) > 0 {
		m.closeMatch(tx.Sig, e)
	}
}

// emitPairSample computes the LeadSample for one pair of sources if exactly
// one side is shred-tier (fast) and the other is not (spec.md §4.6 point 2:
// shred-vs-shred pairs are "race" samples, handled separately by the race
// tracker, not here).
func (m *Matcher) emitPairSample(srcA types.SourceId, timeA clock.MonoTime, srcB types.SourceId, timeB clock.MonoTime) {
	if m.OnLeadSample == nil {
		return
	}
	fastA, fastB := srcA.Kind.IsFast(), srcB.Kind.IsFast()
	if fastA == fastB {
		return // both fast (race, tracked by shredrace) or both baseline (no comparison defined)
	}

	var fast, slow types.SourceId
	var fastT, slowT clock.MonoTime
	if fastA {
		fast, slow, fastT, slowT = srcA, srcB, timeA, timeB
	} else {
		fast, slow, fastT, slowT = srcB, srcA, timeB, timeA
	}

	delta := slowT.Sub(fastT)
	if !types.Accepted(delta) {
		return
	}
	m.OnLeadSample(types.LeadSample{FastSource: fast, SlowSource: slow, DeltaNs: delta})
}

func (m *Matcher) closeMatch(sig types.Signature, e *matchEntry) {
	delete(m.matches, sig)
	m.Closed++
}

// Sweep runs the matcher's idle-timer eviction (spec.md §4.6: idle for the
// retention window, or slot older than the match-horizon window). now is
// the current monotonic time; it should be called roughly every 1s.
func (m *Matcher) Sweep(now clock.MonoTime) {
	for sig, e := range m.matches {
		idle := now.Sub(e.lastUpdated) > DefaultRetentionWindowNs
		tooOld := m.maxSlotSeen > e.slot && m.maxSlotSeen-e.slot > DefaultMatchHorizonSlots
		if !idle && !tooOld {
			continue
		}
		for src := range m.configuredSources {
			if _, reported := e.times[src]; !reported && m.OnMissed != nil {
				m.OnMissed(src, e.slot)
			}
		}
		delete(m.matches, sig)
		m.Expired++
	}
}

// InFlight returns the number of signatures currently tracked; exposed for
// tests and diagnostics.
func (m *Matcher) InFlight() int {
	return len(m.matches)
}
