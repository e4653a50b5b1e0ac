// Package aggregator implements the MetricsAggregator: tumbling-window
// per-source counters, lead-time percentile histograms, coverage tracking,
// and periodic snapshot production (spec.md §4.7).
package aggregator

import (
	"shredlead/clock"
	"shredlead/types"
)

// DefaultWindowNs and DefaultSnapshotIntervalNs are spec.md §4.7's defaults.
const (
	DefaultWindowNs           = 60_000_000_000
	DefaultSnapshotIntervalNs = 1_000_000_000
	SlotRingSize              = 500
)

// leadVsBaseline holds the per-baseline lead-time statistics for one
// shred-tier source, combining the mandated histogram with exact
// min/max/sum accumulators (spec.md §3's "tracked alongside").
type leadVsBaseline struct {
	hist    Histogram
	sumNs   int64
	minNs   int64
	maxNs   int64
	wins    uint64
	losses  uint64
	hasData bool
}

func (l *leadVsBaseline) add(deltaNs int64) {
	l.hist.Add(deltaNs)
	l.sumNs += deltaNs
	if !l.hasData || deltaNs < l.minNs {
		l.minNs = deltaNs
	}
	if !l.hasData || deltaNs > l.maxNs {
		l.maxNs = deltaNs
	}
	l.hasData = true
}

func (l *leadVsBaseline) recordWinLoss(win bool) {
	if win {
		l.wins++
	} else {
		l.losses++
	}
}

func (l *leadVsBaseline) beatPct() float64 {
	total := l.wins + l.losses
	if total == 0 {
		return 0
	}
	return 100 * float64(l.wins) / float64(total)
}

// sourceWindow is one tumbling window's counters for one source.
type sourceWindow struct {
	shredsReceived uint64
	bytesReceived  uint64
	shredsDropped  uint64
	fecRecovered   uint64
	txsDecoded     uint64

	coverageSum   float64
	coverageSlots uint64

	leadVs map[types.SourceId]*leadVsBaseline
}

func newSourceWindow() *sourceWindow {
	return &sourceWindow{leadVs: make(map[types.SourceId]*leadVsBaseline)}
}

// perSourceState is the aggregator's full per-source state: current and
// previous window, plus the rolling finalized-slot ring.
type perSourceState struct {
	current  *sourceWindow
	previous *sourceWindow

	slotRing      [SlotRingSize]types.SlotRecord
	slotRingStart int
	slotRingLen   int

	windowStartNs clock.MonoTime
}

// Aggregator is single-writer: all events are expected to arrive via its
// own consumption loop (spec.md §5).
type Aggregator struct {
	windowNs int64
	sources  map[types.SourceId]*perSourceState
}

// NewAggregator constructs an Aggregator with the given tumbling window
// (0 uses DefaultWindowNs).
func NewAggregator(windowNs int64) *Aggregator {
	if windowNs == 0 {
		windowNs = DefaultWindowNs
	}
	return &Aggregator{
		windowNs: windowNs,
		sources:  make(map[types.SourceId]*perSourceState),
	}
}

func (a *Aggregator) stateFor(id types.SourceId, now clock.MonoTime) *perSourceState {
	st, ok := a.sources[id]
	if !ok {
		st = &perSourceState{current: newSourceWindow(), windowStartNs: now}
		a.sources[id] = st
	}
	a.rollWindowIfDue(st, now)
	return st
}

func (a *Aggregator) rollWindowIfDue(st *perSourceState, now clock.MonoTime) {
	if now.Sub(st.windowStartNs) < a.windowNs {
		return
	}
	st.previous = st.current
	st.current = newSourceWindow()
	st.windowStartNs = now
}

// RecordShredReceived updates receive counters for a shred-tier source.
func (a *Aggregator) RecordShredReceived(id types.SourceId, bytes int, now clock.MonoTime) {
	st := a.stateFor(id, now)
	st.current.shredsReceived++
	st.current.bytesReceived += uint64(bytes)
}

// RecordShredDropped increments the drop counter. The pipeline calls it for
// parser rejections only; datagrams the receiver drops on channel overflow
// are counted in receiver.Receiver.ShredsDropped and do not reach it.
func (a *Aggregator) RecordShredDropped(id types.SourceId, now clock.MonoTime) {
	a.stateFor(id, now).current.shredsDropped++
}

// RecordFecRecovered increments the FEC-recovery counter by n.
func (a *Aggregator) RecordFecRecovered(id types.SourceId, n uint64, now clock.MonoTime) {
	a.stateFor(id, now).current.fecRecovered += n
}

// RecordTxDecoded increments the decoded-transaction counter.
func (a *Aggregator) RecordTxDecoded(id types.SourceId, now clock.MonoTime) {
	a.stateFor(id, now).current.txsDecoded++
}

// RecordLeadSample folds one matcher-emitted LeadSample into the fast
// source's lead-vs-baseline stats and updates the BEAT% win/loss tally.
func (a *Aggregator) RecordLeadSample(ls types.LeadSample, now clock.MonoTime) {
	st := a.stateFor(ls.FastSource, now)
	lv, ok := st.current.leadVs[ls.SlowSource]
	if !ok {
		lv = &leadVsBaseline{}
		st.current.leadVs[ls.SlowSource] = lv
	}
	lv.add(ls.DeltaNs)
	lv.recordWinLoss(ls.DeltaNs >= 0)
}

// RecordSlotFinalized appends a finalized slot record to the source's
// rolling 500-entry ring (spec.md §4.7's benchmark-report retention) and
// folds its coverage (I4) into the current window's running average, when
// known.
func (a *Aggregator) RecordSlotFinalized(id types.SourceId, rec types.SlotRecord, now clock.MonoTime) {
	st := a.stateFor(id, now)
	idx := (st.slotRingStart + st.slotRingLen) % SlotRingSize
	st.slotRing[idx] = rec
	if st.slotRingLen < SlotRingSize {
		st.slotRingLen++
	} else {
		st.slotRingStart = (st.slotRingStart + 1) % SlotRingSize
	}
	if rec.CoveragePct != nil {
		st.current.coverageSum += *rec.CoveragePct
		st.current.coverageSlots++
	}
}

// SlotBreakdown returns up to the 500 most recently finalized slot records
// for a source, oldest first.
func (a *Aggregator) SlotBreakdown(id types.SourceId) []types.SlotRecord {
	st, ok := a.sources[id]
	if !ok {
		return nil
	}
	out := make([]types.SlotRecord, st.slotRingLen)
	for i := 0; i < st.slotRingLen; i++ {
		out[i] = st.slotRing[(st.slotRingStart+i)%SlotRingSize]
	}
	return out
}

// Snapshot is one source's view at a snapshot tick, matching spec.md §6's
// metrics log schema.
type Snapshot struct {
	TNs          uint64                 `json:"t_ns"`
	Source       string                 `json:"source"`
	ShredsPerSec float64                `json:"shreds_per_sec"`
	CoveragePct  *float64               `json:"coverage_pct"`
	TxsPerSec    float64                `json:"txs_per_sec"`
	FecRecovered uint64                 `json:"fec_recovered"`
	LeadVs       map[string]LeadVsStats `json:"lead_vs"`
}

// LeadVsStats is one baseline's entry in a Snapshot's lead_vs map.
type LeadVsStats struct {
	Count   uint64  `json:"count"`
	MeanUs  float64 `json:"mean_us"`
	P50Us   int64   `json:"p50_us"`
	P95Us   int64   `json:"p95_us"`
	P99Us   int64   `json:"p99_us"`
	MinUs   int64   `json:"min_us"`
	MaxUs   int64   `json:"max_us"`
	BeatPct float64 `json:"beat_pct"`
}

// Snapshot produces the Snapshot for one source using the rates implied
// by the current window against its elapsed duration, smoothed by folding
// in the previous window's histogram for percentile stability.
func (a *Aggregator) Snapshot(id types.SourceId, now clock.MonoTime) Snapshot {
	st := a.stateFor(id, now)
	elapsedSec := float64(now.Sub(st.windowStartNs)) / 1e9
	if elapsedSec <= 0 {
		elapsedSec = float64(a.windowNs) / 1e9
	}

	snap := Snapshot{
		TNs:          uint64(now),
		Source:       id.Name,
		ShredsPerSec: float64(st.current.shredsReceived) / elapsedSec,
		CoveragePct:  coveragePct(st),
		TxsPerSec:    float64(st.current.txsDecoded) / elapsedSec,
		FecRecovered: st.current.fecRecovered,
		LeadVs:       make(map[string]LeadVsStats),
	}

	for baseline, lv := range st.current.leadVs {
		merged := lv.hist
		if st.previous != nil {
			if prevLv, ok := st.previous.leadVs[baseline]; ok {
				merged.Merge(&prevLv.hist)
			}
		}
		count := lv.hist.Count()
		mean := 0.0
		if count > 0 {
			mean = float64(lv.sumNs) / float64(count) / 1000
		}
		snap.LeadVs[baseline.Name] = LeadVsStats{
			Count:   count,
			MeanUs:  mean,
			P50Us:   merged.Percentile(0.50),
			P95Us:   merged.Percentile(0.95),
			P99Us:   merged.Percentile(0.99),
			MinUs:   lv.minNs / 1000,
			MaxUs:   lv.maxNs / 1000,
			BeatPct: lv.beatPct(),
		}
	}

	return snap
}

// coveragePct reports this source's mean slot coverage (I4) over whichever
// of the current or previous window most recently finalized a slot with a
// known expected_data count; nil when neither has one (no shred source, or
// no slot has been finalized yet).
func coveragePct(st *perSourceState) *float64 {
	w := st.current
	if w.coverageSlots == 0 && st.previous != nil {
		w = st.previous
	}
	if w.coverageSlots == 0 {
		return nil
	}
	pct := w.coverageSum / float64(w.coverageSlots)
	return &pct
}
