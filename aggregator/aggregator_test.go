package aggregator

import (
	"testing"

	"shredlead/clock"
	"shredlead/types"
)

func TestHistogramPercentiles(t *testing.T) {
	var h Histogram
	for i := int64(0); i < 100; i++ {
		h.Add(i * 1_000_000) // 0ms..99ms
	}
	p50 := h.Percentile(0.5)
	if p50 < 48_000 || p50 > 51_000 {
		t.Fatalf("p50 = %dus, want roughly 50000", p50)
	}
}

func TestHistogramMerge(t *testing.T) {
	var a, b Histogram
	a.Add(1_000_000)
	b.Add(2_000_000)
	a.Merge(&b)
	if a.Count() != 2 {
		t.Fatalf("merged count = %d, want 2", a.Count())
	}
}

func TestBucketIndexClampsToRange(t *testing.T) {
	if idx := bucketIndex(types.MinAcceptedDeltaNs - 1); idx != 0 {
		t.Fatalf("below-range delta should clamp to bucket 0, got %d", idx)
	}
	if idx := bucketIndex(types.MaxAcceptedDeltaNs + 1); idx != HistogramBuckets-1 {
		t.Fatalf("above-range delta should clamp to last bucket, got %d", idx)
	}
}

func TestAggregatorRecordsLeadSampleAndBeatPct(t *testing.T) {
	a := NewAggregator(0)
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	rpcSrc := types.SourceId{Name: "rpcB", Kind: types.SourceKindRPC}

	now := clock.MonoTime(1)
	a.RecordLeadSample(types.LeadSample{FastSource: shredSrc, SlowSource: rpcSrc, DeltaNs: 1_000_000}, now)
	a.RecordLeadSample(types.LeadSample{FastSource: shredSrc, SlowSource: rpcSrc, DeltaNs: 2_000_000}, now)

	snap := a.Snapshot(shredSrc, now)
	lv, ok := snap.LeadVs["rpcB"]
	if !ok {
		t.Fatal("expected lead_vs entry for rpcB")
	}
	if lv.Count != 2 {
		t.Fatalf("count = %d, want 2", lv.Count)
	}
	if lv.BeatPct != 100 {
		t.Fatalf("beat_pct = %f, want 100 (both deltas non-negative)", lv.BeatPct)
	}
}

func TestAggregatorWindowRollsOver(t *testing.T) {
	a := NewAggregator(1000) // 1000ns window, tiny for the test
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}

	a.RecordShredReceived(shredSrc, 1200, clock.MonoTime(0))
	a.RecordShredReceived(shredSrc, 1200, clock.MonoTime(2000)) // past window, should roll

	st := a.sources[shredSrc]
	if st.current.shredsReceived != 1 {
		t.Fatalf("expected current window to have 1 shred after roll, got %d", st.current.shredsReceived)
	}
	if st.previous == nil || st.previous.shredsReceived != 1 {
		t.Fatal("expected previous window to retain the first shred")
	}
}

func TestSnapshotCoveragePctAveragesFinalizedSlots(t *testing.T) {
	a := NewAggregator(0)
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}

	now := clock.MonoTime(1)
	full := 1.0
	half := 0.5
	a.RecordSlotFinalized(shredSrc, types.SlotRecord{Slot: 1, Outcome: types.SlotComplete, CoveragePct: &full}, now)
	a.RecordSlotFinalized(shredSrc, types.SlotRecord{Slot: 2, Outcome: types.SlotPartial, CoveragePct: &half}, now)
	a.RecordSlotFinalized(shredSrc, types.SlotRecord{Slot: 3, Outcome: types.SlotDropped}, now) // unknown, excluded

	snap := a.Snapshot(shredSrc, now)
	if snap.CoveragePct == nil {
		t.Fatal("expected a non-nil coverage_pct after finalized slots with known coverage")
	}
	if *snap.CoveragePct != 0.75 {
		t.Fatalf("coverage_pct = %f, want 0.75 (mean of 1.0 and 0.5)", *snap.CoveragePct)
	}
}

func TestSnapshotCoveragePctNilWithoutFinalizedSlots(t *testing.T) {
	a := NewAggregator(0)
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	a.RecordShredReceived(shredSrc, 100, clock.MonoTime(1))

	snap := a.Snapshot(shredSrc, clock.MonoTime(1))
	if snap.CoveragePct != nil {
		t.Fatalf("expected nil coverage_pct with no finalized slots, got %v", *snap.CoveragePct)
	}
}

func TestSlotBreakdownRingBounded(t *testing.T) {
	a := NewAggregator(0)
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	for i := uint64(0); i < SlotRingSize+10; i++ {
		a.RecordSlotFinalized(shredSrc, types.SlotRecord{Slot: i, Outcome: types.SlotComplete}, clock.MonoTime(0))
	}
	rec := a.SlotBreakdown(shredSrc)
	if len(rec) != SlotRingSize {
		t.Fatalf("ring should be bounded to %d, got %d", SlotRingSize, len(rec))
	}
	if rec[0].Slot != 10 {
		t.Fatalf("oldest retained slot should be 10 after wraparound, got %d", rec[0].Slot)
	}
	if rec[len(rec)-1].Slot != SlotRingSize+9 {
		t.Fatalf("newest retained slot should be %d, got %d", SlotRingSize+9, rec[len(rec)-1].Slot)
	}
}
