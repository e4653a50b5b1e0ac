package bench

import (
	"testing"

	"shredlead/aggregator"
	"shredlead/clock"
	"shredlead/types"
)

func TestBuildRoundsLeadVsStats(t *testing.T) {
	a := aggregator.NewAggregator(0)
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	rpcSrc := types.SourceId{Name: "rpcB", Kind: types.SourceKindRPC}

	now := clock.MonoTime(1)
	a.RecordLeadSample(types.LeadSample{FastSource: shredSrc, SlowSource: rpcSrc, DeltaNs: 1_333_333}, now)
	a.RecordShredReceived(shredSrc, 1200, now)

	report := Build(a, []types.SourceId{shredSrc}, 60, now)
	if report.DurationSecs != 60 {
		t.Fatalf("duration_secs = %d, want 60", report.DurationSecs)
	}
	if len(report.Sources) != 1 {
		t.Fatalf("expected 1 source report, got %d", len(report.Sources))
	}
	lv, ok := report.Sources[0].LeadVs["rpcB"]
	if !ok {
		t.Fatal("expected lead_vs entry for rpcB")
	}
	if lv.Count != 1 {
		t.Fatalf("count = %d, want 1", lv.Count)
	}
	if lv.MeanUs != 1333.33 {
		t.Fatalf("mean_us = %v, want 1333.33 (1333.333 rounded to two places)", lv.MeanUs)
	}
}
