package matcher

import (
	"testing"

	"shredlead/clock"
	"shredlead/types"
)

func TestRaceTrackerRecordsWinner(t *testing.T) {
	a := types.SourceId{Name: "doublezero", Kind: types.SourceKindShred}
	b := types.SourceId{Name: "jitostream", Kind: types.SourceKindJitoGRPC}

	rt := NewRaceTracker(0)
	var got []RaceResult
	rt.OnResult = func(_ RaceKey, r RaceResult) { got = append(got, r) }

	rt.Observe(10, 5, a, clock.MonoTime(1000))
	rt.Observe(10, 5, b, clock.MonoTime(1500))

	if len(got) != 1 {
		t.Fatalf("expected 1 race result, got %d", len(got))
	}
	if got[0].Winner != a || got[0].Loser != b || got[0].LeadNs != 500 {
		t.Fatalf("unexpected result: %+v", got[0])
	}

	pm, ok := rt.PairMetricsFor(a, b)
	if !ok {
		t.Fatal("expected pair metrics to exist")
	}
	if pm.WinsA+pm.WinsB != 1 {
		t.Fatalf("expected exactly one side to have a win, got %+v", pm)
	}
}

func TestRaceTrackerDuplicateFromSameSourceIgnored(t *testing.T) {
	a := types.SourceId{Name: "doublezero", Kind: types.SourceKindShred}
	rt := NewRaceTracker(0)
	var got []RaceResult
	rt.OnResult = func(_ RaceKey, r RaceResult) { got = append(got, r) }

	rt.Observe(1, 0, a, clock.MonoTime(100))
	rt.Observe(1, 0, a, clock.MonoTime(200)) // retransmit, same source

	if len(got) != 0 {
		t.Fatalf("expected no race result from a same-source duplicate, got %d", len(got))
	}
}

func TestRaceTrackerSweepDropsStaleUnresolved(t *testing.T) {
	a := types.SourceId{Name: "doublezero", Kind: types.SourceKindShred}
	rt := NewRaceTracker(1000)
	rt.Observe(1, 0, a, clock.MonoTime(0))

	rt.Sweep(clock.MonoTime(2000))

	if len(rt.arrivals) != 0 {
		t.Fatalf("expected stale unresolved entry swept, still have %d", len(rt.arrivals))
	}
}
