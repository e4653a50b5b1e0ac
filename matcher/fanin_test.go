package matcher

import (
	"testing"

	"shredlead/clock"
	"shredlead/types"
)

func sig(b byte) types.Signature {
	var s types.Signature
	s[0] = b
	return s
}

func TestCrossSourceMatchEmitsLeadSample(t *testing.T) {
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	rpcSrc := types.SourceId{Name: "rpcB", Kind: types.SourceKindRPC}

	m := NewMatcher([]types.SourceId{shredSrc, rpcSrc}, nil)
	var got []types.LeadSample
	m.OnLeadSample = func(ls types.LeadSample) { got = append(got, ls) }

	s := sig(0x01)
	m.Admit(types.DecodedTx{SourceId: shredSrc, Slot: 1, Sig: s, RecvTime: clock.MonoTime(1000 * 1000)})
	m.Admit(types.DecodedTx{SourceId: rpcSrc, Slot: 1, Sig: s, RecvTime: clock.MonoTime(2000 * 1000)})

	if len(got) != 1 {
		t.Fatalf("expected 1 lead sample, got %d", len(got))
	}
	if got[0].FastSource != shredSrc || got[0].SlowSource != rpcSrc {
		t.Fatalf("unexpected sample sources: %+v", got[0])
	}
	if got[0].DeltaNs != 1_000_000 {
		t.Fatalf("delta = %d, want 1000000", got[0].DeltaNs)
	}
}

func TestEarliestWinsNoOverwrite(t *testing.T) {
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	rpcSrc := types.SourceId{Name: "rpcB", Kind: types.SourceKindRPC}
	m := NewMatcher([]types.SourceId{shredSrc, rpcSrc}, nil)

	var got []types.LeadSample
	m.OnLeadSample = func(ls types.LeadSample) { got = append(got, ls) }

	s := sig(0x02)
	m.Admit(types.DecodedTx{SourceId: shredSrc, Slot: 1, Sig: s, RecvTime: 1000})
	m.Admit(types.DecodedTx{SourceId: shredSrc, Slot: 1, Sig: s, RecvTime: 50}) // later sighting, earlier time: must be ignored
	m.Admit(types.DecodedTx{SourceId: rpcSrc, Slot: 1, Sig: s, RecvTime: 5000})

	if len(got) != 1 {
		t.Fatalf("expected 1 lead sample, got %d", len(got))
	}
	if got[0].DeltaNs != 4000 {
		t.Fatalf("expected delta computed from first-seen time (1000), got %d", got[0].DeltaNs)
	}
}

func TestOutOfWindowSampleDiscarded(t *testing.T) {
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	rpcSrc := types.SourceId{Name: "rpcB", Kind: types.SourceKindRPC}
	m := NewMatcher([]types.SourceId{shredSrc, rpcSrc}, nil)

	var got []types.LeadSample
	m.OnLeadSample = func(ls types.LeadSample) { got = append(got, ls) }

	s := sig(0x03)
	m.Admit(types.DecodedTx{SourceId: shredSrc, Slot: 1, Sig: s, RecvTime: 0})
	m.Admit(types.DecodedTx{SourceId: rpcSrc, Slot: 1, Sig: s, RecvTime: clock.MonoTime(3 * 1_000_000_000)})

	if len(got) != 0 {
		t.Fatalf("expected sample discarded as out of window, got %d", len(got))
	}
}

func TestShredVsShredProducesNoLeadSample(t *testing.T) {
	shredA := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	shredB := types.SourceId{Name: "shredB", Kind: types.SourceKindShred}
	m := NewMatcher([]types.SourceId{shredA, shredB}, nil)

	var got []types.LeadSample
	m.OnLeadSample = func(ls types.LeadSample) { got = append(got, ls) }

	s := sig(0x04)
	m.Admit(types.DecodedTx{SourceId: shredA, Slot: 1, Sig: s, RecvTime: 100})
	m.Admit(types.DecodedTx{SourceId: shredB, Slot: 1, Sig: s, RecvTime: 200})

	if len(got) != 0 {
		t.Fatalf("shred-vs-shred pair should not produce a lead sample, got %d", len(got))
	}
}

func TestSweepReportsMissedAndEvicts(t *testing.T) {
	shredSrc := types.SourceId{Name: "shredA", Kind: types.SourceKindShred}
	rpcSrc := types.SourceId{Name: "rpcB", Kind: types.SourceKindRPC}
	m := NewMatcher([]types.SourceId{shredSrc, rpcSrc}, nil)

	var missed []types.SourceId
	m.OnMissed = func(src types.SourceId, slot uint64) { missed = append(missed, src) }

	s := sig(0x05)
	m.Admit(types.DecodedTx{SourceId: shredSrc, Slot: 1, Sig: s, RecvTime: 0})

	m.Sweep(clock.MonoTime(DefaultRetentionWindowNs + 1))

	if m.InFlight() != 0 {
		t.Fatalf("expected match evicted after sweep, still have %d", m.InFlight())
	}
	if len(missed) != 1 || missed[0] != rpcSrc {
		t.Fatalf("expected rpcB reported missed, got %+v", missed)
	}
}
