package fec

import (
	"testing"

	"github.com/klauspost/reedsolomon"

	"shredlead/types"
)

func shardsFor(t *testing.T, numData, numCoding, shardSize int) [][]byte {
	t.Helper()
	shards := make([][]byte, numData+numCoding)
	for i := 0; i < numData; i++ {
		shards[i] = make([]byte, shardSize)
		for j := range shards[i] {
			shards[i][j] = byte((i*31 + j) % 256)
		}
	}
	for i := numData; i < numData+numCoding; i++ {
		shards[i] = make([]byte, shardSize)
	}
	enc, err := reedsolomon.New(numData, numCoding)
	if err != nil {
		t.Fatalf("reedsolomon.New: %v", err)
	}
	if err := enc.Encode(shards); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return shards
}

func TestAssemblerCompletesWithAllDataPresent(t *testing.T) {
	a := NewAssembler(32, nil)
	const numData, numCoding, shardSize = 4, 2, 16
	shards := shardsFor(t, numData, numCoding, shardSize)

	var lastCompleted bool
	for i := 0; i < numData; i++ {
		_, completed := a.Admit(types.Shred{
			Slot: 100, Index: uint32(i), FecSetIndex: 0,
			Kind: types.ShredKindData, Payload: shards[i],
		})
		lastCompleted = completed
	}
	// A set learns num_data only from a coding shred; admitting one after
	// every data shred is present completes the set without recovery.
	_, lastCompleted = a.Admit(types.Shred{
		Slot: 100, Index: uint32(numData), FecSetIndex: 0,
		Kind: types.ShredKindCoding, Payload: shards[numData],
		NumData: numData, NumCoding: numCoding, FecPosition: 0,
	})
	if !lastCompleted {
		t.Fatal("expected set to complete once all data shreds present")
	}
	if a.FecRecovered != 0 {
		t.Fatalf("no recovery should have been needed, got %d", a.FecRecovered)
	}
}

func TestAssemblerRecoversMissingDataShreds(t *testing.T) {
	a := NewAssembler(32, nil)
	const numData, numCoding, shardSize = 4, 2, 16
	shards := shardsFor(t, numData, numCoding, shardSize)

	// Drop data shreds 1 and 3; present: data 0,2 + all coding shreds.
	present := []int{0, 2}
	var completed bool
	var recoveredShreds []types.Shred
	for _, i := range present {
		newData, c := a.Admit(types.Shred{
			Slot: 200, Index: uint32(i), FecSetIndex: 0,
			Kind: types.ShredKindData, Payload: shards[i],
		})
		completed = completed || c
		recoveredShreds = append(recoveredShreds, newData...)
	}
	for i := 0; i < numCoding; i++ {
		newData, c := a.Admit(types.Shred{
			Slot: 200, Index: uint32(numData + i), FecSetIndex: 0,
			Kind: types.ShredKindCoding, Payload: shards[numData+i],
			NumData: numData, NumCoding: numCoding, FecPosition: uint16(i),
		})
		completed = completed || c
		recoveredShreds = append(recoveredShreds, newData...)
	}

	if !completed {
		t.Fatal("expected recovery to complete the set")
	}
	if a.FecRecovered != 2 {
		t.Fatalf("expected 2 recovered shreds, got %d", a.FecRecovered)
	}

	byIndex := make(map[uint32][]byte)
	for _, s := range recoveredShreds {
		byIndex[s.Index] = s.Payload
	}
	for _, missingIdx := range []uint32{1, 3} {
		got, ok := byIndex[missingIdx]
		if !ok {
			t.Fatalf("missing recovered shred for index %d", missingIdx)
		}
		if string(got) != string(shards[missingIdx]) {
			t.Fatalf("recovered payload for index %d does not match original", missingIdx)
		}
	}
}

func TestAssemblerEvictsOldSlots(t *testing.T) {
	a := NewAssembler(4, nil)
	a.Admit(types.Shred{Slot: 1, Index: 0, FecSetIndex: 0, Kind: types.ShredKindData, Payload: []byte("x")})
	a.Admit(types.Shred{Slot: 100, Index: 0, FecSetIndex: 0, Kind: types.ShredKindData, Payload: []byte("y")})

	a.Evict()

	if _, ok := a.sets[fecSetKey{slot: 1, fecSetIndex: 0}]; ok {
		t.Fatal("expected old slot's set to be evicted")
	}
	if _, ok := a.sets[fecSetKey{slot: 100, fecSetIndex: 0}]; !ok {
		t.Fatal("recent slot's set should still be present")
	}
	if a.FecDropped != 1 {
		t.Fatalf("expected 1 dropped set, got %d", a.FecDropped)
	}
}

func TestNumDataConflictCounted(t *testing.T) {
	a := NewAssembler(32, nil)
	a.Admit(types.Shred{
		Slot: 5, Index: 10, FecSetIndex: 0, Kind: types.ShredKindCoding,
		NumData: 32, NumCoding: 32, FecPosition: 0, Payload: []byte{1},
	})
	a.Admit(types.Shred{
		Slot: 5, Index: 11, FecSetIndex: 0, Kind: types.ShredKindCoding,
		NumData: 16, NumCoding: 16, FecPosition: 1, Payload: []byte{2},
	})
	if a.NumCountConflict != 1 {
		t.Fatalf("expected 1 conflict counted, got %d", a.NumCountConflict)
	}
	set := a.sets[fecSetKey{slot: 5, fecSetIndex: 0}]
	if set.numData != 16 || set.numCoding != 16 {
		t.Fatalf("expected newest counts to win, got numData=%d numCoding=%d", set.numData, set.numCoding)
	}
}
