package shred

import (
	"encoding/binary"
	"testing"

	"shredlead/clock"
	"shredlead/types"
)

// encodeCommonHeader writes a synthetic common header (signature left
// zeroed, it carries no parsed meaning here) followed by the variant byte,
// slot, index, version, and fec_set_index fields.
func encodeCommonHeader(variant byte, slot uint64, index uint32, version uint16, fecSetIndex uint32) []byte {
	b := make([]byte, dataFieldsOffset)
	b[variantOffset] = variant
	binary.LittleEndian.PutUint64(b[slotOffset:], slot)
	binary.LittleEndian.PutUint32(b[indexOffset:], index)
	binary.LittleEndian.PutUint16(b[versionOffset:], version)
	binary.LittleEndian.PutUint32(b[fecSetIndexOffset:], fecSetIndex)
	return b
}

func encodeDataShred(variant byte, slot uint64, index uint32, fecSetIndex uint32, parentOffset uint16, flags byte, payload []byte) []byte {
	b := encodeCommonHeader(variant, slot, index, 0, fecSetIndex)
	tail := make([]byte, 5+len(payload))
	binary.LittleEndian.PutUint16(tail[0:], parentOffset)
	tail[2] = flags
	binary.LittleEndian.PutUint16(tail[3:], uint16(len(payload)))
	copy(tail[5:], payload)
	return append(b, tail...)
}

func encodeCodingShred(variant byte, slot uint64, index uint32, fecSetIndex uint32, numData, numCoding, fecPos uint16, payload []byte) []byte {
	b := encodeCommonHeader(variant, slot, index, 0, fecSetIndex)
	tail := make([]byte, 6+len(payload))
	binary.LittleEndian.PutUint16(tail[0:], numData)
	binary.LittleEndian.PutUint16(tail[2:], numCoding)
	binary.LittleEndian.PutUint16(tail[4:], fecPos)
	copy(tail[6:], payload)
	return append(b, tail...)
}

func TestParseLegacyDataShred(t *testing.T) {
	payload := []byte("hello-entry-bytes")
	b := encodeDataShred(variantLegacyData, 100, 5, 0, 3, flagDataComplete, payload)

	s, err := Parse(b, clock.MonoTime(42))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if s.Kind != types.ShredKindData || s.Variant != types.VariantLegacy {
		t.Fatalf("classified as %v/%v, want data/legacy", s.Kind, s.Variant)
	}
	if s.Slot != 100 || s.Index != 5 || s.FecSetIndex != 0 {
		t.Fatalf("unexpected header fields: %+v", s)
	}
	if !s.DataComplete || s.LastInSlot {
		t.Fatalf("flags decoded wrong: complete=%v last=%v", s.DataComplete, s.LastInSlot)
	}
	if string(s.Payload) != string(payload) {
		t.Fatalf("payload = %q, want %q", s.Payload, payload)
	}
	if s.RecvTime != 42 {
		t.Fatalf("recv time not preserved: %v", s.RecvTime)
	}
}

func TestParseLegacyCodingShred(t *testing.T) {
	payload := []byte("coding-shard-bytes")
	b := encodeCodingShred(variantLegacyCoding, 100, 40, 32, 32, 32, 8, payload)

	s, err := Parse(b, clock.MonoTime(1))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if s.Kind != types.ShredKindCoding {
		t.Fatalf("classified as %v, want coding", s.Kind)
	}
	if s.NumData != 32 || s.NumCoding != 32 || s.FecPosition != 8 {
		t.Fatalf("coding fields wrong: %+v", s)
	}
}

func TestClassifyMerkleVariants(t *testing.T) {
	cases := []struct {
		b       byte
		kind    types.ShredKind
		variant types.ShredVariant
	}{
		{0x80, types.ShredKindData, types.VariantMerkle},
		{0x90, types.ShredKindData, types.VariantMerkleChained},
		{0xB0, types.ShredKindData, types.VariantMerkleChainedResigned},
		{0x40, types.ShredKindCoding, types.VariantMerkle},
		{0x60, types.ShredKindCoding, types.VariantMerkleChained},
		{0x70, types.ShredKindCoding, types.VariantMerkleChainedResigned},
	}
	for _, c := range cases {
		kind, variant, ok := classifyVariant(c.b)
		if !ok || kind != c.kind || variant != c.variant {
			t.Errorf("classifyVariant(0x%02x) = (%v,%v,%v), want (%v,%v,true)", c.b, kind, variant, ok, c.kind, c.variant)
		}
	}
}

func TestRejectReservedVariant(t *testing.T) {
	b := encodeCommonHeader(0xC0, 1, 1, 0, 0)
	if _, err := Parse(b, 0); err == nil {
		t.Fatal("expected rejection of reserved variant byte")
	}
}

func TestRejectUnrecognizedVariant(t *testing.T) {
	b := encodeCommonHeader(0x00, 1, 1, 0, 0)
	if _, err := Parse(b, 0); err == nil {
		t.Fatal("expected rejection of unrecognized variant byte")
	}
}

func TestRejectShortDatagram(t *testing.T) {
	b := make([]byte, CommonHeaderSize)
	b[variantOffset] = variantLegacyData
	if _, err := Parse(b[:CommonHeaderSize-1], 0); err == nil {
		t.Fatal("expected rejection of one-byte-short common header")
	}
	// Exactly 77 bytes passes the length floor but still lacks the
	// version/fec_set_index/data fields that extend to offset 83+; it is
	// rejected for truncation, not for being short of the 77B floor.
	if _, err := Parse(b, 0); err == nil {
		t.Fatal("expected rejection: 77 bytes lacks version/fec_set_index fields")
	}
}

func TestIndexBoundary(t *testing.T) {
	b := encodeDataShred(variantLegacyData, 1, 32767, 0, 0, 0, nil)
	if _, err := Parse(b, 0); err != nil {
		t.Fatalf("index 32767 should be accepted, got %v", err)
	}
	b = encodeDataShred(variantLegacyData, 1, 32768, 0, 0, 0, nil)
	if _, err := Parse(b, 0); err == nil {
		t.Fatal("index 32768 should be rejected")
	}
}

func TestFecSetIndexMustNotExceedIndex(t *testing.T) {
	b := encodeDataShred(variantLegacyData, 1, 5, 6, 0, 0, nil)
	if _, err := Parse(b, 0); err == nil {
		t.Fatal("expected rejection when fec_set_index > index")
	}
}

func TestParentOffsetMustNotExceedSlot(t *testing.T) {
	b := encodeDataShred(variantLegacyData, 10, 0, 0, 11, 0, nil)
	if _, err := Parse(b, 0); err == nil {
		t.Fatal("expected rejection when parent_offset > slot")
	}
}

func TestParseIdenticalInputsAreIdempotent(t *testing.T) {
	payload := []byte("same-bytes-twice")
	b := encodeDataShred(variantLegacyData, 7, 1, 0, 0, 0, payload)
	s1, err1 := Parse(b, 5)
	s2, err2 := Parse(b, 5)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v / %v", err1, err2)
	}
	if s1.Slot != s2.Slot || s1.Index != s2.Index || string(s1.Payload) != string(s2.Payload) {
		t.Fatal("parsing the same bytes twice produced different results")
	}
}
