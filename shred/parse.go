// Package shred implements the pure Solana shred wire-format parser: bytes
// in, a typed Shred or a ParseError out. It performs no cryptographic
// validation, only structural checks.
package shred

import (
	"encoding/binary"
	"errors"
	"fmt"

	"shredlead/clock"
	"shredlead/types"
)

const (
	// CommonHeaderSize is the first length floor: shorter datagrams are
	// rejected as too short. Parsing the header fields needs at least
	// dataFieldsOffset (83) bytes, so shorter ones are rejected as truncated.
	CommonHeaderSize = 77

	variantOffset     = 64
	slotOffset        = 65
	indexOffset       = 73
	versionOffset     = 77
	fecSetIndexOffset = 79
	dataFieldsOffset  = 83

	maxIndex = 32768

	flagDataComplete = 0x01
	flagLastInSlot   = 0x02

	variantLegacyData   = 0xA5
	variantLegacyCoding = 0x5A
	variantReserved     = 0xC0
)

// ParseError classifies why a datagram was rejected. It is always silent
// (counted, never propagated) per the error taxonomy.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("shred: %s", e.Reason)
}

func rejectf(format string, args ...any) error {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

var errTooShort = errors.New("shred: datagram shorter than common header")

// Parse maps a raw datagram and its kernel receive time to a typed Shred.
// It is a pure function: the same bytes and recvTime always produce the
// same result.
func Parse(b []byte, recvTime clock.MonoTime) (types.Shred, error) {
	if len(b) < CommonHeaderSize {
		return types.Shred{}, errTooShort
	}

	variantByte := b[variantOffset]
	if variantByte >= variantReserved {
		return types.Shred{}, rejectf("reserved variant byte 0x%02x", variantByte)
	}

	kind, variant, ok := classifyVariant(variantByte)
	if !ok {
		return types.Shred{}, rejectf("unrecognized variant byte 0x%02x", variantByte)
	}

	if len(b) < dataFieldsOffset {
		return types.Shred{}, rejectf("truncated header: have %d bytes, need %d", len(b), dataFieldsOffset)
	}

	slot := binary.LittleEndian.Uint64(b[slotOffset:])
	index := binary.LittleEndian.Uint32(b[indexOffset:])
	if index >= maxIndex {
		return types.Shred{}, rejectf("index %d >= %d", index, maxIndex)
	}
	version := binary.LittleEndian.Uint16(b[versionOffset:])
	fecSetIndex := binary.LittleEndian.Uint32(b[fecSetIndexOffset:])
	if fecSetIndex > index {
		return types.Shred{}, rejectf("fec_set_index %d > index %d", fecSetIndex, index)
	}

	s := types.Shred{
		Slot:        slot,
		Index:       index,
		Version:     version,
		FecSetIndex: fecSetIndex,
		Kind:        kind,
		Variant:     variant,
		RecvTime:    recvTime,
	}

	switch kind {
	case types.ShredKindData:
		if err := parseDataFields(b, &s); err != nil {
			return types.Shred{}, err
		}
		if uint64(s.ParentOffset) > slot {
			return types.Shred{}, rejectf("parent_offset %d > slot %d", s.ParentOffset, slot)
		}
	case types.ShredKindCoding:
		if err := parseCodingFields(b, &s); err != nil {
			return types.Shred{}, err
		}
	}

	return s, nil
}

func classifyVariant(b byte) (types.ShredKind, types.ShredVariant, bool) {
	switch {
	case b == variantLegacyData:
		return types.ShredKindData, types.VariantLegacy, true
	case b == variantLegacyCoding:
		return types.ShredKindCoding, types.VariantLegacy, true
	}

	top := b & 0xF0
	switch top {
	case 0x80, 0x90, 0xB0:
		return types.ShredKindData, merkleDataVariant(top), true
	case 0x40, 0x60, 0x70:
		return types.ShredKindCoding, merkleCodingVariant(top), true
	}
	return 0, 0, false
}

func merkleDataVariant(top byte) types.ShredVariant {
	switch top {
	case 0x90:
		return types.VariantMerkleChained
	case 0xB0:
		return types.VariantMerkleChainedResigned
	default:
		return types.VariantMerkle
	}
}

func merkleCodingVariant(top byte) types.ShredVariant {
	switch top {
	case 0x60:
		return types.VariantMerkleChained
	case 0x70:
		return types.VariantMerkleChainedResigned
	default:
		return types.VariantMerkle
	}
}

func parseDataFields(b []byte, s *types.Shred) error {
	const headerLen = 5 // parent_offset u16 + flags u8 + size u16
	if len(b) < dataFieldsOffset+headerLen {
		return rejectf("truncated data shred header")
	}
	s.ParentOffset = binary.LittleEndian.Uint16(b[dataFieldsOffset:])
	flags := b[dataFieldsOffset+2]
	size := binary.LittleEndian.Uint16(b[dataFieldsOffset+3:])
	s.DataComplete = flags&flagDataComplete != 0
	s.LastInSlot = flags&flagLastInSlot != 0

	payloadStart := dataFieldsOffset + headerLen
	if len(b) < payloadStart+int(size) {
		return rejectf("data shred payload shorter than declared size %d", size)
	}
	s.Payload = b[payloadStart : payloadStart+int(size)]
	return nil
}

func parseCodingFields(b []byte, s *types.Shred) error {
	const headerLen = 6 // num_data u16 + num_coding u16 + fec_position u16
	if len(b) < dataFieldsOffset+headerLen {
		return rejectf("truncated coding shred header")
	}
	s.NumData = binary.LittleEndian.Uint16(b[dataFieldsOffset:])
	s.NumCoding = binary.LittleEndian.Uint16(b[dataFieldsOffset+2:])
	s.FecPosition = binary.LittleEndian.Uint16(b[dataFieldsOffset+4:])
	s.Payload = b[dataFieldsOffset+headerLen:]
	return nil
}
