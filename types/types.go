// Package types holds the shared data model for the shred ingest pipeline:
// shreds, decoded transactions, matches, and the rolling per-source metrics
// shape that the aggregator fills in.
package types

import (
	"fmt"

	MapSet "github.com/deckarep/golang-set/v2"
	"github.com/mr-tron/base58"

	"shredlead/clock"
)

// ProgramSet is a set of base58-encoded program IDs: the allowlist loaded
// from config, and the per-transaction set of touched program IDs.
type ProgramSet = MapSet.Set[string]

// NewProgramSet returns an empty ProgramSet.
func NewProgramSet() ProgramSet {
	return MapSet.NewSet[string]()
}

// Signature is a 64-byte Ed25519 transaction signature. It is used as the
// dedup/match key across all sources.
type Signature [64]byte

// String returns the base58 encoding, matching how Solana explorers and RPC
// responses represent signatures.
func (s Signature) String() string {
	return base58.Encode(s[:])
}

// PublicKey is a 32-byte Solana account/program address.
type PublicKey [32]byte

func (p PublicKey) String() string {
	return base58.Encode(p[:])
}

// SourceKind classifies a SourceId as either shred-tier (pre-confirmation,
// fast) or baseline-tier (confirmed, slow). jito-grpc is shred-tier despite
// arriving over gRPC: it proxies a shred relay, not a confirmed stream.
type SourceKind int

const (
	SourceKindShred SourceKind = iota
	SourceKindRPC
	SourceKindGeyser
	SourceKindJitoGRPC
)

func (k SourceKind) String() string {
	switch k {
	case SourceKindShred:
		return "shred"
	case SourceKindRPC:
		return "rpc"
	case SourceKindGeyser:
		return "geyser"
	case SourceKindJitoGRPC:
		return "jito-grpc"
	default:
		return "unknown"
	}
}

// IsFast reports whether this source kind is pre-confirmation (shred or
// jito-grpc), as opposed to a confirmed baseline (rpc, geyser).
func (k SourceKind) IsFast() bool {
	return k == SourceKindShred || k == SourceKindJitoGRPC
}

// SourceId is an operator-assigned short name, unique within a run, tagged
// with its kind.
type SourceId struct {
	Name string
	Kind SourceKind
}

func (s SourceId) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Kind)
}

// ShredKind distinguishes data and coding shreds.
type ShredKind int

const (
	ShredKindData ShredKind = iota
	ShredKindCoding
)

// ShredVariant identifies the signing/merkle scheme of a shred, derived from
// its variant byte.
type ShredVariant int

const (
	VariantLegacy ShredVariant = iota
	VariantMerkle
	VariantMerkleChained
	VariantMerkleChainedResigned
)

// RawShred is an unparsed datagram plus its provenance: which source it
// arrived on, when the kernel stamped it, and who sent it.
type RawShred struct {
	SourceId SourceId
	RecvTime clock.MonoTime
	Bytes    []byte
	SrcAddr  string
}

// Shred is a parsed shred header plus payload.
type Shred struct {
	Slot        uint64
	Index       uint32
	Version     uint16
	FecSetIndex uint32
	Kind        ShredKind
	Variant     ShredVariant
	RecvTime    clock.MonoTime

	// Data-only fields.
	ParentOffset uint16
	DataComplete bool
	LastInSlot   bool

	// Coding-only fields.
	NumData     uint16
	NumCoding   uint16
	FecPosition uint16

	Payload []byte
}

// DecodedTx is a fully decoded transaction sighting from any source.
type DecodedTx struct {
	SourceId SourceId
	Slot     uint64
	Sig      Signature
	RecvTime clock.MonoTime
	Programs ProgramSet
}

// LeadSample is one accepted fast-vs-slow arrival delta.
type LeadSample struct {
	FastSource SourceId
	SlowSource SourceId
	DeltaNs    int64
}

// MinAcceptedDeltaNs and MaxAcceptedDeltaNs bound the accepted lead-time
// range (spec: [-500ms, +2000ms]); samples outside are discarded.
const (
	MinAcceptedDeltaNs int64 = -500_000_000
	MaxAcceptedDeltaNs int64 = 2_000_000_000
)

// Accepted reports whether a delta falls inside the accepted lead range.
func Accepted(deltaNs int64) bool {
	return deltaNs >= MinAcceptedDeltaNs && deltaNs <= MaxAcceptedDeltaNs
}

// SlotOutcome is the terminal classification of a shred-tier slot.
type SlotOutcome int

const (
	SlotOpen SlotOutcome = iota
	SlotComplete
	SlotPartial
	SlotDropped
)

func (o SlotOutcome) String() string {
	switch o {
	case SlotOpen:
		return "open"
	case SlotComplete:
		return "complete"
	case SlotPartial:
		return "partial"
	case SlotDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// SlotRecord is one finalized per-slot entry retained for the benchmark
// report's slot_breakdown and the aggregator's rolling 500-entry ring.
type SlotRecord struct {
	Slot         uint64
	ShredsSeen   uint64
	FecRecovered uint64
	TxsDecoded   uint64
	Outcome      SlotOutcome
	// CoveragePct is shreds_seen / expected_data for this slot (I4), or nil
	// when data_complete_idx was never observed before eviction.
	CoveragePct *float64
}
