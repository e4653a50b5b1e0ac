package entrydecode

import (
	"errors"

	bin "github.com/gagliardetto/binary"

	"shredlead/clock"
	"shredlead/types"
)

// errTruncated signals that the available bytes end mid-record; the caller
// must not advance its cursor and should retry once more bytes arrive.
var errTruncated = errors.New("entrydecode: truncated record")

const (
	signatureSize = 64
	pubkeySize    = 32
	hashSize      = 32

	versionedMsgPrefixMask = 0x80
)

type decodedEntry struct {
	txs []decodedTx
}

type decodedTx struct {
	sig      types.Signature
	programs types.ProgramSet
}

// DecodeSlotEntries decodes a flat buffer of back-to-back Entry records
// (as delivered whole by a gRPC shred-relay source, rather than assembled
// incrementally from a SlotBuffer) into DecodedTx events for one slot.
// Any trailing truncated record is silently dropped.
func DecodeSlotEntries(sourceId types.SourceId, slot uint64, buf []byte, recvTime clock.MonoTime) []types.DecodedTx {
	entries, _, err := decodeEntries(buf)
	if err != nil {
		return nil
	}
	var out []types.DecodedTx
	for _, e := range entries {
		for _, tx := range e.txs {
			out = append(out, types.DecodedTx{
				SourceId: sourceId,
				Slot:     slot,
				Sig:      tx.sig,
				RecvTime: recvTime,
				Programs: tx.programs,
			})
		}
	}
	return out
}

// decodeEntries parses as many complete *Entry* records as possible from
// buf, starting at offset 0. It returns the entries decoded and the number
// of bytes consumed. A truncated trailing record is not an error: it returns
// the complete entries decoded before it with a nil error, and consumed stops
// at the start of the truncated record so the caller's cursor stays there.
func decodeEntries(buf []byte) ([]decodedEntry, int, error) {
	dec := bin.NewBinDecoder(buf)
	var entries []decodedEntry
	consumed := 0

	for {
		entry, err := decodeOneEntry(dec)
		if err != nil {
			if errors.Is(err, errTruncated) {
				return entries, consumed, nil
			}
			return entries, consumed, err
		}
		consumed = len(buf) - dec.Remaining()
		entries = append(entries, entry)
	}
}

func decodeOneEntry(dec *bin.Decoder) (decodedEntry, error) {
	if dec.Remaining() < 8+hashSize+1 {
		return decodedEntry{}, errTruncated
	}
	if _, err := dec.ReadUint64(bin.LE); err != nil { // num_hashes
		return decodedEntry{}, errTruncated
	}
	if _, err := dec.ReadNBytes(hashSize); err != nil { // hash
		return decodedEntry{}, errTruncated
	}

	numTx, err := readCompactU16(dec)
	if err != nil {
		return decodedEntry{}, errTruncated
	}

	entry := decodedEntry{txs: make([]decodedTx, 0, numTx)}
	for i := 0; i < numTx; i++ {
		tx, err := decodeVersionedTransaction(dec)
		if err != nil {
			return decodedEntry{}, errTruncated
		}
		entry.txs = append(entry.txs, tx)
	}
	return entry, nil
}

func decodeVersionedTransaction(dec *bin.Decoder) (decodedTx, error) {
	numSigs, err := readCompactU16(dec)
	if err != nil || numSigs == 0 {
		return decodedTx{}, errTruncated
	}

	var firstSig types.Signature
	for i := 0; i < numSigs; i++ {
		b, err := dec.ReadNBytes(signatureSize)
		if err != nil {
			return decodedTx{}, errTruncated
		}
		if i == 0 {
			copy(firstSig[:], b)
		}
	}

	if dec.Remaining() < 1 {
		return decodedTx{}, errTruncated
	}
	prefix, err := dec.ReadUint8()
	if err != nil {
		return decodedTx{}, errTruncated
	}

	versioned := prefix&versionedMsgPrefixMask != 0
	if versioned {
		// low 7 bits of prefix are the message version; prefix itself is not
		// part of the header, so the full 3-byte MessageHeader
		// (num_required_signatures, num_readonly_signed, num_readonly_unsigned)
		// still follows.
		if _, err := dec.ReadUint8(); err != nil {
			return decodedTx{}, errTruncated
		}
		if _, err := dec.ReadUint8(); err != nil {
			return decodedTx{}, errTruncated
		}
		if _, err := dec.ReadUint8(); err != nil {
			return decodedTx{}, errTruncated
		}
	} else {
		// prefix byte already consumed was num_required_signatures.
		if _, err := dec.ReadUint8(); err != nil {
			return decodedTx{}, errTruncated
		}
		if _, err := dec.ReadUint8(); err != nil {
			return decodedTx{}, errTruncated
		}
	}

	numAccounts, err := readCompactU16(dec)
	if err != nil {
		return decodedTx{}, errTruncated
	}
	accountKeys := make([]types.PublicKey, 0, numAccounts)
	for i := 0; i < numAccounts; i++ {
		b, err := dec.ReadNBytes(pubkeySize)
		if err != nil {
			return decodedTx{}, errTruncated
		}
		var pk types.PublicKey
		copy(pk[:], b)
		accountKeys = append(accountKeys, pk)
	}

	if _, err := dec.ReadNBytes(hashSize); err != nil { // recent_blockhash
		return decodedTx{}, errTruncated
	}

	numInstr, err := readCompactU16(dec)
	if err != nil {
		return decodedTx{}, errTruncated
	}
	programs := types.NewProgramSet()
	for i := 0; i < numInstr; i++ {
		programIdx, err := dec.ReadUint8()
		if err != nil {
			return decodedTx{}, errTruncated
		}
		if int(programIdx) < len(accountKeys) {
			programs.Add(accountKeys[programIdx].String())
		}

		numAccIdx, err := readCompactU16(dec)
		if err != nil {
			return decodedTx{}, errTruncated
		}
		if _, err := dec.ReadNBytes(numAccIdx); err != nil {
			return decodedTx{}, errTruncated
		}

		dataLen, err := readCompactU16(dec)
		if err != nil {
			return decodedTx{}, errTruncated
		}
		if _, err := dec.ReadNBytes(dataLen); err != nil {
			return decodedTx{}, errTruncated
		}
	}

	if versioned {
		numLookups, err := readCompactU16(dec)
		if err != nil {
			return decodedTx{}, errTruncated
		}
		for i := 0; i < numLookups; i++ {
			if _, err := dec.ReadNBytes(pubkeySize); err != nil { // account_key (ALT address, not a program source)
				return decodedTx{}, errTruncated
			}
			nw, err := readCompactU16(dec)
			if err != nil {
				return decodedTx{}, errTruncated
			}
			if _, err := dec.ReadNBytes(nw); err != nil {
				return decodedTx{}, errTruncated
			}
			nr, err := readCompactU16(dec)
			if err != nil {
				return decodedTx{}, errTruncated
			}
			if _, err := dec.ReadNBytes(nr); err != nil {
				return decodedTx{}, errTruncated
			}
		}
	}

	return decodedTx{sig: firstSig, programs: programs}, nil
}

// readCompactU16 decodes Solana's "short vec" compact-u16 length prefix: up
// to 3 bytes, 7 value bits each, continuation bit in the MSB.
func readCompactU16(dec *bin.Decoder) (int, error) {
	var result int
	for shift := 0; shift < 3; shift++ {
		if dec.Remaining() < 1 {
			return 0, errTruncated
		}
		b, err := dec.ReadUint8()
		if err != nil {
			return 0, errTruncated
		}
		result |= int(b&0x7f) << (7 * shift)
		if b&0x80 == 0 {
			return result, nil
		}
	}
	return result, nil
}
