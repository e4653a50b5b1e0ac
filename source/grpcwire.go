package source

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodec lets the geyser and jito-grpc sources speak gRPC without a
// protoc-generated client: each message type hand-rolls its own minimal
// protobuf-wire Marshal/Unmarshal (mirroring the manual prost::Message
// structs of the original jito-grpc client), and rawCodec just delegates to
// them. Selected per-call via grpc.CallContentSubtype(rawCodecName).
const rawCodecName = "shredlead-raw"

type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("grpcwire: %T does not implement wireMessage", v)
	}
	return m.Marshal()
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("grpcwire: %T does not implement wireMessage", v)
	}
	return m.Unmarshal(data)
}

func (rawCodec) Name() string { return rawCodecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// --- minimal protobuf-wire helpers (varint + length-delimited fields) ---

func putVarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

func putTag(buf []byte, fieldNum int, wireType byte) []byte {
	return putVarint(buf, uint64(fieldNum)<<3|uint64(wireType))
}

func putBytesField(buf []byte, fieldNum int, data []byte) []byte {
	buf = putTag(buf, fieldNum, 2)
	buf = putVarint(buf, uint64(len(data)))
	return append(buf, data...)
}

func putVarintField(buf []byte, fieldNum int, v uint64) []byte {
	buf = putTag(buf, fieldNum, 0)
	return putVarint(buf, v)
}

// readField scans one (fieldNum, wireType, payload, rest) tuple from buf.
// For wireType 0 (varint) payload is the raw varint bytes; for wireType 2
// (length-delimited) payload is the field's bytes.
func readField(buf []byte) (fieldNum int, wireType byte, payload []byte, rest []byte, ok bool) {
	if len(buf) == 0 {
		return 0, 0, nil, nil, false
	}
	tag, n := binary.Uvarint(buf)
	if n <= 0 {
		return 0, 0, nil, nil, false
	}
	buf = buf[n:]
	fieldNum = int(tag >> 3)
	wireType = byte(tag & 0x7)

	switch wireType {
	case 0:
		v, n := binary.Uvarint(buf)
		if n <= 0 {
			return 0, 0, nil, nil, false
		}
		var tmp [binary.MaxVarintLen64]byte
		m := binary.PutUvarint(tmp[:], v)
		return fieldNum, wireType, tmp[:m], buf[n:], true
	case 2:
		length, n := binary.Uvarint(buf)
		if n <= 0 || uint64(len(buf)-n) < length {
			return 0, 0, nil, nil, false
		}
		buf = buf[n:]
		return fieldNum, wireType, buf[:length], buf[length:], true
	default:
		return 0, 0, nil, nil, false
	}
}

func varintValue(payload []byte) uint64 {
	v, _ := binary.Uvarint(payload)
	return v
}
