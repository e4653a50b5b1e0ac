package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"shredlead/clock"
	"shredlead/entrydecode"
	"shredlead/types"
)

const jitoGrpcReconnectDelay = 5 * time.Second

// subscribeEntriesRequest is shredstream.proto's SubscribeEntriesRequest: an
// empty message, sent once to start the server-streamed Entry feed.
type subscribeEntriesRequest struct{}

func (subscribeEntriesRequest) Marshal() ([]byte, error) { return nil, nil }
func (*subscribeEntriesRequest) Unmarshal([]byte) error  { return nil }

// jitoEntry is shredstream.proto's Entry message: { uint64 slot = 1; bytes
// entries = 2; }. entries holds one slot's back-to-back Entry records, the
// same wire shape the receiver/FEC/decode pipeline produces for a slot's
// contiguous data-shred payload.
type jitoEntry struct {
	Slot    uint64
	Entries []byte
}

func (e *jitoEntry) Marshal() ([]byte, error) {
	var buf []byte
	buf = putVarintField(buf, 1, e.Slot)
	buf = putBytesField(buf, 2, e.Entries)
	return buf, nil
}

func (e *jitoEntry) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNum, wireType, payload, rest, ok := readField(data)
		if !ok {
			return fmt.Errorf("jitoEntry: malformed field")
		}
		switch {
		case fieldNum == 1 && wireType == 0:
			e.Slot = varintValue(payload)
		case fieldNum == 2 && wireType == 2:
			e.Entries = append([]byte(nil), payload...)
		}
		data = rest
	}
	return nil
}

// JitoGrpcSource subscribes to a local Jito ShredStream proxy's
// SubscribeEntries RPC. The proxy has already done shred reassembly and
// Jito's auth challenge-response; it streams us decoded Entry bytes per
// slot, so this source is shred-tier (pre-confirmation), not a baseline,
// despite arriving over gRPC (spec.md §4.5).
type JitoGrpcSource struct {
	id  types.SourceId
	url string
	log *slog.Logger

	dec           *entrydecode.Decoder
	programFilter types.ProgramSet // nil means no filtering
	out           chan types.DecodedTx
	stop          chan struct{}
}

// NewJitoGrpcSource constructs a shred-tier source backed by a ShredStream
// proxy endpoint (e.g. "127.0.0.1:9999"). filter is the program-id
// allowlist; being shred-tier, this source is not exempt from it (spec.md
// §4.4/§6's filter_programs applies to every fast-tier source).
func NewJitoGrpcSource(name, url string, filter types.ProgramSet, log *slog.Logger) *JitoGrpcSource {
	id := types.SourceId{Name: name, Kind: types.SourceKindJitoGRPC}
	return &JitoGrpcSource{
		id:            id,
		url:           url,
		log:           log,
		dec:           entrydecode.NewDecoder(id, 0),
		programFilter: filter,
		out:           make(chan types.DecodedTx, 4096),
		stop:          make(chan struct{}),
	}
}

func (s *JitoGrpcSource) programAllowed(programs types.ProgramSet) bool {
	if s.programFilter == nil || s.programFilter.Cardinality() == 0 {
		return true
	}
	return s.programFilter.Intersect(programs).Cardinality() > 0
}

func (s *JitoGrpcSource) Id() types.SourceId          { return s.id }
func (s *JitoGrpcSource) Out() <-chan types.DecodedTx { return s.out }
func (s *JitoGrpcSource) Close() error                { close(s.stop); return nil }

// Run dials the proxy and streams entries until Close, reconnecting on any
// disconnect after a fixed delay (mirrors the original proxy client's
// five-second reconnect loop).
func (s *JitoGrpcSource) Run() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.runOnce(); err != nil && s.log != nil {
			s.log.Warn("jito-grpc source disconnected", "source", s.id.Name, "err", err)
		}
		select {
		case <-s.stop:
			return
		case <-time.After(jitoGrpcReconnectDelay):
		}
	}
}

func (s *JitoGrpcSource) runOnce() error {
	cc, err := grpc.Dial(s.url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("jito-grpc dial: %w", err)
	}
	defer cc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	stream, err := grpc.NewClientStream(ctx, &grpc.StreamDesc{StreamName: "SubscribeEntries", ServerStreams: true},
		cc, "/shredstream.ShredstreamProxy/SubscribeEntries", grpc.CallContentSubtype(rawCodecName))
	if err != nil {
		return fmt.Errorf("jito-grpc open stream: %w", err)
	}
	if err := stream.SendMsg(&subscribeEntriesRequest{}); err != nil {
		return fmt.Errorf("jito-grpc send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("jito-grpc close send: %w", err)
	}

	for {
		var msg jitoEntry
		if err := stream.RecvMsg(&msg); err != nil {
			return err
		}
		recvTime := clock.Now()
		for _, tx := range entrydecode.DecodeSlotEntries(s.id, msg.Slot, msg.Entries, recvTime) {
			if !s.programAllowed(tx.Programs) {
				continue
			}
			select {
			case s.out <- tx:
			default:
			}
		}
	}
}
