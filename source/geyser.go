package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"shredlead/clock"
	"shredlead/types"
)

const geyserReconnectDelay = 5 * time.Second

// geyserSubscribeRequest is a minimal SubscribeRequest carrying only what
// this source needs: a transactions filter (vote=false, failed=false) and
// a commitment level. Field numbers follow yellowstone-grpc's geyser.proto.
type geyserSubscribeRequest struct {
	commitment int32
}

func (r geyserSubscribeRequest) Marshal() ([]byte, error) {
	var buf []byte
	// transactions["all"] = SubscribeRequestFilterTransactions{vote:false, failed:false}
	var filter []byte
	filter = putVarintField(filter, 3, 0) // vote (bool false, field 3 per geyser.proto)
	filter = putVarintField(filter, 4, 0) // failed (bool false, field 4)

	var entry []byte
	entry = putBytesField(entry, 1, []byte("all"))
	entry = putBytesField(entry, 2, filter)

	buf = putBytesField(buf, 2, entry) // map<string,Filter> transactions = 2
	buf = putVarintField(buf, 6, uint64(r.commitment))
	return buf, nil
}

func (r *geyserSubscribeRequest) Unmarshal([]byte) error { return nil }

// geyserUpdate is the subset of SubscribeUpdate this source reads: the slot
// and, when present, a transaction update's 64-byte signature.
type geyserUpdate struct {
	Slot      uint64
	Signature []byte
	HasTx     bool
}

func (u *geyserUpdate) Marshal() ([]byte, error) { return nil, nil }

func (u *geyserUpdate) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNum, wireType, payload, rest, ok := readField(data)
		if !ok {
			return fmt.Errorf("geyserUpdate: malformed field")
		}
		if fieldNum == 2 && wireType == 2 { // update_oneof.transaction (SubscribeUpdateTransaction)
			u.HasTx = true
			u.parseTransactionUpdate(payload)
		}
		data = rest
	}
	return nil
}

func (u *geyserUpdate) parseTransactionUpdate(data []byte) {
	for len(data) > 0 {
		fieldNum, wireType, payload, rest, ok := readField(data)
		if !ok {
			return
		}
		switch {
		case fieldNum == 2 && wireType == 0: // slot
			u.Slot = varintValue(payload)
		case fieldNum == 1 && wireType == 2: // transaction info
			u.parseTransactionInfo(payload)
		}
		data = rest
	}
}

func (u *geyserUpdate) parseTransactionInfo(data []byte) {
	for len(data) > 0 {
		fieldNum, wireType, payload, rest, ok := readField(data)
		if !ok {
			return
		}
		if fieldNum == 2 && wireType == 2 { // signature bytes
			u.Signature = append([]byte(nil), payload...)
		}
		data = rest
	}
}

// GeyserSource subscribes to a Yellowstone-compatible Geyser gRPC endpoint
// and emits a DecodedTx for each confirmed, non-vote, non-failed
// transaction. Geyser delivers confirmed transactions, same semantics as
// RPC, so it is a baseline source (spec.md §4.5).
type GeyserSource struct {
	id     types.SourceId
	url    string
	xToken string
	log    *slog.Logger

	out  chan types.DecodedTx
	stop chan struct{}
}

// NewGeyserSource constructs a Geyser baseline source. xToken may be empty.
func NewGeyserSource(name, url, xToken string, log *slog.Logger) *GeyserSource {
	return &GeyserSource{
		id:     types.SourceId{Name: name, Kind: types.SourceKindGeyser},
		url:    url,
		xToken: xToken,
		log:    log,
		out:    make(chan types.DecodedTx, 4096),
		stop:   make(chan struct{}),
	}
}

func (s *GeyserSource) Id() types.SourceId          { return s.id }
func (s *GeyserSource) Out() <-chan types.DecodedTx { return s.out }
func (s *GeyserSource) Close() error                { close(s.stop); return nil }

func (s *GeyserSource) Run() {
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.runOnce(); err != nil && s.log != nil {
			s.log.Warn("geyser source disconnected", "source", s.id.Name, "err", err)
		}
		select {
		case <-s.stop:
			return
		case <-time.After(geyserReconnectDelay):
		}
	}
}

func (s *GeyserSource) runOnce() error {
	cc, err := grpc.Dial(s.url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("geyser dial: %w", err)
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
	if s.xToken != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-token", s.xToken)
	}

	stream, err := grpc.NewClientStream(ctx, &grpc.StreamDesc{StreamName: "Subscribe", ServerStreams: true, ClientStreams: true},
		cc, "/geyser.Geyser/Subscribe", grpc.CallContentSubtype(rawCodecName))
	if err != nil {
		return fmt.Errorf("geyser open stream: %w", err)
	}
	req := geyserSubscribeRequest{commitment: 1} // CommitmentLevel.CONFIRMED
	if err := stream.SendMsg(&req); err != nil {
		return fmt.Errorf("geyser send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("geyser close send: %w", err)
	}

	for {
		var msg geyserUpdate
		if err := stream.RecvMsg(&msg); err != nil {
			return err
		}
		if !msg.HasTx || len(msg.Signature) != 64 {
			continue
		}
		recvTime := clock.Now()
		var sig types.Signature
		copy(sig[:], msg.Signature)

		select {
		// Programs is left empty: the geyser subscribe update carries only
		// the signature, not account keys, and baseline sources are exempt
		// from program-id filtering anyway.
		case s.out <- types.DecodedTx{SourceId: s.id, Slot: msg.Slot, Sig: sig, RecvTime: recvTime, Programs: types.NewProgramSet()}:
		default:
		}
	}
}
