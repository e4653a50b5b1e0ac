package source

import (
	"context"
	"log/slog"
	"time"

	"shredlead/clock"
	"shredlead/entrydecode"
	"shredlead/fec"
	"shredlead/receiver"
	"shredlead/shred"
	"shredlead/types"
)

const shredSourceEvictInterval = 5 * time.Second

// ShredSource wires the UDP multicast Receiver through the shred parser,
// the FEC assembler, and the entry decoder into one DecodedTx stream
// (spec.md §4.5's shred-tier variant). Like JitoGrpcSource, the other
// shred-tier source, it runs the program-id allowlist filter; baseline
// sources are always exempt.
type ShredSource struct {
	id  types.SourceId
	log *slog.Logger

	recv          *receiver.Receiver
	fecAssembler  *fec.Assembler
	decoder       *entrydecode.Decoder
	programFilter types.ProgramSet // nil means no filtering
	pinDecodeCore *int

	out    chan types.DecodedTx
	stop   chan struct{}
	cancel context.CancelFunc

	// Hooks let the run loop feed the aggregator and shred-race tracker
	// without this package depending on either (spec.md §5's single-writer
	// wiring lives in the glue that owns both this source and those
	// collaborators).
	OnShredReceived func(bytes int, recvTime clock.MonoTime)
	OnShredDropped  func(recvTime clock.MonoTime)
	OnFecRecovered  func(n uint64, recvTime clock.MonoTime)
	OnSlotFinalized func(rec types.SlotRecord, recvTime clock.MonoTime)
	OnRawShred      func(slot uint64, index uint32, recvTime clock.MonoTime)
}

// ShredSourceConfig configures a ShredSource's receiver and program filter.
type ShredSourceConfig struct {
	receiver.Config
	ProgramFilter types.ProgramSet
	ActiveWindow  uint64
	PinDecodeCore *int
}

// NewShredSource binds the receiver's socket and constructs the FEC/decode
// pipeline behind it.
func NewShredSource(cfg ShredSourceConfig, log *slog.Logger) (*ShredSource, error) {
	recv, err := receiver.New(cfg.Config, log)
	if err != nil {
		return nil, err
	}
	return &ShredSource{
		id:            cfg.SourceId,
		log:           log,
		recv:          recv,
		fecAssembler:  fec.NewAssembler(cfg.ActiveWindow, log),
		decoder:       entrydecode.NewDecoder(cfg.SourceId, cfg.ActiveWindow),
		programFilter: cfg.ProgramFilter,
		pinDecodeCore: cfg.PinDecodeCore,
		out:           make(chan types.DecodedTx, 4096),
		stop:          make(chan struct{}),
	}, nil
}

func (s *ShredSource) Id() types.SourceId          { return s.id }
func (s *ShredSource) Out() <-chan types.DecodedTx { return s.out }

func (s *ShredSource) Close() error {
	close(s.stop)
	if s.cancel != nil {
		s.cancel()
	}
	return s.recv.Close()
}

// Run drives the receiver and processes each raw shred as it arrives, on a
// single goroutine (spec.md §5's single-writer rule for per-slot state).
// This goroutine is the decode thread spec.md §4.1/§5 describes; when
// PinDecodeCore is set it is pinned to that core, separately from the
// receiver's own recv-thread pin.
func (s *ShredSource) Run() {
	if s.pinDecodeCore != nil {
		receiver.PinToCore(*s.pinDecodeCore, s.log, s.id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.recv.Run(ctx)

	evictTick := time.NewTicker(shredSourceEvictInterval)
	defer evictTick.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-evictTick.C:
			s.evict()
		case raw, ok := <-s.recv.Out:
			if !ok {
				return
			}
			s.handleRaw(raw)
		}
	}
}

func (s *ShredSource) handleRaw(raw types.RawShred) {
	parsed, err := shred.Parse(raw.Bytes, raw.RecvTime)
	if err != nil {
		if s.OnShredDropped != nil {
			s.OnShredDropped(raw.RecvTime)
		}
		return
	}
	if s.OnShredReceived != nil {
		s.OnShredReceived(len(raw.Bytes), raw.RecvTime)
	}
	if s.OnRawShred != nil {
		s.OnRawShred(parsed.Slot, parsed.Index, raw.RecvTime)
	}

	beforeRecovered := s.fecAssembler.FecRecovered
	newData, _ := s.fecAssembler.Admit(parsed)
	if recovered := s.fecAssembler.FecRecovered - beforeRecovered; recovered > 0 && s.OnFecRecovered != nil {
		s.OnFecRecovered(recovered, raw.RecvTime)
	}

	for _, ds := range newData {
		for _, tx := range s.decoder.Admit(ds.Slot, ds.Index, ds.Payload, ds.RecvTime, ds.DataComplete, ds.LastInSlot) {
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

func (s *ShredSource) programAllowed(programs types.ProgramSet) bool {
	if s.programFilter == nil || s.programFilter.Cardinality() == 0 {
		return true
	}
	return s.programFilter.Intersect(programs).Cardinality() > 0
}

func (s *ShredSource) evict() {
	s.fecAssembler.Evict()
	now := clock.Now()
	for _, ev := range s.decoder.Evict() {
		if s.OnSlotFinalized != nil {
			s.OnSlotFinalized(types.SlotRecord{
				Slot:        ev.Slot,
				ShredsSeen:  ev.ShredsSeen,
				Outcome:     ev.Outcome,
				CoveragePct: ev.CoveragePct,
			}, now)
		}
	}
}
