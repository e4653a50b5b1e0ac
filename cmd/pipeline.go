package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shredlead/aggregator"
	"shredlead/clock"
	"shredlead/config"
	"shredlead/matcher"
	"shredlead/receiver"
	"shredlead/source"
	"shredlead/types"
)

const pipelineSweepInterval = 1 * time.Second

// pipeline wires every configured source through the single-writer matcher
// into the aggregator, per spec.md §5's wiring rules.
type pipeline struct {
	sources []source.TxSource
	matcher *matcher.Matcher
	race    *matcher.RaceTracker
	agg     *aggregator.Aggregator
	log     *slog.Logger
}

func newPipeline(cfg *config.ProbeConfig, log *slog.Logger) (*pipeline, error) {
	filter := types.NewProgramSet()
	for _, p := range cfg.FilterPrograms {
		filter.Add(p)
	}

	var sources []source.TxSource
	var ids []types.SourceId
	fastCount := 0
	for _, sc := range cfg.Sources {
		src, err := buildSource(sc, filter, log)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		ids = append(ids, src.Id())
		if src.Id().Kind.IsFast() {
			fastCount++
		}
	}

	windowNs := cfg.WindowSecs * 1_000_000_000

	p := &pipeline{
		sources: sources,
		matcher: matcher.NewMatcher(ids, log),
		agg:     aggregator.NewAggregator(windowNs),
		log:     log,
	}
	if fastCount >= 2 {
		p.race = matcher.NewRaceTracker(0)
	}

	p.matcher.OnLeadSample = func(ls types.LeadSample) {
		p.agg.RecordLeadSample(ls, clock.Now())
	}
	p.matcher.OnMissed = func(id types.SourceId, slot uint64) {
		if p.log != nil {
			p.log.Debug("source missed match before horizon", "source", id.Name, "slot", slot)
		}
	}

	for _, src := range sources {
		p.wireSource(src)
	}
	return p, nil
}

// wireSource attaches the aggregator and shred-race-tracker callbacks a
// ShredSource exposes. JitoGrpcSource delivers whole decoded entries per
// slot rather than raw per-shred events, so it has no hooks to wire here;
// its tx-decoded count is folded in uniformly with every other source in
// run()'s merged-channel loop below.
func (p *pipeline) wireSource(src source.TxSource) {
	ss, ok := src.(*source.ShredSource)
	if !ok {
		return
	}
	id := ss.Id()
	ss.OnShredReceived = func(bytes int, now clock.MonoTime) { p.agg.RecordShredReceived(id, bytes, now) }
	ss.OnShredDropped = func(now clock.MonoTime) { p.agg.RecordShredDropped(id, now) }
	ss.OnFecRecovered = func(n uint64, now clock.MonoTime) { p.agg.RecordFecRecovered(id, n, now) }
	ss.OnSlotFinalized = func(rec types.SlotRecord, now clock.MonoTime) { p.agg.RecordSlotFinalized(id, rec, now) }
	if p.race != nil {
		ss.OnRawShred = func(slot uint64, index uint32, now clock.MonoTime) { p.race.Observe(slot, index, id, now) }
	}
}

func buildSource(sc config.SourceConfig, filter types.ProgramSet, log *slog.Logger) (source.TxSource, error) {
	switch sc.Type {
	case "shred":
		return source.NewShredSource(source.ShredSourceConfig{
			Config:        receiverConfig(sc),
			ProgramFilter: filter,
			ActiveWindow:  config.DefaultActiveSlotWindow,
			PinDecodeCore: sc.PinDecodeCore,
		}, log)
	case "rpc":
		return source.NewRpcSource(sc.Name, sc.Url, log), nil
	case "geyser":
		return source.NewGeyserSource(sc.Name, sc.Url, sc.XToken, log), nil
	case "jito-grpc":
		return source.NewJitoGrpcSource(sc.Name, sc.Url, filter, log), nil
	default:
		return nil, fmt.Errorf("pipeline: unknown source type %q for %q", sc.Type, sc.Name)
	}
}

// run drains every source into the matcher on one goroutine (the
// single-writer requirement) until ctx is cancelled.
func (p *pipeline) run(ctx context.Context) {
	merged := make(chan types.DecodedTx, 8192)
	for _, src := range p.sources {
		go src.Run()
		go func(s source.TxSource) {
			for tx := range s.Out() {
				select {
				case merged <- tx:
				case <-ctx.Done():
					return
				}
			}
		}(src)
	}

	sweep := time.NewTicker(pipelineSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, src := range p.sources {
				_ = src.Close()
			}
			return
		case tx := <-merged:
			p.agg.RecordTxDecoded(tx.SourceId, tx.RecvTime)
			p.matcher.Admit(tx)
		case <-sweep.C:
			now := clock.Now()
			p.matcher.Sweep(now)
			if p.race != nil {
				p.race.Sweep(now)
			}
		}
	}
}

// snapshots returns one aggregator.Snapshot per configured source, for the
// run command's periodic snapshot tick.
func (p *pipeline) snapshots(now clock.MonoTime) []aggregator.Snapshot {
	snaps := make([]aggregator.Snapshot, 0, len(p.sources))
	for _, src := range p.sources {
		snaps = append(snaps, p.agg.Snapshot(src.Id(), now))
	}
	return snaps
}

func receiverConfig(sc config.SourceConfig) receiver.Config {
	return receiver.Config{
		SourceId:      types.SourceId{Name: sc.Name, Kind: types.SourceKindShred},
		MulticastAddr: sc.MulticastAddr,
		Port:          sc.Port,
		Interface:     sc.Interface,
		PinRecvCore:   sc.PinRecvCore,
	}
}
