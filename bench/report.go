// Package bench builds the fixed-duration benchmark report: one JSON
// document summarizing every configured source's shred/tx throughput and
// lead-time statistics over the run (spec.md §6, grounded on the original
// shredder bench command's BenchReport/SourceReport shape).
package bench

import (
	"encoding/json"
	"fmt"
	"os"

	"shredlead/aggregator"
	"shredlead/clock"
	"shredlead/types"
	"shredlead/utils"
)

// SourceReport is one source's full-run statistics.
type SourceReport struct {
	Name          string                            `json:"name"`
	ShredsPerSec  float64                           `json:"shreds_per_sec"`
	TxsPerSec     float64                           `json:"txs_per_sec"`
	FecRecovered  uint64                            `json:"fec_recovered"`
	LeadVs        map[string]aggregator.LeadVsStats `json:"lead_vs"`
	SlotBreakdown []types.SlotRecord                `json:"slot_breakdown,omitempty"`
}

// Report is the top-level benchmark document.
type Report struct {
	DurationSecs uint64         `json:"duration_secs"`
	Sources      []SourceReport `json:"sources"`
}

// Build produces a Report from the aggregator's final state for each
// configured source after a fixed-duration run, rounding percentage/mean
// fields to two decimal places for readability.
func Build(a *aggregator.Aggregator, sources []types.SourceId, durationSecs uint64, now clock.MonoTime) *Report {
	report := &Report{DurationSecs: durationSecs}
	for _, id := range sources {
		snap := a.Snapshot(id, now)
		leadVs := make(map[string]aggregator.LeadVsStats, len(snap.LeadVs))
		for baseline, lv := range snap.LeadVs {
			lv.MeanUs = utils.FloatRound(lv.MeanUs, 2)
			lv.BeatPct = utils.FloatRound(lv.BeatPct, 2)
			leadVs[baseline] = lv
		}
		report.Sources = append(report.Sources, SourceReport{
			Name:          id.Name,
			ShredsPerSec:  utils.FloatRound(snap.ShredsPerSec, 2),
			TxsPerSec:     utils.FloatRound(snap.TxsPerSec, 2),
			FecRecovered:  snap.FecRecovered,
			LeadVs:        leadVs,
			SlotBreakdown: a.SlotBreakdown(id),
		})
	}
	return report
}

// WriteJSON writes the report as indented JSON to path, or to stdout if
// path is empty.
func WriteJSON(r *Report, path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("bench: marshal report: %w", err)
	}
	if path == "" {
		_, err := os.Stdout.Write(append(b, '\n'))
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
