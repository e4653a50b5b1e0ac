package snapshotstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/spf13/viper"

	"shredlead/aggregator"
)

// ClickhouseStore is the Store backed by a ClickHouse connection. One row
// is written per (source, baseline) pair in a snapshot; a source with no
// lead_vs entries yet still gets one row with Baseline == "" carrying only
// its rate and FEC counters. coverage_pct is not stored in any row.
type ClickhouseStore struct {
	conn driver.Conn
	log  *slog.Logger
}

// NewClickhouseStore opens a connection using the CLICKHOUSE_ADDR/DATABASE/
// USERNAME/PASSWORD config keys, read through viper (so they may come from
// the environment or .env).
func NewClickhouseStore(log *slog.Logger) (*ClickhouseStore, error) {
	opts := &clickhouse.Options{
		Addr: []string{viper.GetString("CLICKHOUSE_ADDR")},
		Auth: clickhouse.Auth{
			Database: viper.GetString("CLICKHOUSE_DATABASE"),
			Username: viper.GetString("CLICKHOUSE_USERNAME"),
			Password: viper.GetString("CLICKHOUSE_PASSWORD"),
		},
		DialTimeout:  5 * time.Second,
		Compression:  &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		MaxOpenConns: 10,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: connect: %w", err)
	}
	return &ClickhouseStore{conn: conn, log: log}, nil
}

func (s *ClickhouseStore) Close() error {
	return s.conn.Close()
}

// CreateTables ensures the database and the source_snapshots table exist.
func (s *ClickhouseStore) CreateTables() error {
	ctx := context.Background()
	if err := s.conn.Exec(ctx, `CREATE DATABASE IF NOT EXISTS shredlead`); err != nil {
		return fmt.Errorf("snapshotstore: ensure database: %w", err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS shredlead.source_snapshots
	(
		TNs          UInt64,
		Source       String,
		Baseline     String,
		ShredsPerSec Float64,
		TxsPerSec    Float64,
		FecRecovered UInt64,
		Count        UInt64,
		MeanUs       Float64,
		P50Us        Int64,
		P95Us        Int64,
		P99Us        Int64,
		MinUs        Int64,
		MaxUs        Int64,
		BeatPct      Float64
	)
	ENGINE = MergeTree
	ORDER BY (Source, Baseline, TNs)
	SETTINGS index_granularity = 8192`

	if err := s.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("snapshotstore: create source_snapshots: %w", err)
	}
	if s.log != nil {
		s.log.Info("snapshotstore: ensured source_snapshots table exists")
	}
	return nil
}

// snapshotRow is one (source, baseline) pair's columns, field names
// matching the DDL above for clickhouse-go's struct-append batching.
type snapshotRow struct {
	TNs          uint64
	Source       string
	Baseline     string
	ShredsPerSec float64
	TxsPerSec    float64
	FecRecovered uint64
	Count        uint64
	MeanUs       float64
	P50Us        int64
	P95Us        int64
	P99Us        int64
	MinUs        int64
	MaxUs        int64
	BeatPct      float64
}

// InsertSnapshots flattens each Snapshot's lead_vs map into one row per
// baseline, plus a rates-only row (Baseline == "") when a source has no
// baseline comparisons yet.
func (s *ClickhouseStore) InsertSnapshots(snaps []aggregator.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(context.Background(), "INSERT INTO shredlead.source_snapshots")
	if err != nil {
		return fmt.Errorf("snapshotstore: prepare batch: %w", err)
	}

	for _, snap := range snaps {
		base := snapshotRow{
			TNs:          snap.TNs,
			Source:       snap.Source,
			ShredsPerSec: snap.ShredsPerSec,
			TxsPerSec:    snap.TxsPerSec,
			FecRecovered: snap.FecRecovered,
		}
		if len(snap.LeadVs) == 0 {
			if err := batch.AppendStruct(&base); err != nil {
				return fmt.Errorf("snapshotstore: append row: %w", err)
			}
			continue
		}
		for baseline, lv := range snap.LeadVs {
			row := base
			row.Baseline = baseline
			row.Count = lv.Count
			row.MeanUs = lv.MeanUs
			row.P50Us = lv.P50Us
			row.P95Us = lv.P95Us
			row.P99Us = lv.P99Us
			row.MinUs = lv.MinUs
			row.MaxUs = lv.MaxUs
			row.BeatPct = lv.BeatPct
			if err := batch.AppendStruct(&row); err != nil {
				return fmt.Errorf("snapshotstore: append row: %w", err)
			}
		}
	}
	return batch.Send()
}
