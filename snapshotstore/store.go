// Package snapshotstore durably persists MetricsAggregator snapshots to
// ClickHouse, as an optional sink beside the JSONL snapshot log.
package snapshotstore

import "shredlead/aggregator"

// Store is the durable sink contract for aggregator snapshots.
type Store interface {
	Close() error
	CreateTables() error
	InsertSnapshots(snaps []aggregator.Snapshot) error
}
