// Package snapshotlog appends MetricsAggregator snapshots as newline-
// delimited JSON, one object per line, matching spec.md §6's metrics log
// schema exactly.
package snapshotlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"shredlead/aggregator"
)

// Writer is an append-only JSONL sink. Safe for concurrent Write calls,
// though in practice the pipeline's single metrics-tick goroutine is the
// only caller.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// Open appends to (creating if absent) the JSONL file at path.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("snapshotlog: open %s: %w", path, err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f)}, nil
}

// Write appends one snapshot as a single JSON line.
func (w *Writer) Write(snap aggregator.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(snap)
}

// WriteAll appends each snapshot in order.
func (w *Writer) WriteAll(snaps []aggregator.Snapshot) error {
	for _, s := range snaps {
		if err := w.Write(s); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
