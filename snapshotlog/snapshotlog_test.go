package snapshotlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"shredlead/aggregator"
)

func TestWriteAppendsOneJSONLinePerSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.jsonl")
	w, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	snaps := []aggregator.Snapshot{
		{TNs: 1, Source: "shredA", ShredsPerSec: 100},
		{TNs: 2, Source: "shredA", ShredsPerSec: 200},
	}
	if err := w.WriteAll(snaps); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		var snap aggregator.Snapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			t.Fatalf("line %d: unmarshal: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines = %d, want 2", lines)
	}
}
