package batchwriter

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(t.TempDir(), obslog.Root())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	return w
}

func readArtifactLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	var lines []map[string]any
	for dec.More() {
		var m map[string]any
		if err := dec.Decode(&m); err != nil && err != io.EOF {
			t.Fatalf("decode line: %v", err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestWriteSingleArtifact(t *testing.T) {
	w := newTestWriter(t)
	mapping := &model.Mapping{ID: "users", Transfer: model.TransferParams{MaxFileSizeMB: 100}}
	batch := model.Batch{
		FieldOrder: []string{"id", "name"},
		Records: []model.Record{
			{"id": 1, "name": "alice"},
			{"id": 2, "name": "bob"},
		},
	}

	artifacts, err := w.Write(mapping, "run-1", batch)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}
	if artifacts[0].RecordCount != 2 {
		t.Fatalf("expected 2 records, got %d", artifacts[0].RecordCount)
	}

	lines := readArtifactLines(t, artifacts[0].Path)
	if len(lines) != 2 {
		t.Fatalf("expected 2 decoded lines, got %d", len(lines))
	}
}

func TestWriteReconcilesMissingFieldsWithNull(t *testing.T) {
	w := newTestWriter(t)
	mapping := &model.Mapping{ID: "users", Transfer: model.TransferParams{MaxFileSizeMB: 100}}
	batch := model.Batch{
		FieldOrder: []string{"id", "email"},
		Records: []model.Record{
			{"id": 1, "email": "a@example.com"},
			{"id": 2},
		},
	}
	artifacts, err := w.Write(mapping, "run-1", batch)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := readArtifactLines(t, artifacts[0].Path)
	if lines[1]["email"] != nil {
		t.Fatalf("expected null for absent field, got %v", lines[1]["email"])
	}
}

func TestWriteSplitsOnMaxFileSize(t *testing.T) {
	w := newTestWriter(t)
	mapping := &model.Mapping{ID: "users", Transfer: model.TransferParams{MaxFileSizeMB: 0}}
	// Force a tiny cap via direct field override after construction isn't
	// possible (MaxFileSizeMB<=0 means default 100MB); instead exercise the
	// splitting path with a cap expressed in bytes by constructing enough
	// records to exceed a deliberately small MaxFileSizeMB.
	mapping.Transfer.MaxFileSizeMB = 1
	records := make([]model.Record, 0, 20000)
	for i := 0; i < 20000; i++ {
		records = append(records, model.Record{"id": i, "payload": "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"})
	}
	batch := model.Batch{FieldOrder: []string{"id", "payload"}, Records: records}

	artifacts, err := w.Write(mapping, "run-1", batch)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(artifacts) < 2 {
		t.Fatalf("expected the batch to split into multiple artifacts, got %d", len(artifacts))
	}
	total := 0
	for _, a := range artifacts {
		total += a.RecordCount
	}
	if total != len(records) {
		t.Fatalf("expected %d total records across artifacts, got %d", len(records), total)
	}
}

func TestDiscardRemovesFile(t *testing.T) {
	w := newTestWriter(t)
	mapping := &model.Mapping{ID: "users", Transfer: model.TransferParams{MaxFileSizeMB: 100}}
	batch := model.Batch{FieldOrder: []string{"id"}, Records: []model.Record{{"id": 1}}}
	artifacts, err := w.Write(mapping, "run-1", batch)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Discard(artifacts[0]); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(artifacts[0].Path); !os.IsNotExist(err) {
		t.Fatalf("expected artifact to be removed")
	}
}
