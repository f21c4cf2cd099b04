package extractor

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/nucleus/bridge-sync/internal/model"
)

func writeTempLog(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "laravel.log")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp log: %v", err)
	}
	return path
}

func TestLaravelLogEmitsAllRecordsAndAdvancesToEOF(t *testing.T) {
	content := "[2024-01-01 00:00:00] production.INFO: first line\ncontinued\n" +
		"[2024-01-01 00:00:01] production.ERROR: second line\n" +
		"[2024-01-01 00:00:02] production.WARNING: third line\n"
	path := writeTempLog(t, content)

	mapping := &model.Mapping{
		ID: "applog",
		Source: model.Source{
			Kind:    model.SourceLaravelLog,
			LogFile: &model.LogFileSource{Path: path, MaxMemoryMB: 1},
		},
		Transfer: model.TransferParams{BatchSize: 10},
	}

	ext, err := newLaravelLog(mapping, noopLogger{})
	if err != nil {
		t.Fatalf("newLaravelLog: %v", err)
	}
	it, err := ext.Stream(context.Background(), mapping, model.Watermark{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var total int
	var lastWatermark string
	for it.Next(context.Background()) {
		b := it.Value()
		total += len(b.Records)
		lastWatermark = b.TentativeWatermark.Value
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected 3 records, got %d", total)
	}
	if lastWatermark != strconv.Itoa(len(content)) {
		t.Fatalf("expected final watermark %d, got %s", len(content), lastWatermark)
	}
}

func TestLaravelLogEmitsStructuredFields(t *testing.T) {
	content := "[2024-01-01 00:00:00] production.ERROR: something broke\ncontinuation line\n"
	path := writeTempLog(t, content)

	mapping := &model.Mapping{
		ID: "applog",
		Source: model.Source{
			Kind:    model.SourceLaravelLog,
			LogFile: &model.LogFileSource{Path: path, MaxMemoryMB: 1},
		},
		Transfer: model.TransferParams{BatchSize: 10},
	}

	ext, err := newLaravelLog(mapping, noopLogger{})
	if err != nil {
		t.Fatalf("newLaravelLog: %v", err)
	}
	it, err := ext.Stream(context.Background(), mapping, model.Watermark{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !it.Next(context.Background()) {
		t.Fatalf("expected a batch, iterator error: %v", it.Err())
	}
	b := it.Value()
	if len(b.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(b.Records))
	}
	rec := b.Records[0]
	if rec["log_date"] != "2024-01-01 00:00:00" {
		t.Fatalf("expected log_date, got %v", rec["log_date"])
	}
	if rec["environment"] != "production" {
		t.Fatalf("expected environment=production, got %v", rec["environment"])
	}
	if rec["type"] != "ERROR" {
		t.Fatalf("expected type=ERROR, got %v", rec["type"])
	}
	if rec["message"] != "something broke\ncontinuation line" {
		t.Fatalf("expected message body, got %q", rec["message"])
	}
}

func TestLaravelLogRotationResetsOffset(t *testing.T) {
	content := "[2024-01-01 00:00:00] production.INFO: only line\n"
	path := writeTempLog(t, content)

	mapping := &model.Mapping{
		ID: "applog",
		Source: model.Source{
			Kind:    model.SourceLaravelLog,
			LogFile: &model.LogFileSource{Path: path, MaxMemoryMB: 1},
		},
		Transfer: model.TransferParams{BatchSize: 10},
	}
	ext, err := newLaravelLog(mapping, noopLogger{})
	if err != nil {
		t.Fatalf("newLaravelLog: %v", err)
	}
	// Simulate a stale watermark pointing past the (rotated/truncated) file.
	it, err := ext.Stream(context.Background(), mapping, model.Watermark{Value: "99999"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	li, ok := it.(*logIterator)
	if !ok {
		t.Fatalf("expected *logIterator")
	}
	if !li.rotated {
		t.Fatalf("expected rotation to be detected")
	}
	if li.pos != 0 {
		t.Fatalf("expected offset reset to 0, got %d", li.pos)
	}
}
