package extractor

import (
	"strings"
	"testing"

	"github.com/nucleus/bridge-sync/internal/model"
)

func testMapping(mode model.IncrementalMode) *model.Mapping {
	return &model.Mapping{
		ID:              "users",
		Table:           "users",
		PrimaryKey:      "id",
		TimestampColumn: "updated_at",
		Transfer: model.TransferParams{
			BatchSize:       200,
			IncrementalMode: mode,
			OrderBy:         "id ASC",
		},
	}
}

func TestBuildQueryIncrementalPK(t *testing.T) {
	m := testMapping(model.ModeIncrementalPK)
	q, args, err := buildQuery(m, model.Watermark{Value: "400"}, 200, questionPlaceholder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q, "WHERE id > ?") {
		t.Fatalf("expected strict greater-than clause, got %q", q)
	}
	if len(args) != 2 || args[0] != "400" || args[1] != 200 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildQueryIncrementalPKEmptyWatermark(t *testing.T) {
	m := testMapping(model.ModeIncrementalPK)
	q, args, err := buildQuery(m, model.Watermark{}, 200, questionPlaceholder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(q, "WHERE") {
		t.Fatalf("expected no WHERE clause on empty watermark, got %q", q)
	}
	if len(args) != 1 || args[0] != 200 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestBuildQueryIncrementalTimestampInclusive(t *testing.T) {
	m := testMapping(model.ModeIncrementalTimestamp)
	q, _, err := buildQuery(m, model.Watermark{Value: "2024-01-01T00:00:00.000Z", Inclusive: true}, 200, dollarPlaceholder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q, ">= $1") {
		t.Fatalf("expected inclusive clause right after force-reset, got %q", q)
	}
}

func TestBuildQueryFull(t *testing.T) {
	m := testMapping(model.ModeFull)
	q, args, err := buildQuery(m, model.Watermark{}, 200, questionPlaceholder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if args != nil {
		t.Fatalf("expected no bound args for full scan, got %v", args)
	}
	if !strings.HasSuffix(q, "ORDER BY id ASC") {
		t.Fatalf("expected order_by applied, got %q", q)
	}
}

func TestBuildCustomQuerySubstitution(t *testing.T) {
	m := &model.Mapping{
		ID:    "custom",
		Query: "SELECT * FROM events WHERE ts > :w LIMIT :n",
		Transfer: model.TransferParams{BatchSize: 50},
	}
	q, args, err := buildQuery(m, model.Watermark{Value: "99"}, 50, dollarPlaceholder)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != "SELECT * FROM events WHERE ts > $1 LIMIT $2" {
		t.Fatalf("unexpected substituted query: %q", q)
	}
	if len(args) != 2 || args[0] != "99" || args[1] != 50 {
		t.Fatalf("unexpected args: %v", args)
	}
}
