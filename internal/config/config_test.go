package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nucleus/bridge-sync/internal/obslog"
)

func writeMapping(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("write mapping fixture: %v", err)
	}
}

func TestLoadMappingsSortsByIDAndAppliesDefaultBatchSize(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "zebra.json", `{
		"id": "zebra", "schema_slug": "zebra", "table": "animals",
		"source": {"type": "postgres", "host": "db", "port": 5432, "database": "app", "user": "svc", "secret_ref": "ZEBRA_PW"},
		"transfer": {"max_file_size_mb": 100, "retry_attempts": 3, "min_records_for_upload": 1, "incremental_mode": "full"}
	}`)
	writeMapping(t, dir, "alpha.json", `{
		"id": "alpha", "schema_slug": "alpha", "table": "users",
		"source": {"type": "mysql", "host": "db", "port": 3306, "database": "app", "user": "svc", "secret_ref": "ALPHA_PW"},
		"transfer": {"max_file_size_mb": 100, "retry_attempts": 3, "min_records_for_upload": 1, "incremental_mode": "full"}
	}`)

	mappings, err := LoadMappings(dir, obslog.Root())
	if err != nil {
		t.Fatalf("LoadMappings: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(mappings))
	}
	if mappings[0].ID != "alpha" || mappings[1].ID != "zebra" {
		t.Fatalf("expected sorted order alpha,zebra, got %s,%s", mappings[0].ID, mappings[1].ID)
	}
	if mappings[0].Transfer.BatchSize != 5000 {
		t.Fatalf("expected default batch size applied, got %d", mappings[0].Transfer.BatchSize)
	}
	if mappings[0].Source.Relational == nil || mappings[0].Source.Relational.Host != "db" {
		t.Fatalf("expected relational source decoded, got %+v", mappings[0].Source)
	}
}

func TestLoadMappingsSkipsInvalidFileButKeepsTheRest(t *testing.T) {
	dir := t.TempDir()
	writeMapping(t, dir, "bad.json", `{"schema_slug": "x", "table": "t"}`)
	writeMapping(t, dir, "good.json", `{
		"id": "good", "schema_slug": "good", "table": "users",
		"source": {"type": "mysql", "host": "db", "port": 3306, "database": "app", "user": "svc", "secret_ref": "GOOD_PW"},
		"transfer": {"max_file_size_mb": 100, "retry_attempts": 3, "min_records_for_upload": 1, "incremental_mode": "full"}
	}`)

	mappings, err := LoadMappings(dir, obslog.Root())
	if err != nil {
		t.Fatalf("expected the bad mapping to be skipped, not returned as an error: %v", err)
	}
	if len(mappings) != 1 || mappings[0].ID != "good" {
		t.Fatalf("expected only the good mapping to load, got %+v", mappings)
	}
}

func TestLoadMappingsOnMissingDirReturnsEmpty(t *testing.T) {
	mappings, err := LoadMappings(filepath.Join(t.TempDir(), "does-not-exist"), obslog.Root())
	if err != nil {
		t.Fatalf("expected no error for a missing mappings dir, got %v", err)
	}
	if len(mappings) != 0 {
		t.Fatalf("expected no mappings, got %d", len(mappings))
	}
}

func TestLoadRuntimeAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("BRIDGE_LOG_LEVEL", "DEBUG")
	t.Setenv("BRIDGE_DRY_RUN", "true")
	t.Setenv("BRIDGE_HTTP_TIMEOUT", "45")

	rt := LoadRuntime()
	if rt.LogLevel != "DEBUG" {
		t.Fatalf("expected DEBUG log level, got %s", rt.LogLevel)
	}
	if !rt.DryRun {
		t.Fatalf("expected dry run forced on")
	}
	if rt.HTTPTimeout.Seconds() != 45 {
		t.Fatalf("expected 45s timeout, got %s", rt.HTTPTimeout)
	}
}
