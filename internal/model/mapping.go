package model

import (
	"encoding/json"
	"fmt"
)

// SourceKind is the closed tagged variant over extractor capability (spec §9
// Design Notes: "favor a tagged enum over open inheritance").
type SourceKind string

const (
	SourceMysql      SourceKind = "mysql"
	SourcePostgres   SourceKind = "postgres"
	SourceLaravelLog SourceKind = "log_file"
)

// IncrementalMode selects how the Extractor bounds its query by watermark.
type IncrementalMode string

const (
	ModeFull                  IncrementalMode = "full"
	ModeIncrementalPK         IncrementalMode = "incremental_pk"
	ModeIncrementalTimestamp  IncrementalMode = "incremental_timestamp"
)

// RelationalSource describes a {mysql, postgres} connection. Secret is
// resolved at run start via the external secrets.Resolver; the plaintext lives
// only for the duration of the run (spec §3).
type RelationalSource struct {
	Kind      SourceKind `json:"type"`
	Host      string     `json:"host"`
	Port      int        `json:"port"`
	Database  string     `json:"database"`
	User      string     `json:"user"`
	SecretRef string     `json:"secret_ref"`
}

// LogFileSource describes a Laravel-style log on the local filesystem.
type LogFileSource struct {
	Path        string `json:"path"`
	MaxMemoryMB int     `json:"max_memory_mb"`
}

// Source is the variant over {relational(mysql|postgres), log_file}. It is
// flattened into the mapping file's top-level "source" object: Kind plus
// whichever of Relational/LogFile's fields matter for that kind, all read
// from the same JSON object via UnmarshalJSON.
type Source struct {
	Kind       SourceKind
	Relational *RelationalSource
	LogFile    *LogFileSource
}

// UnmarshalJSON discriminates on "type" and populates exactly one of
// Relational or LogFile from the remaining fields of the same object (spec
// §3's Source variant, flattened on the wire rather than nested).
func (s *Source) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type SourceKind `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	s.Kind = probe.Type
	switch probe.Type {
	case SourceMysql, SourcePostgres:
		var rs RelationalSource
		if err := json.Unmarshal(data, &rs); err != nil {
			return err
		}
		rs.Kind = probe.Type
		s.Relational = &rs
	case SourceLaravelLog:
		var lf LogFileSource
		if err := json.Unmarshal(data, &lf); err != nil {
			return err
		}
		s.LogFile = &lf
	}
	return nil
}

// DeleteSafety gates the Uploader's post-upload source purge (spec §4.4, §9
// Open Questions: enabled is a hard precondition, not a polish item).
type DeleteSafety struct {
	Enabled     bool   `json:"enabled"`
	WhereColumn string `json:"where_column"`
}

// TransferParams are the per-mapping knobs named in spec §3.
type TransferParams struct {
	BatchSize           int             `json:"batch_size"`
	MaxFileSizeMB       int             `json:"max_file_size_mb"`
	RetryAttempts       int             `json:"retry_attempts"`
	MinRecordsForUpload int             `json:"min_records_for_upload"`
	IncrementalMode     IncrementalMode `json:"incremental_mode"`
	OrderBy             string          `json:"order_by"`
	DeleteAfterUpload   bool            `json:"delete_after_upload"`
	DeleteSafety        DeleteSafety    `json:"delete_safety"`
}

// DefaultBatchSize resolves the spec §9 Open Question in favor of 5000 (one
// of two conflicting defaults in the source documentation).
const DefaultBatchSize = 5000

// Mapping is the immutable per-run unit described in spec §3.
type Mapping struct {
	ID              string         `json:"id"`
	SchemaSlug      string         `json:"schema_slug"`
	Source          Source         `json:"source"`
	Query           string         `json:"query"`
	Table           string         `json:"table"`
	PrimaryKey      string         `json:"primary_key"`
	TimestampColumn string         `json:"timestamp_column"`
	Transfer        TransferParams `json:"transfer"`
}

// Validate enforces the well-formedness invariant from spec §3: exactly one
// of query/table is set, batch_size >= 1, and primary_key is required under
// incremental_pk. A failure here is a ConfigInvalid, fatal for the mapping
// and surfaced before any network or DB activity — the same contract the
// teacher's Config.Validate() in internal/connector/minio/config.go returns
// as a structured result rather than a bare error.
func (m *Mapping) Validate() error {
	hasQuery := m.Query != ""
	hasTable := m.Table != ""
	if hasQuery == hasTable {
		return Wrap(CodeConfigInvalid, false, fmt.Errorf("mapping %q: exactly one of query or table must be set", m.ID))
	}
	if m.Transfer.BatchSize < 1 {
		return Wrap(CodeConfigInvalid, false, fmt.Errorf("mapping %q: batch_size must be >= 1, got %d", m.ID, m.Transfer.BatchSize))
	}
	if m.Transfer.IncrementalMode == ModeIncrementalPK && m.PrimaryKey == "" {
		return Wrap(CodeConfigInvalid, false, fmt.Errorf("mapping %q: primary_key is required under incremental_pk", m.ID))
	}
	switch m.Source.Kind {
	case SourceMysql, SourcePostgres:
		if m.Source.Relational == nil {
			return Wrap(CodeConfigInvalid, false, fmt.Errorf("mapping %q: relational source fields missing for kind %s", m.ID, m.Source.Kind))
		}
	case SourceLaravelLog:
		if m.Source.LogFile == nil {
			return Wrap(CodeConfigInvalid, false, fmt.Errorf("mapping %q: log_file fields missing for kind %s", m.ID, m.Source.Kind))
		}
	default:
		return Wrap(CodeConfigInvalid, false, fmt.Errorf("mapping %q: unknown source kind %q", m.ID, m.Source.Kind))
	}
	return nil
}
