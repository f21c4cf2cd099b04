package model

import "time"

// Watermark is the totally ordered, string-encoded scalar bounding the next
// extraction query (spec §3). Inclusive distinguishes the first query after
// a --force reset (>=) from every subsequent one (>), so the boundary row
// emitted just before a crash is never silently re-skipped nor duplicated
// for incremental_timestamp mode.
type Watermark struct {
	Value     string `json:"value"`
	Inclusive bool   `json:"inclusive"`
}

// Empty reports whether the watermark has never advanced (full mode, or a
// freshly reset mapping).
func (w Watermark) Empty() bool { return w.Value == "" }

// Record is one extracted row: field name to JSON scalar or object.
type Record map[string]interface{}

// Batch is an ordered, finite sequence of records produced by one Extractor
// call, plus the tentative watermark computed over it (spec §4.2: the
// Extractor never writes to the StateStore directly).
type Batch struct {
	Records           []Record
	FieldOrder        []string
	TentativeWatermark Watermark
}

// RunState is the per-mapping persisted record (spec §3), mutated only by
// the StateStore.
type RunState struct {
	Watermark          Watermark  `json:"watermark"`
	LastSuccessAt      *time.Time `json:"last_success_at,omitempty"`
	LastError          string     `json:"last_error,omitempty"`
	LastRunID          string     `json:"last_run_id,omitempty"`
	RecordsUploadedTotal int64    `json:"records_uploaded_total"`
}

// TransferArtifact is the ephemeral scratch file described in spec §3,
// exclusively owned by the Uploader from creation to deletion or retention.
type TransferArtifact struct {
	Path        string
	MappingID   string
	RunID       string
	Seq         int
	RecordCount int
	Bytes       int64
}

// SkipReason enumerates why a MappingOutcome is Skipped without error.
type SkipReason string

const (
	SkipLowVolume SkipReason = "low_volume"
	SkipNoMatch   SkipReason = "no_match"
)

// MappingOutcome is the closed variant over what happened to one mapping
// during a run (spec §4.1).
type MappingOutcome struct {
	Succeeded *SucceededOutcome
	Skipped   *SkippedOutcome
	Failed    *FailedOutcome
}

type SucceededOutcome struct {
	Records  int64
	Batches  int
	Bytes    int64
	Duration time.Duration
}

type SkippedOutcome struct {
	Reason SkipReason
}

type FailedOutcome struct {
	ErrorKind                   ErrorCode
	Message                     string
	RecordsUploadedBeforeFailure int64
}

// RunReport is the Runner's return value: mapping id to outcome.
// ExitCode maps a RunReport to the CLI exit code documented in spec §6: 0
// all succeeded, 2 partial failure, 3 configuration error, 4 no mappings
// matched, 130 cancelled. ConfigError is set by the caller when mapping load
// itself failed, before any mapping ran (so Outcomes is necessarily empty in
// that case too — the caller must check ConfigError before the empty-report
// case to tell a real configuration error apart from "nothing matched").
type RunReport struct {
	Outcomes    map[string]MappingOutcome
	ConfigError bool
}

func (r RunReport) ExitCode() int {
	if r.ConfigError {
		return 3
	}
	if len(r.Outcomes) == 0 {
		return 4
	}
	sawFailure := false
	for _, o := range r.Outcomes {
		if o.Failed != nil {
			if o.Failed.ErrorKind == CodeCancelled {
				return 130
			}
			sawFailure = true
		}
	}
	if sawFailure {
		return 2
	}
	return 0
}
