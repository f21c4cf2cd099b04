// Package metrics implements the MetricsSink named in spec §4.6: per-run
// counters the Runner increments as it processes mappings. The counters are
// read through Snapshot; they are not copied into the RunReport.
// There is no external exporter in this spec (no Prometheus registry, no
// StatsD client) so this is one of the few packages built on the standard
// library alone — see DESIGN.md for why no pack dependency fits a sink with
// no remote destination.
package metrics

import "sync/atomic"

// Sink accumulates counters across every mapping in one run. All methods are
// safe for concurrent use by the Runner's parallel workers.
type Sink struct {
	recordsExtracted atomic.Int64
	recordsUploaded  atomic.Int64
	bytesUploaded    atomic.Int64
	artifactsWritten atomic.Int64
	mappingsSucceeded atomic.Int64
	mappingsFailed    atomic.Int64
	mappingsSkipped   atomic.Int64
}

func New() *Sink { return &Sink{} }

func (s *Sink) AddRecordsExtracted(n int)   { s.recordsExtracted.Add(int64(n)) }
func (s *Sink) AddRecordsUploaded(n int)     { s.recordsUploaded.Add(int64(n)) }
func (s *Sink) AddBytesUploaded(n int64)     { s.bytesUploaded.Add(n) }
func (s *Sink) AddArtifactWritten()          { s.artifactsWritten.Add(1) }
func (s *Sink) MarkMappingSucceeded()        { s.mappingsSucceeded.Add(1) }
func (s *Sink) MarkMappingFailed()           { s.mappingsFailed.Add(1) }
func (s *Sink) MarkMappingSkipped()          { s.mappingsSkipped.Add(1) }

// Snapshot is an immutable read of the sink's counters at one instant.
type Snapshot struct {
	RecordsExtracted  int64
	RecordsUploaded   int64
	BytesUploaded     int64
	ArtifactsWritten  int64
	MappingsSucceeded int64
	MappingsFailed    int64
	MappingsSkipped   int64
}

func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		RecordsExtracted:  s.recordsExtracted.Load(),
		RecordsUploaded:   s.recordsUploaded.Load(),
		BytesUploaded:     s.bytesUploaded.Load(),
		ArtifactsWritten:  s.artifactsWritten.Load(),
		MappingsSucceeded: s.mappingsSucceeded.Load(),
		MappingsFailed:    s.mappingsFailed.Load(),
		MappingsSkipped:   s.mappingsSkipped.Load(),
	}
}
