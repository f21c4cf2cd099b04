// Package batchwriter converts extracted record batches into gzip-compressed
// NDJSON artifacts on the scratch directory, grounded on the teacher's
// pkg/staging/object_provider.go (deterministic batch-file naming) and
// internal/connector/minio/staging_provider.go's encodeEnvelopes (gzip
// writer with an explicit, non-deferred Close to capture flush errors).
package batchwriter

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

const defaultMaxFileSizeMB = 100

// Writer serializes batches into {mapping_id}.{run_id}.{seq}.jsonl.gz
// artifacts (spec §3, §4.3). Sequence numbers are continuous across every
// batch written for one (mapping, run) pair, so a single logical batch that
// spills into several files never reuses a seq the run has already used.
type Writer struct {
	scratchDir string
	logger     obslog.LoggerI

	mu   sync.Mutex
	seqs map[string]int
}

// NewWriter creates a Writer rooted at scratchDir, created if absent.
func NewWriter(scratchDir string, logger obslog.LoggerI) (*Writer, error) {
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Writer{scratchDir: scratchDir, logger: logger.Child("batchwriter"), seqs: make(map[string]int)}, nil
}

func (w *Writer) nextSeq(key string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	seq := w.seqs[key]
	w.seqs[key] = seq + 1
	return seq
}

// Write splits batch into one or more gzip NDJSON artifacts, closing the
// current file and opening the next whenever appending the next record
// would push the uncompressed byte counter past max_file_size_mb (spec
// §4.3 "Splitting"). Dry-run handling lives in the Runner: this method
// always produces real files so the caller can report {path, size,
// record_count} before discarding them.
func (w *Writer) Write(mapping *model.Mapping, runID string, batch model.Batch) ([]*model.TransferArtifact, error) {
	if len(batch.Records) == 0 {
		return nil, nil
	}

	maxBytes := int64(mapping.Transfer.MaxFileSizeMB) * 1 << 20
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileSizeMB << 20
	}
	key := mapping.ID + "." + runID

	var artifacts []*model.TransferArtifact
	var cur *openArtifact

	openNext := func() error {
		seq := w.nextSeq(key)
		path := filepath.Join(w.scratchDir, fmt.Sprintf("%s.%s.%d.jsonl.gz", mapping.ID, runID, seq))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create artifact: %w", err)
		}
		cur = &openArtifact{
			path: path,
			seq:  seq,
			file: f,
			gz:   gzip.NewWriter(f),
		}
		return nil
	}

	closeCurrent := func() error {
		if cur == nil {
			return nil
		}
		// No defer here: closing explicitly captures the gzip flush error,
		// matching the teacher's encodeEnvelopes.
		if err := cur.gz.Close(); err != nil {
			_ = cur.file.Close()
			return fmt.Errorf("flush gzip: %w", err)
		}
		if err := cur.file.Close(); err != nil {
			return fmt.Errorf("close artifact: %w", err)
		}
		info, err := os.Stat(cur.path)
		var size int64
		if err == nil {
			size = info.Size()
		}
		artifacts = append(artifacts, &model.TransferArtifact{
			Path:        cur.path,
			MappingID:   mapping.ID,
			RunID:       runID,
			Seq:         cur.seq,
			RecordCount: cur.count,
			Bytes:       size,
		})
		cur = nil
		return nil
	}

	if err := openNext(); err != nil {
		return nil, err
	}

	for _, rec := range batch.Records {
		line, err := encodeRecordLine(rec, batch.FieldOrder)
		if err != nil {
			_ = closeCurrent()
			return artifacts, err
		}

		if cur.uncompressedBytes > 0 && cur.uncompressedBytes+int64(len(line))+1 > maxBytes {
			if err := closeCurrent(); err != nil {
				return artifacts, err
			}
			if err := openNext(); err != nil {
				return artifacts, err
			}
		}

		if _, err := cur.gz.Write(line); err != nil {
			_ = closeCurrent()
			return artifacts, fmt.Errorf("write record: %w", err)
		}
		if _, err := cur.gz.Write([]byte("\n")); err != nil {
			_ = closeCurrent()
			return artifacts, fmt.Errorf("write newline: %w", err)
		}
		cur.uncompressedBytes += int64(len(line)) + 1
		cur.count++
	}

	if err := closeCurrent(); err != nil {
		return artifacts, err
	}
	return artifacts, nil
}

// Discard removes an artifact's file, used for the dry-run report path and
// for the min-records-for-upload skip (spec §4.3, §4.4).
func (w *Writer) Discard(artifact *model.TransferArtifact) error {
	if artifact == nil {
		return nil
	}
	err := os.Remove(artifact.Path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

type openArtifact struct {
	path              string
	seq               int
	file              *os.File
	gz                *gzip.Writer
	uncompressedBytes int64
	count             int
}
