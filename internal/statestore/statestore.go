// Package statestore persists per-mapping RunState to a single JSON file
// under .bridge/state/ (spec §6). Grounded on the teacher's
// pkg/staging/object_provider.go: a mutex-guarded writer that serializes one
// logical document at a time, plus its write-to-temp-then-rename discipline
// for crash safety, and on internal/connector/minio/errors.go's coded-error
// idiom for StateCorrupt.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

const fileMode = 0o644

// document is the on-disk shape: one RunState per mapping ID, stored at
// .bridge/state/sync_state.json (config.ResolveRoot's StatePath).
type document struct {
	Mappings map[string]model.RunState `json:"mappings"`
}

// Store is a single-file, mutex-guarded RunState store. One Store instance
// is shared by every mapping in a run; callers never need their own locking.
type Store struct {
	path   string
	logger obslog.LoggerI

	mu  sync.Mutex
	doc document
}

// Open loads path if it exists, quarantining and starting fresh if the file
// is present but unparseable (spec §7: StateCorrupt is reported, never
// silently discarded — the corrupt file is kept alongside the fresh one).
func Open(path string, logger obslog.LoggerI) (*Store, error) {
	logger = logger.Child("statestore")
	s := &Store{path: path, logger: logger, doc: document{Mappings: make(map[string]model.RunState)}}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, model.Wrap(model.CodeStateCorrupt, false, fmt.Errorf("read state file: %w", err))
	}
	if len(data) == 0 {
		return s, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		quarantined := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UnixNano())
		if renameErr := os.Rename(path, quarantined); renameErr != nil {
			return nil, model.Wrap(model.CodeStateCorrupt, false, fmt.Errorf("quarantine corrupt state: %w (original parse error: %v)", renameErr, err))
		}
		logger.Warnf("state file %s was corrupt, quarantined to %s, starting fresh", path, quarantined)
		return s, nil
	}
	if doc.Mappings == nil {
		doc.Mappings = make(map[string]model.RunState)
	}
	s.doc = doc
	return s, nil
}

// Get returns the stored RunState for mappingID, or the zero value (an
// empty watermark, per spec §4.2's first-run behavior) if none exists yet.
func (s *Store) Get(mappingID string) model.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Mappings[mappingID]
}

// Put replaces the stored RunState for mappingID and flushes the whole
// document to disk via write-to-temp-then-rename, so a crash mid-write never
// leaves a half-written file behind.
func (s *Store) Put(mappingID string, state model.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Mappings[mappingID] = state
	return s.flushLocked()
}

// Reset clears the stored watermark and last_error for mappingID (the CLI's
// --force flag, spec §4.5/§6), leaving LastSuccessAt/LastRunID untouched so
// status reporting can still show when the mapping last ran.
func (s *Store) Reset(mappingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.doc.Mappings[mappingID]
	state.Watermark = model.Watermark{}
	state.LastError = ""
	s.doc.Mappings[mappingID] = state
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename temp state: %w", err)
	}
	return nil
}
