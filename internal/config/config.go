// Package config resolves the .bridge/ root, loads mapping definitions, and
// applies the environment-variable overrides named in spec §6. Mapping files
// are decoded straight into model.Mapping with encoding/json, which ignores
// unknown fields; a file without an id or one that fails Mapping.Validate is
// a ConfigInvalid error for that file. Being permissive about unknown fields
// and strict about required ones follows the teacher's
// internal/connector/minio config-loading convention.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

// Root is the resolved .bridge/ directory layout (spec §6).
type Root struct {
	Base        string
	MappingsDir string
	StatePath   string
	LogPath     string
	ScratchDir  string
}

// Runtime holds the environment-derived overrides layered on top of CLI
// flags (spec §6's BRIDGE_* variables).
type Runtime struct {
	LogLevel    string
	HTTPTimeout time.Duration
	DryRun      bool
}

// ResolveRoot honors BRIDGE_CONFIG_DIR, defaulting to ./.bridge.
func ResolveRoot() Root {
	base := os.Getenv("BRIDGE_CONFIG_DIR")
	if base == "" {
		base = ".bridge"
	}
	return Root{
		Base:        base,
		MappingsDir: filepath.Join(base, "config", "mappings"),
		StatePath:   filepath.Join(base, "state", "sync_state.json"),
		LogPath:     filepath.Join(base, "logs", "sync.log"),
		ScratchDir:  filepath.Join(base, "scratch"),
	}
}

// LoadRuntime applies BRIDGE_LOG_LEVEL, BRIDGE_HTTP_TIMEOUT, BRIDGE_DRY_RUN.
func LoadRuntime() Runtime {
	rt := Runtime{LogLevel: "INFO", HTTPTimeout: 30 * time.Second}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		rt.LogLevel = v
	}
	if v := os.Getenv("BRIDGE_HTTP_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			rt.HTTPTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("BRIDGE_DRY_RUN"); v != "" {
		rt.DryRun = v == "true"
	}
	return rt
}

// LoadMappings reads every *.json file under dir and validates each one.
// A malformed or invalid mapping file is logged and skipped rather than
// aborting the whole directory (spec §6/§4.1: a single mapping's failure
// must never keep the others from running), so the returned slice holds
// every mapping that parsed and validated cleanly, sorted by ID so
// sequential-mode runs are deterministic across invocations and for tests
// that assert on ordering. logger may be nil, in which case skipped files
// are dropped without a log line.
func LoadMappings(dir string, logger obslog.LoggerI) ([]*model.Mapping, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("read mappings dir: %w", err))
	}

	var mappings []*model.Mapping
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		m, err := loadMappingFile(path)
		if err != nil {
			if logger != nil {
				logger.Errorf("skipping mapping file %s: %v", path, err)
			}
			continue
		}
		mappings = append(mappings, m)
	}
	sort.Slice(mappings, func(i, j int) bool { return mappings[i].ID < mappings[j].ID })
	return mappings, nil
}

func loadMappingFile(path string) (*model.Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("read mapping file %s: %w", path, err))
	}

	var m model.Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("decode mapping file %s: %w", path, err))
	}
	if m.ID == "" {
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("mapping file %s: missing required field %q", path, "id"))
	}
	if m.Transfer.BatchSize == 0 {
		m.Transfer.BatchSize = model.DefaultBatchSize
	}
	if err := m.Validate(); err != nil {
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("mapping %q: %w", m.ID, err))
	}
	return &m, nil
}
