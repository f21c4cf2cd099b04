// Package extractor implements the source side of the sync pipeline: a
// closed tagged variant over {mysql, postgres, log_file} behind a small
// capability interface (spec §9 Design Notes favor a tagged enum over open
// inheritance, unlike the teacher's internal/endpoint.DefaultRegistry()).
package extractor

import (
	"context"
	"fmt"

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

// BatchIterator is the finite, non-restartable lazy sequence of batches the
// Extractor's Stream call returns (spec §4.2 contract).
type BatchIterator interface {
	Next(ctx context.Context) bool
	Value() model.Batch
	Err() error
	Close() error
}

// Extractor is the capability set named in spec §9: open, stream, close.
type Extractor interface {
	Open(ctx context.Context) error
	Stream(ctx context.Context, mapping *model.Mapping, watermark model.Watermark) (BatchIterator, error)
	Close() error
}

// Deleter is an optional capability: relational sources support the
// delete_after_upload transfer param (spec §4.4 point 4), log files do not.
// The Runner type-asserts for this rather than widening Extractor, so a
// log-file source is never asked to delete anything.
type Deleter interface {
	DeleteByKey(ctx context.Context, column string, values []string) error
}

// New builds the Extractor matching the mapping's source kind. This is a
// closed switch, not an open factory registry, by design (spec §9).
func New(mapping *model.Mapping, logger obslog.LoggerI) (Extractor, error) {
	switch mapping.Source.Kind {
	case model.SourcePostgres:
		return newPostgres(mapping, logger)
	case model.SourceMysql:
		return newMysql(mapping, logger)
	case model.SourceLaravelLog:
		return newLaravelLog(mapping, logger)
	default:
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("unsupported source kind %q", mapping.Source.Kind))
	}
}
