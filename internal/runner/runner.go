// Package runner drives the per-mapping pipeline named in spec §4.1 and the
// concurrency model in spec §5: a bounded worker pool across mappings
// (golang.org/x/sync/errgroup, the same primitive the pack's other repos
// reach for alongside goroutine pools), strictly sequential extract → write
// → upload → commit within one mapping, and graceful stop-at-batch-boundary
// cancellation via context.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nucleus/bridge-sync/internal/batchwriter"
	"github.com/nucleus/bridge-sync/internal/extractor"
	"github.com/nucleus/bridge-sync/internal/metrics"
	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
	"github.com/nucleus/bridge-sync/internal/secrets"
	"github.com/nucleus/bridge-sync/internal/statestore"
	"github.com/nucleus/bridge-sync/internal/uploader"
)

// Options configures one invocation of Run (spec §6's sync subcommand).
type Options struct {
	Parallelism int
	DryRun      bool
	Force       bool
	RunID       string
}

// Runner ties every subsystem together for one `sync` invocation.
type Runner struct {
	state    *statestore.Store
	writer   *batchwriter.Writer
	upload   *uploader.Uploader
	secrets  secrets.Resolver
	metrics  *metrics.Sink
	logger   obslog.LoggerI
}

func New(state *statestore.Store, writer *batchwriter.Writer, upload *uploader.Uploader, resolver secrets.Resolver, sink *metrics.Sink, logger obslog.LoggerI) *Runner {
	return &Runner{state: state, writer: writer, upload: upload, secrets: resolver, metrics: sink, logger: logger.Child("runner")}
}

// Run executes mappings under a bounded worker pool, returning a RunReport
// with one outcome per mapping that was attempted.
func (r *Runner) Run(ctx context.Context, mappings []*model.Mapping, opts Options) model.RunReport {
	report := model.RunReport{Outcomes: make(map[string]model.MappingOutcome)}
	var mu sync.Mutex

	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	// runMapping never itself returns a non-nil error — a failed mapping
	// becomes a Failed outcome, not a goroutine error — so gctx only ever
	// cancels in step with the caller's own ctx (e.g. on SIGINT), never as
	// a side effect of one mapping's failure cancelling its siblings.
	for _, m := range mappings {
		m := m
		g.Go(func() error {
			outcome := r.runMapping(gctx, m, opts)
			mu.Lock()
			report.Outcomes[m.ID] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (r *Runner) runMapping(ctx context.Context, m *model.Mapping, opts Options) model.MappingOutcome {
	start := time.Now()
	log := r.logger.Child(m.ID)

	if opts.Force {
		if err := r.state.Reset(m.ID); err != nil {
			return model.MappingOutcome{Failed: &model.FailedOutcome{ErrorKind: model.CodeStateCorrupt, Message: err.Error()}}
		}
	}

	ext, err := extractor.New(m, log)
	if err != nil {
		return r.failAndPersist(m, opts, err, 0)
	}

	if err := r.openExtractor(ctx, ext, m); err != nil {
		return r.failAndPersist(m, opts, err, 0)
	}
	defer ext.Close()

	runState := r.state.Get(m.ID)
	if opts.Force {
		// The first query after --force must use >= rather than > so the
		// row sitting exactly at the (now-empty) watermark isn't skipped.
		runState.Watermark.Inclusive = true
	}
	iter, err := ext.Stream(ctx, m, runState.Watermark)
	if err != nil {
		return r.failAndPersist(m, opts, err, runState.RecordsUploadedTotal)
	}
	defer iter.Close()

	var totalRecords, totalBatches int
	var totalBytes int64

	for iter.Next(ctx) {
		select {
		case <-ctx.Done():
			return r.failAndPersist(m, opts, model.Wrap(model.CodeCancelled, false, fmt.Errorf("cancelled at batch boundary")), runState.RecordsUploadedTotal)
		default:
		}

		batch := iter.Value()
		outcome, bytesUploaded, err := r.processBatch(ctx, ext, m, batch, opts, &runState)
		if err != nil {
			return r.failAndPersist(m, opts, err, runState.RecordsUploadedTotal)
		}
		if outcome != nil {
			// Skipped{low_volume}: stop this mapping's run here, per spec
			// §4.4 — watermark progress is blocked until enough records
			// accumulate on a future run.
			return *outcome
		}

		// Once the first batch has used the inclusive boundary, every
		// subsequent query in this run reverts to the exclusive (>) form.
		runState.Watermark.Inclusive = false

		totalRecords += len(batch.Records)
		totalBatches++
		totalBytes += bytesUploaded
		r.metrics.AddRecordsExtracted(len(batch.Records))
	}
	if err := iter.Err(); err != nil {
		return r.failAndPersist(m, opts, err, runState.RecordsUploadedTotal)
	}

	r.metrics.MarkMappingSucceeded()
	return model.MappingOutcome{Succeeded: &model.SucceededOutcome{
		Records:  int64(totalRecords),
		Batches:  totalBatches,
		Bytes:    totalBytes,
		Duration: time.Since(start),
	}}
}

// processBatch writes, (maybe) uploads, and commits one batch. A non-nil
// *model.MappingOutcome return means the mapping's run stops here (the
// min-records guard); a non-nil error means the mapping failed outright.
func (r *Runner) processBatch(ctx context.Context, ext extractor.Extractor, m *model.Mapping, batch model.Batch, opts Options, runState *model.RunState) (*model.MappingOutcome, int64, error) {
	artifacts, err := r.writer.Write(m, opts.RunID, batch)
	if err != nil {
		return nil, 0, err
	}
	for range artifacts {
		r.metrics.AddArtifactWritten()
	}

	totalRecords := 0
	for _, a := range artifacts {
		totalRecords += a.RecordCount
	}

	if opts.DryRun {
		for _, a := range artifacts {
			_ = r.writer.Discard(a)
		}
		return nil, 0, nil
	}

	if totalRecords < m.Transfer.MinRecordsForUpload {
		for _, a := range artifacts {
			_ = r.writer.Discard(a)
		}
		r.metrics.MarkMappingSkipped()
		outcome := model.MappingOutcome{Skipped: &model.SkippedOutcome{Reason: model.SkipLowVolume}}
		return &outcome, 0, nil
	}

	var batchBytes int64
	for _, a := range artifacts {
		receipt, err := r.upload.Put(ctx, m, a, batch.TentativeWatermark.Value)
		if err != nil {
			_ = r.writer.Discard(a)
			return nil, 0, err
		}
		batchBytes += receipt.Bytes
		_ = r.writer.Discard(a)
		r.metrics.AddRecordsUploaded(a.RecordCount)
		r.metrics.AddBytesUploaded(receipt.Bytes)
	}

	runState.Watermark = batch.TentativeWatermark
	now := time.Now()
	runState.LastSuccessAt = &now
	runState.LastRunID = opts.RunID
	runState.LastError = ""
	runState.RecordsUploadedTotal += int64(totalRecords)
	if err := r.state.Put(m.ID, *runState); err != nil {
		return nil, 0, err
	}

	if m.Transfer.DeleteAfterUpload {
		if err := r.deleteUploadedRecords(ctx, ext, m, batch); err != nil {
			r.logger.Warnf("delete_after_upload failed for mapping %s: %v", m.ID, err)
		}
	}

	return nil, batchBytes, nil
}

func (r *Runner) deleteUploadedRecords(ctx context.Context, ext extractor.Extractor, m *model.Mapping, batch model.Batch) error {
	if !m.Transfer.DeleteSafety.Enabled {
		r.logger.Warnf("mapping %s: delete_after_upload set but delete_safety.enabled is false; refusing delete", m.ID)
		return nil
	}
	deleter, ok := ext.(extractor.Deleter)
	if !ok {
		return fmt.Errorf("mapping %s: source does not support delete_after_upload", m.ID)
	}
	values := make([]string, 0, len(batch.Records))
	for _, rec := range batch.Records {
		if v, ok := rec[m.PrimaryKey]; ok {
			values = append(values, fmt.Sprintf("%v", v))
		}
	}
	return deleter.DeleteByKey(ctx, m.Transfer.DeleteSafety.WhereColumn, values)
}

func (r *Runner) openExtractor(ctx context.Context, ext extractor.Extractor, m *model.Mapping) error {
	if m.Source.Relational == nil {
		return ext.Open(ctx)
	}
	type secretOpener interface {
		OpenWithSecret(ctx context.Context, password string) error
	}
	opener, ok := ext.(secretOpener)
	if !ok {
		return ext.Open(ctx)
	}
	password, err := r.secrets.Resolve(ctx, m.Source.Relational.SecretRef)
	if err != nil {
		return err
	}
	return opener.OpenWithSecret(ctx, password)
}

// failAndPersist commits last_error/last_run_id for m to the StateStore
// before returning a Failed outcome, so a mapping's RunState reflects its
// failure on disk (spec §4.5) even when the run never reaches a successful
// batch commit.
func (r *Runner) failAndPersist(m *model.Mapping, opts Options, err error, uploadedBefore int64) model.MappingOutcome {
	outcome := failedOutcome(err, uploadedBefore)

	state := r.state.Get(m.ID)
	state.LastError = string(outcome.Failed.ErrorKind)
	state.LastRunID = opts.RunID
	if putErr := r.state.Put(m.ID, state); putErr != nil {
		r.logger.Warnf("mapping %s: failed to persist last_error: %v", m.ID, putErr)
	}

	return outcome
}

func failedOutcome(err error, uploadedBefore int64) model.MappingOutcome {
	code := model.CodeTransient
	if ce, ok := err.(model.CodedError); ok {
		code = model.ErrorCode(ce.CodeValue())
	}
	return model.MappingOutcome{Failed: &model.FailedOutcome{
		ErrorKind:                    code,
		Message:                      err.Error(),
		RecordsUploadedBeforeFailure: uploadedBefore,
	}}
}
