package extractor

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

// sqlBase is the generic relational extractor, adapted from the teacher's
// internal/connector/jdbc.Base: open the pool, stream rows, classify
// failures. Vendor connectors (postgres.go, mysql.go) wrap it with their own
// DSN and placeholder syntax rather than overriding query shape.
type sqlBase struct {
	db          *sql.DB
	driverName  string
	placeholder Placeholder
	logger      obslog.LoggerI
}

func (b *sqlBase) Open(ctx context.Context, driverName, dsn string) error {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return model.Wrap(model.CodeSourceUnavailable, true, fmt.Errorf("open %s: %w", driverName, err))
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	policy := backoff.WithMaxRetries(connectBackoff(), 3)
	pingErr := backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, policy, func(err error, wait time.Duration) {
		b.logger.Warnf("source unavailable, retrying in %s: %v", wait, err)
	})
	if pingErr != nil {
		_ = db.Close()
		return model.Wrap(model.CodeSourceUnavailable, false, pingErr)
	}

	b.db = db
	b.driverName = driverName
	return nil
}

func (b *sqlBase) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// deleteByKey issues a single DELETE ... WHERE column IN (...) statement,
// backing the delete_after_upload transfer param (spec §4.4 point 4). The
// caller (Runner) only invokes this after delete_safety.enabled is true and
// the upload has already been committed.
func (b *sqlBase) deleteByKey(ctx context.Context, table, column string, values []string) error {
	if len(values) == 0 {
		return nil
	}
	placeholders := make([]string, len(values))
	args := make([]interface{}, len(values))
	for i, v := range values {
		placeholders[i] = b.placeholder(i + 1)
		args[i] = v
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, column, strings.Join(placeholders, ", "))

	policy := backoff.WithMaxRetries(transientBackoff(), 3)
	return backoff.RetryNotify(func() error {
		_, err := b.db.ExecContext(ctx, query, args...)
		if err == nil {
			return nil
		}
		if isQueryRejection(err) {
			return backoff.Permanent(model.Wrap(model.CodeQueryRejected, false, err))
		}
		return model.Wrap(model.CodeTransient, true, err)
	}, policy, func(err error, wait time.Duration) {
		b.logger.Warnf("delete-after-upload failed, retrying in %s: %v", wait, err)
	})
}

// connectBackoff mirrors spec §7's SourceUnavailable retry schedule
// (2s/4s/8s) for the Extractor's own connect attempts.
func connectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// transientBackoff mirrors spec §4.2's mid-stream Transient retry schedule
// (1s/2s/4s), distinct from the Uploader's own retry/backoff policy.
func transientBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// sqlIterator implements BatchIterator over one relational mapping. It
// advances its own cursor watermark locally between batches (spec §4.2
// point 3): the StateStore is only updated once the caller acks a batch.
type sqlIterator struct {
	base    *sqlBase
	mapping *model.Mapping
	cursor  model.Watermark
	current model.Batch
	err     error
	done    bool
}

func newSQLIterator(base *sqlBase, mapping *model.Mapping, wm model.Watermark) *sqlIterator {
	return &sqlIterator{base: base, mapping: mapping, cursor: wm}
}

func (it *sqlIterator) Next(ctx context.Context) bool {
	if it.done || it.err != nil {
		return false
	}

	query, args, err := buildQuery(it.mapping, it.cursor, it.mapping.Transfer.BatchSize, it.base.placeholder)
	if err != nil {
		it.err = err
		return false
	}

	var rows *sql.Rows
	policy := backoff.WithMaxRetries(transientBackoff(), 3)
	runErr := backoff.RetryNotify(func() error {
		r, qErr := it.base.db.QueryContext(ctx, query, args...)
		if qErr != nil {
			if isQueryRejection(qErr) {
				return backoff.Permanent(model.Wrap(model.CodeQueryRejected, false, qErr))
			}
			return model.Wrap(model.CodeTransient, true, qErr)
		}
		rows = r
		return nil
	}, policy, func(err error, wait time.Duration) {
		it.base.logger.Warnf("transient query failure, retrying in %s: %v", wait, err)
	})
	if runErr != nil {
		it.err = runErr
		return false
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		it.err = model.Wrap(model.CodeQueryRejected, false, err)
		return false
	}

	var records []model.Record
	for rows.Next() {
		values := make([]interface{}, len(cols))
		valuePtrs := make([]interface{}, len(cols))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			it.err = model.Wrap(model.CodeQueryRejected, false, err)
			return false
		}
		rec := make(model.Record, len(cols))
		for i, col := range cols {
			rec[col] = normalizeScanned(values[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		it.err = model.Wrap(model.CodeTransient, true, err)
		return false
	}

	if len(records) == 0 {
		it.done = true
		return false
	}

	tentative := computeTentativeWatermark(it.mapping, it.cursor, records)
	// A cursor that did not move (full mode) would re-issue the identical
	// query, so the sequence ends after this batch.
	advanced := tentative != it.cursor
	it.current = model.Batch{Records: records, FieldOrder: cols, TentativeWatermark: tentative}
	it.cursor = tentative

	if len(records) < it.mapping.Transfer.BatchSize || !advanced {
		it.done = true
	}
	return true
}

func (it *sqlIterator) Value() model.Batch { return it.current }
func (it *sqlIterator) Err() error         { return it.err }
func (it *sqlIterator) Close() error       { return nil }

// computeTentativeWatermark is the max of the PK/timestamp column across
// the batch (spec §4.2 point 3); full mode has no watermark to advance. The
// running max is kept in its native scanned type and only stringified once,
// at the end, for storage in model.Watermark.Value — comparing the
// stringified form directly (as an earlier version of this function did)
// breaks for multi-digit integer PKs once they cross a digit-count boundary,
// since "10" sorts below "9" lexicographically. This mirrors how the
// original Python runner tracks current_value/max_watermark in the driver's
// native type and defers str() to the final assignment
// (_examples/original_source/sync/runner.py:714-719,743).
func computeTentativeWatermark(m *model.Mapping, prev model.Watermark, records []model.Record) model.Watermark {
	column := ""
	switch m.Transfer.IncrementalMode {
	case model.ModeIncrementalPK:
		column = m.PrimaryKey
	case model.ModeIncrementalTimestamp:
		column = m.TimestampColumn
	default:
		return prev
	}

	var max interface{}
	if prev.Value != "" {
		max = prev.Value
	}
	for _, rec := range records {
		v := rec[column]
		if valueGreater(v, max) {
			max = v
		}
	}
	if max == nil {
		return prev
	}
	return model.Watermark{Value: stringifyScalar(max), Inclusive: false}
}

// valueGreater reports whether a is ordered after b, comparing as integers
// or timestamps whenever both sides parse that way and falling back to
// lexicographic string comparison only for genuinely textual columns. b may
// be nil, meaning "no watermark yet" — anything non-nil is greater than that.
func valueGreater(a, b interface{}) bool {
	if b == nil {
		return a != nil
	}
	if a == nil {
		return false
	}
	if ai, aok := toInt64(a); aok {
		if bi, bok := toInt64(b); bok {
			return ai > bi
		}
	}
	if af, aok := toFloat64(a); aok {
		if bf, bok := toFloat64(b); bok {
			return af > bf
		}
	}
	if at, aok := toTime(a); aok {
		if bt, bok := toTime(b); bok {
			return at.After(bt)
		}
	}
	return stringifyScalar(a) > stringifyScalar(b)
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
		if ts, err := time.Parse("2006-01-02T15:04:05.000Z", t); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func stringifyScalar(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format("2006-01-02T15:04:05.000Z")
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// normalizeScanned converts driver-specific scan results ([]byte for text
// columns on most drivers) into the JSON-friendly scalars spec §3 requires.
func normalizeScanned(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// isQueryRejection distinguishes a permanent SQL error (bad syntax, missing
// column, permission denied) from a transient one the retry loop should
// keep trying (spec §7: QueryRejected is fatal, never retried).
func isQueryRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"syntax", "does not exist", "unknown column", "permission denied", "access denied", "no such table"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
