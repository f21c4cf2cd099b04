package extractor

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" database/sql driver

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

// mysqlExtractor mirrors postgresExtractor's shape, grounded on the same
// teacher idiom (internal/connector/jdbc.Base) but with go-sql-driver/mysql
// in place of pgx — that driver ships in the pack's other major pipeline
// repo (rudder-server), not the teacher itself; see DESIGN.md.
type mysqlExtractor struct {
	base    sqlBase
	mapping *model.Mapping
}

func newMysql(mapping *model.Mapping, logger obslog.LoggerI) (Extractor, error) {
	rs := mapping.Source.Relational
	if rs == nil {
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("mapping %q: missing relational source", mapping.ID))
	}
	return &mysqlExtractor{
		base:    sqlBase{placeholder: questionPlaceholder, logger: logger.Child("extractor.mysql")},
		mapping: mapping,
	}, nil
}

func (m *mysqlExtractor) Open(ctx context.Context) error {
	rs := m.mapping.Source.Relational
	dsn := fmt.Sprintf("%s@tcp(%s:%d)/%s?parseTime=true", rs.User, rs.Host, rs.Port, rs.Database)
	return m.base.Open(ctx, "mysql", dsn)
}

func (m *mysqlExtractor) OpenWithSecret(ctx context.Context, password string) error {
	rs := m.mapping.Source.Relational
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", rs.User, password, rs.Host, rs.Port, rs.Database)
	return m.base.Open(ctx, "mysql", dsn)
}

func (m *mysqlExtractor) Close() error { return m.base.Close() }

// DeleteByKey implements Deleter for delete_after_upload (spec §4.4 point 4).
func (m *mysqlExtractor) DeleteByKey(ctx context.Context, column string, values []string) error {
	return m.base.deleteByKey(ctx, m.mapping.Table, column, values)
}

func (m *mysqlExtractor) Stream(ctx context.Context, mapping *model.Mapping, watermark model.Watermark) (BatchIterator, error) {
	return newSQLIterator(&m.base, mapping, watermark), nil
}
