package extractor

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/nucleus/bridge-sync/internal/model"
	"github.com/nucleus/bridge-sync/internal/obslog"
)

// postgresExtractor adapts the teacher's internal/connector/jdbc.Postgres
// (which embeds Base and forces config["driver"]="postgres") to bridge-sync's
// closed source variant, using pgx/v5's stdlib driver instead of lib/pq —
// see DESIGN.md for why lib/pq is dropped.
type postgresExtractor struct {
	base    sqlBase
	mapping *model.Mapping
}

func newPostgres(mapping *model.Mapping, logger obslog.LoggerI) (Extractor, error) {
	rs := mapping.Source.Relational
	if rs == nil {
		return nil, model.Wrap(model.CodeConfigInvalid, false, fmt.Errorf("mapping %q: missing relational source", mapping.ID))
	}
	return &postgresExtractor{
		base:    sqlBase{placeholder: dollarPlaceholder, logger: logger.Child("extractor.postgres")},
		mapping: mapping,
	}, nil
}

func (p *postgresExtractor) Open(ctx context.Context) error {
	rs := p.mapping.Source.Relational
	dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=require", rs.Host, rs.Port, rs.User, rs.Database)
	return p.base.Open(ctx, "pgx", dsn)
}

// OpenWithSecret is used by the runner once the secret store has resolved
// the plaintext password for this run; the DSN is rebuilt rather than
// cached so the plaintext never outlives the call.
func (p *postgresExtractor) OpenWithSecret(ctx context.Context, password string) error {
	rs := p.mapping.Source.Relational
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=require", rs.Host, rs.Port, rs.User, password, rs.Database)
	return p.base.Open(ctx, "pgx", dsn)
}

func (p *postgresExtractor) Close() error { return p.base.Close() }

// DeleteByKey implements Deleter for delete_after_upload (spec §4.4 point 4).
func (p *postgresExtractor) DeleteByKey(ctx context.Context, column string, values []string) error {
	return p.base.deleteByKey(ctx, p.mapping.Table, column, values)
}

func (p *postgresExtractor) Stream(ctx context.Context, mapping *model.Mapping, watermark model.Watermark) (BatchIterator, error) {
	return newSQLIterator(&p.base, mapping, watermark), nil
}
