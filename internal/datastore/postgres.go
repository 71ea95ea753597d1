package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/models"
)

var tablePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// PostgresStore writes each tenant's facts into a dedicated schema
// (ds_<tenant id>), so no table is ever shared between tenants. The range
// replace runs DELETE + COPY inside one transaction: readers see either the
// old range or the new one, never a mix.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPostgresStore(db *sql.DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "tenant_datastore").Logger(),
	}
}

func (s *PostgresStore) ReplaceRange(ctx context.Context, tenantID, table string, start, end time.Time, records []models.CostRecord) (LoadResult, error) {
	if !tablePattern.MatchString(table) {
		return LoadResult{}, fmt.Errorf("invalid target table name %q", table)
	}
	schema := schemaFor(tenantID)
	qualified := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)

	if err := s.ensureTable(ctx, schema, table); err != nil {
		return LoadResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return LoadResult{}, errors.Wrap(err, "begin range replace")
	}
	defer tx.Rollback()

	deleteQuery := fmt.Sprintf(`DELETE FROM %s WHERE usage_date >= $1 AND usage_date <= $2;`, qualified)
	if _, err := tx.ExecContext(ctx, deleteQuery, start, end); err != nil {
		return LoadResult{}, errors.Wrap(err, "delete existing range")
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyInSchema(schema, table,
		"provider", "service", "sku", "usage_date", "quantity", "amount", "currency"))
	if err != nil {
		return LoadResult{}, errors.Wrap(err, "prepare copy")
	}

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.Provider, rec.Service, rec.SKU, rec.UsageDate, rec.Quantity, rec.Amount, rec.Currency,
		); err != nil {
			stmt.Close()
			return LoadResult{}, errors.Wrap(err, "copy cost record")
		}
	}
	// Flush the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return LoadResult{}, errors.Wrap(err, "flush copy")
	}
	if err := stmt.Close(); err != nil {
		return LoadResult{}, errors.Wrap(err, "close copy")
	}

	if err := tx.Commit(); err != nil {
		return LoadResult{}, errors.Wrap(err, "commit range replace")
	}

	s.logger.Info().
		Str("tenant_id", tenantID).
		Str("table", qualified).
		Int("records", len(records)).
		Msg("range replaced")

	return LoadResult{RecordsWritten: int64(len(records)), TargetLocation: schema + "." + table}, nil
}

func (s *PostgresStore) ensureTable(ctx context.Context, schema, table string) error {
	createSchema := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pq.QuoteIdentifier(schema))
	if _, err := s.db.ExecContext(ctx, createSchema); err != nil {
		return errors.Wrapf(err, "create schema %s", schema)
	}
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			provider   TEXT NOT NULL,
			service    TEXT NOT NULL,
			sku        TEXT NOT NULL DEFAULT '',
			usage_date DATE NOT NULL,
			quantity   DOUBLE PRECISION NOT NULL DEFAULT 0,
			amount     DOUBLE PRECISION NOT NULL,
			currency   TEXT NOT NULL DEFAULT 'USD'
		);`, pq.QuoteIdentifier(schema), pq.QuoteIdentifier(table))
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return errors.Wrapf(err, "create table %s.%s", schema, table)
	}
	return nil
}

func schemaFor(tenantID string) string {
	return "ds_" + strings.ReplaceAll(tenantID, "-", "")
}
