// Package postgres mirrors the metric history to PostgreSQL so it survives
// restarts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/melih/lighthouse-console/internal/core/ports"
)

// Store implements ports.MetricsStore. Every series is trimmed to the keep
// count in the same transaction as the insert.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ ports.MetricsStore = (*Store)(nil)

// Open connects to the database at dsn.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db, logger), nil
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("postgres")}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTables creates the sample table if it does not exist.
func (s *Store) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS metric_samples (
			id BIGSERIAL PRIMARY KEY,
			series VARCHAR(255) NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS metric_samples_series_id ON metric_samples (series, id DESC)`,
	}
	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Record appends sample to series and keeps only the newest keep entries.
func (s *Store) Record(ctx context.Context, series string, at time.Time, sample any, keep int) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO metric_samples (series, recorded_at, payload) VALUES ($1, $2, $3)`,
		series, at, payload)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}

	if keep > 0 {
		var res sql.Result
		res, err = tx.ExecContext(ctx,
			`DELETE FROM metric_samples WHERE series = $1 AND id NOT IN (
				SELECT id FROM metric_samples WHERE series = $1 ORDER BY id DESC LIMIT $2
			)`,
			series, keep)
		if err != nil {
			return fmt.Errorf("trim series: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("trimmed metric series", zap.String("series", series), zap.Int64("removed", n))
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Recent returns up to limit payloads of series, oldest first.
func (s *Store) Recent(ctx context.Context, series string, limit int) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM (
			SELECT id, payload FROM metric_samples WHERE series = $1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC`,
		series, limit)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}
