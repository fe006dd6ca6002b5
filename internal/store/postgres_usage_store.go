package store

import (
	"context"
	"database/sql"
	"fmt"

	"formfit/internal/domain"

	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS transforms (
	id TEXT PRIMARY KEY,
	source_format TEXT NOT NULL,
	original_width INTEGER NOT NULL,
	original_height INTEGER NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	original_kb DOUBLE PRECISION NOT NULL,
	final_kb DOUBLE PRECISION NOT NULL,
	initial_quality INTEGER NOT NULL,
	final_quality INTEGER NOT NULL,
	ceiling_met BOOLEAN NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure transforms schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) RecordTransform(ctx context.Context, entry domain.TransformLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transforms (
			id, source_format, original_width, original_height, width, height,
			original_kb, final_kb, initial_quality, final_quality, ceiling_met,
			duration_ms, created_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID,
		entry.SourceFormat,
		entry.OriginalWidth,
		entry.OriginalHeight,
		entry.Width,
		entry.Height,
		entry.OriginalKB,
		entry.FinalKB,
		entry.InitialQuality,
		entry.FinalQuality,
		entry.CeilingMet,
		entry.DurationMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transform log: %w", err)
	}

	return nil
}

func (s *PostgresUsageStore) Recent(ctx context.Context, limit int) ([]domain.TransformLog, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source_format, original_width, original_height, width, height,
			original_kb, final_kb, initial_quality, final_quality, ceiling_met,
			duration_ms, created_at
		 FROM transforms
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query transform logs: %w", err)
	}
	defer rows.Close()

	var out []domain.TransformLog
	for rows.Next() {
		var entry domain.TransformLog
		if err := rows.Scan(
			&entry.ID,
			&entry.SourceFormat,
			&entry.OriginalWidth,
			&entry.OriginalHeight,
			&entry.Width,
			&entry.Height,
			&entry.OriginalKB,
			&entry.FinalKB,
			&entry.InitialQuality,
			&entry.FinalQuality,
			&entry.CeilingMet,
			&entry.DurationMS,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transform log: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transform logs: %w", err)
	}

	return out, nil
}
