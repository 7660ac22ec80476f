package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

const (
	pgCreateTable = `
        CREATE TABLE IF NOT EXISTS expression_results (
            id UUID PRIMARY KEY,
            primary_emotion TEXT NOT NULL,
            secondary_emotion TEXT NOT NULL,
            confidence DOUBLE PRECISION NOT NULL,
            explanation TEXT NOT NULL,
            cues JSONB NOT NULL,
            emotion_breakdown JSONB NOT NULL,
            observed_at BIGINT NOT NULL,
            recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );
    `
	pgCreateIndex = `
        CREATE INDEX IF NOT EXISTS idx_expression_results_observed_at
            ON expression_results (observed_at DESC);
    `
	pgInsertResult = `
        INSERT INTO expression_results (id, primary_emotion, secondary_emotion, confidence, explanation, cues, emotion_breakdown, observed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	pgSelectRecent = `
        SELECT primary_emotion, secondary_emotion, confidence, explanation, cues, emotion_breakdown, observed_at
        FROM expression_results
        ORDER BY observed_at DESC, recorded_at DESC
        LIMIT $1;
    `
)

// Postgres stores analysis records in PostgreSQL.
type Postgres struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgres creates a new store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{
		pool: pool,
		log:  logger.Named("store.postgres"),
	}, nil
}

// EnsureSchema creates the results table and its index when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{pgCreateTable, pgCreateIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// SaveResult inserts one analysis record.
func (s *Postgres) SaveResult(ctx context.Context, r schemas.ExpressionResult) error {
	cues, breakdown, err := encodeLists(r)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	if _, err := s.pool.Exec(ctx, pgInsertResult,
		id, r.PrimaryEmotion, r.SecondaryEmotion, r.Confidence, r.Explanation,
		cues, breakdown, r.Timestamp,
	); err != nil {
		return fmt.Errorf("failed to insert expression result: %w", err)
	}
	s.log.Debug("Expression result saved", zap.String("id", id), zap.Int64("timestamp", r.Timestamp))
	return nil
}

// RecentResults returns up to limit records, newest first.
func (s *Postgres) RecentResults(ctx context.Context, limit int) ([]schemas.ExpressionResult, error) {
	rows, err := s.pool.Query(ctx, pgSelectRecent, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query expression results: %w", err)
	}
	defer rows.Close()

	results := []schemas.ExpressionResult{}
	for rows.Next() {
		var r schemas.ExpressionResult
		var cues, breakdown []byte
		if err := rows.Scan(
			&r.PrimaryEmotion, &r.SecondaryEmotion, &r.Confidence, &r.Explanation,
			&cues, &breakdown, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan expression result row: %w", err)
		}
		if err := decodeLists(cues, breakdown, &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
