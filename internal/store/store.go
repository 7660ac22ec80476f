package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/moodlens/api/schemas"
	"github.com/xkilldash9x/moodlens/internal/config"
)

// TableName is the table both drivers write analysis records to.
const TableName = "expression_results"

// defaultLimit applies when RecentResults is asked for a non-positive count.
const defaultLimit = 50

// Open builds the configured ResultStore and makes sure its schema exists.
// It returns (nil, nil) for the "none" driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (schemas.ResultStore, error) {
	switch cfg.Driver {
	case config.DriverNone, "":
		return nil, nil
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		s, err := NewPostgres(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	case config.DriverSQLite:
		s, err := OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver '%s'", cfg.Driver)
	}
}

// encodeLists serializes the two list fields for their JSON columns. Nil
// slices are stored as empty arrays so a row never holds a JSON null.
func encodeLists(r schemas.ExpressionResult) (cues, breakdown string, err error) {
	c := r.Cues
	if c == nil {
		c = []string{}
	}
	b := r.EmotionBreakdown
	if b == nil {
		b = []schemas.EmotionScore{}
	}
	cb, err := json.Marshal(c)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode cues: %w", err)
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode emotion breakdown: %w", err)
	}
	return string(cb), string(bb), nil
}

func decodeLists(cues, breakdown []byte, r *schemas.ExpressionResult) error {
	r.Cues = []string{}
	r.EmotionBreakdown = []schemas.EmotionScore{}
	if len(cues) > 0 {
		if err := json.Unmarshal(cues, &r.Cues); err != nil {
			return fmt.Errorf("failed to decode cues: %w", err)
		}
	}
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &r.EmotionBreakdown); err != nil {
			return fmt.Errorf("failed to decode emotion breakdown: %w", err)
		}
	}
	// A stored "null" decodes to a nil slice.
	if r.Cues == nil {
		r.Cues = []string{}
	}
	if r.EmotionBreakdown == nil {
		r.EmotionBreakdown = []schemas.EmotionScore{}
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
