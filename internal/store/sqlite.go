package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/moodlens/api/schemas"
)

const sqliteCreateTable = `
CREATE TABLE IF NOT EXISTS expression_results (
    id TEXT PRIMARY KEY,
    primary_emotion TEXT NOT NULL,
    secondary_emotion TEXT NOT NULL,
    confidence REAL NOT NULL,
    explanation TEXT NOT NULL,
    cues TEXT NOT NULL,
    emotion_breakdown TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_expression_results_observed_at ON expression_results (observed_at DESC);
`

var resultColumns = []string{
	"primary_emotion", "secondary_emotion", "confidence", "explanation",
	"cues", "emotion_breakdown", "observed_at",
}

// SQLite stores analysis records in a local SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
	sb   sq.StatementBuilderType
	log  *zap.Logger
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteCreateTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{
		db:   db,
		path: path,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Question),
		log:  logger.Named("store.sqlite"),
	}, nil
}

// SaveResult inserts one analysis record.
func (s *SQLite) SaveResult(ctx context.Context, r schemas.ExpressionResult) error {
	cues, breakdown, err := encodeLists(r)
	if err != nil {
		return err
	}
	id := uuid.NewString()
	query, args, err := s.sb.Insert(TableName).
		Columns(append([]string{"id"}, resultColumns...)...).
		Values(id, r.PrimaryEmotion, r.SecondaryEmotion, r.Confidence, r.Explanation, cues, breakdown, r.Timestamp).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert expression result: %w", err)
	}
	s.log.Debug("Expression result saved", zap.String("id", id), zap.Int64("timestamp", r.Timestamp))
	return nil
}

// RecentResults returns up to limit records, newest first. Records sharing a
// timestamp come back in reverse insertion order.
func (s *SQLite) RecentResults(ctx context.Context, limit int) ([]schemas.ExpressionResult, error) {
	query, args, err := s.sb.Select(resultColumns...).
		From(TableName).
		OrderBy("observed_at DESC", "rowid DESC").
		Limit(uint64(normalizeLimit(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expression results: %w", err)
	}
	defer rows.Close()

	results := []schemas.ExpressionResult{}
	for rows.Next() {
		var r schemas.ExpressionResult
		var cues, breakdown string
		if err := rows.Scan(
			&r.PrimaryEmotion, &r.SecondaryEmotion, &r.Confidence, &r.Explanation,
			&cues, &breakdown, &r.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan expression result: %w", err)
		}
		if err := decodeLists([]byte(cues), []byte(breakdown), &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// Path returns the database location.
func (s *SQLite) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
